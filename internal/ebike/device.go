package ebike

// Device identity constants for the supported bike.
const (
	Manufacturer = "Hyena"
	Model        = "Trek FX+2"

	// DeviceNamePrefix is the advertised local name carried by Hyena
	// drive units; discovery matches names against this prefix.
	DeviceNamePrefix = "XWTK00008OXW"
)

// DeviceInfo identifies the monitored bike for consumers.
type DeviceInfo struct {
	Address      string `json:"address"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
}
