package telemetry

import "github.com/chaz8081/hyena-bridge/internal/ble/protocol"

// Descriptor describes one published metric: everything a consumer needs
// to present the value without special-casing the metric itself. Key
// matches the State JSON field carrying the value.
type Descriptor struct {
	Key         protocol.Metric
	Name        string
	Unit        string
	DeviceClass string
	StateClass  string
	Diagnostic  bool
	Icon        func(State) string
}

// Descriptors lists every published metric. MQTT discovery and the
// gateway payloads render one generic entity per entry.
var Descriptors = []Descriptor{
	{
		Key:         protocol.MetricBattery,
		Name:        "Battery",
		Unit:        "%",
		DeviceClass: "battery",
		StateClass:  "measurement",
		Icon:        batteryIcon,
	},
	{
		Key:         protocol.MetricTemperature,
		Name:        "Battery Temperature",
		Unit:        "°C",
		DeviceClass: "temperature",
		StateClass:  "measurement",
		Diagnostic:  true,
		Icon:        temperatureIcon,
	},
}

// batteryIconSteps maps a battery level to its icon: the first entry
// whose threshold is at or below the level wins. Must stay sorted
// descending.
var batteryIconSteps = []struct {
	min  int
	icon string
}{
	{90, "mdi:battery"},
	{80, "mdi:battery-90"},
	{70, "mdi:battery-80"},
	{60, "mdi:battery-70"},
	{50, "mdi:battery-60"},
	{40, "mdi:battery-50"},
	{30, "mdi:battery-40"},
	{20, "mdi:battery-30"},
	{10, "mdi:battery-20"},
}

func batteryIcon(st State) string {
	if st.Battery == nil {
		return "mdi:battery-unknown"
	}
	for _, step := range batteryIconSteps {
		if *st.Battery >= step.min {
			return step.icon
		}
	}
	return "mdi:battery-10"
}

func temperatureIcon(State) string {
	return "mdi:thermometer"
}
