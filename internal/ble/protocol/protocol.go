// Package protocol implements decoding of the Hyena e-bike BLE telemetry
// stream. The controller pushes variable-length notification frames: one
// packet-type tag byte followed by a type-specific payload, with a fixed
// 8-byte delimiter frame interleaved as a stream marker.
package protocol

import "fmt"

// Packet-type tags observed in the Hyena telemetry stream. Only battery
// SOC and temperature are decoded; the rest are known but unhandled.
const (
	TagVoltage      byte = 0x01
	TagSpeedRPM     byte = 0x05
	TagCurrentPower byte = 0x06
	TagTemperature  byte = 0x07
	TagPedalCadence byte = 0x08
	TagMotorStatus  byte = 0x09
	TagBatterySOC   byte = 0x0A
)

// FrameDelimiter is the reserved 8-byte frame sent between telemetry
// packets. It is a stream synchronization marker and carries no data.
var FrameDelimiter = []byte{0xEE, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// TagName returns a human-readable label for a packet-type tag,
// including tags the decoder does not handle.
func TagName(tag byte) string {
	switch tag {
	case TagVoltage:
		return "voltage"
	case TagSpeedRPM:
		return "speed/rpm"
	case TagCurrentPower:
		return "current/power"
	case TagTemperature:
		return "temperature"
	case TagPedalCadence:
		return "pedal cadence"
	case TagMotorStatus:
		return "motor status"
	case TagBatterySOC:
		return "battery soc"
	default:
		return fmt.Sprintf("unknown (0x%02x)", tag)
	}
}
