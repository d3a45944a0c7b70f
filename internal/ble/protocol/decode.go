package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Metric identifies a telemetry value the decoder can produce.
type Metric string

const (
	MetricBattery     Metric = "battery"
	MetricTemperature Metric = "temperature"
)

// Reading is a single decoded telemetry value, tagged by Metric.
// Percent is set for MetricBattery, Celsius for MetricTemperature.
type Reading struct {
	Metric  Metric
	Percent uint8
	Celsius float64
}

func (r Reading) String() string {
	switch r.Metric {
	case MetricBattery:
		return fmt.Sprintf("battery %d%%", r.Percent)
	case MetricTemperature:
		return fmt.Sprintf("temperature %.1f°C", r.Celsius)
	default:
		return "no reading"
	}
}

// Decode parses one notification frame. The boolean result is false for
// frames that carry no reading: the frame delimiter, frames shorter than
// tag plus payload, unhandled packet types, and handled types with a
// truncated payload. The protocol is only partially documented, so
// unrecognized frames are expected traffic, not errors. Decode never
// fails loudly.
//
// Battery SOC (tag 0x0A): payload[0] as-is. The controller reports
// 0 to 100; the decoder does not clamp.
// Temperature (tag 0x07): payload[0:2] big-endian, tenths of a degree
// Celsius (raw 235 = 23.5°C).
func Decode(raw []byte) (Reading, bool) {
	if bytes.Equal(raw, FrameDelimiter) {
		return Reading{}, false
	}
	if len(raw) < 2 {
		return Reading{}, false
	}

	tag, payload := raw[0], raw[1:]
	switch tag {
	case TagBatterySOC:
		if len(payload) < 1 {
			return Reading{}, false
		}
		return Reading{Metric: MetricBattery, Percent: payload[0]}, true

	case TagTemperature:
		if len(payload) < 2 {
			return Reading{}, false
		}
		raw16 := binary.BigEndian.Uint16(payload[:2])
		return Reading{Metric: MetricTemperature, Celsius: float64(raw16) / 10.0}, true
	}

	// Unknown tag, or a tag we deliberately do not decode yet.
	return Reading{}, false
}
