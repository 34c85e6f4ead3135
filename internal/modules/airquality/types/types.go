package types

import "time"

// Reading is one air-quality sample reported by the sensor board.
// Values are never mutated after the parser builds them.
type Reading struct {
	Temperature float64 `json:"temperature"` // °C
	Humidity    float64 `json:"humidity"`    // %
	Methane     float64 `json:"methane"`     // PPM, may be negative
	TVOC        float64 `json:"tvoc"`        // PPB
	CO2         float64 `json:"co2"`         // PPM, CO2 equivalent
	PM25        float64 `json:"pm25"`        // ug/m^3

	// Timestamp is the receive time in milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
}

// Time returns the capture timestamp as a time.Time.
func (r Reading) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}
