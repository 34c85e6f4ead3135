// Package parser turns sensor telemetry lines into readings.
//
// The board sends one line per datagram:
//
//	Humidity: 45.2%, Temperature: 23.5 C, Methane: -1.3 PPM, TVOC: 120 PPB, CO2eq: 450 PPM, Dust(PM2.5): 12.7 ug/m^3
//
// Only methane may carry a sign. TVOC and CO2eq are integers, every other field
// needs a fractional part.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"airdetect/internal/modules/airquality/types"
)

var (
	// ErrFormatMismatch means the text did not match the line grammar.
	ErrFormatMismatch = errors.New("format mismatch")
	// ErrMalformedInput means the payload could not be decoded or converted.
	ErrMalformedInput = errors.New("malformed input")
)

var lineRe = regexp.MustCompile(
	`^Humidity: (\d+\.\d+)%, Temperature: (\d+\.\d+) C, ` +
		`Methane: (-?\d+\.\d+) PPM, TVOC: (\d+) PPB, CO2eq: (\d+) PPM, ` +
		`Dust\(PM2\.5\): (\d+\.\d+) ug/m\^3$`,
)

// Parse parses one datagram payload and stamps it with the current time.
func Parse(raw []byte) (types.Reading, error) {
	return ParseAt(raw, time.Now())
}

// ParseAt parses one datagram payload and stamps it with now.
func ParseAt(raw []byte, now time.Time) (types.Reading, error) {
	if !utf8.Valid(raw) {
		return types.Reading{}, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedInput)
	}

	line := trimTerminator(string(raw))

	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return types.Reading{}, ErrFormatMismatch
	}

	var vals [6]float64
	for i := range vals {
		v, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return types.Reading{}, fmt.Errorf("%w: field %d %q: %v", ErrMalformedInput, i+1, m[i+1], err)
		}
		vals[i] = v
	}

	return types.Reading{
		Humidity:    vals[0],
		Temperature: vals[1],
		Methane:     vals[2],
		TVOC:        vals[3],
		CO2:         vals[4],
		PM25:        vals[5],
		Timestamp:   now.UnixMilli(),
	}, nil
}

// Format renders r as a telemetry line (without line terminator).
func Format(r types.Reading) string {
	return fmt.Sprintf(
		"Humidity: %.1f%%, Temperature: %.1f C, Methane: %.2f PPM, TVOC: %d PPB, CO2eq: %d PPM, Dust(PM2.5): %.1f ug/m^3",
		r.Humidity, r.Temperature, r.Methane, int64(r.TVOC), int64(r.CO2), r.PM25,
	)
}

// trimTerminator removes a single line ending. The firmware sends CRLF; bare
// LF and CR are accepted too. Anything beyond one terminator is left in place
// and fails the grammar.
func trimTerminator(s string) string {
	switch {
	case strings.HasSuffix(s, "\r\n"):
		return s[:len(s)-2]
	case strings.HasSuffix(s, "\n"), strings.HasSuffix(s, "\r"):
		return s[:len(s)-1]
	}
	return s
}
