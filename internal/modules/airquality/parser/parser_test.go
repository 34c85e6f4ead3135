package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airdetect/internal/modules/airquality/types"
)

const sampleLine = "Humidity: 45.2%, Temperature: 23.5 C, Methane: -1.3 PPM, TVOC: 120 PPB, CO2eq: 450 PPM, Dust(PM2.5): 12.7 ug/m^3"

func TestParse_SampleLine(t *testing.T) {
	before := time.Now().UnixMilli()
	got, err := Parse([]byte(sampleLine))
	after := time.Now().UnixMilli()
	require.NoError(t, err)

	assert.Equal(t, 23.5, got.Temperature)
	assert.Equal(t, 45.2, got.Humidity)
	assert.Equal(t, -1.3, got.Methane)
	assert.Equal(t, 120.0, got.TVOC)
	assert.Equal(t, 450.0, got.CO2)
	assert.Equal(t, 12.7, got.PM25)
	assert.GreaterOrEqual(t, got.Timestamp, before)
	assert.LessOrEqual(t, got.Timestamp, after)
}

func TestParseAt_UsesGivenTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got, err := ParseAt([]byte(sampleLine), now)
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), got.Timestamp)
	assert.True(t, got.Time().Equal(now))
}

func TestParse_AcceptsFirmwareLineEndings(t *testing.T) {
	for _, suffix := range []string{"\r\n", "\n", "\r"} {
		_, err := Parse([]byte(sampleLine + suffix))
		assert.NoError(t, err, "suffix %q", suffix)
	}
}

func TestParse_PositiveMethane(t *testing.T) {
	line := strings.Replace(sampleLine, "-1.3", "2.75", 1)
	got, err := Parse([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, 2.75, got.Methane)
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{"garbage", "garbage data", ErrFormatMismatch},
		{"empty", "", ErrFormatMismatch},
		{"missing dust field", "Humidity: 45.2%, Temperature: 23.5 C, Methane: -1.3 PPM, TVOC: 120 PPB, CO2eq: 450 PPM", ErrFormatMismatch},
		{"extra trailing text", sampleLine + " extra", ErrFormatMismatch},
		{"leading text", "data: " + sampleLine, ErrFormatMismatch},
		{"non-numeric humidity", strings.Replace(sampleLine, "45.2", "abc", 1), ErrFormatMismatch},
		{"humidity without fraction", strings.Replace(sampleLine, "45.2", "45", 1), ErrFormatMismatch},
		{"negative temperature", strings.Replace(sampleLine, "23.5", "-23.5", 1), ErrFormatMismatch},
		{"negative pm25", strings.Replace(sampleLine, "12.7", "-12.7", 1), ErrFormatMismatch},
		{"fractional tvoc", strings.Replace(sampleLine, "120 PPB", "120.5 PPB", 1), ErrFormatMismatch},
		{"plus signed methane", strings.Replace(sampleLine, "-1.3", "+1.3", 1), ErrFormatMismatch},
		{"missing unit", strings.Replace(sampleLine, " ug/m^3", "", 1), ErrFormatMismatch},
		{"wrong separator", strings.Replace(sampleLine, ", TVOC", "; TVOC", 1), ErrFormatMismatch},
		{"firmware error line", "DHT11 Read Error!\r\n", ErrFormatMismatch},
		{"doubled crlf", sampleLine + "\r\n\r\n", ErrFormatMismatch},
		{"run of line endings", sampleLine + "\r\r\n\n\n", ErrFormatMismatch},
		{"lf then cr", sampleLine + "\n\r", ErrFormatMismatch},
		{"text after terminator", sampleLine + "\r\nextra", ErrFormatMismatch},
		{"invalid utf-8", "Humidity: \xff\xfe", ErrMalformedInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.line))
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, types.Reading{}, got)
		})
	}
}

func TestParse_OverflowingNumberIsMalformed(t *testing.T) {
	huge := strings.Repeat("9", 400) + ".0"
	line := strings.Replace(sampleLine, "12.7", huge, 1)
	_, err := Parse([]byte(line))
	require.ErrorIs(t, err, ErrMalformedInput)
}

func TestFormat_IsAcceptedByParse(t *testing.T) {
	in := types.Reading{
		Temperature: 21.4,
		Humidity:    38.9,
		Methane:     -0.25,
		TVOC:        87,
		CO2:         612,
		PM25:        4.2,
	}
	line := Format(in)
	assert.Equal(t, "Humidity: 38.9%, Temperature: 21.4 C, Methane: -0.25 PPM, TVOC: 87 PPB, CO2eq: 612 PPM, Dust(PM2.5): 4.2 ug/m^3", line)

	got, err := ParseAt([]byte(line), time.UnixMilli(42))
	require.NoError(t, err)
	in.Timestamp = 42
	assert.Equal(t, in, got)
}
