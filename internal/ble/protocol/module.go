package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Reading is a decoded module-channel value: Temperature or Oximetry.
type Reading interface {
	reading()
}

// Temperature is a body temperature reading.
type Temperature struct {
	Celsius    float64 `json:"celsius"`
	Fahrenheit float64 `json:"fahrenheit"`
}

// Oximetry is a pulse oximeter reading.
type Oximetry struct {
	Saturation int `json:"spo2"`
	PulseRate  int `json:"pulse_bpm"`
}

func (Temperature) reading() {}
func (Oximetry) reading()    {}

// saturationOffset is added to raw saturation values above
// saturationOffsetFrom to correct the sensor's known under-read.
const (
	saturationOffset     = 1.0
	saturationOffsetFrom = 50.0
	maxSaturation        = 100
)

// ModuleDecoder decodes frames from the alpha module (sensor) channel.
// It holds no state; the zero value is ready to use.
type ModuleDecoder struct{}

// Decode converts p into a Reading. Malformed or physically impossible
// frames yield ErrTemperatureReading or ErrOximeterReading; tags that do not
// belong on the module channel yield ErrUnhandledTag.
func (ModuleDecoder) Decode(p Payload) (Reading, error) {
	switch p.Tag {
	case TagOB:
		t, err := decodeTemperature(p.Fields)
		if err != nil {
			return nil, err
		}
		return t, nil
	case TagHR:
		o, err := decodeOximetry(p.Fields)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("%w: %s on module channel", ErrUnhandledTag, p.Tag)
	}
}

func decodeTemperature(fields []string) (Temperature, error) {
	if len(fields) != 2 {
		return Temperature{}, fmt.Errorf("%w: got %d fields, want 2", ErrTemperatureReading, len(fields))
	}
	celsius := parseNumber(fields[0])
	if celsius <= 0 {
		return Temperature{}, fmt.Errorf("%w: celsius %q is not positive", ErrTemperatureReading, fields[0])
	}
	return Temperature{Celsius: celsius, Fahrenheit: ToFahrenheit(celsius)}, nil
}

func decodeOximetry(fields []string) (Oximetry, error) {
	if len(fields) != 2 {
		return Oximetry{}, fmt.Errorf("%w: got %d fields, want 2", ErrOximeterReading, len(fields))
	}
	pulse := parseNumber(fields[0])
	saturation := parseNumber(strings.TrimPrefix(fields[1], oxygenPrefix))

	if saturation <= 0 || saturation >= maxSaturation {
		return Oximetry{}, fmt.Errorf("%w: saturation %q out of range", ErrOximeterReading, fields[1])
	}
	if pulse < 0 {
		return Oximetry{}, fmt.Errorf("%w: negative pulse rate %q", ErrOximeterReading, fields[0])
	}

	if saturation > saturationOffsetFrom {
		saturation += saturationOffset
	}
	return Oximetry{Saturation: int(math.Round(saturation)), PulseRate: int(math.Round(pulse))}, nil
}

// parseNumber parses s as a float. Anything unparsable, including NaN and
// infinities, reads as 0.
func parseNumber(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ToFahrenheit converts celsius to fahrenheit rounded to one decimal place,
// using the same rounding as %.1f formatting.
func ToFahrenheit(celsius float64) float64 {
	f := celsius*9/5 + 32
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(f, 'f', 1, 64), 64)
	if err != nil {
		return 0
	}
	return rounded
}
