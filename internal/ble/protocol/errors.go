package protocol

import "errors"

var (
	ErrTemperatureReading = errors.New("encountered an error while reading the temperature")
	ErrOximeterReading    = errors.New("encountered an error while reading the oximeter")
	// ErrUnhandledTag is returned when a frame's tag is not understood by
	// the decoder of the channel it arrived on.
	ErrUnhandledTag = errors.New("unhandled frame tag")
)
