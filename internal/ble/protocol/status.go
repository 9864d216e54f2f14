package protocol

import (
	"fmt"
	"strconv"
)

// StatusField is one decoded status-channel value: StatusCode, ModuleID or
// IPAddress.
type StatusField interface {
	statusField()
}

// StatusCode is the device status reported by a STAT frame.
type StatusCode int

// ModuleID is the camera/module identifier reported by an ID frame.
type ModuleID string

// IPAddress is the device's network address reported by an IP frame.
type IPAddress string

func (StatusCode) statusField() {}
func (ModuleID) statusField()   {}
func (IPAddress) statusField()  {}

// noNetworkIP is sent by the device before it has joined a network.
const noNetworkIP = "0.0.0.0"

// StatusDecoder decodes frames from the alpha status channel.
// The zero value is ready to use.
type StatusDecoder struct{}

// Decode converts p into a StatusField. A nil field with a nil error means
// the frame was understood but carries nothing to report: a STAT value that
// is not an integer, or an IP that is empty or 0.0.0.0. Tags that do not
// belong on the status channel yield ErrUnhandledTag.
func (StatusDecoder) Decode(p Payload) (StatusField, error) {
	switch p.Tag {
	case TagSTAT:
		code, err := strconv.Atoi(p.Body)
		if err != nil {
			return nil, nil
		}
		return StatusCode(code), nil
	case TagID:
		return ModuleID(p.Body), nil
	case TagIP:
		if p.Body == "" || p.Body == noNetworkIP {
			return nil, nil
		}
		return IPAddress(p.Body), nil
	default:
		return nil, fmt.Errorf("%w: %s on status channel", ErrUnhandledTag, p.Tag)
	}
}
