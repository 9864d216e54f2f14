package ble

import (
	"log/slog"
	"time"

	"github.com/chaz8081/curobridge/internal/ble/protocol"
)

// EventKind names a consumer-facing event.
type EventKind string

const (
	EventTemperature        EventKind = "temperature"
	EventOximetry           EventKind = "oximetry"
	EventDeviceStatus       EventKind = "device_status"
	EventModuleID           EventKind = "module_id"
	EventIPAddress          EventKind = "ip_address"
	EventPeripheralsUpdated EventKind = "peripherals"
	EventSessionState       EventKind = "session_state"
)

// Event is a decoded value or a change in the bridge's device state. Only
// the fields relevant to Kind are set.
type Event struct {
	Kind       EventKind `json:"kind"`
	Peripheral string    `json:"peripheral,omitempty"`
	Role       Role      `json:"role,omitempty"`
	Time       time.Time `json:"time"`

	Temperature *protocol.Temperature `json:"temperature,omitempty"`
	Oximetry    *protocol.Oximetry    `json:"oximetry,omitempty"`
	Status      *int                  `json:"status,omitempty"`
	ModuleID    string                `json:"module_id,omitempty"`
	IPAddress   string                `json:"ip_address,omitempty"`
	Peripherals []Peripheral          `json:"peripherals,omitempty"`
	State       string                `json:"state,omitempty"`
}

// DecodeError reports a frame that was received but could not be decoded
// into a reading. Err wraps protocol.ErrTemperatureReading or
// protocol.ErrOximeterReading.
type DecodeError struct {
	Peripheral string
	Time       time.Time
	Frame      string
	Err        error
}

// Handler consumes bridge output. Successful events and decode failures are
// delivered through separate methods so "no data" is never confused with
// "bad data". Handlers are called from the coordinator's event loop and
// must not block.
type Handler interface {
	HandleEvent(ev Event)
	HandleDecodeError(de DecodeError)
}

// MultiHandler fans every call out to each handler in order.
type MultiHandler []Handler

func (m MultiHandler) HandleEvent(ev Event) {
	for _, h := range m {
		h.HandleEvent(ev)
	}
}

func (m MultiHandler) HandleDecodeError(de DecodeError) {
	for _, h := range m {
		h.HandleDecodeError(de)
	}
}

// LogHandler writes events to the default slog logger.
type LogHandler struct{}

func (LogHandler) HandleEvent(ev Event) {
	attrs := []any{"peripheral", ev.Peripheral}
	switch ev.Kind {
	case EventTemperature:
		attrs = append(attrs, "celsius", ev.Temperature.Celsius, "fahrenheit", ev.Temperature.Fahrenheit)
	case EventOximetry:
		attrs = append(attrs, "spo2", ev.Oximetry.Saturation, "pulse", ev.Oximetry.PulseRate)
	case EventDeviceStatus:
		attrs = append(attrs, "status", *ev.Status)
	case EventModuleID:
		attrs = append(attrs, "id", ev.ModuleID)
	case EventIPAddress:
		attrs = append(attrs, "ip", ev.IPAddress)
	case EventPeripheralsUpdated:
		attrs = append(attrs[:0], "count", len(ev.Peripherals))
	case EventSessionState:
		attrs = append(attrs, "role", ev.Role, "state", ev.State)
	}
	slog.Info("[BLE] "+string(ev.Kind), attrs...)
}

func (LogHandler) HandleDecodeError(de DecodeError) {
	slog.Warn("[BLE] decode error", "peripheral", de.Peripheral, "frame", de.Frame, "error", de.Err)
}

var (
	_ Handler = MultiHandler(nil)
	_ Handler = LogHandler{}
)
