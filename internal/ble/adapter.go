// Package ble bridges Curo peripherals (the alpha multi-sensor module and the
// digital stethoscope) over Bluetooth Low Energy. It tracks discovered
// peripherals, drives each connection through service and characteristic
// discovery, and routes notification payloads to the protocol decoders.
package ble

import (
	"strings"

	"github.com/google/uuid"
)

// Curo BLE UUIDs
const (
	AlphaServiceUUID    = "06636aee-bdf4-421e-a9a5-04bbc6320e83"
	AlphaStatusCharUUID = "54C291C6-DD74-4283-95BD-89ABED5E672C"
	AlphaModuleCharUUID = "453CC59A-E08E-4D39-81C7-C59A45BD2DE9"

	StethoscopeServiceUUID     = "cdb074c8-20d1-4408-b923-d4b0d7f91b9c"
	StethoscopeStatusCharUUID  = "03308a84-9c10-49b5-99af-089304ceba57" // read
	StethoscopeDataCharUUID    = "2542fe6a-00ef-440f-9656-00accf4688bf" // read & notify
	StethoscopeCommandCharUUID = "280ce67c-9f8c-4a86-82a4-b896f935534d" // write & notify
	StethoscopeVitalsCharUUID  = "CDB074C8-20D1-4408-B923-D4B0D7F91B9E" // read
)

// Role identifies which kind of Curo peripheral a device is.
type Role int

const (
	RoleUnknown Role = iota
	RoleAlpha
	RoleStethoscope
)

func (r Role) String() string {
	switch r {
	case RoleAlpha:
		return "alpha"
	case RoleStethoscope:
		return "stethoscope"
	default:
		return "unknown"
	}
}

// MarshalText encodes the role by name.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Channel is the logical purpose of a characteristic within a role.
type Channel int

const (
	ChannelNone Channel = iota
	ChannelStatus
	ChannelModule // sensor data
	ChannelCommand
	ChannelVitals
)

func (c Channel) String() string {
	switch c {
	case ChannelStatus:
		return "status"
	case ChannelModule:
		return "module"
	case ChannelCommand:
		return "command"
	case ChannelVitals:
		return "vitals"
	default:
		return "none"
	}
}

// roleProfile is the fixed GATT layout of one role.
type roleProfile struct {
	service string
	chars   map[string]Channel
	// notify lists the channels that are subscribed once resolved.
	notify map[Channel]bool
}

var profiles = map[Role]roleProfile{
	RoleAlpha: {
		service: NormalizeUUID(AlphaServiceUUID),
		chars: map[string]Channel{
			NormalizeUUID(AlphaStatusCharUUID): ChannelStatus,
			NormalizeUUID(AlphaModuleCharUUID): ChannelModule,
		},
		notify: map[Channel]bool{ChannelStatus: true, ChannelModule: true},
	},
	RoleStethoscope: {
		service: NormalizeUUID(StethoscopeServiceUUID),
		chars: map[string]Channel{
			NormalizeUUID(StethoscopeStatusCharUUID):  ChannelStatus,
			NormalizeUUID(StethoscopeDataCharUUID):    ChannelModule,
			NormalizeUUID(StethoscopeCommandCharUUID): ChannelCommand,
			NormalizeUUID(StethoscopeVitalsCharUUID):  ChannelVitals,
		},
		// The stethoscope status characteristic is read-only and the
		// command characteristic is the write path.
		notify: map[Channel]bool{ChannelModule: true},
	},
}

// ServiceUUIDs returns the service UUIDs of every supported role, in the
// form used as a scan and service-discovery filter.
func ServiceUUIDs() []string {
	return []string{profiles[RoleAlpha].service, profiles[RoleStethoscope].service}
}

// RoleForService classifies a service UUID.
func RoleForService(serviceID string) Role {
	id := NormalizeUUID(serviceID)
	for role, p := range profiles {
		if p.service == id {
			return role
		}
	}
	return RoleUnknown
}

// ServiceUUID returns the service UUID advertised by role, or "" for
// RoleUnknown.
func ServiceUUID(role Role) string {
	return profiles[role].service
}

// NormalizeUUID returns the canonical lower-case form of a UUID string so
// identifiers compare equal regardless of how the platform spells them.
// Strings that are not UUIDs are only lower-cased.
func NormalizeUUID(s string) string {
	u, err := uuid.Parse(s)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return u.String()
}

// Transport abstracts the platform BLE stack. Every operation is a request
// that returns once issued; its outcome is delivered later as a
// TransportEvent on Events. Implementations must deliver events for one
// transport in the order they happened.
type Transport interface {
	// Enable powers on the adapter. An AdapterStateChanged event follows.
	Enable() error
	// Scan starts discovering peripherals advertising any of serviceIDs.
	Scan(serviceIDs []string) error
	// StopScan stops a running scan.
	StopScan() error
	// Connect opens a connection to the peripheral.
	Connect(peripheralID string) error
	// Disconnect closes the connection to the peripheral.
	Disconnect(peripheralID string) error
	// DiscoverServices enumerates the peripheral's services matching serviceIDs.
	DiscoverServices(peripheralID string, serviceIDs []string) error
	// DiscoverCharacteristics enumerates the characteristics of one service.
	DiscoverCharacteristics(peripheralID, serviceID string) error
	// SubscribeNotify enables value notifications for a characteristic.
	SubscribeNotify(peripheralID, charID string) error
	// Write sends data to a characteristic.
	Write(peripheralID, charID string, data []byte) error
	// Events delivers transport callbacks.
	Events() <-chan TransportEvent
}
