package ble

import (
	"fmt"
	"log/slog"

	"github.com/chaz8081/curobridge/internal/ble/protocol"
)

// SessionState is the lifecycle position of one peripheral connection.
type SessionState int

const (
	StateDiscovered SessionState = iota
	StateConnecting
	StateServicesDiscovered
	StateCharacteristicsResolved
	StateNotifyEnabled
	StateActive
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateConnecting:
		return "connecting"
	case StateServicesDiscovered:
		return "services_discovered"
	case StateCharacteristicsResolved:
		return "characteristics_resolved"
	case StateNotifyEnabled:
		return "notify_enabled"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session tracks one peripheral connection. It owns the characteristic
// handles resolved for the connection and the decoders bound to it. A
// Session is driven from a single goroutine and is not safe for concurrent
// use.
type Session struct {
	peripheralID string
	role         Role
	state        SessionState

	// handles maps a resolved characteristic UUID to its channel; chars
	// is the reverse lookup.
	handles map[string]Channel
	chars   map[Channel]string

	module *protocol.ModuleDecoder
	status *protocol.StatusDecoder
}

func newSession(peripheralID string) *Session {
	return &Session{peripheralID: peripheralID, state: StateDiscovered}
}

// SessionInfo is a read-only snapshot of a Session.
type SessionInfo struct {
	PeripheralID string
	Role         Role
	State        SessionState
	// Characteristics maps each resolved channel to its characteristic UUID.
	Characteristics map[Channel]string
}

func (s *Session) info() SessionInfo {
	chars := make(map[Channel]string, len(s.chars))
	for ch, id := range s.chars {
		chars[ch] = id
	}
	return SessionInfo{
		PeripheralID:    s.peripheralID,
		Role:            s.role,
		State:           s.state,
		Characteristics: chars,
	}
}

// live reports whether the session holds, or is acquiring, a connection.
func (s *Session) live() bool {
	return s.state != StateDiscovered && s.state != StateDisconnected
}

// beginConnect moves an idle session to StateConnecting.
func (s *Session) beginConnect() error {
	if s.live() {
		return fmt.Errorf("ble: peripheral %s is already %s", s.peripheralID, s.state)
	}
	s.state = StateConnecting
	return nil
}

// servicesDiscovered classifies the peripheral by the first supported
// service in serviceIDs and binds the decoders for the session.
func (s *Session) servicesDiscovered(serviceIDs []string) (Role, error) {
	if s.state != StateConnecting {
		return RoleUnknown, fmt.Errorf("ble: services discovered for %s in state %s", s.peripheralID, s.state)
	}
	for _, id := range serviceIDs {
		role := RoleForService(id)
		if role == RoleUnknown {
			continue
		}
		s.role = role
		s.state = StateServicesDiscovered
		s.module = &protocol.ModuleDecoder{}
		s.status = &protocol.StatusDecoder{}
		return role, nil
	}
	return RoleUnknown, fmt.Errorf("ble: peripheral %s offers no supported service %v", s.peripheralID, serviceIDs)
}

// characteristicsDiscovered records the characteristics known for the
// session's role and returns the ones to subscribe to. Unknown
// characteristics are logged and ignored.
func (s *Session) characteristicsDiscovered(charIDs []string) ([]string, error) {
	if s.state != StateServicesDiscovered {
		return nil, fmt.Errorf("ble: characteristics discovered for %s in state %s", s.peripheralID, s.state)
	}
	profile := profiles[s.role]
	s.handles = make(map[string]Channel)
	s.chars = make(map[Channel]string)

	var subscribe []string
	for _, raw := range charIDs {
		id := NormalizeUUID(raw)
		ch, ok := profile.chars[id]
		if !ok {
			slog.Debug("[BLE] unknown characteristic", "peripheral", s.peripheralID, "characteristic", raw)
			continue
		}
		s.handles[id] = ch
		s.chars[ch] = id
		if profile.notify[ch] {
			subscribe = append(subscribe, id)
		}
	}
	s.state = StateCharacteristicsResolved
	return subscribe, nil
}

// notifyRequested records that at least one subscription was issued.
func (s *Session) notifyRequested() {
	if s.state == StateCharacteristicsResolved {
		s.state = StateNotifyEnabled
	}
}

// activate moves a session awaiting notifications to StateActive and reports
// whether the state changed.
func (s *Session) activate() bool {
	if s.state != StateNotifyEnabled {
		return false
	}
	s.state = StateActive
	return true
}

// disconnect unwinds the session from any state, releasing its decoders and
// characteristic handles. It reports whether the state changed.
func (s *Session) disconnect() bool {
	if s.state == StateDisconnected {
		return false
	}
	s.state = StateDisconnected
	s.handles = nil
	s.chars = nil
	s.module = nil
	s.status = nil
	return true
}

// characteristic returns the UUID resolved for ch.
func (s *Session) characteristic(ch Channel) (string, bool) {
	id, ok := s.chars[ch]
	return id, ok
}

// Dispatch is the outcome of routing one notification payload.
type Dispatch struct {
	// Channel is the channel the payload was routed to, or ChannelNone if
	// it came from a characteristic without a decoder.
	Channel Channel
	Payload protocol.Payload
	Reading protocol.Reading     // set for ChannelModule
	Status  protocol.StatusField // set for ChannelStatus
	Err     error
}

// dispatch routes data to the decoder bound to the characteristic it came
// from: the module channel to the module decoder and the status channel to
// the status decoder. Anything else is not decoded.
func (s *Session) dispatch(charID string, data []byte) Dispatch {
	ch := s.handles[NormalizeUUID(charID)]
	switch {
	case ch == ChannelModule && s.module != nil:
		p := protocol.Tokenize(data)
		r, err := s.module.Decode(p)
		return Dispatch{Channel: ChannelModule, Payload: p, Reading: r, Err: err}
	case ch == ChannelStatus && s.status != nil:
		p := protocol.Tokenize(data)
		f, err := s.status.Decode(p)
		return Dispatch{Channel: ChannelStatus, Payload: p, Status: f, Err: err}
	default:
		return Dispatch{Channel: ChannelNone}
	}
}
