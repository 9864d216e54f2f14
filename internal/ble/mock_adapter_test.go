package ble

import (
	"fmt"
	"sync"
	"testing"
)

// transportCall records one request made to mockTransport.
type transportCall struct {
	Op           string
	PeripheralID string
	ID           string // service or characteristic UUID
	Data         []byte
}

// mockTransport records requests and lets tests inject events.
type mockTransport struct {
	mu      sync.Mutex
	calls   []transportCall
	events  chan TransportEvent
	failOps map[string]bool
	enabled bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		events:  make(chan TransportEvent, 16),
		failOps: make(map[string]bool),
	}
}

func (m *mockTransport) record(c transportCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
	if m.failOps[c.Op] {
		return fmt.Errorf("mock: %s failed", c.Op)
	}
	return nil
}

func (m *mockTransport) Enable() error {
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) Scan(serviceIDs []string) error {
	return m.record(transportCall{Op: "scan"})
}

func (m *mockTransport) StopScan() error {
	return m.record(transportCall{Op: "stopscan"})
}

func (m *mockTransport) Connect(id string) error {
	return m.record(transportCall{Op: "connect", PeripheralID: id})
}

func (m *mockTransport) Disconnect(id string) error {
	return m.record(transportCall{Op: "disconnect", PeripheralID: id})
}

func (m *mockTransport) DiscoverServices(id string, _ []string) error {
	return m.record(transportCall{Op: "services", PeripheralID: id})
}

func (m *mockTransport) DiscoverCharacteristics(id, serviceID string) error {
	return m.record(transportCall{Op: "characteristics", PeripheralID: id, ID: serviceID})
}

func (m *mockTransport) SubscribeNotify(id, charID string) error {
	return m.record(transportCall{Op: "notify", PeripheralID: id, ID: charID})
}

func (m *mockTransport) Write(id, charID string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	return m.record(transportCall{Op: "write", PeripheralID: id, ID: charID, Data: cp})
}

func (m *mockTransport) Events() <-chan TransportEvent {
	return m.events
}

// callsFor returns the recorded calls with the given op.
func (m *mockTransport) callsFor(op string) []transportCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []transportCall
	for _, c := range m.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// recordingHandler collects everything the coordinator emits.
type recordingHandler struct {
	mu     sync.Mutex
	events []Event
	errors []DecodeError
}

func (h *recordingHandler) HandleEvent(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) HandleDecodeError(de DecodeError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, de)
}

// ofKind returns the recorded events of one kind.
func (h *recordingHandler) ofKind(kind EventKind) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, ev := range h.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (h *recordingHandler) decodeErrors() []DecodeError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]DecodeError(nil), h.errors...)
}

func TestMockTransportImplementsInterface(t *testing.T) {
	var _ Transport = (*mockTransport)(nil)
}

func TestRecordingHandlerImplementsInterface(t *testing.T) {
	var _ Handler = (*recordingHandler)(nil)
}
