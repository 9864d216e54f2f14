package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/chaz8081/curobridge/internal/ble"
	"github.com/chaz8081/curobridge/internal/ble/protocol"
)

// fakeToken is an already-completed mqtt.Token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes.
type fakeClient struct {
	mu           sync.Mutex
	messages     []published
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := payload.([]byte)
	if !ok {
		panic(fmt.Sprintf("unexpected payload type %T", payload))
	}
	c.messages = append(c.messages, published{topic, qos, retained, b})
	return newFakeToken(c.err)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

var _ mqtt.Token = (*fakeToken)(nil)

func TestNewMQTTPublisherNilClientPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewMQTTPublisher(nil) should panic")
		}
	}()
	NewMQTTPublisher(nil, "curobridge", 0, false)
}

func TestTopic(t *testing.T) {
	p := NewMQTTPublisher(&fakeClient{}, "clinic/ward3/", 0, false)
	tests := []struct {
		peripheral, kind, want string
	}{
		{"AA:BB:CC:DD:EE:01", "temperature", "clinic/ward3/AA:BB:CC:DD:EE:01/temperature"},
		{"AA:BB:CC:DD:EE:01", "error", "clinic/ward3/AA:BB:CC:DD:EE:01/error"},
		{"", "peripherals", "clinic/ward3/peripherals"},
	}
	for _, tt := range tests {
		if got := p.Topic(tt.peripheral, tt.kind); got != tt.want {
			t.Errorf("Topic(%q, %q) = %q, want %q", tt.peripheral, tt.kind, got, tt.want)
		}
	}
}

func TestHandleEventPublishesJSON(t *testing.T) {
	client := &fakeClient{}
	p := NewMQTTPublisher(client, "curobridge", 1, true)

	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.HandleEvent(ble.Event{
		Kind:        ble.EventTemperature,
		Peripheral:  "alpha-1",
		Role:        ble.RoleAlpha,
		Time:        when,
		Temperature: &protocol.Temperature{Celsius: 36.6, Fahrenheit: 97.9},
	})
	p.Close()

	msgs := client.sent()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.topic != "curobridge/alpha-1/temperature" {
		t.Errorf("topic = %q", m.topic)
	}
	if m.qos != 1 || !m.retained {
		t.Errorf("qos/retained = %d/%v, want 1/true", m.qos, m.retained)
	}

	var got struct {
		Kind        string `json:"kind"`
		Peripheral  string `json:"peripheral"`
		Role        string `json:"role"`
		Temperature struct {
			Celsius    float64 `json:"celsius"`
			Fahrenheit float64 `json:"fahrenheit"`
		} `json:"temperature"`
	}
	if err := json.Unmarshal(m.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Kind != "temperature" || got.Peripheral != "alpha-1" || got.Role != "alpha" {
		t.Errorf("payload header = %+v", got)
	}
	if got.Temperature.Celsius != 36.6 || got.Temperature.Fahrenheit != 97.9 {
		t.Errorf("payload temperature = %+v", got.Temperature)
	}
}

func TestHandleEventPeripheralList(t *testing.T) {
	client := &fakeClient{}
	p := NewMQTTPublisher(client, "curobridge", 0, false)
	p.HandleEvent(ble.Event{
		Kind:        ble.EventPeripheralsUpdated,
		Peripherals: []ble.Peripheral{{ID: "alpha-1", Name: "Curo Alpha", Role: ble.RoleAlpha}},
	})
	p.Close()

	msgs := client.sent()
	if len(msgs) != 1 || msgs[0].topic != "curobridge/peripherals" {
		t.Fatalf("published %+v, want one message on curobridge/peripherals", msgs)
	}
}

func TestHandleDecodeErrorPublishesOnErrorTopic(t *testing.T) {
	client := &fakeClient{}
	p := NewMQTTPublisher(client, "curobridge", 0, false)
	p.HandleDecodeError(ble.DecodeError{
		Peripheral: "alpha-1",
		Frame:      "OB:0,x",
		Err:        fmt.Errorf("decode %q: %w", "OB:0,x", protocol.ErrTemperatureReading),
	})
	p.Close()

	msgs := client.sent()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "curobridge/alpha-1/error" {
		t.Errorf("topic = %q, want curobridge/alpha-1/error", msgs[0].topic)
	}
	var got decodeErrorPayload
	if err := json.Unmarshal(msgs[0].payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Frame != "OB:0,x" {
		t.Errorf("frame = %q, want %q", got.Frame, "OB:0,x")
	}
	if got.Error == "" {
		t.Error("error message should not be empty")
	}
}

func TestPublishFailureDoesNotBlock(t *testing.T) {
	client := &fakeClient{err: errors.New("broker unavailable")}
	p := NewMQTTPublisher(client, "curobridge", 0, false)

	status := 1
	p.HandleEvent(ble.Event{Kind: ble.EventDeviceStatus, Peripheral: "alpha-1", Status: &status})
	p.Close()

	if len(client.sent()) != 1 {
		t.Errorf("published %d messages, want 1", len(client.sent()))
	}
}

func TestCloseDisconnectsAndDropsLaterEvents(t *testing.T) {
	client := &fakeClient{}
	p := NewMQTTPublisher(client, "curobridge", 0, false)
	p.Close()
	p.Close()

	if !client.disconnected {
		t.Error("Close() should disconnect the client")
	}
	p.HandleEvent(ble.Event{Kind: ble.EventModuleID, Peripheral: "alpha-1", ModuleID: "cam42"})
	if len(client.sent()) != 0 {
		t.Error("events after Close() should be dropped")
	}
}

func TestMQTTPublisherImplementsHandler(t *testing.T) {
	var _ ble.Handler = (*MQTTPublisher)(nil)
}
