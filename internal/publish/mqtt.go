// Package publish forwards bridge events to an MQTT broker.
package publish

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/chaz8081/curobridge/internal/ble"
	"github.com/chaz8081/curobridge/internal/config"
)

const (
	publishTimeout = 5 * time.Second
	quiesceMillis  = 250
)

// Client is the subset of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher is a ble.Handler that publishes every event as JSON.
//
// Topics are <prefix>/<peripheral>/<kind> for readings and state,
// <prefix>/<peripheral>/error for decode failures and <prefix>/peripherals
// for the discovered list. Publishing never waits on the broker.
type MQTTPublisher struct {
	client Client
	prefix string
	qos    byte
	retain bool

	pending sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// Compile-time interface satisfaction check.
var _ ble.Handler = (*MQTTPublisher)(nil)

// NewMQTTPublisher creates a publisher on an already connected client.
// Panics if client is nil (programmer error).
func NewMQTTPublisher(client Client, prefix string, qos byte, retain bool) *MQTTPublisher {
	if client == nil {
		panic("publish: NewMQTTPublisher called with nil client")
	}
	return &MQTTPublisher{
		client: client,
		prefix: strings.TrimRight(prefix, "/"),
		qos:    qos,
		retain: retain,
	}
}

// Dial connects to the broker described by cfg and returns a publisher on
// that connection. The bridge's availability is kept on
// <prefix>/bridge/status as a retained "online"/"offline" value.
func Dial(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	prefix := strings.TrimRight(cfg.TopicPrefix, "/")
	statusTopic := prefix + "/bridge/status"

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetWill(statusTopic, "offline", cfg.QoS, true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		slog.Info("[MQTT] connected", "broker", cfg.Broker)
		c.Publish(statusTopic, cfg.QoS, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("[MQTT] connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("publish: connect to %s: %w", cfg.Broker, token.Error())
	}

	return NewMQTTPublisher(client, prefix, cfg.QoS, cfg.Retain), nil
}

// Topic returns the topic an event for peripheral of the given kind is
// published on. An empty peripheral is omitted.
func (p *MQTTPublisher) Topic(peripheral, kind string) string {
	if peripheral == "" {
		return p.prefix + "/" + kind
	}
	return p.prefix + "/" + peripheral + "/" + kind
}

func (p *MQTTPublisher) HandleEvent(ev ble.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("[MQTT] encode event", "kind", ev.Kind, "error", err)
		return
	}
	p.publish(p.Topic(ev.Peripheral, string(ev.Kind)), payload)
}

// decodeErrorPayload is the wire form of ble.DecodeError.
type decodeErrorPayload struct {
	Peripheral string    `json:"peripheral"`
	Time       time.Time `json:"time"`
	Frame      string    `json:"frame"`
	Error      string    `json:"error"`
}

func (p *MQTTPublisher) HandleDecodeError(de ble.DecodeError) {
	msg := ""
	if de.Err != nil {
		msg = de.Err.Error()
	}
	payload, err := json.Marshal(decodeErrorPayload{
		Peripheral: de.Peripheral,
		Time:       de.Time,
		Frame:      de.Frame,
		Error:      msg,
	})
	if err != nil {
		slog.Error("[MQTT] encode decode error", "error", err)
		return
	}
	p.publish(p.Topic(de.Peripheral, "error"), payload)
}

func (p *MQTTPublisher) publish(topic string, payload []byte) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		slog.Debug("[MQTT] publisher closed, dropping message", "topic", topic)
		return
	}
	p.pending.Add(1)
	p.mu.Unlock()

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	go func() {
		defer p.pending.Done()
		if !token.WaitTimeout(publishTimeout) {
			slog.Warn("[MQTT] publish timed out", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			slog.Warn("[MQTT] publish failed", "topic", topic, "error", err)
		}
	}()
}

// Close waits for in-flight publishes and disconnects from the broker.
// Events handled after Close are dropped.
func (p *MQTTPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.pending.Wait()
	p.client.Disconnect(quiesceMillis)
}
