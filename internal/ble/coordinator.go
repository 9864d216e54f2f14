package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chaz8081/curobridge/internal/ble/protocol"
)

var (
	// ErrUnknownPeripheral is returned for requests naming a peripheral
	// that has not been discovered.
	ErrUnknownPeripheral = errors.New("ble: unknown peripheral")
	// ErrStopped is returned for requests made after Run has returned.
	ErrStopped = errors.New("ble: coordinator stopped")
)

// Peripheral is a discovered Curo device.
type Peripheral struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	RSSI      int    `json:"rssi"`
	Role      Role   `json:"role,omitempty"`
	Connected bool   `json:"connected"`
}

// CoordinatorOptions configures the coordinator behavior.
type CoordinatorOptions struct {
	// AutoConnect connects to a newly discovered peripheral when no
	// peripheral holds the slot for its role.
	AutoConnect bool
	// Device restricts AutoConnect to the peripheral with this identifier.
	Device string
}

// Coordinator maintains the set of discovered peripherals, the selected
// alpha and stethoscope devices and one Session per connected peripheral.
// All transport events and external requests are processed by Run on a
// single goroutine, so no state inside the coordinator is shared.
type Coordinator struct {
	transport Transport
	handler   Handler
	opts      CoordinatorOptions

	peripherals map[string]*Peripheral
	order       []string // discovery order
	sessions    map[string]*Session

	alphaID       string
	stethoscopeID string
	scanning      bool

	requests chan func()
	done     chan struct{}
	now      func() time.Time
}

// NewCoordinator creates a coordinator that drives transport and reports to
// handler. A nil handler discards all events.
func NewCoordinator(transport Transport, handler Handler, opts CoordinatorOptions) *Coordinator {
	if handler == nil {
		handler = MultiHandler(nil)
	}
	return &Coordinator{
		transport:   transport,
		handler:     handler,
		opts:        opts,
		peripherals: make(map[string]*Peripheral),
		sessions:    make(map[string]*Session),
		requests:    make(chan func()),
		done:        make(chan struct{}),
		now:         time.Now,
	}
}

// Run enables the adapter and processes transport events and requests until
// ctx is cancelled or the transport closes its event channel. Run must be
// called once.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)

	if err := c.transport.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	defer c.stopScan()

	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return errors.New("ble: transport event channel closed")
			}
			c.handle(ev)
		case req := <-c.requests:
			req()
		}
	}
}

// do runs fn on the event loop and waits for its result.
func (c *Coordinator) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	select {
	case c.requests <- func() { result <- fn() }:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect requests a connection to a discovered peripheral.
func (c *Coordinator) Connect(ctx context.Context, peripheralID string) error {
	return c.do(ctx, func() error { return c.connect(peripheralID) })
}

// Disconnect closes the connection to a peripheral. The session unwinds to
// StateDisconnected immediately, whatever state it was in; the peripheral
// stays in the discovered list.
func (c *Coordinator) Disconnect(ctx context.Context, peripheralID string) error {
	return c.do(ctx, func() error { return c.disconnect(peripheralID) })
}

// WriteModuleData writes data to the selected alpha device's module
// characteristic. The write is skipped if no alpha device is connected or
// the characteristic is not resolved. Completion is only logged.
func (c *Coordinator) WriteModuleData(ctx context.Context, data []byte) error {
	return c.do(ctx, func() error {
		c.write(c.alphaID, ChannelModule, data)
		return nil
	})
}

// WriteStatusData writes data to the selected alpha device's status
// characteristic, with the same contract as WriteModuleData.
func (c *Coordinator) WriteStatusData(ctx context.Context, data []byte) error {
	return c.do(ctx, func() error {
		c.write(c.alphaID, ChannelStatus, data)
		return nil
	})
}

// WriteCommand writes data to the selected stethoscope's command
// characteristic, with the same contract as WriteModuleData.
func (c *Coordinator) WriteCommand(ctx context.Context, data []byte) error {
	return c.do(ctx, func() error {
		c.write(c.stethoscopeID, ChannelCommand, data)
		return nil
	})
}

// Peripherals returns the discovered peripherals in discovery order.
func (c *Coordinator) Peripherals(ctx context.Context) ([]Peripheral, error) {
	var list []Peripheral
	err := c.do(ctx, func() error {
		list = c.peripheralList()
		return nil
	})
	return list, err
}

// Session returns a snapshot of the session for a peripheral.
func (c *Coordinator) Session(ctx context.Context, peripheralID string) (SessionInfo, error) {
	var info SessionInfo
	err := c.do(ctx, func() error {
		s, ok := c.sessions[peripheralID]
		if !ok {
			if _, known := c.peripherals[peripheralID]; !known {
				return fmt.Errorf("%w: %s", ErrUnknownPeripheral, peripheralID)
			}
			s = newSession(peripheralID)
		}
		info = s.info()
		return nil
	})
	return info, err
}

// Selected returns the identifiers of the connected alpha and stethoscope
// devices. Either is "" when no device holds the slot.
func (c *Coordinator) Selected(ctx context.Context) (alpha, stethoscope string, err error) {
	err = c.do(ctx, func() error {
		alpha, stethoscope = c.alphaID, c.stethoscopeID
		return nil
	})
	return alpha, stethoscope, err
}

// ClearPeripherals forgets every discovered peripheral that has no live
// session.
func (c *Coordinator) ClearPeripherals(ctx context.Context) error {
	return c.do(ctx, func() error {
		kept := c.order[:0]
		for _, id := range c.order {
			if s, ok := c.sessions[id]; ok && s.live() {
				kept = append(kept, id)
				continue
			}
			delete(c.peripherals, id)
			delete(c.sessions, id)
		}
		c.order = kept
		c.emitPeripherals()
		return nil
	})
}

func (c *Coordinator) handle(ev TransportEvent) {
	switch ev := ev.(type) {
	case AdapterStateChanged:
		c.onAdapterState(ev)
	case PeripheralDiscovered:
		c.onDiscovered(ev)
	case PeripheralConnected:
		c.onConnected(ev)
	case PeripheralDisconnected:
		c.onDisconnected(ev)
	case ServicesDiscovered:
		c.onServicesDiscovered(ev)
	case CharacteristicsDiscovered:
		c.onCharacteristicsDiscovered(ev)
	case NotifyEnabled:
		c.onNotifyEnabled(ev)
	case ValueUpdated:
		c.onValueUpdated(ev)
	case WriteCompleted:
		c.onWriteCompleted(ev)
	default:
		slog.Warn("[BLE] unhandled transport event", "type", fmt.Sprintf("%T", ev))
	}
}

func (c *Coordinator) onAdapterState(ev AdapterStateChanged) {
	if ev.Err != nil {
		slog.Error("[BLE] adapter error", "state", ev.State, "error", ev.Err)
		return
	}
	if ev.State != AdapterPoweredOn {
		slog.Warn("[BLE] unhandled adapter state", "state", ev.State)
		return
	}
	if c.scanning {
		return
	}
	if err := c.transport.Scan(ServiceUUIDs()); err != nil {
		slog.Error("[BLE] scan failed", "error", err)
		return
	}
	c.scanning = true
	slog.Info("[BLE] scanning")
}

func (c *Coordinator) onDiscovered(ev PeripheralDiscovered) {
	role := RoleUnknown
	for _, id := range ev.ServiceIDs {
		if role = RoleForService(id); role != RoleUnknown {
			break
		}
	}

	p, known := c.peripherals[ev.PeripheralID]
	if known {
		p.RSSI = ev.RSSI
		if ev.Name != "" {
			p.Name = ev.Name
		}
		if p.Role == RoleUnknown {
			p.Role = role
		}
	} else {
		p = &Peripheral{ID: ev.PeripheralID, Name: ev.Name, RSSI: ev.RSSI, Role: role}
		c.peripherals[p.ID] = p
		c.order = append(c.order, p.ID)
		slog.Info("[BLE] discovered", "peripheral", p.ID, "name", p.Name, "role", p.Role, "rssi", p.RSSI)
		c.emitPeripherals()
	}

	if c.shouldAutoConnect(p) {
		if err := c.connect(p.ID); err != nil {
			slog.Warn("[BLE] auto-connect failed", "peripheral", p.ID, "error", err)
		}
	}
}

func (c *Coordinator) shouldAutoConnect(p *Peripheral) bool {
	if !c.opts.AutoConnect || p.Connected {
		return false
	}
	if c.opts.Device != "" && !strings.EqualFold(c.opts.Device, p.ID) {
		return false
	}
	if s, ok := c.sessions[p.ID]; ok && s.live() {
		return false
	}
	switch p.Role {
	case RoleAlpha:
		return c.alphaID == "" && !c.connecting(RoleAlpha)
	case RoleStethoscope:
		return c.stethoscopeID == "" && !c.connecting(RoleStethoscope)
	default:
		return false
	}
}

// connecting reports whether a peripheral advertising role has a session
// that has not yet been classified.
func (c *Coordinator) connecting(role Role) bool {
	for id, s := range c.sessions {
		if s.state == StateConnecting && c.peripherals[id] != nil && c.peripherals[id].Role == role {
			return true
		}
	}
	return false
}

func (c *Coordinator) connect(peripheralID string) error {
	if _, ok := c.peripherals[peripheralID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeripheral, peripheralID)
	}
	s, ok := c.sessions[peripheralID]
	if !ok {
		s = newSession(peripheralID)
		c.sessions[peripheralID] = s
	}
	if err := s.beginConnect(); err != nil {
		return err
	}
	if err := c.transport.Connect(peripheralID); err != nil {
		s.disconnect()
		return fmt.Errorf("ble: connect to %s: %w", peripheralID, err)
	}
	slog.Info("[BLE] connecting", "peripheral", peripheralID)
	c.emitState(s)
	return nil
}

func (c *Coordinator) disconnect(peripheralID string) error {
	p, ok := c.peripherals[peripheralID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeripheral, peripheralID)
	}
	s, ok := c.sessions[peripheralID]
	if !ok || !s.live() {
		return nil
	}
	if err := c.transport.Disconnect(peripheralID); err != nil {
		slog.Warn("[BLE] disconnect request failed", "peripheral", peripheralID, "error", err)
	}
	c.teardown(p, s)
	return nil
}

// teardown unwinds a session and returns its peripheral to the pool.
func (c *Coordinator) teardown(p *Peripheral, s *Session) {
	if !s.disconnect() {
		return
	}
	if c.alphaID == p.ID {
		c.alphaID = ""
	}
	if c.stethoscopeID == p.ID {
		c.stethoscopeID = ""
	}
	p.Connected = false
	slog.Info("[BLE] disconnected", "peripheral", p.ID)
	c.emitState(s)
	c.emitPeripherals()
}

func (c *Coordinator) onConnected(ev PeripheralConnected) {
	s, ok := c.sessions[ev.PeripheralID]
	if !ok || s.state != StateConnecting {
		// Disconnect was requested while the connection was being set up.
		slog.Debug("[BLE] dropping stale connection", "peripheral", ev.PeripheralID)
		if ev.Err == nil {
			_ = c.transport.Disconnect(ev.PeripheralID)
		}
		return
	}
	if ev.Err != nil {
		// Unwind so the peripheral's role slot can be auto-connected again
		// on its next advertisement.
		slog.Error("[BLE] connection failed", "peripheral", ev.PeripheralID, "error", ev.Err)
		c.teardown(c.peripherals[ev.PeripheralID], s)
		return
	}
	c.peripherals[ev.PeripheralID].Connected = true
	c.emitPeripherals()

	if err := c.transport.DiscoverServices(ev.PeripheralID, ServiceUUIDs()); err != nil {
		slog.Error("[BLE] discover services failed", "peripheral", ev.PeripheralID, "error", err)
	}
}

func (c *Coordinator) onDisconnected(ev PeripheralDisconnected) {
	if ev.Err != nil {
		slog.Warn("[BLE] link lost", "peripheral", ev.PeripheralID, "error", ev.Err)
	}
	p, ok := c.peripherals[ev.PeripheralID]
	if !ok {
		return
	}
	if s, ok := c.sessions[ev.PeripheralID]; ok {
		c.teardown(p, s)
	}
}

func (c *Coordinator) onServicesDiscovered(ev ServicesDiscovered) {
	if ev.Err != nil {
		slog.Error("[BLE] error discovering services", "peripheral", ev.PeripheralID, "error", ev.Err)
		return
	}
	s, ok := c.sessions[ev.PeripheralID]
	if !ok {
		return
	}
	role, err := s.servicesDiscovered(ev.ServiceIDs)
	if err != nil {
		slog.Warn("[BLE] service discovery ignored", "error", err)
		return
	}

	switch role {
	case RoleAlpha:
		if c.alphaID != "" && c.alphaID != ev.PeripheralID {
			slog.Warn("[BLE] replacing alpha device", "old", c.alphaID, "new", ev.PeripheralID)
		}
		c.alphaID = ev.PeripheralID
	case RoleStethoscope:
		if c.stethoscopeID != "" && c.stethoscopeID != ev.PeripheralID {
			slog.Warn("[BLE] replacing stethoscope device", "old", c.stethoscopeID, "new", ev.PeripheralID)
		}
		c.stethoscopeID = ev.PeripheralID
	}
	c.peripherals[ev.PeripheralID].Role = role
	c.emitState(s)

	if err := c.transport.DiscoverCharacteristics(ev.PeripheralID, ServiceUUID(role)); err != nil {
		slog.Error("[BLE] discover characteristics failed", "peripheral", ev.PeripheralID, "error", err)
	}
}

func (c *Coordinator) onCharacteristicsDiscovered(ev CharacteristicsDiscovered) {
	if ev.Err != nil {
		slog.Error("[BLE] error discovering characteristics", "peripheral", ev.PeripheralID, "error", ev.Err)
		return
	}
	s, ok := c.sessions[ev.PeripheralID]
	if !ok {
		return
	}
	subscribe, err := s.characteristicsDiscovered(ev.CharacteristicIDs)
	if err != nil {
		slog.Warn("[BLE] characteristic discovery ignored", "error", err)
		return
	}
	c.emitState(s)

	requested := 0
	for _, id := range subscribe {
		if err := c.transport.SubscribeNotify(ev.PeripheralID, id); err != nil {
			slog.Error("[BLE] enable notify failed", "peripheral", ev.PeripheralID, "characteristic", id, "error", err)
			continue
		}
		requested++
	}
	if requested > 0 {
		s.notifyRequested()
		c.emitState(s)
	}
}

func (c *Coordinator) onNotifyEnabled(ev NotifyEnabled) {
	if ev.Err != nil {
		slog.Error("[BLE] enable notify failed", "peripheral", ev.PeripheralID, "characteristic", ev.CharacteristicID, "error", ev.Err)
		return
	}
	if s, ok := c.sessions[ev.PeripheralID]; ok && s.activate() {
		c.emitState(s)
	}
}

func (c *Coordinator) onValueUpdated(ev ValueUpdated) {
	if ev.Err != nil {
		slog.Error("[BLE] error reading characteristic value", "peripheral", ev.PeripheralID, "characteristic", ev.CharacteristicID, "error", ev.Err)
		return
	}
	s, ok := c.sessions[ev.PeripheralID]
	if !ok {
		slog.Warn("[BLE] value from peripheral without session", "peripheral", ev.PeripheralID)
		return
	}

	d := s.dispatch(ev.CharacteristicID, ev.Data)
	if d.Channel == ChannelNone {
		slog.Warn("[BLE] unhandled characteristic", "peripheral", ev.PeripheralID, "characteristic", ev.CharacteristicID)
		return
	}
	if s.activate() {
		c.emitState(s)
	}

	if errors.Is(d.Err, protocol.ErrUnhandledTag) {
		slog.Warn("[BLE] unhandled frame", "peripheral", ev.PeripheralID, "channel", d.Channel, "frame", d.Payload.Text)
		return
	}
	if d.Err != nil {
		c.handler.HandleDecodeError(DecodeError{
			Peripheral: ev.PeripheralID,
			Time:       c.now(),
			Frame:      d.Payload.Text,
			Err:        d.Err,
		})
		return
	}

	out := Event{Peripheral: ev.PeripheralID, Role: s.role, Time: c.now()}
	switch v := d.Reading.(type) {
	case protocol.Temperature:
		out.Kind = EventTemperature
		out.Temperature = &v
	case protocol.Oximetry:
		out.Kind = EventOximetry
		out.Oximetry = &v
	}
	switch v := d.Status.(type) {
	case protocol.StatusCode:
		code := int(v)
		out.Kind = EventDeviceStatus
		out.Status = &code
	case protocol.ModuleID:
		out.Kind = EventModuleID
		out.ModuleID = string(v)
	case protocol.IPAddress:
		out.Kind = EventIPAddress
		out.IPAddress = string(v)
	}
	if out.Kind == "" {
		slog.Debug("[BLE] frame carried no value", "peripheral", ev.PeripheralID, "frame", d.Payload.Text)
		return
	}
	c.handler.HandleEvent(out)
}

func (c *Coordinator) onWriteCompleted(ev WriteCompleted) {
	if ev.Err != nil {
		slog.Error("[BLE] error writing to characteristic", "peripheral", ev.PeripheralID, "characteristic", ev.CharacteristicID, "error", ev.Err)
		return
	}
	slog.Debug("[BLE] write complete", "peripheral", ev.PeripheralID, "characteristic", ev.CharacteristicID)
}

// write issues a fire-and-forget write on the given channel of a selected
// device, skipping it if the device or characteristic is not available.
func (c *Coordinator) write(peripheralID string, ch Channel, data []byte) {
	if peripheralID == "" {
		slog.Debug("[BLE] write skipped, no device selected", "channel", ch)
		return
	}
	s, ok := c.sessions[peripheralID]
	if !ok || !s.live() {
		slog.Debug("[BLE] write skipped, device not connected", "peripheral", peripheralID, "channel", ch)
		return
	}
	charID, ok := s.characteristic(ch)
	if !ok {
		slog.Debug("[BLE] write skipped, characteristic not resolved", "peripheral", peripheralID, "channel", ch)
		return
	}
	if err := c.transport.Write(peripheralID, charID, data); err != nil {
		slog.Error("[BLE] write request failed", "peripheral", peripheralID, "characteristic", charID, "error", err)
	}
}

func (c *Coordinator) stopScan() {
	if !c.scanning {
		return
	}
	if err := c.transport.StopScan(); err != nil {
		slog.Warn("[BLE] stop scan failed", "error", err)
	}
	c.scanning = false
}

func (c *Coordinator) peripheralList() []Peripheral {
	list := make([]Peripheral, 0, len(c.order))
	for _, id := range c.order {
		list = append(list, *c.peripherals[id])
	}
	return list
}

func (c *Coordinator) emitPeripherals() {
	c.handler.HandleEvent(Event{
		Kind:        EventPeripheralsUpdated,
		Time:        c.now(),
		Peripherals: c.peripheralList(),
	})
}

func (c *Coordinator) emitState(s *Session) {
	c.handler.HandleEvent(Event{
		Kind:       EventSessionState,
		Peripheral: s.peripheralID,
		Role:       s.role,
		Time:       c.now(),
		State:      s.state.String(),
	})
}
