package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

var (
	// errLinkLost is attached to disconnects the bridge did not request.
	errLinkLost        = errors.New("ble: link lost")
	errTransportClosed = errors.New("ble: transport closed")
	errQueueFull       = errors.New("ble: GATT operation queue full")
)

// opsPerEvent sizes the GATT queue relative to the event buffer.
const opsPerEvent = 4

// BluetoothTransport implements Transport on tinygo-org/bluetooth.
// On macOS, peripheral identifiers are CoreBluetooth UUIDs (not MAC
// addresses); on Linux they are MAC addresses.
//
// tinygo/bluetooth calls block, so every request runs off the caller's
// goroutine: connects each get their own goroutine, GATT operations run in
// order on one worker. Results are posted to Events.
type BluetoothTransport struct {
	adapter *bluetooth.Adapter
	events  chan TransportEvent
	ops     chan func()
	quit    chan struct{}
	start   sync.Once
	stop    sync.Once

	// mu protects the maps below.
	mu       sync.Mutex
	addrs    map[string]bluetooth.Address // from scan results
	devices  map[string]bluetooth.Device
	services map[string]map[string]bluetooth.DeviceService
	chars    map[string]map[string]bluetooth.DeviceCharacteristic
	closing  map[string]bool // disconnects we asked for
}

// NewBluetoothTransport creates a transport on the default adapter.
// eventBuffer sizes the event channel.
func NewBluetoothTransport(eventBuffer int) *BluetoothTransport {
	if eventBuffer <= 0 {
		eventBuffer = 64
	}
	return &BluetoothTransport{
		adapter:  bluetooth.DefaultAdapter,
		events:   make(chan TransportEvent, eventBuffer),
		ops:      make(chan func(), eventBuffer*opsPerEvent),
		quit:     make(chan struct{}),
		addrs:    make(map[string]bluetooth.Address),
		devices:  make(map[string]bluetooth.Device),
		services: make(map[string]map[string]bluetooth.DeviceService),
		chars:    make(map[string]map[string]bluetooth.DeviceCharacteristic),
		closing:  make(map[string]bool),
	}
}

// Compile-time check that BluetoothTransport implements Transport.
var _ Transport = (*BluetoothTransport)(nil)

func (t *BluetoothTransport) Events() <-chan TransportEvent {
	return t.events
}

// Close stops the GATT worker. Pending operations are dropped.
func (t *BluetoothTransport) Close() error {
	t.stop.Do(func() { close(t.quit) })
	return nil
}

func (t *BluetoothTransport) post(ev TransportEvent) {
	select {
	case t.events <- ev:
	case <-t.quit:
	}
}

func (t *BluetoothTransport) worker() {
	for {
		select {
		case op := <-t.ops:
			op()
		case <-t.quit:
			return
		}
	}
}

// enqueue schedules a GATT operation on the worker. It never blocks: the
// worker may itself be blocked posting to events, which only the caller
// drains.
func (t *BluetoothTransport) enqueue(op func()) error {
	select {
	case <-t.quit:
		return errTransportClosed
	default:
	}
	select {
	case t.ops <- op:
		return nil
	default:
		return errQueueFull
	}
}

func (t *BluetoothTransport) Enable() error {
	if err := t.adapter.Enable(); err != nil {
		return err
	}
	t.start.Do(func() { go t.worker() })

	// Register the adapter-level connect/disconnect handler.
	// tinygo/bluetooth fires this callback (with connected=false) when a
	// peripheral disconnects, whether or not we asked for it.
	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		t.mu.Lock()
		_, known := t.devices[id]
		requested := t.closing[id]
		t.forget(id)
		t.mu.Unlock()
		if !known {
			return
		}
		var err error
		if !requested {
			err = errLinkLost
		}
		t.post(PeripheralDisconnected{PeripheralID: id, Err: err})
	})

	go t.post(AdapterStateChanged{State: AdapterPoweredOn})
	return nil
}

// forget drops all handles for a peripheral (caller must hold mu).
func (t *BluetoothTransport) forget(id string) {
	delete(t.devices, id)
	delete(t.services, id)
	delete(t.chars, id)
	delete(t.closing, id)
}

func (t *BluetoothTransport) Scan(serviceIDs []string) error {
	filter := make([]bluetooth.UUID, 0, len(serviceIDs))
	for _, id := range serviceIDs {
		u, err := bluetooth.ParseUUID(id)
		if err != nil {
			return fmt.Errorf("ble: parse service UUID: %w", err)
		}
		filter = append(filter, u)
	}

	go func() {
		err := t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			var matched []string
			for _, u := range filter {
				if result.HasServiceUUID(u) {
					matched = append(matched, u.String())
				}
			}
			if len(matched) == 0 {
				return
			}
			id := result.Address.String()
			t.mu.Lock()
			t.addrs[id] = result.Address
			t.mu.Unlock()
			t.post(PeripheralDiscovered{
				PeripheralID: id,
				Name:         result.LocalName(),
				RSSI:         int(result.RSSI),
				ServiceIDs:   matched,
			})
		})
		if err != nil {
			slog.Error("[BLE] scan stopped", "error", err)
		}
	}()
	return nil
}

func (t *BluetoothTransport) StopScan() error {
	return t.adapter.StopScan()
}

func (t *BluetoothTransport) Connect(peripheralID string) error {
	t.mu.Lock()
	addr, ok := t.addrs[peripheralID]
	t.mu.Unlock()
	if !ok {
		// On macOS, bluetooth.Address wraps a UUID, not a MAC.
		// Address.Set() parses either form.
		addr.Set(peripheralID)
	}

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	go func() {
		device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			t.post(PeripheralConnected{PeripheralID: peripheralID, Err: fmt.Errorf("ble: connect to %s: %w", peripheralID, err)})
			return
		}
		t.mu.Lock()
		t.devices[peripheralID] = device
		t.mu.Unlock()
		t.post(PeripheralConnected{PeripheralID: peripheralID})
	}()
	return nil
}

func (t *BluetoothTransport) Disconnect(peripheralID string) error {
	t.mu.Lock()
	device, ok := t.devices[peripheralID]
	if ok {
		t.closing[peripheralID] = true
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return device.Disconnect()
}

func (t *BluetoothTransport) device(peripheralID string) (bluetooth.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	device, ok := t.devices[peripheralID]
	if !ok {
		return bluetooth.Device{}, fmt.Errorf("ble: no connection to %s", peripheralID)
	}
	return device, nil
}

func (t *BluetoothTransport) characteristic(peripheralID, charID string) (bluetooth.DeviceCharacteristic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	char, ok := t.chars[peripheralID][NormalizeUUID(charID)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("ble: characteristic %s not found on %s", charID, peripheralID)
	}
	return char, nil
}

func (t *BluetoothTransport) DiscoverServices(peripheralID string, serviceIDs []string) error {
	device, err := t.device(peripheralID)
	if err != nil {
		return err
	}
	filter := make([]bluetooth.UUID, 0, len(serviceIDs))
	for _, id := range serviceIDs {
		u, err := bluetooth.ParseUUID(id)
		if err != nil {
			return fmt.Errorf("ble: parse service UUID: %w", err)
		}
		filter = append(filter, u)
	}

	return t.enqueue(func() {
		svcs, err := device.DiscoverServices(filter)
		if err != nil {
			t.post(ServicesDiscovered{PeripheralID: peripheralID, Err: fmt.Errorf("ble: discover services: %w", err)})
			return
		}
		ids := make([]string, 0, len(svcs))
		byID := make(map[string]bluetooth.DeviceService, len(svcs))
		for _, svc := range svcs {
			id := NormalizeUUID(svc.UUID().String())
			ids = append(ids, id)
			byID[id] = svc
		}
		t.mu.Lock()
		t.services[peripheralID] = byID
		t.mu.Unlock()
		t.post(ServicesDiscovered{PeripheralID: peripheralID, ServiceIDs: ids})
	})
}

func (t *BluetoothTransport) DiscoverCharacteristics(peripheralID, serviceID string) error {
	t.mu.Lock()
	svc, ok := t.services[peripheralID][NormalizeUUID(serviceID)]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: service %s not found on %s", serviceID, peripheralID)
	}

	return t.enqueue(func() {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			t.post(CharacteristicsDiscovered{PeripheralID: peripheralID, ServiceID: serviceID, Err: fmt.Errorf("ble: discover characteristics: %w", err)})
			return
		}
		ids := make([]string, 0, len(chars))
		t.mu.Lock()
		if t.chars[peripheralID] == nil {
			t.chars[peripheralID] = make(map[string]bluetooth.DeviceCharacteristic)
		}
		for _, char := range chars {
			id := NormalizeUUID(char.UUID().String())
			ids = append(ids, id)
			t.chars[peripheralID][id] = char
		}
		t.mu.Unlock()
		t.post(CharacteristicsDiscovered{PeripheralID: peripheralID, ServiceID: serviceID, CharacteristicIDs: ids})
	})
}

func (t *BluetoothTransport) SubscribeNotify(peripheralID, charID string) error {
	char, err := t.characteristic(peripheralID, charID)
	if err != nil {
		return err
	}
	return t.enqueue(func() {
		err := char.EnableNotifications(func(buf []byte) {
			// The buffer is reused by the stack after the callback returns.
			data := make([]byte, len(buf))
			copy(data, buf)
			t.post(ValueUpdated{PeripheralID: peripheralID, CharacteristicID: charID, Data: data})
		})
		t.post(NotifyEnabled{PeripheralID: peripheralID, CharacteristicID: charID, Err: err})
	})
}

func (t *BluetoothTransport) Write(peripheralID, charID string, data []byte) error {
	char, err := t.characteristic(peripheralID, charID)
	if err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return t.enqueue(func() {
		_, err := char.WriteWithoutResponse(buf)
		t.post(WriteCompleted{PeripheralID: peripheralID, CharacteristicID: charID, Err: err})
	})
}
