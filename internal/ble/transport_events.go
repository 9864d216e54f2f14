package ble

// TransportEvent is a callback from the BLE stack. The concrete types are
// AdapterStateChanged, PeripheralDiscovered, PeripheralConnected,
// PeripheralDisconnected, ServicesDiscovered, CharacteristicsDiscovered,
// NotifyEnabled, ValueUpdated and WriteCompleted.
type TransportEvent interface {
	transportEvent()
}

// AdapterState is the power state of the local BLE adapter.
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterPoweredOff
	AdapterPoweredOn
	AdapterUnauthorized
	AdapterUnsupported
)

func (s AdapterState) String() string {
	switch s {
	case AdapterPoweredOff:
		return "powered off"
	case AdapterPoweredOn:
		return "powered on"
	case AdapterUnauthorized:
		return "unauthorized"
	case AdapterUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

type AdapterStateChanged struct {
	State AdapterState
	Err   error
}

// PeripheralDiscovered reports one advertisement seen while scanning.
type PeripheralDiscovered struct {
	PeripheralID string
	Name         string
	RSSI         int
	// ServiceIDs lists the advertised services that matched the scan filter.
	ServiceIDs []string
}

// PeripheralConnected reports the outcome of a Connect request.
type PeripheralConnected struct {
	PeripheralID string
	Err          error
}

// PeripheralDisconnected reports an explicit disconnect or a lost link.
type PeripheralDisconnected struct {
	PeripheralID string
	Err          error
}

type ServicesDiscovered struct {
	PeripheralID string
	ServiceIDs   []string
	Err          error
}

type CharacteristicsDiscovered struct {
	PeripheralID      string
	ServiceID         string
	CharacteristicIDs []string
	Err               error
}

// NotifyEnabled acknowledges a SubscribeNotify request.
type NotifyEnabled struct {
	PeripheralID     string
	CharacteristicID string
	Err              error
}

// ValueUpdated carries one notification payload.
type ValueUpdated struct {
	PeripheralID     string
	CharacteristicID string
	Data             []byte
	Err              error
}

// WriteCompleted confirms a Write request.
type WriteCompleted struct {
	PeripheralID     string
	CharacteristicID string
	Err              error
}

func (AdapterStateChanged) transportEvent()       {}
func (PeripheralDiscovered) transportEvent()      {}
func (PeripheralConnected) transportEvent()       {}
func (PeripheralDisconnected) transportEvent()    {}
func (ServicesDiscovered) transportEvent()        {}
func (CharacteristicsDiscovered) transportEvent() {}
func (NotifyEnabled) transportEvent()             {}
func (ValueUpdated) transportEvent()              {}
func (WriteCompleted) transportEvent()            {}
