package peripheral

import (
	"fmt"

	"github.com/user/peripheral-blue/wire/gatt"
)

// Central identifies a remote central. The radio assigns it; it is never persisted.
type Central string

// RequestKind distinguishes reads from writes.
type RequestKind uint8

const (
	RequestRead RequestKind = iota + 1
	RequestWrite
)

func (k RequestKind) String() string {
	switch k {
	case RequestRead:
		return "read"
	case RequestWrite:
		return "write"
	}
	return fmt.Sprintf("RequestKind(%d)", uint8(k))
}

// Request is an ATT read or write addressed to one characteristic.
// ID is the radio's correlation token and is echoed back untouched.
type Request struct {
	ID             uint64
	Central        Central
	Characteristic gatt.UUID
	Kind           RequestKind
	Offset         int
	Value          []byte
}

// Response answers exactly one Request. Status is an ATT code from wire/att.
type Response struct {
	Status uint8
	Value  []byte
}

// PowerState is the radio's reported adapter state.
// Matches the CoreBluetooth manager states
type PowerState int

const (
	PowerUnknown PowerState = iota
	PowerResetting
	PowerUnsupported
	PowerUnauthorized
	PowerOff
	PowerOn
)

func (s PowerState) String() string {
	switch s {
	case PowerUnknown:
		return "unknown"
	case PowerResetting:
		return "resetting"
	case PowerUnsupported:
		return "unsupported"
	case PowerUnauthorized:
		return "unauthorized"
	case PowerOff:
		return "poweredOff"
	case PowerOn:
		return "poweredOn"
	}
	return fmt.Sprintf("PowerState(%d)", int(s))
}

// Advertisement is what the peripheral asks the radio to broadcast.
// Data is the encoded legacy advertising payload.
type Advertisement struct {
	LocalName    string
	ServiceUUIDs []gatt.UUID
	Data         []byte
}

// Radio is the platform Bluetooth stack as seen by the peripheral. Every
// method is called from the peripheral's event loop and must not block on
// the EventSink; completions are reported back through the sink.
type Radio interface {
	// Open attaches the sink. The radio reports its power state afterwards.
	Open(sink EventSink) error
	RegisterService(service *gatt.Service) error
	StartAdvertising(adv Advertisement) error
	StopAdvertising() error
	RemoveServices() error
	RespondToRequest(req Request, resp Response) error
	// PushNotification returns false when the transport queue is full.
	// The radio calls TransportReady once it has room again.
	PushNotification(central Central, characteristic gatt.UUID, value []byte, indicate bool) bool
	Close() error
}

// EventSink receives radio events. *Peripheral implements it; calls are
// safe from any goroutine and are processed in arrival order.
type EventSink interface {
	PowerStateChanged(state PowerState)
	ServiceRegistered(service gatt.UUID, err error)
	AdvertisingStarted(err error)
	RequestsReceived(requests []Request)
	Subscribed(central Central, characteristic gatt.UUID)
	Unsubscribed(central Central, characteristic gatt.UUID)
	TransportReady()
	CentralDisconnected(central Central)
	IndicationConfirmed(central Central, characteristic gatt.UUID)
}
