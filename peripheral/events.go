package peripheral

import "github.com/user/peripheral-blue/wire/gatt"

// event is anything the event loop consumes: radio events and application commands.
type event interface{}

// Radio events
type (
	powerEvent struct {
		state PowerState
	}
	registeredEvent struct {
		service gatt.UUID
		err     error
	}
	advertisingEvent struct {
		err error
	}
	requestsEvent struct {
		requests []Request
	}
	subscribeEvent struct {
		central        Central
		characteristic gatt.UUID
	}
	unsubscribeEvent struct {
		central        Central
		characteristic gatt.UUID
	}
	readyEvent      struct{}
	disconnectEvent struct {
		central Central
	}
	confirmEvent struct {
		central        Central
		characteristic gatt.UUID
	}
)

// Application commands. reply channels are buffered so the loop never blocks on them.
type (
	startCmd struct {
		reply chan error
	}
	stopCmd struct {
		reply chan error
	}
	writeCmd struct {
		characteristic gatt.UUID
		value          []byte
		reply          chan writeReply
	}
	stateQuery struct {
		reply chan State
	}
	valueQuery struct {
		characteristic gatt.UUID
		reply          chan valueReply
	}
	subscribersQuery struct {
		characteristic gatt.UUID
		reply          chan []Central
	}
)

type writeReply struct {
	result NotifyResult
	err    error
}

type valueReply struct {
	value []byte
	err   error
}

// EventSink implementation

func (p *Peripheral) PowerStateChanged(state PowerState) {
	p.post(powerEvent{state: state})
}

func (p *Peripheral) ServiceRegistered(service gatt.UUID, err error) {
	p.post(registeredEvent{service: service, err: err})
}

func (p *Peripheral) AdvertisingStarted(err error) {
	p.post(advertisingEvent{err: err})
}

func (p *Peripheral) RequestsReceived(requests []Request) {
	p.post(requestsEvent{requests: requests})
}

func (p *Peripheral) Subscribed(central Central, characteristic gatt.UUID) {
	p.post(subscribeEvent{central: central, characteristic: characteristic})
}

func (p *Peripheral) Unsubscribed(central Central, characteristic gatt.UUID) {
	p.post(unsubscribeEvent{central: central, characteristic: characteristic})
}

func (p *Peripheral) TransportReady() {
	p.post(readyEvent{})
}

func (p *Peripheral) CentralDisconnected(central Central) {
	p.post(disconnectEvent{central: central})
}

func (p *Peripheral) IndicationConfirmed(central Central, characteristic gatt.UUID) {
	p.post(confirmEvent{central: central, characteristic: characteristic})
}

var _ EventSink = (*Peripheral)(nil)
