package wire

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/user/peripheral-blue/logger"
	"github.com/user/peripheral-blue/peripheral"
	"github.com/user/peripheral-blue/wire/gatt"
)

var (
	ErrRadioOff       = errors.New("radio is powered off")
	ErrRadioClosed    = errors.New("radio closed")
	ErrAlreadyOpen    = errors.New("radio already open")
	ErrUnknownRequest = errors.New("unknown request id")
)

// Delivery is one notification or indication as seen by a central.
type Delivery struct {
	Characteristic gatt.UUID
	Value          []byte
	Indicate       bool
}

// Loopback is an in-process Radio. Centrals are simulated by calling its
// Read, Write, Subscribe and related methods directly. Pushed values
// collect per central until Drain; a central holding QueueSize undrained
// values makes the transport report busy.
type Loopback struct {
	mu     sync.Mutex
	log    *logrus.Entry
	pump   *eventPump
	closed chan struct{}

	power        peripheral.PowerState
	queueSize    int
	registerErr  error
	advertiseErr error

	services    []*gatt.Service
	advertising bool
	adv         peripheral.Advertisement

	nextID  uint64
	waiting map[uint64]chan peripheral.Response
	inbox   map[peripheral.Central][]Delivery
	busy    bool
}

// LoopbackOption configures a Loopback.
type LoopbackOption func(*Loopback)

// WithLoopbackQueue limits undrained deliveries per central. Zero means unlimited.
func WithLoopbackQueue(n int) LoopbackOption {
	return func(l *Loopback) { l.queueSize = n }
}

// WithInitialPower sets the power state reported on Open.
func WithInitialPower(state peripheral.PowerState) LoopbackOption {
	return func(l *Loopback) { l.power = state }
}

func WithLoopbackLogger(log *logrus.Entry) LoopbackOption {
	return func(l *Loopback) { l.log = log }
}

// NewLoopback returns a powered-on loopback radio.
func NewLoopback(opts ...LoopbackOption) *Loopback {
	l := &Loopback{
		log:     logger.For("loopback"),
		closed:  make(chan struct{}),
		power:   peripheral.PowerOn,
		waiting: make(map[uint64]chan peripheral.Response),
		inbox:   make(map[peripheral.Central][]Delivery),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Radio side

func (l *Loopback) Open(sink peripheral.EventSink) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pump != nil {
		return ErrAlreadyOpen
	}
	select {
	case <-l.closed:
		return ErrRadioClosed
	default:
	}
	l.pump = newEventPump(context.Background(), "loopback-events", sink)
	power := l.power
	l.pump.emit(func(s peripheral.EventSink) { s.PowerStateChanged(power) })
	return nil
}

func (l *Loopback) RegisterService(service *gatt.Service) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.power != peripheral.PowerOn {
		return ErrRadioOff
	}
	err := l.registerErr
	if err == nil {
		l.services = append(l.services, service)
	}
	id := service.UUID()
	l.log.WithField("service", id).Debug("register service")
	l.pump.emit(func(s peripheral.EventSink) { s.ServiceRegistered(id, err) })
	return nil
}

func (l *Loopback) StartAdvertising(adv peripheral.Advertisement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.power != peripheral.PowerOn {
		return ErrRadioOff
	}
	err := l.advertiseErr
	if err == nil {
		l.advertising = true
		l.adv = adv
	}
	l.pump.emit(func(s peripheral.EventSink) { s.AdvertisingStarted(err) })
	return nil
}

func (l *Loopback) StopAdvertising() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advertising = false
	return nil
}

func (l *Loopback) RemoveServices() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = nil
	return nil
}

func (l *Loopback) RespondToRequest(req peripheral.Request, resp peripheral.Response) error {
	l.mu.Lock()
	ch, ok := l.waiting[req.ID]
	delete(l.waiting, req.ID)
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRequest, req.ID)
	}
	ch <- resp
	return nil
}

func (l *Loopback) PushNotification(central peripheral.Central, characteristic gatt.UUID, value []byte, indicate bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queueSize > 0 && len(l.inbox[central]) >= l.queueSize {
		l.busy = true
		return false
	}
	l.inbox[central] = append(l.inbox[central], Delivery{
		Characteristic: characteristic,
		Value:          append([]byte(nil), value...),
		Indicate:       indicate,
	})
	return true
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	select {
	case <-l.closed:
		l.mu.Unlock()
		return nil
	default:
		close(l.closed)
	}
	pump := l.pump
	l.mu.Unlock()

	if pump != nil {
		pump.stop()
	}
	return nil
}

// Control side

// SetPower changes the adapter state. Powering off drops the registration
// and advertising, as a real stack does.
func (l *Loopback) SetPower(state peripheral.PowerState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.power = state
	if state != peripheral.PowerOn {
		l.services = nil
		l.advertising = false
	}
	if l.pump != nil {
		l.pump.emit(func(s peripheral.EventSink) { s.PowerStateChanged(state) })
	}
}

// FailRegistration makes later registrations report err. Nil clears it.
func (l *Loopback) FailRegistration(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registerErr = err
}

// FailAdvertising makes later advertising attempts report err. Nil clears it.
func (l *Loopback) FailAdvertising(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advertiseErr = err
}

// Advertising reports the current advertisement, if any.
func (l *Loopback) Advertising() (peripheral.Advertisement, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.adv, l.advertising
}

// Services lists registered service UUIDs.
func (l *Loopback) Services() []gatt.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]gatt.UUID, 0, len(l.services))
	for _, s := range l.services {
		ids = append(ids, s.UUID())
	}
	return ids
}

// Central side

// Read issues a single read request and waits for its response.
func (l *Loopback) Read(ctx context.Context, central peripheral.Central, characteristic gatt.UUID, offset int) (peripheral.Response, error) {
	responses, err := l.Batch(ctx, []peripheral.Request{{
		Central:        central,
		Characteristic: characteristic,
		Kind:           peripheral.RequestRead,
		Offset:         offset,
	}})
	if err != nil {
		return peripheral.Response{}, err
	}
	return responses[0], nil
}

// Write issues a single write request and waits for its response.
func (l *Loopback) Write(ctx context.Context, central peripheral.Central, characteristic gatt.UUID, offset int, value []byte) (peripheral.Response, error) {
	responses, err := l.Batch(ctx, []peripheral.Request{{
		Central:        central,
		Characteristic: characteristic,
		Kind:           peripheral.RequestWrite,
		Offset:         offset,
		Value:          value,
	}})
	if err != nil {
		return peripheral.Response{}, err
	}
	return responses[0], nil
}

// Batch delivers requests as one event and returns responses in the same order.
// Request IDs are assigned here.
func (l *Loopback) Batch(ctx context.Context, requests []peripheral.Request) ([]peripheral.Response, error) {
	l.mu.Lock()
	if l.pump == nil {
		l.mu.Unlock()
		return nil, ErrRadioOff
	}
	reqs := make([]peripheral.Request, len(requests))
	replies := make([]chan peripheral.Response, len(requests))
	for i, r := range requests {
		l.nextID++
		r.ID = l.nextID
		r.Value = append([]byte(nil), r.Value...)
		reqs[i] = r
		replies[i] = make(chan peripheral.Response, 1)
		l.waiting[r.ID] = replies[i]
	}
	l.pump.emit(func(s peripheral.EventSink) { s.RequestsReceived(reqs) })
	l.mu.Unlock()

	responses := make([]peripheral.Response, len(reqs))
	for i, ch := range replies {
		select {
		case resp := <-ch:
			responses[i] = resp
		case <-ctx.Done():
			l.forget(reqs)
			return nil, ctx.Err()
		case <-l.closed:
			return nil, ErrRadioClosed
		}
	}
	return responses, nil
}

func (l *Loopback) forget(reqs []peripheral.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range reqs {
		delete(l.waiting, r.ID)
	}
}

func (l *Loopback) Subscribe(central peripheral.Central, characteristic gatt.UUID) {
	l.emit(func(s peripheral.EventSink) { s.Subscribed(central, characteristic) })
}

func (l *Loopback) Unsubscribe(central peripheral.Central, characteristic gatt.UUID) {
	l.emit(func(s peripheral.EventSink) { s.Unsubscribed(central, characteristic) })
}

// Confirm acknowledges the outstanding indication on characteristic.
func (l *Loopback) Confirm(central peripheral.Central, characteristic gatt.UUID) {
	l.emit(func(s peripheral.EventSink) { s.IndicationConfirmed(central, characteristic) })
}

// Disconnect drops the central and anything it had not drained.
func (l *Loopback) Disconnect(central peripheral.Central) {
	l.mu.Lock()
	delete(l.inbox, central)
	l.mu.Unlock()
	l.emit(func(s peripheral.EventSink) { s.CentralDisconnected(central) })
}

// Drain returns and clears what central has received. If the transport
// had reported busy, it reports ready again.
func (l *Loopback) Drain(central peripheral.Central) []Delivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	got := l.inbox[central]
	delete(l.inbox, central)
	if l.busy && len(got) > 0 {
		l.busy = false
		if l.pump != nil {
			l.pump.emit(func(s peripheral.EventSink) { s.TransportReady() })
		}
	}
	return got
}

func (l *Loopback) emit(fn func(peripheral.EventSink)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pump != nil {
		l.pump.emit(fn)
	}
}
