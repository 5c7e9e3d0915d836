package peripheral

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/user/peripheral-blue/wire/gatt"
)

var (
	svcUUID    = gatt.MustParseUUID("D9D9D9FB-8C28-4C5E-94E9-58C23B7C69E2")
	charA      = gatt.MustParseUUID("D9D9D9FB-8C28-4C5E-94E9-58C23B7C69E2")
	charB      = gatt.UUID16(0x2A19)
	charC      = gatt.UUID16(0x2A00)
	charSecret = gatt.UUID16(0x2A01)
	charInd    = gatt.UUID16(0x2A05)
)

// newTestTable builds one service with:
//   - charA: read|write|notify, readable|writable, value 0xD9
//   - charB: read, readable, value 0x64
//   - charSecret: read|write, no permissions
//   - charInd: read|indicate, readable
func newTestTable(t *testing.T) *gatt.Table {
	t.Helper()
	svc := gatt.NewService(svcUUID, true)
	_, err := svc.AddCharacteristic(charA, gatt.PropRead|gatt.PropWrite|gatt.PropNotify, gatt.PermReadable|gatt.PermWritable, []byte{0xD9})
	require.NoError(t, err)
	_, err = svc.AddCharacteristic(charB, gatt.PropRead, gatt.PermReadable, []byte{0x64})
	require.NoError(t, err)
	_, err = svc.AddCharacteristic(charSecret, gatt.PropRead|gatt.PropWrite, 0, []byte{0x01})
	require.NoError(t, err)
	_, err = svc.AddCharacteristic(charInd, gatt.PropRead|gatt.PropIndicate, gatt.PermReadable, nil)
	require.NoError(t, err)
	table, err := gatt.NewTable(svc)
	require.NoError(t, err)
	return table
}

type push struct {
	central        Central
	characteristic gatt.UUID
	value          string
	indicate       bool
}

type answer struct {
	req  Request
	resp Response
}

// fakeRadio records every call. With autoConfirm it answers registration
// and advertising through the sink straight away, as a real stack would
// shortly after.
type fakeRadio struct {
	mu           sync.Mutex
	sink         EventSink
	power        PowerState
	autoConfirm  bool
	registerErr  error
	advertiseErr error
	busy         bool

	registrations int
	advertised    []Advertisement
	stopAdverts   int
	removals      int
	answers       []answer
	pushes        []push
	closed        bool
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{power: PowerOn, autoConfirm: true}
}

func (r *fakeRadio) Open(sink EventSink) error {
	r.mu.Lock()
	r.sink = sink
	power := r.power
	r.mu.Unlock()
	sink.PowerStateChanged(power)
	return nil
}

func (r *fakeRadio) RegisterService(service *gatt.Service) error {
	r.mu.Lock()
	r.registrations++
	confirm, err, sink := r.autoConfirm, r.registerErr, r.sink
	r.mu.Unlock()
	if confirm {
		sink.ServiceRegistered(service.UUID(), err)
	}
	return nil
}

func (r *fakeRadio) StartAdvertising(adv Advertisement) error {
	r.mu.Lock()
	r.advertised = append(r.advertised, adv)
	confirm, err, sink := r.autoConfirm, r.advertiseErr, r.sink
	r.mu.Unlock()
	if confirm {
		sink.AdvertisingStarted(err)
	}
	return nil
}

func (r *fakeRadio) StopAdvertising() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopAdverts++
	return nil
}

func (r *fakeRadio) RemoveServices() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removals++
	return nil
}

func (r *fakeRadio) RespondToRequest(req Request, resp Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, answer{req: req, resp: resp})
	return nil
}

func (r *fakeRadio) PushNotification(central Central, characteristic gatt.UUID, value []byte, indicate bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return false
	}
	r.pushes = append(r.pushes, push{central: central, characteristic: characteristic, value: string(value), indicate: indicate})
	return true
}

func (r *fakeRadio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRadio) setBusy(busy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = busy
}

func (r *fakeRadio) pushed() []push {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]push{}, r.pushes...)
}

func (r *fakeRadio) responses() []answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]answer{}, r.answers...)
}

func (r *fakeRadio) registrationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registrations
}

// recordingDelegate forwards callbacks onto buffered channels.
type recordingDelegate struct {
	mu          sync.Mutex
	transitions []State

	states       chan State
	registered   chan error
	advertising  chan error
	writes       chan string
	subscribed   chan Central
	unsubscribed chan Central
	confirmed    chan Central
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{
		states:       make(chan State, 256),
		registered:   make(chan error, 256),
		advertising:  make(chan error, 256),
		writes:       make(chan string, 256),
		subscribed:   make(chan Central, 256),
		unsubscribed: make(chan Central, 256),
		confirmed:    make(chan Central, 256),
	}
}

func (d *recordingDelegate) DidUpdateState(_ *Peripheral, state State) {
	d.mu.Lock()
	d.transitions = append(d.transitions, state)
	d.mu.Unlock()
	offer(d.states, state)
}

func (d *recordingDelegate) DidRegisterService(_ *Peripheral, err error) {
	offer(d.registered, err)
}

func (d *recordingDelegate) DidStartAdvertising(_ *Peripheral, err error) {
	offer(d.advertising, err)
}

func (d *recordingDelegate) DidReceiveWrite(_ *Peripheral, _ Central, _ gatt.UUID, value []byte) {
	offer(d.writes, string(value))
}

func (d *recordingDelegate) CentralDidSubscribe(_ *Peripheral, central Central, _ gatt.UUID) {
	offer(d.subscribed, central)
}

func (d *recordingDelegate) CentralDidUnsubscribe(_ *Peripheral, central Central, _ gatt.UUID) {
	offer(d.unsubscribed, central)
}

func (d *recordingDelegate) DidConfirmIndication(_ *Peripheral, central Central, _ gatt.UUID) {
	offer(d.confirmed, central)
}

func (d *recordingDelegate) history() []State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]State{}, d.transitions...)
}

// offer never blocks the event loop; tests that care drain promptly.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		var zero T
		t.Fatalf("timed out waiting for %T", zero)
		return zero
	}
}

func waitForState(t *testing.T, d *recordingDelegate, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-d.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s (history %v)", want, d.history())
		}
	}
}
