package peripheral

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/user/peripheral-blue/logger"
	"github.com/user/peripheral-blue/util"
	"github.com/user/peripheral-blue/wire/advertising"
	"github.com/user/peripheral-blue/wire/att"
	"github.com/user/peripheral-blue/wire/gatt"
)

// DefaultName is the advertised local name when WithName is not given.
const DefaultName = "peripheral-blue"

const defaultQueueSize = 64

// Peripheral publishes an attribute table through a Radio. All state is
// owned by a single event loop; radio events and application calls are
// processed in arrival order.
type Peripheral struct {
	radio     Radio
	table     *gatt.Table
	delegate  Delegate
	log       *logrus.Entry
	name      string
	backlog   int
	queueSize int

	events    chan event
	quit      chan struct{}
	exited    chan struct{}
	runOnce   sync.Once
	closeOnce sync.Once
	closeErr  error

	// Owned by the event loop
	machine    machine
	opened     bool
	pending    map[gatt.UUID]struct{}
	dispatcher *Dispatcher
	notifier   *Notifier
}

// Option configures a Peripheral.
type Option func(*Peripheral)

// WithDelegate sets the callback receiver.
func WithDelegate(d Delegate) Option {
	return func(p *Peripheral) { p.delegate = d }
}

// WithLogger replaces the default "peripheral" component logger.
func WithLogger(l *logrus.Entry) Option {
	return func(p *Peripheral) { p.log = l }
}

// WithBacklog sets how many updates are held per central while the transport is busy.
func WithBacklog(n int) Option {
	return func(p *Peripheral) { p.backlog = n }
}

// WithName sets the advertised local name.
func WithName(name string) Option {
	return func(p *Peripheral) { p.name = name }
}

// WithQueueSize sets the event queue capacity.
func WithQueueSize(n int) Option {
	return func(p *Peripheral) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// New creates a peripheral in the PoweredOff state. Nothing touches the
// radio until Start.
func New(radio Radio, table *gatt.Table, opts ...Option) *Peripheral {
	p := &Peripheral{
		radio:     radio,
		table:     table,
		delegate:  NopDelegate{},
		log:       logger.For("peripheral"),
		name:      DefaultName,
		backlog:   DefaultBacklog,
		queueSize: defaultQueueSize,
		quit:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField("peripheral", p.name)
	p.events = make(chan event, p.queueSize)
	p.dispatcher = NewDispatcher(table, p.log.WithField("component", "dispatch"))
	p.notifier = NewNotifier(table, radio, p.backlog, p.log.WithField("component", "notify"))
	return p
}

// Name returns the advertised local name.
func (p *Peripheral) Name() string {
	return p.name
}

// Table returns the attribute table.
func (p *Peripheral) Table() *gatt.Table {
	return p.table
}

// Start opens the radio on first use and asks for the service to be
// registered and advertised. It is idempotent. Registration and advertising
// outcomes are reported to the delegate. Calling Start while powered off
// records the intent; the peripheral starts once the radio powers on.
func (p *Peripheral) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := p.send(ctx, startCmd{reply: reply}); err != nil {
		return err
	}
	return p.await(ctx, reply)
}

// Stop withdraws advertising and the registration and drops all subscriptions.
func (p *Peripheral) Stop(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := p.send(ctx, stopCmd{reply: reply}); err != nil {
		return err
	}
	return p.await(ctx, reply)
}

// WriteCharacteristicValue stores value and, for notifiable characteristics,
// queues it for every subscribed central. It returns once the update is queued.
func (p *Peripheral) WriteCharacteristicValue(ctx context.Context, characteristic gatt.UUID, value []byte) error {
	_, err := p.Notify(ctx, characteristic, value)
	return err
}

// Notify is WriteCharacteristicValue with delivery counts.
func (p *Peripheral) Notify(ctx context.Context, characteristic gatt.UUID, value []byte) (NotifyResult, error) {
	reply := make(chan writeReply, 1)
	cmd := writeCmd{characteristic: characteristic, value: append([]byte{}, value...), reply: reply}
	if err := p.send(ctx, cmd); err != nil {
		return NotifyResult{}, err
	}
	r, err := awaitValue(ctx, p, reply)
	if err != nil {
		return NotifyResult{}, err
	}
	return r.result, r.err
}

// State returns the current lifecycle state.
func (p *Peripheral) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	if err := p.send(ctx, stateQuery{reply: reply}); err != nil {
		return StatePoweredOff, err
	}
	return awaitValue(ctx, p, reply)
}

// Value returns the current value of a characteristic.
func (p *Peripheral) Value(ctx context.Context, characteristic gatt.UUID) ([]byte, error) {
	reply := make(chan valueReply, 1)
	if err := p.send(ctx, valueQuery{characteristic: characteristic, reply: reply}); err != nil {
		return nil, err
	}
	r, err := awaitValue(ctx, p, reply)
	if err != nil {
		return nil, err
	}
	return r.value, r.err
}

// Subscribers lists the centrals subscribed to a characteristic.
func (p *Peripheral) Subscribers(ctx context.Context, characteristic gatt.UUID) ([]Central, error) {
	reply := make(chan []Central, 1)
	if err := p.send(ctx, subscribersQuery{characteristic: characteristic, reply: reply}); err != nil {
		return nil, err
	}
	return awaitValue(ctx, p, reply)
}

// Close stops the event loop and closes the radio if it was opened.
func (p *Peripheral) Close() error {
	p.closeOnce.Do(func() {
		close(p.quit)
		// never started: nothing will close exited
		p.runOnce.Do(func() { close(p.exited) })
		<-p.exited
		if p.opened {
			p.closeErr = p.radio.Close()
		}
	})
	return p.closeErr
}

func (p *Peripheral) ensureRunning() {
	p.runOnce.Do(func() {
		util.Go(context.Background(), "peripheral-"+p.name, p.loop)
	})
}

func (p *Peripheral) send(ctx context.Context, ev event) error {
	select {
	case <-p.quit:
		return ErrClosed
	default:
	}
	p.ensureRunning()
	select {
	case p.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrClosed
	}
}

// post is used by radio callbacks, which have no context.
func (p *Peripheral) post(ev event) {
	select {
	case p.events <- ev:
	case <-p.quit:
	}
}

func (p *Peripheral) await(ctx context.Context, reply chan error) error {
	err, waitErr := awaitValue(ctx, p, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

func awaitValue[T any](ctx context.Context, p *Peripheral, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-p.quit:
		return zero, ErrClosed
	}
}

func (p *Peripheral) loop(ctx context.Context) {
	defer close(p.exited)
	p.log.WithField("goroutine", util.GoroutineName(ctx)).Debug("event loop started")

	for {
		select {
		case <-p.quit:
			p.log.Debug("event loop stopped")
			return
		case ev := <-p.events:
			p.handle(ev)
		}
	}
}

func (p *Peripheral) handle(ev event) {
	switch ev := ev.(type) {
	case startCmd:
		if !p.opened {
			if err := p.radio.Open(p); err != nil {
				ev.reply <- err
				return
			}
			p.opened = true
		}
		p.apply(input{kind: inputStart})
		ev.reply <- nil

	case stopCmd:
		p.apply(input{kind: inputStop})
		ev.reply <- nil

	case writeCmd:
		ev.reply <- p.writeValue(ev.characteristic, ev.value)

	case stateQuery:
		ev.reply <- p.machine.state

	case valueQuery:
		c, ok := p.table.Lookup(ev.characteristic)
		if !ok {
			ev.reply <- valueReply{err: newError(KindAttributeNotFound, errors.New(ev.characteristic.String()))}
			return
		}
		ev.reply <- valueReply{value: c.Value()}

	case subscribersQuery:
		ev.reply <- p.notifier.Subscribers(ev.characteristic)

	case powerEvent:
		p.log.WithField("power", ev.state).Info("radio power state changed")
		if ev.state == PowerOn {
			p.apply(input{kind: inputPowerOn})
		} else {
			p.apply(input{kind: inputPowerOff})
		}

	case registeredEvent:
		if _, ok := p.pending[ev.service]; !ok || p.machine.state != StateRegistering {
			p.log.WithField("service", ev.service).Debug("dropping stale registration confirmation")
			return
		}
		if ev.err != nil {
			p.pending = nil
			p.apply(input{kind: inputRegistered, err: ev.err})
			return
		}
		delete(p.pending, ev.service)
		if len(p.pending) == 0 {
			p.apply(input{kind: inputRegistered})
		}

	case advertisingEvent:
		p.apply(input{kind: inputAdvertisingStarted, err: ev.err})

	case requestsEvent:
		p.handleRequests(ev.requests)

	case subscribeEvent:
		if !p.machine.state.IsRegistered() {
			p.log.WithField("central", ev.central).Debug("ignoring subscribe while not registered")
			return
		}
		added, err := p.notifier.Subscribe(ev.central, ev.characteristic)
		if err != nil {
			p.log.WithError(err).WithField("central", ev.central).Warn("ignoring subscribe")
			return
		}
		if added {
			p.delegate.CentralDidSubscribe(p, ev.central, ev.characteristic)
		}

	case unsubscribeEvent:
		if p.notifier.Unsubscribe(ev.central, ev.characteristic) {
			p.delegate.CentralDidUnsubscribe(p, ev.central, ev.characteristic)
		}

	case readyEvent:
		if n := p.notifier.Retry(); n > 0 {
			p.log.WithField("delivered", n).Debug("transport ready, flushed backlog")
		}

	case disconnectEvent:
		p.log.WithField("central", ev.central).Info("central disconnected")
		for _, characteristic := range p.notifier.Disconnect(ev.central) {
			p.delegate.CentralDidUnsubscribe(p, ev.central, characteristic)
		}

	case confirmEvent:
		if p.notifier.Confirm(ev.central, ev.characteristic) {
			p.delegate.DidConfirmIndication(p, ev.central, ev.characteristic)
		}

	default:
		p.log.Errorf("unknown event %T", ev)
	}
}

func (p *Peripheral) writeValue(characteristic gatt.UUID, value []byte) writeReply {
	switch {
	case p.machine.state == StatePoweredOff:
		return writeReply{err: ErrPoweredOff}
	case !p.machine.state.IsRegistered():
		return writeReply{err: ErrNotRegistered}
	}

	c, ok := p.table.Lookup(characteristic)
	if !ok {
		return writeReply{err: newError(KindAttributeNotFound, errors.New(characteristic.String()))}
	}
	if gatt.DefaultMode(c.Properties()) == gatt.ModeNone {
		if err := c.SetValue(value); err != nil {
			return writeReply{err: newError(KindNotRegistered, err)}
		}
		return writeReply{}
	}

	result, err := p.notifier.Notify(characteristic, value)
	if err == nil {
		p.log.WithFields(logrus.Fields{
			"characteristic": characteristic,
			"queued":         result.Queued,
			"delivered":      result.Delivered,
			"dropped":        result.Dropped,
		}).Debug("value updated")
	}
	return writeReply{result: result, err: err}
}

func (p *Peripheral) handleRequests(reqs []Request) {
	responses := p.dispatcher.DispatchBatch(reqs)
	for i, req := range reqs {
		resp := responses[i]
		entry := p.log.WithFields(logrus.Fields{
			"central":        req.Central,
			"characteristic": req.Characteristic,
			"kind":           req.Kind,
			"status":         att.StatusName(resp.Status),
		})
		entry.Debug("answered request")
		if err := p.radio.RespondToRequest(req, resp); err != nil {
			entry.WithError(err).Warn("failed to send response")
		}
		if req.Kind == RequestWrite && resp.Status == att.ErrSuccess {
			p.delegate.DidReceiveWrite(p, req.Central, req.Characteristic, append([]byte{}, req.Value...))
		}
	}
}

// apply feeds an input to the state machine and performs the resulting
// actions. Synchronous radio failures are fed back as further inputs.
func (p *Peripheral) apply(in input) {
	queue := []input{in}
	for len(queue) > 0 {
		in := queue[0]
		queue = queue[1:]

		prev := p.machine.state
		next, actions := p.machine.step(in)
		p.machine = next

		if next.state != prev {
			p.log.WithFields(logrus.Fields{
				"from":  prev,
				"to":    next.state,
				"input": in.kind,
			}).Info("state changed")
			logger.DebugJSON(p.log, "snapshot", map[string]interface{}{
				"state":    next.state.String(),
				"services": len(p.table.Services()),
			})
			p.delegate.DidUpdateState(p, next.state)
		}

		for _, a := range actions {
			if follow, ok := p.perform(a); ok {
				queue = append(queue, follow)
			}
		}
	}
}

func (p *Peripheral) perform(a action) (input, bool) {
	switch a.kind {
	case actionRegister:
		services := p.table.Services()
		p.pending = make(map[gatt.UUID]struct{}, len(services))
		for _, s := range services {
			p.pending[s.UUID()] = struct{}{}
		}
		for _, s := range services {
			if err := p.radio.RegisterService(s); err != nil {
				p.pending = nil
				return input{kind: inputRegistered, err: err}, true
			}
		}

	case actionAdvertise:
		adv, err := p.advertisement()
		if err == nil {
			err = p.radio.StartAdvertising(adv)
		}
		if err != nil {
			return input{kind: inputAdvertisingStarted, err: err}, true
		}

	case actionStopAdvertising:
		if err := p.radio.StopAdvertising(); err != nil {
			p.log.WithError(err).Warn("stop advertising failed")
		}

	case actionRemoveServices:
		p.pending = nil
		if err := p.radio.RemoveServices(); err != nil {
			p.log.WithError(err).Warn("remove services failed")
		}

	case actionMarkRegistered:
		p.table.MarkRegistered(true)

	case actionMarkUnregistered:
		p.table.MarkRegistered(false)

	case actionResetSubscriptions:
		p.notifier.Reset()

	case actionReportRegistration:
		if a.err != nil {
			err := newError(KindRegistrationFailed, a.err)
			p.log.WithError(a.err).Error("service registration failed")
			p.delegate.DidRegisterService(p, err)
			return input{}, false
		}
		p.log.Info("services registered")
		p.delegate.DidRegisterService(p, nil)

	case actionReportAdvertising:
		if a.err != nil {
			err := newError(KindAdvertisingFailed, a.err)
			p.log.WithError(a.err).Error("advertising failed")
			p.delegate.DidStartAdvertising(p, err)
			return input{}, false
		}
		p.log.Info("advertising started")
		p.delegate.DidStartAdvertising(p, nil)

	case actionDropStale:
		p.log.WithField("state", p.machine.state).Debug("dropping stale confirmation")

	case actionResume:
		return input{kind: inputStart}, true
	}
	return input{}, false
}

func (p *Peripheral) advertisement() (Advertisement, error) {
	uuids := p.table.ServiceUUIDs()
	data, err := advertising.Build(p.name, uuids)
	if err != nil {
		return Advertisement{}, err
	}
	return Advertisement{LocalName: p.name, ServiceUUIDs: uuids, Data: data}, nil
}
