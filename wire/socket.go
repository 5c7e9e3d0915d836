package wire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/user/peripheral-blue/logger"
	"github.com/user/peripheral-blue/peripheral"
	"github.com/user/peripheral-blue/util"
	"github.com/user/peripheral-blue/wire/att"
	"github.com/user/peripheral-blue/wire/debug"
	"github.com/user/peripheral-blue/wire/frame"
	"github.com/user/peripheral-blue/wire/gatt"
)

const (
	// DefaultOutboundQueue is how many notifications may wait per connection
	// before PushNotification reports the transport busy.
	DefaultOutboundQueue = 32
	// responses get room beyond the notification limit
	responseReserve = 16
	helloTimeout    = 5 * time.Second
)

var (
	ErrHandshake        = errors.New("handshake failed")
	ErrDuplicateCentral = errors.New("central already connected")
)

// SocketRadio serves centrals over a Unix domain socket at
// {dataDir}/sockets/peripheral-{name}.sock. Each connection opens with a
// hello frame naming the central. While advertising, the advertising
// payload is published next to the socket as {name}.adv so centrals can
// scan for it.
type SocketRadio struct {
	name       string
	socketPath string
	queueSize  int
	log        *logrus.Entry
	frames     *debug.FrameLogger

	mu          sync.Mutex
	listener    net.Listener
	pump        *eventPump
	services    []*gatt.Service
	advertising bool
	stopping    chan struct{}
	wg          sync.WaitGroup

	conns   *hashmap.Map[peripheral.Central, *socketConn]
	pending *hashmap.Map[uint64, pendingRequest]
	nextID  atomic.Uint64
}

type pendingRequest struct {
	central  peripheral.Central
	clientID uint64
}

type socketConn struct {
	central peripheral.Central
	nc      net.Conn
	out     chan *frame.Frame
	busy    atomic.Bool
	once    sync.Once
	done    chan struct{}
}

func (c *socketConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.nc.Close()
	})
}

// SocketOption configures a SocketRadio.
type SocketOption func(*SocketRadio)

// WithSocketPath overrides the default socket location.
func WithSocketPath(path string) SocketOption {
	return func(r *SocketRadio) { r.socketPath = path }
}

// WithOutboundQueue sets the per-connection notification queue size.
func WithOutboundQueue(n int) SocketOption {
	return func(r *SocketRadio) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

func WithSocketLogger(log *logrus.Entry) SocketOption {
	return func(r *SocketRadio) { r.log = log }
}

// WithFrameLogger captures every frame. By default capture follows WIRE_DEBUG.
func WithFrameLogger(l *debug.FrameLogger) SocketOption {
	return func(r *SocketRadio) { r.frames = l }
}

// NewSocketRadio creates a radio for the named peripheral. Nothing is
// opened until Open.
func NewSocketRadio(name string, opts ...SocketOption) *SocketRadio {
	r := &SocketRadio{
		name:      name,
		queueSize: DefaultOutboundQueue,
		log:       logger.For("socket"),
		conns:     hashmap.New[peripheral.Central, *socketConn](),
		pending:   hashmap.New[uint64, pendingRequest](),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.frames == nil {
		r.frames = debug.NewFrameLogger(name, debug.EnabledFromEnv())
	}
	r.log = r.log.WithField("peripheral", name)
	return r
}

// SocketPath returns where the radio listens, resolving the default if needed.
func (r *SocketRadio) SocketPath() (string, error) {
	if r.socketPath != "" {
		return r.socketPath, nil
	}
	return util.GetSocketPath(r.name)
}

// AdvertisementPath is where the advertising payload is published.
func AdvertisementPath(socketPath string) string {
	return strings.TrimSuffix(socketPath, ".sock") + ".adv"
}

func (r *SocketRadio) Open(sink peripheral.EventSink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener != nil {
		return ErrAlreadyOpen
	}

	path, err := r.SocketPath()
	if err != nil {
		return err
	}
	r.socketPath = path

	// stale socket from a previous run
	os.Remove(path)
	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	r.listener = listener
	r.stopping = make(chan struct{})
	r.pump = newEventPump(context.Background(), "socket-events-"+r.name, sink)

	r.wg.Add(1)
	util.Go(context.Background(), "socket-accept-"+r.name, r.acceptConnections)

	r.log.WithField("path", path).Info("listening")
	r.pump.emit(func(s peripheral.EventSink) { s.PowerStateChanged(peripheral.PowerOn) })
	return nil
}

func (r *SocketRadio) RegisterService(service *gatt.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pump == nil {
		return ErrRadioOff
	}
	r.services = append(r.services, service)
	id := service.UUID()
	r.pump.emit(func(s peripheral.EventSink) { s.ServiceRegistered(id, nil) })
	return nil
}

func (r *SocketRadio) StartAdvertising(adv peripheral.Advertisement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pump == nil {
		return ErrRadioOff
	}

	err := os.WriteFile(AdvertisementPath(r.socketPath), adv.Data, 0644)
	if err == nil {
		r.advertising = true
		r.log.WithField("name", adv.LocalName).Debug("advertising")
	}
	r.pump.emit(func(s peripheral.EventSink) { s.AdvertisingStarted(err) })
	return nil
}

func (r *SocketRadio) StopAdvertising() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.advertising {
		return nil
	}
	r.advertising = false
	if err := os.Remove(AdvertisementPath(r.socketPath)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (r *SocketRadio) RemoveServices() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = nil
	return nil
}

func (r *SocketRadio) RespondToRequest(req peripheral.Request, resp peripheral.Response) error {
	p, ok := r.pending.Get(req.ID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRequest, req.ID)
	}
	r.pending.Del(req.ID)

	c, ok := r.conns.Get(p.central)
	if !ok {
		// central went away before the answer
		return nil
	}
	r.reply(c, &frame.Frame{
		Kind:           frame.KindResponse,
		RequestID:      p.clientID,
		Characteristic: req.Characteristic,
		Status:         resp.Status,
		Payload:        resp.Value,
	})
	return nil
}

func (r *SocketRadio) PushNotification(central peripheral.Central, characteristic gatt.UUID, value []byte, indicate bool) bool {
	c, ok := r.conns.Get(central)
	if !ok {
		r.log.WithField("central", central).Debug("push to disconnected central dropped")
		return true
	}

	if len(c.out) >= r.queueSize {
		c.busy.Store(true)
		// the writer may have drained in between
		if len(c.out) >= r.queueSize {
			return false
		}
	}

	kind := frame.KindNotification
	if indicate {
		kind = frame.KindIndication
	}
	f := &frame.Frame{Kind: kind, Characteristic: characteristic, Payload: append([]byte(nil), value...)}
	select {
	case c.out <- f:
		return true
	default:
		c.busy.Store(true)
		return false
	}
}

// Close stops listening, drops every connection and removes the socket
// and advertisement files. It is idempotent.
func (r *SocketRadio) Close() error {
	r.mu.Lock()
	if r.listener == nil {
		r.mu.Unlock()
		return nil
	}
	select {
	case <-r.stopping:
		r.mu.Unlock()
		return nil
	default:
		close(r.stopping)
	}
	r.listener.Close()
	pump := r.pump
	r.mu.Unlock()

	r.conns.Range(func(_ peripheral.Central, c *socketConn) bool {
		c.close()
		return true
	})
	r.wg.Wait()
	pump.stop()

	os.Remove(AdvertisementPath(r.socketPath))
	os.Remove(r.socketPath)
	r.log.Info("closed")
	return nil
}

// Connections returns the number of connected centrals.
func (r *SocketRadio) Connections() int {
	return r.conns.Len()
}

func (r *SocketRadio) acceptConnections(ctx context.Context) {
	defer r.wg.Done()
	for {
		nc, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.stopping:
				return
			default:
			}
			r.log.WithError(err).Warn("accept failed")
			continue
		}

		r.wg.Add(1)
		util.Go(ctx, "socket-conn", func(ctx context.Context) {
			defer r.wg.Done()
			r.handleIncomingConnection(ctx, nc)
		})
	}
}

func (r *SocketRadio) handleIncomingConnection(ctx context.Context, nc net.Conn) {
	reader := bufio.NewReader(nc)

	central, err := r.handshake(nc, reader)
	if err != nil {
		r.log.WithError(err).Warn("rejecting connection")
		nc.Close()
		return
	}

	c := &socketConn{
		central: central,
		nc:      nc,
		out:     make(chan *frame.Frame, r.queueSize+responseReserve),
		done:    make(chan struct{}),
	}
	if !r.conns.Insert(central, c) {
		r.log.WithField("central", central).WithError(ErrDuplicateCentral).Warn("rejecting connection")
		nc.Close()
		return
	}
	// Close may have run between accept and insert
	select {
	case <-r.stopping:
		r.conns.Del(central)
		nc.Close()
		return
	default:
	}

	log := r.log.WithField("central", central)
	log.Info("central connected")

	r.wg.Add(1)
	util.Go(ctx, "socket-writer", func(ctx context.Context) {
		defer r.wg.Done()
		r.writeFrames(c, log)
	})

	r.readFrames(c, reader, log)

	c.close()
	r.conns.Del(central)
	log.Info("central disconnected")
	r.pump.emit(func(s peripheral.EventSink) { s.CentralDisconnected(central) })
}

func (r *SocketRadio) handshake(nc net.Conn, reader *bufio.Reader) (peripheral.Central, error) {
	nc.SetReadDeadline(time.Now().Add(helloTimeout))
	defer nc.SetReadDeadline(time.Time{})

	hello, err := frame.Read(reader)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if hello.Kind != frame.KindHello || hello.Central == "" {
		return "", fmt.Errorf("%w: expected hello with central id, got %s", ErrHandshake, hello.Kind)
	}
	return peripheral.Central(hello.Central), nil
}

func (r *SocketRadio) readFrames(c *socketConn, reader *bufio.Reader, log *logrus.Entry) {
	for {
		f, err := frame.Read(reader)
		if err != nil {
			select {
			case <-c.done:
			default:
				if !errors.Is(err, net.ErrClosed) {
					log.WithError(err).Debug("read loop ended")
				}
			}
			return
		}
		r.frames.LogFrame("rx", string(c.central), f)
		logger.TraceJSON(log, "frame in", map[string]interface{}{
			"kind":           f.Kind.String(),
			"request_id":     float64(f.RequestID),
			"characteristic": f.Characteristic.String(),
			"payload_len":    float64(len(f.Payload)),
		})
		r.handleFrame(c, f, log)
	}
}

func (r *SocketRadio) handleFrame(c *socketConn, f *frame.Frame, log *logrus.Entry) {
	central := c.central
	switch f.Kind {
	case frame.KindRead, frame.KindWrite:
		kind := peripheral.RequestRead
		if f.Kind == frame.KindWrite {
			kind = peripheral.RequestWrite
		}
		req := peripheral.Request{
			ID:             r.nextID.Add(1),
			Central:        central,
			Characteristic: f.Characteristic,
			Kind:           kind,
			Offset:         int(f.Offset),
			Value:          f.Payload,
		}
		r.pending.Set(req.ID, pendingRequest{central: central, clientID: f.RequestID})
		r.pump.emit(func(s peripheral.EventSink) { s.RequestsReceived([]peripheral.Request{req}) })

	case frame.KindSubscribe:
		characteristic := f.Characteristic
		r.pump.emit(func(s peripheral.EventSink) { s.Subscribed(central, characteristic) })

	case frame.KindUnsubscribe:
		characteristic := f.Characteristic
		r.pump.emit(func(s peripheral.EventSink) { s.Unsubscribed(central, characteristic) })

	case frame.KindCCCDWrite:
		r.writeCCCD(c, f)

	case frame.KindConfirm:
		characteristic := f.Characteristic
		r.pump.emit(func(s peripheral.EventSink) { s.IndicationConfirmed(central, characteristic) })

	default:
		log.WithField("kind", f.Kind).Warn("unexpected frame from central")
	}
}

// writeCCCD answers a descriptor write itself, the way a BLE stack does,
// and turns it into a subscription change.
func (r *SocketRadio) writeCCCD(c *socketConn, f *frame.Frame) {
	central, characteristic := c.central, f.Characteristic
	resp := &frame.Frame{Kind: frame.KindResponse, RequestID: f.RequestID, Characteristic: characteristic}

	char := r.lookup(characteristic)
	if char == nil {
		resp.Status = att.ErrAttributeNotFound
		r.reply(c, resp)
		return
	}

	mode, err := gatt.ModeFromCCCD(f.Payload, char.Properties())
	if err != nil {
		resp.Status = att.GetErrorCode(err)
		r.reply(c, resp)
		return
	}

	if mode == gatt.ModeNone {
		r.pump.emit(func(s peripheral.EventSink) { s.Unsubscribed(central, characteristic) })
	} else {
		r.pump.emit(func(s peripheral.EventSink) { s.Subscribed(central, characteristic) })
	}
	r.reply(c, resp)
}

func (r *SocketRadio) lookup(characteristic gatt.UUID) *gatt.Characteristic {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.services {
		if c, ok := s.Characteristic(characteristic); ok {
			return c
		}
	}
	return nil
}

func (r *SocketRadio) reply(c *socketConn, f *frame.Frame) {
	select {
	case c.out <- f:
	default:
		r.log.WithField("central", c.central).Warn("outbound queue full, response dropped")
	}
}

func (r *SocketRadio) writeFrames(c *socketConn, log *logrus.Entry) {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.out:
			r.frames.LogFrame("tx", string(c.central), f)
			if err := frame.Write(c.nc, f); err != nil {
				log.WithError(err).Debug("write failed")
				c.close()
				return
			}
			if len(c.out) == 0 && c.busy.CompareAndSwap(true, false) {
				r.pump.emit(func(s peripheral.EventSink) { s.TransportReady() })
			}
		}
	}
}
