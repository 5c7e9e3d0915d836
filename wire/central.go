package wire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/user/peripheral-blue/logger"
	"github.com/user/peripheral-blue/util"
	"github.com/user/peripheral-blue/wire/advertising"
	"github.com/user/peripheral-blue/wire/att"
	"github.com/user/peripheral-blue/wire/frame"
	"github.com/user/peripheral-blue/wire/gatt"
)

// UpdateBuffer is how many notifications a Central holds for its reader.
const UpdateBuffer = 64

var ErrDisconnected = errors.New("disconnected")

// Update is a notification or indication received by a Central.
type Update struct {
	Characteristic gatt.UUID
	Value          []byte
	Indication     bool
}

// Central is a client of a SocketRadio.
type Central struct {
	id     string
	nc     net.Conn
	log    *logrus.Entry
	sendMu sync.Mutex

	nextID  atomic.Uint64
	pending *hashmap.Map[uint64, chan *frame.Frame]
	updates chan Update

	once sync.Once
	done chan struct{}
}

// Scan reads the advertisement the named peripheral is publishing.
func Scan(name string) (*advertising.Payload, error) {
	path, err := util.GetSocketPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(AdvertisementPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s is not advertising: %w", name, err)
	}
	return advertising.Parse(data)
}

// Connect dials the named peripheral's default socket.
func Connect(ctx context.Context, name, id string) (*Central, error) {
	path, err := util.GetSocketPath(name)
	if err != nil {
		return nil, err
	}
	return Dial(ctx, path, id)
}

// Dial connects to the socket at path and introduces itself as id. An
// empty id gets a random one.
func Dial(ctx context.Context, path, id string) (*Central, error) {
	if id == "" {
		id = uuid.NewString()
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
	}

	c := &Central{
		id:      id,
		nc:      nc,
		log:     logger.For("central").WithField("central", id),
		pending: hashmap.New[uint64, chan *frame.Frame](),
		updates: make(chan Update, UpdateBuffer),
		done:    make(chan struct{}),
	}
	if err := c.send(&frame.Frame{Kind: frame.KindHello, Central: id}); err != nil {
		nc.Close()
		return nil, err
	}

	util.Go(ctx, "central-"+id, c.readLoop)
	return c, nil
}

func (c *Central) ID() string {
	return c.id
}

// Updates delivers notifications and indications. It is closed on
// disconnect. Once UpdateBuffer values are waiting, further updates are
// dropped, so an indication lost that way is never confirmed.
func (c *Central) Updates() <-chan Update {
	return c.updates
}

// Done is closed once the connection is gone.
func (c *Central) Done() <-chan struct{} {
	return c.done
}

// Read returns the value at offset. A non-success status comes back as an *att.Error.
func (c *Central) Read(ctx context.Context, characteristic gatt.UUID, offset int) ([]byte, error) {
	resp, err := c.request(ctx, &frame.Frame{Kind: frame.KindRead, Characteristic: characteristic, Offset: uint64(offset)})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

func (c *Central) Write(ctx context.Context, characteristic gatt.UUID, offset int, value []byte) error {
	_, err := c.request(ctx, &frame.Frame{Kind: frame.KindWrite, Characteristic: characteristic, Offset: uint64(offset), Payload: value})
	return err
}

// WriteCCCD writes the client characteristic configuration descriptor and
// waits for the peripheral to accept it.
func (c *Central) WriteCCCD(ctx context.Context, characteristic gatt.UUID, notify, indicate bool) error {
	_, err := c.request(ctx, &frame.Frame{
		Kind:           frame.KindCCCDWrite,
		Characteristic: characteristic,
		Payload:        gatt.EncodeCCCDValue(notify, indicate),
	})
	return err
}

// Subscribe asks for updates in whatever mode the characteristic supports.
func (c *Central) Subscribe(characteristic gatt.UUID) error {
	return c.send(&frame.Frame{Kind: frame.KindSubscribe, Characteristic: characteristic})
}

func (c *Central) Unsubscribe(characteristic gatt.UUID) error {
	return c.send(&frame.Frame{Kind: frame.KindUnsubscribe, Characteristic: characteristic})
}

// Confirm acknowledges an indication.
func (c *Central) Confirm(characteristic gatt.UUID) error {
	return c.send(&frame.Frame{Kind: frame.KindConfirm, Characteristic: characteristic})
}

func (c *Central) Close() error {
	c.shutdown()
	return nil
}

func (c *Central) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.nc.Close()
	})
}

func (c *Central) request(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	f.RequestID = c.nextID.Add(1)
	reply := make(chan *frame.Frame, 1)
	c.pending.Set(f.RequestID, reply)
	defer c.pending.Del(f.RequestID)

	if err := c.send(f); err != nil {
		return nil, err
	}

	select {
	case resp := <-reply:
		if resp.Status != att.ErrSuccess {
			return resp, att.NewError(resp.Status, f.Characteristic.String())
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrDisconnected
	}
}

func (c *Central) send(f *frame.Frame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	select {
	case <-c.done:
		return ErrDisconnected
	default:
	}
	return frame.Write(c.nc, f)
}

func (c *Central) readLoop(ctx context.Context) {
	defer close(c.updates)
	defer c.shutdown()

	reader := bufio.NewReader(c.nc)
	for {
		f, err := frame.Read(reader)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.WithError(err).Debug("connection closed")
			}
			return
		}

		switch f.Kind {
		case frame.KindResponse:
			if reply, ok := c.pending.Get(f.RequestID); ok {
				select {
				case reply <- f:
				default:
				}
			} else {
				c.log.WithField("request_id", f.RequestID).Warn("response for unknown request")
			}
		case frame.KindNotification, frame.KindIndication:
			u := Update{Characteristic: f.Characteristic, Value: f.Payload, Indication: f.Kind == frame.KindIndication}
			select {
			case c.updates <- u:
			default:
				// responses share this loop; a slow reader loses updates, not requests
				c.log.WithFields(logrus.Fields{
					"characteristic": u.Characteristic,
					"indication":     u.Indication,
				}).Warn("updates buffer full, dropping update")
			}
		default:
			c.log.WithField("kind", f.Kind).Warn("unexpected frame from peripheral")
		}
	}
}
