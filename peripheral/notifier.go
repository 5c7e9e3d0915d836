package peripheral

import (
	"errors"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/user/peripheral-blue/wire/gatt"
)

// DefaultBacklog is the per-central number of values held while the
// transport is busy, in addition to the one being retried.
const DefaultBacklog = 16

// pusher is the slice of Radio the notifier needs.
type pusher interface {
	PushNotification(central Central, characteristic gatt.UUID, value []byte, indicate bool) bool
}

// NotifyResult reports what a Notify call did.
type NotifyResult struct {
	Queued    int // subscribed centrals targeted
	Delivered int // accepted by the transport immediately
	Dropped   int // lost to a full backlog
}

type update struct {
	characteristic gatt.UUID
	value          []byte
	indicate       bool
}

// centralQueue keeps delivery to one central in order. head is the next
// update to push; it stays put while the transport is busy.
type centralQueue struct {
	head     *update
	backlog  mpmc.RingBuffer[update]
	awaiting bool // indication pushed, confirmation outstanding
	awaited  gatt.UUID
}

// Notifier tracks subscriptions and pushes value updates to subscribed
// centrals, retrying per central when the transport pushes back.
// It is owned by the peripheral event loop and is not safe for concurrent use.
type Notifier struct {
	table   *gatt.Table
	radio   pusher
	log     *logrus.Entry
	backlog int

	subs   *orderedmap.OrderedMap[gatt.UUID, *orderedmap.OrderedMap[Central, gatt.SubscriptionMode]]
	queues *orderedmap.OrderedMap[Central, *centralQueue]
}

// NewNotifier creates a notifier; backlog <= 0 selects DefaultBacklog.
func NewNotifier(table *gatt.Table, radio pusher, backlog int, log *logrus.Entry) *Notifier {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	n := &Notifier{
		table:   table,
		radio:   radio,
		log:     log,
		backlog: backlog,
	}
	n.Reset()
	return n
}

// Reset drops every subscription and pending update.
func (n *Notifier) Reset() {
	n.subs = orderedmap.New[gatt.UUID, *orderedmap.OrderedMap[Central, gatt.SubscriptionMode]]()
	n.queues = orderedmap.New[Central, *centralQueue]()
}

// Subscribe records that central wants updates for characteristic. It
// reports false when the subscription already existed.
func (n *Notifier) Subscribe(central Central, characteristic gatt.UUID) (bool, error) {
	c, ok := n.table.Lookup(characteristic)
	if !ok {
		return false, newError(KindAttributeNotFound, errors.New(characteristic.String()))
	}
	mode := gatt.DefaultMode(c.Properties())
	if mode == gatt.ModeNone {
		return false, newError(KindNotNotifiable, errors.New(characteristic.String()))
	}

	centrals, ok := n.subs.Get(characteristic)
	if !ok {
		centrals = orderedmap.New[Central, gatt.SubscriptionMode]()
		n.subs.Set(characteristic, centrals)
	}
	if _, exists := centrals.Get(central); exists {
		return false, nil
	}
	centrals.Set(central, mode)
	n.log.WithFields(logrus.Fields{
		"central":        central,
		"characteristic": characteristic,
		"mode":           mode,
	}).Info("central subscribed")
	return true, nil
}

// Unsubscribe removes one subscription; it reports whether one existed.
func (n *Notifier) Unsubscribe(central Central, characteristic gatt.UUID) bool {
	centrals, ok := n.subs.Get(characteristic)
	if !ok {
		return false
	}
	if _, removed := centrals.Delete(central); !removed {
		return false
	}
	if centrals.Len() == 0 {
		n.subs.Delete(characteristic)
	}
	n.log.WithFields(logrus.Fields{
		"central":        central,
		"characteristic": characteristic,
	}).Info("central unsubscribed")

	if !n.subscribedAnywhere(central) {
		n.queues.Delete(central)
		return true
	}
	// an indication on a dropped subscription will never be confirmed
	if q, ok := n.queues.Get(central); ok && q.awaiting && q.awaited == characteristic {
		q.awaiting = false
		n.flush(central)
	}
	return true
}

// Disconnect forgets a central entirely and returns the characteristics
// it was subscribed to.
func (n *Notifier) Disconnect(central Central) []gatt.UUID {
	var dropped []gatt.UUID
	for pair := n.subs.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := pair.Value.Get(central); ok {
			dropped = append(dropped, pair.Key)
		}
	}
	n.queues.Delete(central)
	for _, characteristic := range dropped {
		n.Unsubscribe(central, characteristic)
	}
	return dropped
}

// Subscribers lists the centrals subscribed to characteristic, in subscription order.
func (n *Notifier) Subscribers(characteristic gatt.UUID) []Central {
	centrals, ok := n.subs.Get(characteristic)
	if !ok {
		return nil
	}
	result := make([]Central, 0, centrals.Len())
	for pair := centrals.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Key)
	}
	return result
}

// Pending returns how many updates wait for central.
func (n *Notifier) Pending(central Central) int {
	q, ok := n.queues.Get(central)
	if !ok {
		return 0
	}
	count := int(q.backlog.Quantity())
	if q.head != nil {
		count++
	}
	return count
}

// Notify stores value in the characteristic and pushes it to every subscriber.
func (n *Notifier) Notify(characteristic gatt.UUID, value []byte) (NotifyResult, error) {
	c, ok := n.table.Lookup(characteristic)
	if !ok {
		return NotifyResult{}, newError(KindAttributeNotFound, errors.New(characteristic.String()))
	}
	if gatt.DefaultMode(c.Properties()) == gatt.ModeNone {
		return NotifyResult{}, newError(KindNotNotifiable, errors.New(characteristic.String()))
	}
	if err := c.SetValue(value); err != nil {
		return NotifyResult{}, newError(KindNotRegistered, err)
	}

	var result NotifyResult
	centrals, ok := n.subs.Get(characteristic)
	if !ok {
		return result, nil
	}
	for pair := centrals.Oldest(); pair != nil; pair = pair.Next() {
		result.Queued++
		u := update{
			characteristic: characteristic,
			value:          c.Value(),
			indicate:       pair.Value == gatt.ModeIndicate,
		}
		if !n.enqueue(pair.Key, u) {
			result.Dropped++
			continue
		}
		result.Delivered += n.flush(pair.Key)
	}
	return result, nil
}

// Retry pushes pending updates after the transport reported room.
func (n *Notifier) Retry() int {
	delivered := 0
	for pair := n.queues.Oldest(); pair != nil; pair = pair.Next() {
		delivered += n.flush(pair.Key)
	}
	return delivered
}

// Confirm releases the next indication for central. It reports false for
// a confirmation nothing was waiting on, including one naming a
// characteristic other than the last indicated.
func (n *Notifier) Confirm(central Central, characteristic gatt.UUID) bool {
	q, ok := n.queues.Get(central)
	if !ok || !q.awaiting || q.awaited != characteristic {
		n.log.WithFields(logrus.Fields{
			"central":        central,
			"characteristic": characteristic,
		}).Debug("unexpected indication confirmation")
		return false
	}
	q.awaiting = false
	n.flush(central)
	return true
}

func (n *Notifier) enqueue(central Central, u update) bool {
	q, ok := n.queues.Get(central)
	if !ok {
		// one extra slot so the ring never reports full before the limit
		q = &centralQueue{backlog: mpmc.New[update](uint32(n.backlog + 1))}
		n.queues.Set(central, q)
	}

	if q.head == nil && q.backlog.IsEmpty() {
		q.head = &u
		return true
	}
	if int(q.backlog.Quantity()) >= n.backlog {
		n.log.WithFields(logrus.Fields{
			"central":        central,
			"characteristic": u.characteristic,
			"backlog":        n.backlog,
		}).Warn("notification backlog full, dropping update")
		return false
	}
	if err := q.backlog.Enqueue(u); err != nil {
		n.log.WithError(err).WithField("central", central).Warn("notification backlog full, dropping update")
		return false
	}
	return true
}

// flush pushes head-first until the transport is busy, an indication is
// outstanding, or the queue is empty.
func (n *Notifier) flush(central Central) int {
	q, ok := n.queues.Get(central)
	if !ok {
		return 0
	}

	delivered := 0
	for !q.awaiting {
		if q.head == nil {
			next, err := q.backlog.Dequeue()
			if err != nil {
				break
			}
			q.head = &next
		}

		u := q.head
		if !n.isSubscribed(central, u.characteristic) {
			q.head = nil
			continue
		}
		if !n.radio.PushNotification(central, u.characteristic, u.value, u.indicate) {
			n.log.WithFields(logrus.Fields{
				"central":        central,
				"characteristic": u.characteristic,
			}).Debug("transport busy, will retry")
			break
		}
		q.head = nil
		delivered++
		if u.indicate {
			q.awaiting = true
			q.awaited = u.characteristic
		}
	}
	return delivered
}

func (n *Notifier) isSubscribed(central Central, characteristic gatt.UUID) bool {
	centrals, ok := n.subs.Get(characteristic)
	if !ok {
		return false
	}
	_, ok = centrals.Get(central)
	return ok
}

func (n *Notifier) subscribedAnywhere(central Central) bool {
	for pair := n.subs.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := pair.Value.Get(central); ok {
			return true
		}
	}
	return false
}
