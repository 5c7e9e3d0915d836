package wire

import (
	"context"
	"sync"

	"github.com/user/peripheral-blue/peripheral"
	"github.com/user/peripheral-blue/util"
)

// eventPump delivers radio events to the sink on its own goroutine, in
// the order they were emitted. The queue is unbounded so radio methods
// called from the peripheral's event loop never wait on that same loop.
type eventPump struct {
	mu     sync.Mutex
	queue  []func(peripheral.EventSink)
	sink   peripheral.EventSink
	signal chan struct{}
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func newEventPump(ctx context.Context, name string, sink peripheral.EventSink) *eventPump {
	p := &eventPump{
		sink:   sink,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	util.Go(ctx, name, p.run)
	return p
}

func (p *eventPump) emit(fn func(peripheral.EventSink)) {
	p.mu.Lock()
	p.queue = append(p.queue, fn)
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *eventPump) run(ctx context.Context) {
	defer close(p.exited)
	for {
		p.mu.Lock()
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()

		for _, fn := range batch {
			fn(p.sink)
		}

		select {
		case <-p.signal:
		case <-p.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// stop discards anything not yet delivered.
func (p *eventPump) stop() {
	p.once.Do(func() { close(p.done) })
	<-p.exited
}
