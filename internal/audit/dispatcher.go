package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking: events that do not fit the buffer
	// are counted and discarded instead of applying backpressure to the
	// authentication path.
	DropIfFull bool
	// SinkTimeout bounds a single Sink.Emit call. Zero means no deadline.
	SinkTimeout time.Duration
	// OnDrop, when set, is called for every discarded event with the running
	// drop total.
	OnDrop func(event Event, dropped uint64)
}

// Dispatcher forwards events to a Sink on a single background worker, so
// sinks observe events in emission order.
type Dispatcher struct {
	cfg  Config
	sink Sink

	mu     sync.RWMutex
	closed bool
	queue  chan Event

	worker  sync.WaitGroup
	dropped atomic.Uint64
}

// NewDispatcher starts a dispatcher, or returns nil when auditing is
// disabled. A nil *Dispatcher accepts and ignores every call.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, max(cfg.BufferSize, 1)),
	}
	d.worker.Add(1)
	go d.drain()
	return d
}

func (d *Dispatcher) drain() {
	defer d.worker.Done()
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx := context.Background()
	if d.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SinkTimeout)
		defer cancel()
	}
	d.sink.Emit(ctx, event)
}

// Emit queues event. Under DropIfFull a full buffer discards the event;
// otherwise Emit waits for room until ctx is done, and a cancelled wait
// also counts as a drop. Events emitted after Close are ignored.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return
	}
	queued := true
	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		default:
			queued = false
		}
	} else {
		select {
		case d.queue <- event:
		case <-ctx.Done():
			queued = false
		}
	}
	d.mu.RUnlock()

	if !queued {
		total := d.dropped.Add(1)
		if d.cfg.OnDrop != nil {
			d.cfg.OnDrop(event, total)
		}
	}
}

// Close stops accepting events and returns once every queued event has
// reached the sink. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.worker.Wait()
}

// Dropped reports how many events never reached the queue.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
