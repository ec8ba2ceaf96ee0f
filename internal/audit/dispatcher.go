package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher delivers events to its sinks from a single background
// goroutine, in emission order. A nil *Dispatcher is valid and drops
// everything.
type Dispatcher struct {
	sinks      []Sink
	dropIfFull bool

	// mu guards queue against a send racing Close. Emit holds it shared.
	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	drained chan struct{}

	dropped atomic.Uint64
}

// NewDispatcher returns nil when cfg is disabled. Nil sinks are skipped.
func NewDispatcher(cfg Config, sinks ...Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	size := max(cfg.BufferSize, 1)

	d := &Dispatcher{
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, size),
		drained:    make(chan struct{}),
	}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}

	go d.deliver()
	return d
}

func (d *Dispatcher) deliver() {
	defer close(d.drained)
	ctx := context.Background()
	for event := range d.queue {
		for _, s := range d.sinks {
			s.Emit(ctx, event)
		}
	}
}

// Emit enqueues event. With DropIfFull a full buffer drops the event;
// otherwise Emit waits for space or for ctx to end.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close rejects further events and returns once every queued event has
// reached the sinks. It is idempotent.
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
	<-d.drained
}

// Dropped counts events lost to a full buffer or an expired context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
