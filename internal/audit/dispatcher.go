package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int

	// DropIfFull discards routine events when the queue is full instead of
	// making the caller wait.
	DropIfFull bool

	// Critical lists event types that DropIfFull never discards. They wait
	// for queue space until the caller's context is done.
	Critical []string
}

// Dispatcher queues events for a single delivery goroutine, so a slow sink
// only ever delays callers when the queue is full.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	critical   map[string]struct{}

	queue    chan Event
	stop     chan struct{}
	finished chan struct{}

	dropped      atomic.Uint64
	criticalLost atomic.Uint64
	closed       atomic.Bool
	stopOnce     sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when auditing
// is disabled; every method is safe on a nil *Dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}

	critical := make(map[string]struct{}, len(cfg.Critical))
	for _, t := range cfg.Critical {
		critical[t] = struct{}{}
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		critical:   critical,
		queue:      make(chan Event, size),
		stop:       make(chan struct{}),
		finished:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.finished)
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// deliver hands one event to the sink. A panicking sink loses that event,
// not the goroutine.
func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if recover() != nil {
			d.lose(ev)
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

func (d *Dispatcher) lose(ev Event) {
	d.dropped.Add(1)
	if _, ok := d.critical[ev.EventType]; ok {
		d.criticalLost.Add(1)
	}
}

// Emit queues event. Routine events are dropped on a full queue when
// DropIfFull is set; critical ones, and all events otherwise, wait until
// ctx is done.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}

	select {
	case d.queue <- event:
		return
	default:
	}

	if _, critical := d.critical[event.EventType]; d.dropIfFull && !critical {
		d.dropped.Add(1)
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.lose(event)
	case <-d.stop:
	}
}

// Close stops accepting events, delivers what is queued and waits for the
// delivery goroutine.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
	})
	<-d.finished
}

// Dropped counts every event that never reached the sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// CriticalLost counts critical events among Dropped.
func (d *Dispatcher) CriticalLost() uint64 {
	if d == nil {
		return 0
	}
	return d.criticalLost.Load()
}
