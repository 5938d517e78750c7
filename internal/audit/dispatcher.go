package audit

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// OnDrop, if set, is called for every event discarded because the
	// buffer was full.
	OnDrop func()
	// OnSinkPanic, if set, receives the value recovered from a panicking
	// sink. The event is lost; the worker keeps running.
	OnSinkPanic func(recovered any)
}

// secretMetadataKeys never reach a sink, whatever the caller put in
// Event.Metadata.
var secretMetadataKeys = []string{"code", "otp", "token", "password", "hash", "secret"}

// Dispatcher asynchronously forwards audit events to a sink.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery worker. It returns nil when auditing is
// disabled; a nil *Dispatcher accepts and discards events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Event, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			d.drain()
			return
		}
	}
}

// drain flushes whatever was queued before Close.
func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil && d.cfg.OnSinkPanic != nil {
			d.cfg.OnSinkPanic(r)
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit queues event for the sink. It never blocks when DropIfFull is set.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	event.Metadata = scrubMetadata(event.Metadata)

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
			if d.cfg.OnDrop != nil {
				d.cfg.OnDrop()
			}
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close stops accepting events, drains the buffer and waits for the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded on a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// scrubMetadata returns md without secret-looking keys. md is copied only
// when something has to go, so the caller's map is never mutated.
func scrubMetadata(md map[string]string) map[string]string {
	var out map[string]string
	for k := range md {
		if !isSecretKey(k) {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(md))
			for k2, v := range md {
				out[k2] = v
			}
		}
		delete(out, k)
	}
	if out == nil {
		return md
	}
	return out
}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	for _, s := range secretMetadataKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}
