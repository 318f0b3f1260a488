package resetd

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher decouples audit emission from the request path. Events
// queue on a buffered channel and a single goroutine hands them to the
// sink; Close stops intake and flushes whatever is still queued.
type auditDispatcher struct {
	sink    AuditSink
	queue   chan AuditEvent
	quit    chan struct{}
	block   bool
	stopped atomic.Bool
	dropped atomic.Uint64
	once    sync.Once
	wg      sync.WaitGroup
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}

	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		sink:  sink,
		queue: make(chan AuditEvent, buffer),
		quit:  make(chan struct{}),
		block: !cfg.DropIfFull,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case event := <-d.queue:
				d.sink.Emit(context.Background(), event)
			case <-d.quit:
				d.flush()
				return
			}
		}
	}()

	return d
}

// flush empties the queue without waiting for new events.
func (d *auditDispatcher) flush() {
	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.stopped.Load() {
		return
	}

	if !d.block {
		select {
		case d.queue <- event:
		case <-d.quit:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.quit:
	}
}

func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.stopped.Store(true)
		close(d.quit)
		d.wg.Wait()
	})
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
