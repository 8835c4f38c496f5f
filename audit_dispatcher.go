package authcore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// AuditStats is a point-in-time snapshot of the dispatcher's accounting.
// Delivered counts events handed to the sink; Dropped counts events
// discarded because the queue was full.
type AuditStats struct {
	Delivered uint64
	Dropped   uint64
}

// auditDispatcher decouples the authentication flow from sink latency. Emit
// enqueues; a single goroutine drains to the sink under a per-event
// deadline, so a wedged sink stalls at most one delivery at a time. With
// DropIfFull a full queue counts the event as dropped instead of blocking
// the login path.
//
// The dispatcher is also the stamping point of last resort: events that
// arrive without an id or timestamp get them here, so every event reaching
// a sink is fully identified.
type auditDispatcher struct {
	sink        AuditSink
	sinkTimeout time.Duration
	dropIfFull  bool

	queue chan AuditEvent
	stop  chan struct{}
	wg    sync.WaitGroup

	delivered atomic.Uint64
	dropped   atomic.Uint64
	closing   atomic.Bool
	closeOnce sync.Once
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		sink:        sink,
		sinkTimeout: cfg.SinkTimeout,
		dropIfFull:  cfg.DropIfFull,
		queue:       make(chan AuditEvent, cfg.BufferSize),
		stop:        make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			d.flush()
			return
		}
	}
}

// flush drains whatever is already queued at shutdown. Emit stops
// accepting before stop closes, so the queue can only shrink here.
func (d *auditDispatcher) flush() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *auditDispatcher) deliver(event AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sinkTimeout)
	d.sink.Emit(ctx, d.stamp(event))
	cancel()
	d.delivered.Add(1)
}

func (d *auditDispatcher) stamp(event AuditEvent) AuditEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return event
}

func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closing.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.stop:
	}
}

func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

func (d *auditDispatcher) Stats() AuditStats {
	if d == nil {
		return AuditStats{}
	}
	return AuditStats{
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
	}
}

func (d *auditDispatcher) Dropped() uint64 {
	return d.Stats().Dropped
}
