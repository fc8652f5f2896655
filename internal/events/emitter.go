package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"podscribe/internal/logging"
)

const defaultBuffer = 256

// Sink receives emitted events.
type Sink interface {
	Handle(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

// Handle calls f.
func (f SinkFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Emitter queues events for asynchronous delivery. A nil *Emitter discards
// everything, so components can take one unconditionally.
type Emitter struct {
	queue   chan Event
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewEmitter starts the delivery goroutine. buffer <= 0 uses the default.
func NewEmitter(buffer int, logger *slog.Logger, sinks ...Sink) *Emitter {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	e := &Emitter{
		queue:   make(chan Event, buffer),
		sinks:   sinks,
		logger:  logging.NewComponentLogger(logger, "events"),
		timeout: 10 * time.Second,
		done:    make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit queues event without blocking.
func (e *Emitter) Emit(event Event) {
	if e == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- event:
	default:
		e.dropped.Add(1)
		logging.WarnWithContext(e.logger, "event queue full; dropping event", "event_dropped",
			logging.String("type", string(event.Type)),
			logging.Int64(logging.FieldTaskID, event.TaskID),
			logging.String(logging.FieldImpact, "side effect skipped"),
		)
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (e *Emitter) Dropped() int64 {
	if e == nil {
		return 0
	}
	return e.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (e *Emitter) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for event := range e.queue {
		for _, sink := range e.sinks {
			e.deliver(sink, event)
		}
	}
}

func (e *Emitter) deliver(sink Sink, event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event sink panicked", logging.Any("panic", r), logging.String("type", string(event.Type)))
		}
	}()
	if err := sink.Handle(ctx, event); err != nil {
		logging.WarnWithContext(e.logger, "event sink failed", "event_sink_failed",
			logging.String("type", string(event.Type)),
			logging.Int64(logging.FieldTaskID, event.TaskID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "side effect skipped; processing continues"),
		)
	}
}
