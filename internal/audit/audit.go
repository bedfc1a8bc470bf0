package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voidxp/voidgate/internal/telemetry"
)

// Event is one invocation's audit record.
type Event struct {
	Timestamp        time.Time
	RequestID        string
	PrincipalID      string
	Provider         string
	Model            string
	Operation        string
	OutcomeKind      string
	LatencyMs        int64
	PromptTokens     int
	CompletionTokens int
	Message          string
}

// Sink persists audit events.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

const (
	emitBuffer  = 256
	recordLimit = 5 * time.Second
)

// Emitter decouples audit persistence from the request path. Emit never
// blocks: when the buffer is full the event is dropped and counted, and
// the caller proceeds as if it were recorded.
type Emitter struct {
	sink    Sink
	metrics *telemetry.Metrics
	events  chan Event
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewEmitter(sink Sink, metrics *telemetry.Metrics) *Emitter {
	e := &Emitter{
		sink:    sink,
		metrics: metrics,
		events:  make(chan Event, emitBuffer),
		done:    make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit queues an event for persistence. Neither a slow sink nor a full
// buffer can stall the caller, and the write's outcome never reaches it.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.events <- ev:
	default:
		slog.Warn("audit buffer full, dropping event",
			"request_id", ev.RequestID,
			"outcome", ev.OutcomeKind,
		)
		if e.metrics != nil {
			e.metrics.RecordAuditDrop()
		}
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for ev := range e.events {
		if e.sink == nil {
			slog.Debug("audit event",
				"request_id", ev.RequestID,
				"principal", ev.PrincipalID,
				"provider", ev.Provider,
				"outcome", ev.OutcomeKind,
			)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), recordLimit)
		if err := e.sink.Record(ctx, ev); err != nil {
			slog.Error("audit write failed",
				"request_id", ev.RequestID,
				"error", err,
			)
		}
		cancel()
	}
}

// Close stops intake and waits for queued events to flush, up to the
// context deadline.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.events)
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoteDrop logs a payload field discarded during schema mapping. Drops are
// operational noise rather than audit events; they go to the log only.
func (e *Emitter) NoteDrop(requestID, provider, field string) {
	slog.Info("payload field dropped during mapping",
		"request_id", requestID,
		"provider", provider,
		"field", field,
	)
}
