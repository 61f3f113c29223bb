// Package events delivers committed domain events to side-channel consumers.
// Delivery is best effort: a sink never blocks or fails the write that
// produced the event.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/attaboy/casino-ledger/internal/domain"
)

// Sink receives events after the unit of work that produced them committed.
type Sink interface {
	Emit(ctx context.Context, evts ...domain.Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, ...domain.Event) {}

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, evts ...domain.Event) {
	for _, e := range evts {
		s.logger.InfoContext(ctx, "domain event",
			"event_id", e.EventID,
			"event_type", e.EventType,
			"aggregate_type", e.AggregateType,
			"aggregate_id", e.AggregateID,
		)
	}
}

// Fanout forwards events to every wrapped sink in order.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, evts ...domain.Event) {
	if len(evts) == 0 {
		return
	}
	for _, s := range f {
		if s != nil {
			s.Emit(ctx, evts...)
		}
	}
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu   sync.Mutex
	evts []domain.Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(_ context.Context, evts ...domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evts = append(r.evts, evts...)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.evts...)
}

// Types returns the recorded event types in emission order.
func (r *Recorder) Types() []domain.EventType {
	evts := r.Events()
	out := make([]domain.EventType, len(evts))
	for i, e := range evts {
		out[i] = e.EventType
	}
	return out
}
