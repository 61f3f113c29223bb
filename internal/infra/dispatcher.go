package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/guard"
)

const (
	publishTimeout = 5 * time.Second
	drainTimeout   = 10 * time.Second
)

// Dispatcher buffers committed events and publishes them to Kafka from a
// single background loop. Emit never blocks: when the buffer is full the
// event is dropped with a warning. Topics whose publishes keep failing are
// skipped while their circuit is open.
type Dispatcher struct {
	pub     Publisher
	breaker *guard.CircuitBreaker
	prefix  string
	buf     chan domain.Event
	logger  *slog.Logger

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher creates a dispatcher with a buffer of size events.
func NewDispatcher(pub Publisher, breaker *guard.CircuitBreaker, topicPrefix string, size int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		pub:     pub,
		breaker: breaker,
		prefix:  topicPrefix,
		buf:     make(chan domain.Event, size),
		logger:  logger,
	}
}

// Emit enqueues events for publishing.
func (d *Dispatcher) Emit(ctx context.Context, evts ...domain.Event) {
	for _, evt := range evts {
		select {
		case d.buf <- evt:
		default:
			d.dropped.Add(1)
			d.logger.WarnContext(ctx, "event buffer full, dropping event",
				"event_id", evt.EventID, "event_type", evt.EventType)
		}
	}
}

// Run publishes buffered events until ctx is cancelled, then drains what is
// left with a bounded deadline.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("event dispatcher started", "buffer", cap(d.buf))
	for {
		select {
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			d.logger.Info("event dispatcher stopped",
				"published", d.published.Load(), "dropped", d.dropped.Load(), "failed", d.failed.Load())
			return nil
		case evt := <-d.buf:
			d.publish(ctx, evt)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	for {
		select {
		case evt := <-d.buf:
			d.publish(ctx, evt)
		default:
			return
		}
	}
}

// Topic is the Kafka topic an event is published to.
func (d *Dispatcher) Topic(evt domain.Event) string {
	return d.prefix + "." + string(evt.AggregateType) + "." + string(evt.EventType)
}

func (d *Dispatcher) publish(ctx context.Context, evt domain.Event) {
	topic := d.Topic(evt)
	if res := d.breaker.Check(ctx, topic); !res.Allowed {
		d.failed.Add(1)
		d.logger.WarnContext(ctx, "event not published", "event_id", evt.EventID, "topic", topic, "reason", res.Reason)
		return
	}

	msg, err := json.Marshal(evt)
	if err != nil {
		d.failed.Add(1)
		d.logger.ErrorContext(ctx, "marshal event", "event_id", evt.EventID, "error", err)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	err = d.pub.Publish(pctx, Message{
		Topic: topic,
		Key:   []byte(evt.AggregateID),
		Value: msg,
		Headers: map[string]string{
			"event_id":   evt.EventID.String(),
			"event_type": string(evt.EventType),
			"account_id": evt.AccountID,
		},
	})
	if err != nil {
		d.breaker.RecordFailure(topic)
		d.failed.Add(1)
		d.logger.ErrorContext(ctx, "kafka publish failed", "event_id", evt.EventID, "topic", topic, "error", err)
		return
	}
	d.breaker.RecordSuccess(topic)
	d.published.Add(1)
}

// DispatcherStats are the dispatcher's running counters.
type DispatcherStats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
	Buffered  int   `json:"buffered"`
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Published: d.published.Load(),
		Dropped:   d.dropped.Load(),
		Failed:    d.failed.Load(),
		Buffered:  len(d.buf),
	}
}
