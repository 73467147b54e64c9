// Package audit records pipeline decisions for later review. Events
// are delivered asynchronously; audit must never slow down resolution,
// so a full buffer drops events and counts the drops.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"constitutional-gov/internal/logging"
)

// Event is one auditable pipeline decision.
type Event struct {
	Action     string         `json:"action"`
	RunID      string         `json:"run_id,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Sink accepts audit events.
type Sink interface {
	Record(event Event)
}

// LogSink writes audit events to the structured log through a buffered
// channel. Close drains the buffer.
type LogSink struct {
	logger  logging.Logger
	events  chan Event
	dropped atomic.Int64
	done    chan struct{}
	once    sync.Once
}

// NewLogSink starts the sink's writer goroutine.
func NewLogSink(logger logging.Logger, buffer int) *LogSink {
	if buffer < 1 {
		buffer = 256
	}
	s := &LogSink{
		logger: logger.WithComponent("audit"),
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *LogSink) run() {
	defer close(s.done)
	for event := range s.events {
		s.logger.Info("audit",
			"action", event.Action,
			"run_id", event.RunID,
			"entity_id", event.EntityID,
			"detail", event.Detail,
			"recorded_at", event.RecordedAt.Format(time.RFC3339Nano))
	}
}

// Record implements Sink. It never blocks: events beyond the buffer
// are dropped and counted.
func (s *LogSink) Record(event Event) {
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}
	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded due to backpressure.
func (s *LogSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting events and waits for the buffer to drain.
func (s *LogSink) Close(ctx context.Context) error {
	s.once.Do(func() { close(s.events) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Record(Event) {}
