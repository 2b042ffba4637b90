// Package progress publishes import progress. Sinks must not block the
// import: wrap slow sinks with NewAsync, which drops events when its buffer
// is full.
package progress

import (
	"context"
	"sync"

	"github.com/CaseSolvedUK/rest-migrate/pkg/metrics"
	"go.uber.org/zap"
)

// Event is a progress update. Per-document events carry EntityType, DocName
// and the Title and Indicator of the document's outcome; record-level events
// carry only Percentage.
type Event struct {
	RunID      string `json:"run_id"`
	Percentage int    `json:"percentage"`
	EntityType string `json:"entity_type,omitempty"`
	DocName    string `json:"doc_name,omitempty"`
	Title      string `json:"title,omitempty"`
	Indicator  string `json:"indicator,omitempty"`
}

// Sink receives progress events
type Sink interface {
	Publish(ctx context.Context, ev Event)
	Close() error
}

// Nop discards every event
type Nop struct{}

// Publish implements Sink
func (Nop) Publish(context.Context, Event) {}

// Close implements Sink
func (Nop) Close() error { return nil }

// LogSink writes events to a zap logger
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.With(zap.String("component", "progress"))}
}

// Publish implements Sink
func (s *LogSink) Publish(_ context.Context, ev Event) {
	fields := []zap.Field{
		zap.String("run_id", ev.RunID),
		zap.Int("percentage", ev.Percentage),
	}
	if ev.EntityType != "" {
		fields = append(fields,
			zap.String("entity_type", ev.EntityType),
			zap.String("doc_name", ev.DocName),
			zap.String("title", ev.Title),
			zap.String("indicator", ev.Indicator))
	}
	s.logger.Info("progress", fields...)
}

// Close implements Sink
func (s *LogSink) Close() error { return nil }

// Multi fans events out to several sinks
type Multi []Sink

// Publish implements Sink
func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Publish(ctx, ev)
	}
}

// Close closes every sink and returns the first error
func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Async delivers events to a sink from a background goroutine
type Async struct {
	name   string
	sink   Sink
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// NewAsync wraps sink with a buffer of size events. name labels dropped
// event metrics.
func NewAsync(name string, sink Sink, size int) *Async {
	if size <= 0 {
		size = 1
	}
	a := &Async{
		name:   name,
		sink:   sink,
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.events {
		a.sink.Publish(context.Background(), ev)
	}
}

// Publish queues ev, dropping it if the buffer is full
func (a *Async) Publish(_ context.Context, ev Event) {
	select {
	case a.events <- ev:
	default:
		metrics.ProgressDropped.WithLabelValues(a.name).Inc()
	}
}

// Close drains queued events and closes the wrapped sink. Publish must not
// be called after Close.
func (a *Async) Close() error {
	a.once.Do(func() { close(a.events) })
	<-a.done
	return a.sink.Close()
}
