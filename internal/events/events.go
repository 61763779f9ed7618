// Package events provides the structured event sink used by the pipeline
// core and the slog logger it is normally backed by.
package events

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Level is the severity of an emitted event
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Fields carries the structured attributes of an event
type Fields map[string]any

// Sink receives structured events. Implementations must be safe for use
// from a single goroutine at a time; the pipeline never emits concurrently
// except during setup.
type Sink interface {
	Emit(ctx context.Context, level Level, event string, fields Fields)
}

// SlogSink adapts a *slog.Logger to Sink
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink wraps logger. A nil logger falls back to slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit writes the event with fields sorted by key for stable output
func (s *SlogSink) Emit(ctx context.Context, level Level, event string, fields Fields) {
	if !s.logger.Enabled(ctx, level) {
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	s.logger.LogAttrs(ctx, level, event, attrs...)
}

// Logger returns the wrapped logger
func (s *SlogSink) Logger() *slog.Logger { return s.logger }

type discard struct{}

func (discard) Emit(context.Context, Level, string, Fields) {}

// Discard drops every event
var Discard Sink = discard{}

// Event is one captured emission
type Event struct {
	Level  Level
	Name   string
	Fields Fields
}

// Recorder captures events in memory. Used by tests and by the MCP server
// to return run logs to callers.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends the event
func (r *Recorder) Emit(_ context.Context, level Level, event string, fields Fields) {
	copied := make(Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	r.mu.Lock()
	r.events = append(r.events, Event{Level: level, Name: event, Fields: copied})
	r.mu.Unlock()
}

// Events returns a snapshot of the captured events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns captured events with the given name
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Tee fans an event out to several sinks
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

type tee []Sink

func (t tee) Emit(ctx context.Context, level Level, event string, fields Fields) {
	for _, s := range t {
		s.Emit(ctx, level, event, fields)
	}
}
