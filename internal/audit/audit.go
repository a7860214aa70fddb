// Package audit records notification lifecycle events.
package audit

import (
	"context"
	"github.com/rs/zerolog"
	"time"
)

// Level is the severity of an audit event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	// LevelFatal marks faults that stop the scheduler loop.
	LevelFatal Level = "fatal"
)

// Event messages emitted by the scheduler and the lifecycle service.
const (
	MsgLoopStarted    = "scheduler loop started"
	MsgLoopStopped    = "scheduler loop stopped"
	MsgLoopAborted    = "scheduler loop aborted"
	MsgDispatched     = "notification dispatched"
	MsgDispatchFailed = "notification dispatch failed"
	MsgRetryScheduled = "notification retry scheduled"
	MsgBulkScheduled  = "bulk marketing scheduled"
)

// Event is a structured lifecycle record. Fields never carry message bodies.
type Event struct {
	Level   Level          `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
	At      time.Time      `json:"at"`
}

// Sink receives audit events. Record must return quickly and never fails the caller.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// NewEvent builds an event stamped with the current time.
func NewEvent(level Level, message string, fields map[string]any) Event {
	return Event{Level: level, Message: message, Fields: fields, At: time.Now().UTC()}
}

// Multi fans an event out to every sink in order.
type Multi []Sink

// Record implements Sink.
func (m Multi) Record(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, e)
		}
	}
}

// LogSink writes events to zerolog.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink writing to the application logger.
func NewLogSink(logger *zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "audit").Logger()}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, e Event) {
	var ev *zerolog.Event
	switch e.Level {
	case LevelWarn:
		ev = s.logger.Warn()
	case LevelError:
		ev = s.logger.Error()
	case LevelFatal:
		// WithLevel keeps the fatal severity without exiting the process.
		ev = s.logger.WithLevel(zerolog.FatalLevel)
	default:
		ev = s.logger.Info()
	}
	ev.Fields(e.Fields).Time("event_at", e.At).Msg(e.Message)
}
