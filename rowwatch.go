package rowwatch

import "context"

// Sink receives events produced by the poller. The label-printing pipeline
// and the UI sit behind sinks.
type Sink interface {
	Write(ctx context.Context, ev *Event) error
	Ping(ctx context.Context) error
	Close() error
}

// Formatter defines the interface for formatting events before they are written to a sink.
type Formatter interface {
	Format(ev *Event) ([]byte, error)
}

// Logger defines the interface for logging in rowwatch.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Loggable is implemented by components that accept a logger.
type Loggable interface {
	SetLogger(logger Logger)
}

// Handler is a function type for processing emitted events.
type Handler func(ctx context.Context, ev *Event) error

// SinkFunc adapts a Handler to the Sink interface.
type SinkFunc Handler

func (f SinkFunc) Write(ctx context.Context, ev *Event) error { return f(ctx, ev) }
func (f SinkFunc) Ping(ctx context.Context) error             { return nil }
func (f SinkFunc) Close() error                               { return nil }

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
