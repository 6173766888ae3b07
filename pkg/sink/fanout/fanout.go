package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/rowwatch"
)

// Target is one downstream sink with its delivery policy.
type Target struct {
	Name string
	Sink rowwatch.Sink
	// Kinds restricts delivery to the listed event kinds; empty means all.
	Kinds []rowwatch.EventKind
}

func (t Target) accepts(kind rowwatch.EventKind) bool {
	if len(t.Kinds) == 0 {
		return true
	}
	for _, k := range t.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// FanoutSink delivers every event to all targets in order, retrying each
// failed write with linear backoff. One failing target does not stop
// delivery to the others.
type FanoutSink struct {
	targets       []Target
	maxAttempts   int
	retryInterval time.Duration
	logger        rowwatch.Logger
}

func NewFanoutSink(targets []Target, maxAttempts int, retryInterval time.Duration) *FanoutSink {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if retryInterval <= 0 {
		retryInterval = 100 * time.Millisecond
	}
	return &FanoutSink{
		targets:       targets,
		maxAttempts:   maxAttempts,
		retryInterval: retryInterval,
		logger:        rowwatch.NopLogger{},
	}
}

func (s *FanoutSink) SetLogger(logger rowwatch.Logger) {
	if logger == nil {
		logger = rowwatch.NopLogger{}
	}
	s.logger = logger
	for _, t := range s.targets {
		if l, ok := t.Sink.(rowwatch.Loggable); ok {
			l.SetLogger(logger)
		}
	}
}

// Targets returns the names of the configured targets.
func (s *FanoutSink) Targets() []string {
	names := make([]string, len(s.targets))
	for i, t := range s.targets {
		names[i] = t.Name
	}
	return names
}

func (s *FanoutSink) Write(ctx context.Context, ev *rowwatch.Event) error {
	if ev == nil {
		return nil
	}
	var errs []error
	for _, t := range s.targets {
		if !t.accepts(ev.Kind) {
			continue
		}
		if err := s.deliver(ctx, t, ev); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *FanoutSink) deliver(ctx context.Context, t Target, ev *rowwatch.Event) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := t.Sink.Write(ctx, ev)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == s.maxAttempts {
			break
		}
		s.logger.Warn("Sink write error, retrying", "sink", t.Name, "attempt", attempt, "event_id", ev.ID, "error", err)

		select {
		case <-time.After(time.Duration(attempt) * s.retryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.logger.Error("Sink write failed after retries", "sink", t.Name, "event_id", ev.ID, "kind", string(ev.Kind), "error", lastErr)
	return lastErr
}

func (s *FanoutSink) Ping(ctx context.Context) error {
	var errs []error
	for _, t := range s.targets {
		if err := t.Sink.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *FanoutSink) Close() error {
	var errs []error
	for _, t := range s.targets {
		if err := t.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}
