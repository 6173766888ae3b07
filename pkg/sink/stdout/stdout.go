package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/user/rowwatch"
	jsonfmt "github.com/user/rowwatch/pkg/formatter/json"
)

// StdoutSink prints one formatted event per line.
type StdoutSink struct {
	out       io.Writer
	formatter rowwatch.Formatter
	logger    rowwatch.Logger
	mu        sync.Mutex
}

func NewStdoutSink(formatter rowwatch.Formatter) *StdoutSink {
	return NewWriterSink(os.Stdout, formatter)
}

// NewWriterSink prints to w instead of stdout.
func NewWriterSink(w io.Writer, formatter rowwatch.Formatter) *StdoutSink {
	if formatter == nil {
		formatter = jsonfmt.NewJSONFormatter()
	}
	return &StdoutSink{out: w, formatter: formatter}
}

func (s *StdoutSink) SetLogger(l rowwatch.Logger) {
	s.logger = l
}

func (s *StdoutSink) Write(ctx context.Context, ev *rowwatch.Event) error {
	if ev == nil {
		return nil
	}
	data, err := s.formatter.Format(ev)
	if err != nil {
		return fmt.Errorf("failed to format event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintln(s.out, string(data)); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("Event printed", "event_id", ev.ID, "kind", string(ev.Kind))
	}
	return nil
}

func (s *StdoutSink) Ping(ctx context.Context) error {
	return nil
}

func (s *StdoutSink) Close() error {
	return nil
}
