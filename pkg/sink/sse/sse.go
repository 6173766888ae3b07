package sse

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/rowwatch"
	"github.com/user/rowwatch/internal/sse"
	jsonfmt "github.com/user/rowwatch/pkg/formatter/json"
)

// DefaultStream is the hub topic the API streams from.
const DefaultStream = "events"

// SSESink publishes events to an in-process hub topic. Browser UIs receive
// them through the API's SSE and websocket endpoints.
type SSESink struct {
	hub       *sse.Hub
	stream    string
	formatter rowwatch.Formatter
	logger    rowwatch.Logger
}

// NewSSESink publishes to the process-wide hub when hub is nil.
func NewSSESink(hub *sse.Hub, stream string, formatter rowwatch.Formatter) *SSESink {
	if hub == nil {
		hub = sse.GetHub()
	}
	if strings.TrimSpace(stream) == "" {
		stream = DefaultStream
	}
	if formatter == nil {
		formatter = jsonfmt.NewJSONFormatter()
	}
	return &SSESink{hub: hub, stream: stream, formatter: formatter}
}

func (s *SSESink) SetLogger(l rowwatch.Logger) { s.logger = l }

func (s *SSESink) Write(ctx context.Context, ev *rowwatch.Event) error {
	if ev == nil {
		return nil
	}
	data, err := s.formatter.Format(ev)
	if err != nil {
		return fmt.Errorf("sse sink: format event: %w", err)
	}

	s.hub.Publish(s.stream, sse.Event{
		ID:    ev.ID,
		Event: string(ev.Kind),
		Data:  data,
	})

	if s.logger != nil {
		s.logger.Debug("SSE published", "stream", s.stream, "event_id", ev.ID, "subscribers", s.hub.Subscribers(s.stream))
	}
	return nil
}

func (s *SSESink) Ping(ctx context.Context) error { return nil }

func (s *SSESink) Close() error { return nil }
