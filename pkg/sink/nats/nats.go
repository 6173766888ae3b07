package nats

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/user/rowwatch"
	jsonfmt "github.com/user/rowwatch/pkg/formatter/json"
)

// Options configures a NatsSink.
type Options struct {
	URL       string
	Subject   string
	Username  string
	Password  string
	Token     string
	JetStream bool
	// PerKind appends the event kind to the subject, e.g. rowwatch.events.updated.
	PerKind bool
}

// NatsSink publishes events to a NATS subject. With JetStream enabled the
// event ID is sent as Nats-Msg-Id so the stream discards redeliveries.
type NatsSink struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	subject   string
	perKind   bool
	formatter rowwatch.Formatter
}

// NewNatsSink connects to NATS and returns a sink.
func NewNatsSink(opts Options, formatter rowwatch.Formatter) (*NatsSink, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if strings.TrimSpace(opts.Subject) == "" {
		return nil, fmt.Errorf("nats sink: subject is required")
	}
	if formatter == nil {
		formatter = jsonfmt.NewJSONFormatter()
	}

	natsOpts := []nats.Option{nats.Name("rowwatch")}
	if opts.Token != "" {
		natsOpts = append(natsOpts, nats.Token(opts.Token))
	} else if opts.Username != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.Username, opts.Password))
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	s := &NatsSink{
		nc:        nc,
		subject:   opts.Subject,
		perKind:   opts.PerKind,
		formatter: formatter,
	}
	if opts.JetStream {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		s.js = js
	}
	return s, nil
}

func subjectFor(base string, perKind bool, kind rowwatch.EventKind) string {
	if !perKind {
		return base
	}
	return base + "." + string(kind)
}

func (s *NatsSink) message(ev *rowwatch.Event, data []byte) *nats.Msg {
	msg := nats.NewMsg(subjectFor(s.subject, s.perKind, ev.Kind))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, ev.ID)
	msg.Header.Set("Rowwatch-Kind", string(ev.Kind))
	msg.Header.Set("Rowwatch-Table", ev.Table)
	return msg
}

// Write publishes an event.
func (s *NatsSink) Write(ctx context.Context, ev *rowwatch.Event) error {
	if ev == nil {
		return nil
	}
	data, err := s.formatter.Format(ev)
	if err != nil {
		return fmt.Errorf("failed to format event: %w", err)
	}
	msg := s.message(ev, data)

	if s.js != nil {
		if _, err := s.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to publish event to JetStream: %w", err)
		}
		return nil
	}
	if err := s.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish event to NATS: %w", err)
	}
	return nil
}

// Ping checks if the NATS connection is alive.
func (s *NatsSink) Ping(ctx context.Context) error {
	if s.nc == nil {
		return fmt.Errorf("nats connection is nil")
	}
	if !s.nc.IsConnected() {
		return fmt.Errorf("nats is not connected")
	}
	return nil
}

// Close drains and closes the NATS connection.
func (s *NatsSink) Close() error {
	if s.nc == nil {
		return nil
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return err
	}
	return nil
}
