package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/user/rowwatch"
	jsonfmt "github.com/user/rowwatch/pkg/formatter/json"
)

// HttpSink POSTs each event to a webhook, typically the print service.
type HttpSink struct {
	url        string
	client     *http.Client
	formatter  rowwatch.Formatter
	headers    map[string]string
	pingMethod string
}

func NewHttpSink(url string, formatter rowwatch.Formatter, headers map[string]string) *HttpSink {
	if formatter == nil {
		formatter = jsonfmt.NewJSONFormatter()
	}
	return &HttpSink{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		formatter:  formatter,
		headers:    headers,
		pingMethod: http.MethodHead,
	}
}

func (s *HttpSink) SetPingMethod(method string) {
	s.pingMethod = method
}

func (s *HttpSink) Write(ctx context.Context, ev *rowwatch.Event) error {
	if ev == nil {
		return nil
	}
	data, err := s.formatter.Format(ev)
	if err != nil {
		return fmt.Errorf("failed to format event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Rowwatch-Event", string(ev.Kind))
	req.Header.Set("X-Rowwatch-Event-Id", ev.ID)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

func (s *HttpSink) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, s.pingMethod, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create ping request: %w", err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send ping request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ping failed with status code: %d", resp.StatusCode)
	}
	return nil
}

func (s *HttpSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
