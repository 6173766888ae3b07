package file

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/user/rowwatch"
	jsonfmt "github.com/user/rowwatch/pkg/formatter/json"
)

// FileSink appends one formatted event per line to a file.
type FileSink struct {
	filename  string
	file      *os.File
	formatter rowwatch.Formatter
	mu        sync.Mutex
}

func NewFileSink(filename string, formatter rowwatch.Formatter) (*FileSink, error) {
	if filename == "" {
		return nil, fmt.Errorf("file sink: path is required")
	}
	if formatter == nil {
		formatter = jsonfmt.NewJSONFormatter()
	}
	return &FileSink{
		filename:  filename,
		formatter: formatter,
	}, nil
}

// ensureOpen must be called with mu held.
func (s *FileSink) ensureOpen() error {
	if s.file != nil {
		return nil
	}
	f, err := os.OpenFile(s.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	s.file = f
	return nil
}

func (s *FileSink) Write(ctx context.Context, ev *rowwatch.Event) error {
	if ev == nil {
		return nil
	}
	data, err := s.formatter.Format(ev)
	if err != nil {
		return fmt.Errorf("failed to format event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

func (s *FileSink) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureOpen()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
