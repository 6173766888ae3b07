package json

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/user/rowwatch"
)

type JSONMode string

const (
	// ModeFull encodes the whole event envelope.
	ModeFull JSONMode = "full"
	// ModeRecord encodes only the watermark record; non-data events fall back
	// to the full envelope.
	ModeRecord JSONMode = "record"
	// ModeCompact drops the batch from data events.
	ModeCompact JSONMode = "compact"
)

var errNilEvent = errors.New("cannot format nil event")

type JSONFormatter struct {
	Mode JSONMode
}

func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{Mode: ModeFull}
}

func (f *JSONFormatter) SetMode(mode JSONMode) {
	f.Mode = mode
}

func (f *JSONFormatter) Format(ev *rowwatch.Event) ([]byte, error) {
	if ev == nil {
		return nil, errNilEvent
	}

	var v interface{} = ev
	switch f.Mode {
	case ModeRecord:
		if ev.IsData() && ev.Record != nil {
			v = ev.Record
		}
	case ModeCompact:
		if ev.IsData() {
			c := *ev
			c.Batch = nil
			v = &c
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event to JSON: %w", err)
	}
	return data, nil
}
