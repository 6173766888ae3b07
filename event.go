package rowwatch

import (
	"time"

	"github.com/google/uuid"
	"github.com/user/rowwatch/pkg/record"
)

// EventKind discriminates the events a poller emits.
type EventKind string

const (
	// EventBaseline is emitted once, on the first successful observation after start.
	EventBaseline EventKind = "baseline"
	// EventUpdated is emitted when the watermark changes.
	EventUpdated EventKind = "updated"
	// EventWarning reports a recoverable anomaly.
	EventWarning EventKind = "warning"
	// EventFatal reports that the poller auto-stopped.
	EventFatal EventKind = "fatal"
)

// Category classifies the failure behind a Warning or Fatal event.
type Category string

const (
	CategoryConnection Category = "connection"
	CategoryQuery      Category = "query"
	CategoryInternal   Category = "internal"
)

// Event is what sinks receive. Batch is ordered most-recent-first.
type Event struct {
	ID       string           `json:"id"`
	Kind     EventKind        `json:"kind"`
	Time     time.Time        `json:"time"`
	Table    string           `json:"table"`
	Cycle    uint64           `json:"cycle"`
	Record   *record.Record   `json:"record,omitempty"`
	Batch    []*record.Record `json:"batch,omitempty"`
	Change   string           `json:"change,omitempty"`
	Message  string           `json:"message,omitempty"`
	Category Category         `json:"category,omitempty"`
	Retry    int              `json:"retry,omitempty"`
}

func newEvent(kind EventKind, table string, cycle uint64) *Event {
	return &Event{
		ID:    uuid.NewString(),
		Kind:  kind,
		Time:  time.Now().UTC(),
		Table: table,
		Cycle: cycle,
	}
}

// NewBaseline builds a Baseline event.
func NewBaseline(table string, cycle uint64, rec *record.Record, batch []*record.Record) *Event {
	ev := newEvent(EventBaseline, table, cycle)
	ev.Record = rec
	ev.Batch = batch
	return ev
}

// NewUpdated builds an Updated event.
func NewUpdated(table string, cycle uint64, rec *record.Record, batch []*record.Record, change string) *Event {
	ev := newEvent(EventUpdated, table, cycle)
	ev.Record = rec
	ev.Batch = batch
	ev.Change = change
	return ev
}

// NewWarning builds a Warning event.
func NewWarning(table string, cycle uint64, category Category, retry int, msg string) *Event {
	ev := newEvent(EventWarning, table, cycle)
	ev.Category = category
	ev.Retry = retry
	ev.Message = msg
	return ev
}

// NewFatal builds a Fatal event.
func NewFatal(table string, cycle uint64, category Category, retry int, msg string) *Event {
	ev := newEvent(EventFatal, table, cycle)
	ev.Category = category
	ev.Retry = retry
	ev.Message = msg
	return ev
}

// IsData reports whether the event carries rows.
func (e *Event) IsData() bool {
	return e.Kind == EventBaseline || e.Kind == EventUpdated
}
