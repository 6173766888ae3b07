package nats

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/user/rowwatch"
)

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		perKind bool
		kind    rowwatch.EventKind
		want    string
	}{
		{false, rowwatch.EventUpdated, "rowwatch.events"},
		{true, rowwatch.EventUpdated, "rowwatch.events.updated"},
		{true, rowwatch.EventFatal, "rowwatch.events.fatal"},
	}
	for _, tt := range tests {
		if got := subjectFor("rowwatch.events", tt.perKind, tt.kind); got != tt.want {
			t.Errorf("subjectFor(%v, %s) = %s, want %s", tt.perKind, tt.kind, got, tt.want)
		}
	}
}

func TestNatsSink_MessageHeaders(t *testing.T) {
	s := &NatsSink{subject: "rowwatch.events", perKind: true}
	ev := rowwatch.NewWarning("Results", 2, rowwatch.CategoryConnection, 0, "offline")

	msg := s.message(ev, []byte("{}"))
	if msg.Subject != "rowwatch.events.warning" {
		t.Errorf("unexpected subject %s", msg.Subject)
	}
	if got := msg.Header.Get(nats.MsgIdHdr); got != ev.ID {
		t.Errorf("expected msg id %s, got %s", ev.ID, got)
	}
	if got := msg.Header.Get("Rowwatch-Table"); got != "Results" {
		t.Errorf("unexpected table header %s", got)
	}
}

func TestNewNatsSink_RequiresSubject(t *testing.T) {
	if _, err := NewNatsSink(Options{URL: "nats://127.0.0.1:4222"}, nil); err == nil {
		t.Error("expected error for empty subject")
	}
}
