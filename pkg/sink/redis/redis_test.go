package redis

import (
	"testing"

	"github.com/user/rowwatch"
)

func TestNewRedisSink_Defaults(t *testing.T) {
	if _, err := NewRedisSink(Options{}, nil); err == nil {
		t.Fatal("expected error without addr")
	}

	s, err := NewRedisSink(Options{Addr: "localhost:6379"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.stream != defaultStream {
		t.Errorf("expected default stream, got %s", s.stream)
	}
	if s.dedupTTL != defaultDedupTTL {
		t.Errorf("expected default ttl, got %v", s.dedupTTL)
	}
	if got := s.dedupKey("abc"); got != "rowwatch:idemp:rowwatch:events:abc" {
		t.Errorf("unexpected dedup key %s", got)
	}
}

func TestRedisSink_StreamArgs(t *testing.T) {
	s, _ := NewRedisSink(Options{Addr: "localhost:6379", Stream: "labels", MaxLen: 1000}, nil)
	ev := rowwatch.NewWarning("Results", 3, rowwatch.CategoryQuery, 1, "boom")

	args := s.streamArgs(ev, []byte("{}"))
	if args.Stream != "labels" {
		t.Errorf("unexpected stream %s", args.Stream)
	}
	if args.MaxLen != 1000 || !args.Approx {
		t.Errorf("expected approximate trimming at 1000, got %d/%v", args.MaxLen, args.Approx)
	}
	values := args.Values.(map[string]any)
	if values["kind"] != "warning" || values["id"] != ev.ID || values["table"] != "Results" {
		t.Errorf("unexpected values %v", values)
	}
}
