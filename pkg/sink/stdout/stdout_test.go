package stdout

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/user/rowwatch"
)

func TestStdoutSink_WritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf, nil)

	if err := sink.Write(context.Background(), rowwatch.NewWarning("Results", 1, rowwatch.CategoryQuery, 1, "first")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := sink.Write(context.Background(), rowwatch.NewWarning("Results", 2, rowwatch.CategoryQuery, 2, "second")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := sink.Write(context.Background(), nil); err != nil {
		t.Fatalf("nil event should be ignored: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"message":"first"`) {
		t.Errorf("unexpected first line: %s", lines[0])
	}
}
