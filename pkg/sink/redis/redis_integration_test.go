//go:build integration

package redis

import (
	"context"
	"os"
	"testing"

	"github.com/user/rowwatch"
	"github.com/user/rowwatch/pkg/record"
)

func TestRedisSink_Write(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("integration test: set REDIS_ADDR to run")
	}

	snk, err := NewRedisSink(Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD"), Stream: "rowwatch-test"}, nil)
	if err != nil {
		t.Fatalf("failed to create RedisSink: %v", err)
	}
	defer snk.Close()

	rec := record.New("1", "SN-1", nil)
	ev := rowwatch.NewBaseline("Results", 0, rec, []*record.Record{rec})

	if err := snk.Write(context.Background(), ev); err != nil {
		t.Fatalf("failed to write to RedisSink: %v", err)
	}
	if snk.LastWriteDeduplicated() {
		t.Fatal("first write must not be deduplicated")
	}
	if err := snk.Write(context.Background(), ev); err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	if !snk.LastWriteDeduplicated() {
		t.Error("repeated event id should be deduplicated")
	}
}
