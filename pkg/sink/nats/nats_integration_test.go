//go:build integration

package nats

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/user/rowwatch"
)

func TestNatsSink_Publish(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("integration test: set NATS_URL to run")
	}

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	sub, err := nc.SubscribeSync("rowwatch.test.>")
	if err != nil {
		t.Fatal(err)
	}

	snk, err := NewNatsSink(Options{URL: url, Subject: "rowwatch.test", PerKind: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer snk.Close()

	ev := rowwatch.NewWarning("Results", 1, rowwatch.CategoryQuery, 1, "boom")
	if err := snk.Write(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Subject != "rowwatch.test.warning" {
		t.Errorf("unexpected subject %s", msg.Subject)
	}
}
