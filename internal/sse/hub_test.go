package sse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("events", 2)
	defer unsub()

	h.Publish("events", Event{ID: "1", Event: "baseline", Data: []byte("{}")})
	h.Publish("other", Event{ID: "x"})

	select {
	case ev := <-ch:
		assert.Equal(t, "1", ev.ID)
		assert.Equal(t, "baseline", ev.Event)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	assert.Equal(t, 1, h.Subscribers("events"))
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("events", 1)
	defer unsub()

	h.Publish("events", Event{ID: "1"})
	h.Publish("events", Event{ID: "2"})

	ev := <-ch
	assert.Equal(t, "1", ev.ID)
	assert.EqualValues(t, 1, h.Dropped())
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.ID)
	default:
	}
}

func TestHubUnsubscribeAfterShutdownIsSafe(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("events", 1)
	h.Shutdown()

	_, ok := <-ch
	assert.False(t, ok)
	assert.NotPanics(t, unsub)
	assert.NotPanics(t, unsub)
	assert.NotPanics(t, h.Shutdown)

	late, _ := h.Subscribe("events", 1)
	_, ok = <-late
	assert.False(t, ok)
}

func TestHubStream(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stop := errors.New("stop")
	done := make(chan error, 1)
	go func() {
		done <- h.Stream(ctx, "events", 4, func(ev Event) error {
			if ev.ID == "last" {
				return stop
			}
			return nil
		})
	}()

	require.True(t, h.WaitUntil("events", time.Second))
	h.Publish("events", Event{ID: "first"})
	h.Publish("events", Event{ID: "last"})

	assert.ErrorIs(t, <-done, stop)
	assert.Equal(t, 0, h.Subscribers("events"))
}
