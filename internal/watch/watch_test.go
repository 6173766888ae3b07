package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/rowwatch"
)

func TestNewValidates(t *testing.T) {
	_, err := New("", time.Second, func(context.Context) error { return nil })
	assert.Error(t, err)
	_, err = New("results.db", time.Second, nil)
	assert.Error(t, err)
}

func TestRelevant(t *testing.T) {
	dir := t.TempDir()
	w, err := New(filepath.Join(dir, "results.db"), 0, func(context.Context) error { return nil })
	require.NoError(t, err)

	assert.True(t, w.relevant(filepath.Join(dir, "results.db")))
	assert.True(t, w.relevant(filepath.Join(dir, "results.db-wal")))
	assert.True(t, w.relevant(filepath.Join(dir, "results.db-journal")))
	assert.False(t, w.relevant(filepath.Join(dir, "other.db")))
	assert.False(t, w.relevant(filepath.Join(dir, "results.dbx")))
}

func TestRunTriggersOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.db")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	var calls atomic.Int32
	w, err := New(path, 100*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return rowwatch.ErrNotRunning
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// A burst of writes collapses into one trigger.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.EqualValues(t, 1, w.Triggers())

	cancel()
	assert.NoError(t, <-done)
}
