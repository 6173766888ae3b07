package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/user/rowwatch"
)

type fakeStore struct {
	healthy   bool
	verifyErr error
	probes    int
	verifies  int
	lastTable string
}

func (f *fakeStore) Probe(ctx context.Context, table string) bool {
	f.probes++
	f.lastTable = table
	return f.healthy
}

func (f *fakeStore) Verify(ctx context.Context, table string) error {
	f.verifies++
	f.lastTable = table
	return f.verifyErr
}

type counter struct{ resets int }

func (c *counter) ResetRetries() { c.resets++ }

func TestCheckerAlwaysProbes(t *testing.T) {
	store := &fakeStore{healthy: true}
	c := NewChecker(store, "Results")

	assert.True(t, c.IsHealthy(context.Background()))
	assert.True(t, c.IsHealthy(context.Background()))
	assert.Equal(t, 2, store.probes, "no cached verdicts")
	assert.Equal(t, "Results", store.lastTable)

	store.healthy = false
	assert.False(t, c.IsHealthy(context.Background()))
}

func TestReconnectSuccessResetsRetries(t *testing.T) {
	store := &fakeStore{}
	r := NewReconnector(store, "Results")
	state := &counter{}

	assert.True(t, r.Reconnect(context.Background(), state))
	assert.Equal(t, 1, state.resets)
	assert.Equal(t, 1, store.verifies)
	assert.NoError(t, r.LastError())
}

func TestReconnectFailureIsSingleAttempt(t *testing.T) {
	cause := &rowwatch.ConnectionError{Op: "verify", Err: errors.New("file locked")}
	store := &fakeStore{verifyErr: cause}
	r := NewReconnector(store, "Results")
	state := &counter{}

	assert.False(t, r.Reconnect(context.Background(), state))
	assert.Equal(t, 1, store.verifies)
	assert.Equal(t, 0, state.resets)
	assert.ErrorIs(t, r.LastError(), cause)
}

func TestReconnectNilState(t *testing.T) {
	r := NewReconnector(&fakeStore{}, "Results")
	assert.True(t, r.Reconnect(context.Background(), nil))
}
