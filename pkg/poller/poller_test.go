package poller

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/rowwatch"
	"github.com/user/rowwatch/pkg/gateway"
	"github.com/user/rowwatch/pkg/record"
)

type fakeGateway struct {
	mu sync.Mutex

	rows         []*record.Record // most recent first
	probeOK      bool
	verifyErr    error
	watermarkErr error
	recentErr    error
	panicMsg     string

	recentCalls int
}

func newFakeGateway(rows ...*record.Record) *fakeGateway {
	return &fakeGateway{rows: rows, probeOK: true}
}

func (g *fakeGateway) FetchWatermark(ctx context.Context, table string) (*record.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	if g.watermarkErr != nil {
		return nil, g.watermarkErr
	}
	if len(g.rows) == 0 {
		return nil, nil
	}
	return g.rows[0], nil
}

func (g *fakeGateway) FetchRecent(ctx context.Context, table string, limit int) ([]*record.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recentCalls++
	if g.recentErr != nil {
		return nil, g.recentErr
	}
	n := len(g.rows)
	if n > limit {
		n = limit
	}
	out := make([]*record.Record, n)
	copy(out, g.rows[:n])
	return out, nil
}

func (g *fakeGateway) Probe(ctx context.Context, table string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.probeOK
}

func (g *fakeGateway) Verify(ctx context.Context, table string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyErr
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *fakeGateway) push(rec *record.Record) {
	g.set(func(g *fakeGateway) { g.rows = append([]*record.Record{rec}, g.rows...) })
}

type recordingSink struct {
	mu     sync.Mutex
	events []*rowwatch.Event
	err    error
	onFn   func(ev *rowwatch.Event)
}

func (s *recordingSink) Write(ctx context.Context, ev *rowwatch.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	fn := s.onFn
	err := s.err
	s.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
	return err
}

func (s *recordingSink) Ping(ctx context.Context) error { return nil }
func (s *recordingSink) Close() error                   { return nil }

func (s *recordingSink) all() []*rowwatch.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*rowwatch.Event(nil), s.events...)
}

func (s *recordingSink) kinds() []rowwatch.EventKind {
	var out []rowwatch.EventKind
	for _, ev := range s.all() {
		out = append(out, ev.Kind)
	}
	return out
}

func (s *recordingSink) count(kind rowwatch.EventKind) int {
	n := 0
	for _, ev := range s.all() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func row(id, serial string) *record.Record {
	return record.New(id, serial, map[string]record.Value{"voltage": record.DecimalValue(1.5)})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Table = "Results"
	return cfg
}

// startPoller starts p with a schedule long enough that only cycle 0 and
// forced cycles run during the test.
func startPoller(t *testing.T, gw Gateway, sink rowwatch.Sink, cfg Config) *Poller {
	t.Helper()
	p := New(gw, sink, cfg)
	p.SetLogger(rowwatch.NopLogger{})
	require.NoError(t, p.Start(context.Background(), time.Hour))
	t.Cleanup(func() { _ = p.Stop() })

	require.Eventually(t, func() bool { return p.Status().Cycles >= 1 }, 2*time.Second, 5*time.Millisecond)
	return p
}

func forceCycles(t *testing.T, p *Poller, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, p.ForceCycle(context.Background()))
	}
}

func TestLifecycleErrors(t *testing.T) {
	sink := &recordingSink{}

	p := New(nil, sink, testConfig())
	assert.ErrorIs(t, p.Start(context.Background(), time.Second), rowwatch.ErrNotConfigured)

	p = New(newFakeGateway(), sink, DefaultConfig())
	assert.ErrorIs(t, p.Start(context.Background(), time.Second), rowwatch.ErrNotConfigured)

	p = New(newFakeGateway(), sink, testConfig())
	p.SetLogger(rowwatch.NopLogger{})
	assert.ErrorIs(t, p.Stop(), rowwatch.ErrNotRunning)
	assert.ErrorIs(t, p.ForceCycle(context.Background()), rowwatch.ErrNotRunning)
	assert.Error(t, p.Start(context.Background(), 0))
	assert.Equal(t, StateIdle, p.Status().State)

	require.NoError(t, p.Start(context.Background(), time.Hour))
	assert.ErrorIs(t, p.Start(context.Background(), time.Hour), rowwatch.ErrAlreadyRunning)
	assert.True(t, p.Running())

	require.NoError(t, p.Stop())
	assert.False(t, p.Running())
	assert.ErrorIs(t, p.Stop(), rowwatch.ErrNotRunning)
	<-p.Done()

	// A stopped poller can be started again with a fresh baseline.
	require.NoError(t, p.Start(context.Background(), time.Hour))
	require.NoError(t, p.Stop())
}

func TestBaselineThenSilenceWhenUnchanged(t *testing.T) {
	gw := newFakeGateway(row("2", "B"), row("1", "A"))
	sink := &recordingSink{}
	p := startPoller(t, gw, sink, testConfig())

	forceCycles(t, p, 10)

	events := sink.all()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, rowwatch.EventBaseline, ev.Kind)
	assert.Equal(t, uint64(0), ev.Cycle)
	assert.Equal(t, "B", ev.Record.Serial())
	require.Len(t, ev.Batch, 2)
	assert.Equal(t, "B", ev.Batch[0].Serial())

	st := p.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, uint64(11), st.Cycles)
	require.NotNil(t, st.Baseline)
	assert.Equal(t, record.Watermark{Identity: "2", Serial: "B"}, *st.Baseline)
}

func TestSerialChangeEmitsOneUpdated(t *testing.T) {
	gw := newFakeGateway(row("1", "A"))
	sink := &recordingSink{}
	p := startPoller(t, gw, sink, testConfig())

	gw.push(row("2", "B"))
	forceCycles(t, p, 3)

	assert.Equal(t, []rowwatch.EventKind{rowwatch.EventBaseline, rowwatch.EventUpdated}, sink.kinds())
	upd := sink.all()[1]
	assert.Equal(t, `serial "A" -> "B"; identity "1" -> "2"`, upd.Change)
	assert.Equal(t, "B", upd.Record.Serial())
	require.Len(t, upd.Batch, 2)
	assert.Equal(t, "B", upd.Batch[0].Serial())
	assert.Equal(t, uint64(1), upd.Cycle)
}

func TestIdentityOnlyChangeEmitsUpdated(t *testing.T) {
	gw := newFakeGateway(row("1", "A"))
	sink := &recordingSink{}
	p := startPoller(t, gw, sink, testConfig())

	gw.set(func(g *fakeGateway) { g.rows = []*record.Record{row("9", "A")} })
	forceCycles(t, p, 2)

	require.Equal(t, 1, sink.count(rowwatch.EventUpdated))
	assert.Equal(t, `identity "1" -> "9"`, sink.all()[1].Change)
}

func TestCaseOnlyDifferenceIsNotAChange(t *testing.T) {
	gw := newFakeGateway(row("1", "sn-a"))
	sink := &recordingSink{}
	p := startPoller(t, gw, sink, testConfig())

	gw.set(func(g *fakeGateway) { g.rows = []*record.Record{row("1", "SN-A")} })
	forceCycles(t, p, 3)

	assert.Equal(t, []rowwatch.EventKind{rowwatch.EventBaseline}, sink.kinds())
}

func TestEmptyTableWaitsForFirstRow(t *testing.T) {
	gw := newFakeGateway()
	sink := &recordingSink{}
	p := startPoller(t, gw, sink, testConfig())

	forceCycles(t, p, 2)
	assert.Empty(t, sink.all())
	assert.Nil(t, p.Status().Baseline)

	gw.push(row("1", "A"))
	forceCycles(t, p, 2)
	assert.Equal(t, []rowwatch.EventKind{rowwatch.EventBaseline}, sink.kinds())
}

func TestConnectionLossIsNotCounted(t *testing.T) {
	gw := newFakeGateway(row("1", "A"))
	sink := &recordingSink{}
	cfg := testConfig()
	cfg.MaxRetries = 2
	p := startPoller(t, gw, sink, cfg)

	gw.set(func(g *fakeGateway) {
		g.probeOK = false
		g.verifyErr = &rowwatch.ConnectionError{Op: "verify", Err: errors.New("file locked")}
	})
	forceCycles(t, p, 5)

	assert.True(t, p.Running(), "connection loss never exhausts the retry budget")
	assert.Equal(t, 5, sink.count(rowwatch.EventWarning))
	for _, ev := range sink.all()[1:] {
		assert.Equal(t, rowwatch.CategoryConnection, ev.Category)
		assert.Contains(t, ev.Message, "file locked")
	}
	assert.Equal(t, 0, p.Status().Retries)

	// Restored with no new rows: no data event.
	gw.set(func(g *fakeGateway) { g.probeOK = true; g.verifyErr = nil })
	forceCycles(t, p, 1)
	assert.Equal(t, 0, sink.count(rowwatch.EventUpdated))

	// Restored with a new row: exactly one Updated.
	gw.push(row("2", "B"))
	forceCycles(t, p, 2)
	assert.Equal(t, 1, sink.count(rowwatch.EventUpdated))
}

func TestReconnectRecoversWithinCycle(t *testing.T) {
	gw := newFakeGateway(row("1", "A"))
	sink := &recordingSink{}
	p := startPoller(t, gw, sink, testConfig())

	gw.set(func(g *fakeGateway) { g.probeOK = false })
	gw.push(row("2", "B"))
	forceCycles(t, p, 1)

	assert.Equal(t, []rowwatch.EventKind{rowwatch.EventBaseline, rowwatch.EventUpdated}, sink.kinds())
}

func TestConnectionErrorFromFetchIsNotCounted(t *testing.T) {
	gw := newFakeGateway(row("1", "A"))
	sink := &recordingSink{}
	p := startPoller(t, gw, sink, testConfig())

	gw.set(func(g *fakeGateway) {
		g.watermarkErr = &rowwatch.ConnectionError{Op: "fetch_watermark", Err: errors.New("dropped")}
	})
	forceCycles(t, p, 8)

	assert.True(t, p.Running())
	assert.Equal(t, 0, p.Status().Retries)
	assert.Equal(t, 8, sink.count(rowwatch.EventWarning))
	assert.Equal(t, 0, sink.count(rowwatch.EventFatal))
}

func TestRetryBudgetExhaustionEmitsOneFatal(t *testing.T) {
	gw := newFakeGateway(row("1", "A"))
	sink := &recordingSink{}
	p := startPoller(t, gw, sink, testConfig())

	gw.set(func(g *fakeGateway) {
		g.watermarkErr = &rowwatch.QueryError{Op: "fetch_watermark", Table: "Results", Err: errors.New("no such column")}
	})
	forceCycles(t, p, 5)
	assert.Equal(t, 5, sink.count(rowwatch.EventWarning))
	assert.True(t, p.Running())
	assert.Equal(t, 5, p.Status().Retries)

	// Sixth consecutive failure exceeds MaxRetries.
	require.NoError(t, p.ForceCycle(context.Background()))
	assert.Equal(t, 1, sink.count(rowwatch.EventFatal))
	assert.False(t, p.Running())

	fatal := sink.all()[len(sink.all())-1]
	assert.Equal(t, rowwatch.EventFatal, fatal.Kind)
	assert.Equal(t, rowwatch.CategoryQuery, fatal.Category)
	assert.Equal(t, 6, fatal.Retry)
	assert.Contains(t, fatal.Message, rowwatch.ErrRetryBudgetExceeded.Error())

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not exit after auto-stop")
	}

	st := p.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, "retry_budget", st.StoppedBy)
	assert.ErrorIs(t, p.ForceCycle(context.Background()), rowwatch.ErrNotRunning)
	assert.Equal(t, 1, sink.count(rowwatch.EventFatal))
}

func TestQueryErrorFromVerifyIsCounted(t *testing.T) {
	gw := newFakeGateway(row("1", "A"))
	sink := &recordingSink{}
	cfg := testConfig()
	p := startPoller(t, gw, sink, cfg)

	gw.set(func(g *fakeGateway) {
		g.probeOK = false
		g.verifyErr = &rowwatch.QueryError{Op: "verify", Table: "Results", Err: errors.New("no such table: Results")}
	})
	forceCycles(t, p, cfg.MaxRetries)
	assert.True(t, p.Running())
	assert.Equal(t, cfg.MaxRetries, p.Status().Retries)
	for _, ev := range sink.all()[1:] {
		assert.Equal(t, rowwatch.EventWarning, ev.Kind)
		assert.Equal(t, rowwatch.CategoryQuery, ev.Category)
	}

	require.NoError(t, p.ForceCycle(context.Background()))
	assert.Equal(t, 1, sink.count(rowwatch.EventFatal))
	assert.False(t, p.Running())

	fatal := sink.all()[len(sink.all())-1]
	assert.Equal(t, rowwatch.CategoryQuery, fatal.Category)
	assert.Equal(t, cfg.MaxRetries+1, fatal.Retry)
}

func TestDroppedTableExhaustsRetryBudget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE Results (ID INTEGER PRIMARY KEY, SerialNumber TEXT, Voltage REAL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO Results (ID, SerialNumber, Voltage) VALUES (1, 'A', 12.5)`)
	require.NoError(t, err)

	gw, err := gateway.New(gateway.Config{
		Driver:         "sqlite",
		DSN:            path,
		IdentityColumn: "ID",
		SerialColumn:   "SerialNumber",
	})
	require.NoError(t, err)
	gw.SetLogger(rowwatch.NopLogger{})

	sink := &recordingSink{}
	cfg := testConfig()
	p := startPoller(t, gw, sink, cfg)
	require.Equal(t, []rowwatch.EventKind{rowwatch.EventBaseline}, sink.kinds())

	_, err = db.Exec(`DROP TABLE Results`)
	require.NoError(t, err)

	forceCycles(t, p, cfg.MaxRetries+1)

	assert.Equal(t, cfg.MaxRetries, sink.count(rowwatch.EventWarning))
	assert.Equal(t, 1, sink.count(rowwatch.EventFatal))
	assert.False(t, p.Running())
	for _, ev := range sink.all()[1:] {
		assert.Equal(t, rowwatch.CategoryQuery, ev.Category)
	}
	assert.Equal(t, "retry_budget", p.Status().StoppedBy)
}

func TestSuccessResetsRetries(t *testing.T) {
	gw := newFakeGateway(row("1", "A"))
	sink := &recordingSink{}
	p := startPoller(t, gw, sink, testConfig())

	queryErr := &rowwatch.QueryError{Op: "fetch_watermark", Table: "Results", Err: errors.New("timeout")}
	gw.set(func(g *fakeGateway) { g.watermarkErr = queryErr })
	forceCycles(t, p, 4)
	assert.Equal(t, 4, p.Status().Retries)

	gw.set(func(g *fakeGateway) { g.watermarkErr = nil })
	forceCycles(t, p, 1)
	assert.Equal(t, 0, p.Status().Retries)

	gw.set(func(g *fakeGateway) { g.watermarkErr = queryErr })
	forceCycles(t, p, 5)
	assert.True(t, p.Running())
	assert.Equal(t, 0, sink.count(rowwatch.EventFatal))
}

func TestFailedBatchReadDoesNotLoseChange(t *testing.T) {
	gw := newFakeGateway(row("1", "A"))
	sink := &recordingSink{}
	p := startPoller(t, gw, sink, testConfig())

	gw.push(row("2", "B"))
	gw.set(func(g *fakeGateway) {
		g.recentErr = &rowwatch.QueryError{Op: "fetch_recent", Table: "Results", Err: errors.New("busy")}
	})
	forceCycles(t, p, 1)
	assert.Equal(t, []rowwatch.EventKind{rowwatch.EventBaseline, rowwatch.EventWarning}, sink.kinds())
	assert.Equal(t, "A", p.Status().Baseline.Serial)

	gw.set(func(g *fakeGateway) { g.recentErr = nil })
	forceCycles(t, p, 2)
	assert.Equal(t, 1, sink.count(rowwatch.EventUpdated))
	assert.Equal(t, "B", p.Status().Baseline.Serial)
}

func TestBaselineWaitsForBatch(t *testing.T) {
	gw := newFakeGateway(row("1", "A"))
	gw.recentErr = errors.New("busy")
	sink := &recordingSink{}
	p := startPoller(t, gw, sink, testConfig())

	assert.Equal(t, []rowwatch.EventKind{rowwatch.EventWarning}, sink.kinds())
	assert.Equal(t, rowwatch.CategoryInternal, sink.all()[0].Category)
	assert.Nil(t, p.Status().Baseline)

	gw.set(func(g *fakeGateway) { g.recentErr = nil })
	forceCycles(t, p, 1)
	assert.Equal(t, 1, sink.count(rowwatch.EventBaseline))
}

func TestPanicIsCountedAsFailure(t *testing.T) {
	gw := newFakeGateway(row("1", "A"))
	sink := &recordingSink{}
	p := startPoller(t, gw, sink, testConfig())

	gw.set(func(g *fakeGateway) { g.panicMsg = "driver exploded" })
	forceCycles(t, p, 1)

	require.Equal(t, 1, sink.count(rowwatch.EventWarning))
	warn := sink.all()[1]
	assert.Equal(t, rowwatch.CategoryInternal, warn.Category)
	assert.Contains(t, warn.Message, "driver exploded")
	assert.Equal(t, 1, p.Status().Retries)
}

func TestSinkErrorDoesNotAffectPolling(t *testing.T) {
	gw := newFakeGateway(row("1", "A"))
	sink := &recordingSink{err: errors.New("printer offline")}
	p := startPoller(t, gw, sink, testConfig())

	gw.push(row("2", "B"))
	forceCycles(t, p, 2)

	assert.Equal(t, []rowwatch.EventKind{rowwatch.EventBaseline, rowwatch.EventUpdated}, sink.kinds())
	assert.Equal(t, 0, p.Status().Retries)
	assert.True(t, p.Running())
}

func TestSinkMayStopPoller(t *testing.T) {
	gw := newFakeGateway(row("1", "A"))
	sink := &recordingSink{}
	p := New(gw, sink, testConfig())
	p.SetLogger(rowwatch.NopLogger{})
	sink.onFn = func(ev *rowwatch.Event) {
		if ev.Kind == rowwatch.EventBaseline {
			_ = p.Stop()
		}
	}

	require.NoError(t, p.Start(context.Background(), time.Hour))
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	assert.False(t, p.Running())
	assert.Equal(t, "stop", p.Status().StoppedBy)
}

func TestContextCancellationStopsPoller(t *testing.T) {
	gw := newFakeGateway(row("1", "A"))
	sink := &recordingSink{}
	p := New(gw, sink, testConfig())
	p.SetLogger(rowwatch.NopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx, 10*time.Millisecond))
	require.Eventually(t, func() bool { return p.Status().Cycles >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not exit on cancellation")
	}
	assert.False(t, p.Running())
	assert.Equal(t, 1, sink.count(rowwatch.EventBaseline))
	assert.Equal(t, 0, sink.count(rowwatch.EventUpdated))
}

func TestScheduledCyclesDetectChanges(t *testing.T) {
	gw := newFakeGateway(row("1", "A"))
	sink := &recordingSink{}
	p := New(gw, sink, testConfig())
	p.SetLogger(rowwatch.NopLogger{})
	require.NoError(t, p.Start(context.Background(), 10*time.Millisecond))
	defer p.Stop()

	require.Eventually(t, func() bool { return sink.count(rowwatch.EventBaseline) == 1 }, 2*time.Second, 5*time.Millisecond)
	gw.push(row("2", "B"))
	require.Eventually(t, func() bool { return sink.count(rowwatch.EventUpdated) == 1 }, 2*time.Second, 5*time.Millisecond)

	kinds := sink.kinds()
	assert.Equal(t, rowwatch.EventBaseline, kinds[0])
}
