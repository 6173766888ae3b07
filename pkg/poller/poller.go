package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/rowwatch"
	"github.com/user/rowwatch/pkg/health"
	"github.com/user/rowwatch/pkg/record"
	"github.com/user/rowwatch/pkg/watermark"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Gateway is the store surface the poller reads through.
type Gateway interface {
	FetchWatermark(ctx context.Context, table string) (*record.Record, error)
	FetchRecent(ctx context.Context, table string, limit int) ([]*record.Record, error)
	Probe(ctx context.Context, table string) bool
	Verify(ctx context.Context, table string) error
}

// Config holds configuration for the Poller.
type Config struct {
	Table          string
	MaxRetries     int
	BatchSize      int
	CycleTimeout   time.Duration
	HeartbeatEvery uint64
}

// DefaultConfig returns the default configuration for the Poller.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		BatchSize:      50,
		CycleTimeout:   30 * time.Second,
		HeartbeatEvery: 30,
	}
}

// outcome labels a finished cycle for logs, metrics and traces.
type outcome string

const (
	outcomeBaseline     outcome = "baseline"
	outcomeUpdated      outcome = "updated"
	outcomeUnchanged    outcome = "unchanged"
	outcomeEmpty        outcome = "empty"
	outcomeDisconnected outcome = "disconnected"
	outcomeWarning      outcome = "warning"
	outcomeFatal        outcome = "fatal"
	outcomeCanceled     outcome = "canceled"
)

// Poller watches one table and emits change events to a sink.
type Poller struct {
	gateway     Gateway
	sink        rowwatch.Sink
	config      Config
	checker     *health.Checker
	reconnector *health.Reconnector
	logger      rowwatch.Logger
	tracer      trace.Tracer
	otel        *instruments

	// cycleMu spans exactly one cycle and guards the run's pollState.
	cycleMu sync.Mutex

	// mu guards the lifecycle fields below; never held while taking cycleMu.
	mu      sync.Mutex
	current *run
}

// New creates a poller. A nil gateway or empty table leaves the poller
// unconfigured and Start will fail.
func New(gateway Gateway, sink rowwatch.Sink, config Config) *Poller {
	def := DefaultConfig()
	if config.MaxRetries < 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.HeartbeatEvery == 0 {
		config.HeartbeatEvery = def.HeartbeatEvery
	}
	if sink == nil {
		sink = rowwatch.SinkFunc(func(context.Context, *rowwatch.Event) error { return nil })
	}

	p := &Poller{
		gateway: gateway,
		sink:    sink,
		config:  config,
		logger:  NewDefaultLogger(),
		tracer:  otel.Tracer(meterName),
	}
	if in, err := newInstruments(otel.Meter(meterName)); err == nil {
		p.otel = in
	} else {
		p.logger.Warn("OpenTelemetry instruments unavailable", "error", err)
	}
	if gateway != nil {
		p.checker = health.NewChecker(gateway, config.Table)
		p.reconnector = health.NewReconnector(gateway, config.Table)
		p.reconnector.SetLogger(p.logger)
	}
	return p
}

// SetLogger sets the logger for the poller.
func (p *Poller) SetLogger(logger rowwatch.Logger) {
	if logger == nil {
		logger = rowwatch.NopLogger{}
	}
	p.mu.Lock()
	p.logger = logger
	p.mu.Unlock()
	if p.reconnector != nil {
		p.reconnector.SetLogger(logger)
	}
}

func (p *Poller) getLogger() rowwatch.Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logger
}

// Config returns the effective configuration.
func (p *Poller) Config() Config {
	return p.config
}

func (p *Poller) configured() bool {
	return p.gateway != nil && p.config.Table != ""
}

// Start moves the poller from Idle to Running. Cycle 0 runs immediately,
// then one cycle per interval. Cancelling ctx stops the poller.
func (p *Poller) Start(ctx context.Context, interval time.Duration) error {
	if !p.configured() {
		return rowwatch.ErrNotConfigured
	}
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", interval)
	}

	p.mu.Lock()
	if p.current != nil && !p.current.stopped() {
		p.mu.Unlock()
		return rowwatch.ErrAlreadyRunning
	}
	r := newRun(p.config.Table)
	p.current = r
	logger := p.logger
	p.mu.Unlock()

	Running.WithLabelValues(p.config.Table).Set(1)
	RetryCount.WithLabelValues(p.config.Table).Set(0)
	logger.Info("Starting poller", "table", p.config.Table, "interval", interval.String(), "max_retries", p.config.MaxRetries)

	go p.loop(ctx, r, interval)
	return nil
}

// Stop moves the poller from Running to Idle. A cycle already in flight is
// allowed to finish; no further cycles are scheduled.
func (p *Poller) Stop() error {
	p.mu.Lock()
	r := p.current
	if r == nil || r.stopped() {
		p.mu.Unlock()
		return rowwatch.ErrNotRunning
	}
	p.haltLocked(r, "stop")
	logger := p.logger
	p.mu.Unlock()

	logger.Info("Poller stopped", "table", p.config.Table)
	return nil
}

// ForceCycle runs one cycle now, serialized with scheduled cycles, without
// touching the schedule.
func (p *Poller) ForceCycle(ctx context.Context) error {
	p.mu.Lock()
	r := p.current
	p.mu.Unlock()
	if r == nil || r.stopped() {
		return rowwatch.ErrNotRunning
	}
	return p.cycle(ctx, r)
}

// Running reports whether the poller is in the Running state.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil && !p.current.stopped()
}

// Status returns a snapshot taken at the end of the latest cycle.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Status{State: StateIdle, Table: p.config.Table}
	}
	st := p.current.snapshot
	if p.current.stopped() {
		st.State = StateIdle
		st.StoppedBy = p.current.stoppedBy
	}
	return st
}

// Done returns a channel closed when the current run's scheduler exits.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.current.done
}

func (p *Poller) haltLocked(r *run, reason string) {
	if r.halt() {
		r.stoppedBy = reason
		Running.WithLabelValues(p.config.Table).Set(0)
	}
}

func (p *Poller) halt(r *run, reason string) {
	p.mu.Lock()
	p.haltLocked(r, reason)
	p.mu.Unlock()
}

func (p *Poller) loop(ctx context.Context, r *run, interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.scheduled(ctx, r)
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			p.halt(r, "context")
			p.getLogger().Info("Poller stopping due to context cancellation", "table", p.config.Table)
			return
		case <-ticker.C:
			p.scheduled(ctx, r)
		}
	}
}

func (p *Poller) scheduled(ctx context.Context, r *run) {
	if err := p.cycle(ctx, r); err != nil && !errors.Is(err, rowwatch.ErrNotRunning) {
		p.getLogger().Error("Poll cycle failed", "table", p.config.Table, "error", err)
	}
}

// cycle runs one full cycle under the cycle lock.
func (p *Poller) cycle(ctx context.Context, r *run) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	if r.stopped() {
		return rowwatch.ErrNotRunning
	}

	st := r.state
	n := st.cycles
	st.cycles++

	if p.config.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.CycleTimeout)
		defer cancel()
	}
	ctx, span := p.tracer.Start(ctx, "poller.cycle", trace.WithAttributes(
		attribute.String("rowwatch.table", p.config.Table),
		attribute.Int64("rowwatch.cycle", int64(n)),
	))
	defer span.End()

	start := time.Now()
	res := p.execute(ctx, r, n)
	elapsed := time.Since(start)

	st.lastCycle = time.Now()
	CyclesTotal.WithLabelValues(p.config.Table, string(res)).Inc()
	CycleLatency.WithLabelValues(p.config.Table).Observe(elapsed.Seconds())
	p.otel.cycle(context.WithoutCancel(ctx), p.config.Table, res, elapsed.Seconds())
	RetryCount.WithLabelValues(p.config.Table).Set(float64(st.retries))

	span.SetAttributes(attribute.String("rowwatch.outcome", string(res)))
	if st.lastErr != nil && (res == outcomeWarning || res == outcomeFatal) {
		span.RecordError(st.lastErr)
		span.SetStatus(codes.Error, st.lastErr.Error())
	}

	p.updateSnapshot(r)
	p.getLogger().Debug("Poll cycle finished", "table", p.config.Table, "cycle", n, "outcome", string(res), "duration", elapsed.String())
	return nil
}

// execute is the per-cycle algorithm: health check, watermark fetch,
// compare, emit.
func (p *Poller) execute(ctx context.Context, r *run, n uint64) outcome {
	st := r.state

	if !p.checker.IsHealthy(ctx) {
		if !p.reconnector.Reconnect(ctx, st) {
			if ctx.Err() != nil && errors.Is(context.Cause(ctx), context.Canceled) {
				return outcomeCanceled
			}
			// A reachable store that rejects the query (missing table, bad
			// column) is a counted failure, not a disconnect.
			err := p.reconnector.LastError()
			if err != nil && !rowwatch.IsConnectionError(err) {
				return p.fail(ctx, r, n, err)
			}
			return p.disconnected(ctx, r, n, err)
		}
	}

	res, err := p.observe(ctx, st, n)
	if err == nil {
		st.retries = 0
		st.lastErr = nil
		return res
	}

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return outcomeCanceled
	}
	if rowwatch.IsConnectionError(err) {
		return p.disconnected(ctx, r, n, err)
	}
	return p.fail(ctx, r, n, err)
}

// observe covers steps that may fail in a counted way. A panic is turned
// into an error.
func (p *Poller) observe(ctx context.Context, st *pollState, n uint64) (res outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during poll cycle: %v", rec)
		}
	}()

	table := p.config.Table
	rec, err := p.gateway.FetchWatermark(ctx, table)
	if err != nil {
		return "", err
	}
	if rec == nil {
		if n%p.config.HeartbeatEvery == 0 {
			p.getLogger().Info("Watched table is empty, waiting for first row", "table", table, "cycle", n)
		}
		return outcomeEmpty, nil
	}
	wm := rec.Watermark()

	if !st.tracker.Initialized() {
		batch, err := p.gateway.FetchRecent(ctx, table, p.config.BatchSize)
		if err != nil {
			return "", err
		}
		if err := st.tracker.Initialize(wm); err != nil {
			return "", err
		}
		p.getLogger().Info("Baseline established", "table", table, "identity", wm.Identity, "serial", wm.Serial, "rows", len(batch))
		p.emit(ctx, rowwatch.NewBaseline(table, n, rec, batch))
		return outcomeBaseline, nil
	}

	if !st.tracker.Differs(wm) {
		if n%p.config.HeartbeatEvery == 0 {
			base, _ := st.tracker.Baseline()
			p.getLogger().Info("No change detected", "table", table, "cycle", n, "identity", base.Identity, "serial", base.Serial)
		}
		return outcomeUnchanged, nil
	}

	previous, _ := st.tracker.Baseline()
	// Read the batch before committing the new watermark so a failed read
	// leaves the change to be reported by a later cycle.
	batch, err := p.gateway.FetchRecent(ctx, table, p.config.BatchSize)
	if err != nil {
		return "", err
	}
	if st.tracker.Observe(wm) != watermark.Changed {
		return outcomeUnchanged, nil
	}

	change := previous.Describe(wm)
	p.getLogger().Info("Watermark changed", "table", table, "cycle", n, "change", change)
	p.emit(ctx, rowwatch.NewUpdated(table, n, rec, batch, change))
	return outcomeUpdated, nil
}

// disconnected reports an unreachable store. It does not consume retry budget.
func (p *Poller) disconnected(ctx context.Context, r *run, n uint64, err error) outcome {
	msg := "store unreachable"
	if err != nil {
		msg = fmt.Sprintf("store unreachable: %v", err)
	}
	p.getLogger().Warn("Store unreachable, cycle skipped", "table", p.config.Table, "cycle", n, "error", err)
	p.emit(ctx, rowwatch.NewWarning(p.config.Table, n, rowwatch.CategoryConnection, r.state.retries, msg))
	return outcomeDisconnected
}

// fail counts a failure against the retry budget and emits exactly one
// Warning or Fatal.
func (p *Poller) fail(ctx context.Context, r *run, n uint64, err error) outcome {
	st := r.state
	st.retries++
	st.lastErr = err
	category := categorize(err)

	if st.retries > p.config.MaxRetries {
		p.halt(r, "retry_budget")
		fatal := fmt.Errorf("%w: %d consecutive failures, last: %v", rowwatch.ErrRetryBudgetExceeded, st.retries, err)
		st.lastErr = fatal
		p.getLogger().Error("Retry budget exhausted, poller stopped", "table", p.config.Table, "cycle", n, "retries", st.retries, "error", err)
		p.emit(ctx, rowwatch.NewFatal(p.config.Table, n, category, st.retries, fatal.Error()))
		return outcomeFatal
	}

	p.getLogger().Warn("Poll cycle failed", "table", p.config.Table, "cycle", n, "retries", st.retries, "max_retries", p.config.MaxRetries, "error", err)
	p.emit(ctx, rowwatch.NewWarning(p.config.Table, n, category, st.retries, err.Error()))
	return outcomeWarning
}

func categorize(err error) rowwatch.Category {
	switch {
	case rowwatch.IsConnectionError(err):
		return rowwatch.CategoryConnection
	case rowwatch.IsQueryError(err):
		return rowwatch.CategoryQuery
	default:
		return rowwatch.CategoryInternal
	}
}

// emit hands ev to the sink. Emission is not bound by the cycle deadline.
func (p *Poller) emit(ctx context.Context, ev *rowwatch.Event) {
	ctx = context.WithoutCancel(ctx)
	EventsEmitted.WithLabelValues(p.config.Table, string(ev.Kind)).Inc()
	p.otel.event(ctx, p.config.Table, ev.Kind)
	if err := p.sink.Write(ctx, ev); err != nil {
		SinkErrors.WithLabelValues(p.config.Table).Inc()
		p.otel.sinkError(ctx, p.config.Table)
		p.getLogger().Error("Sink rejected event", "table", p.config.Table, "event_id", ev.ID, "kind", string(ev.Kind), "error", err)
	}
}

func (p *Poller) updateSnapshot(r *run) {
	st := r.state
	snap := Status{
		State:     StateRunning,
		Table:     p.config.Table,
		Retries:   st.retries,
		Cycles:    st.cycles,
		LastCycle: st.lastCycle,
		StartedAt: r.startedAt,
	}
	if base, ok := st.tracker.Baseline(); ok {
		snap.Baseline = &base
	}
	if st.lastErr != nil {
		snap.LastError = st.lastErr.Error()
	}

	p.mu.Lock()
	r.snapshot = snap
	p.mu.Unlock()
}
