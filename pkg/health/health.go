package health

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/user/rowwatch"
)

var (
	probeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowwatch_health_probes_total",
		Help: "The total number of store health probes by result",
	}, []string{"result"})

	reconnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowwatch_health_reconnects_total",
		Help: "The total number of reconnect attempts by result",
	}, []string{"result"})
)

// Prober is the gateway subset the checker needs.
type Prober interface {
	Probe(ctx context.Context, table string) bool
}

// Verifier is the gateway subset the reconnector needs.
type Verifier interface {
	Verify(ctx context.Context, table string) error
}

// RetryResetter is implemented by the poll state.
type RetryResetter interface {
	ResetRetries()
}

// Checker verifies that the store is usable right now. It never caches a verdict.
type Checker struct {
	prober Prober
	table  string
}

func NewChecker(prober Prober, table string) *Checker {
	return &Checker{prober: prober, table: table}
}

// IsHealthy runs a live probe.
func (c *Checker) IsHealthy(ctx context.Context) bool {
	ok := c.prober.Probe(ctx, c.table)
	if ok {
		probeTotal.WithLabelValues("ok").Inc()
	} else {
		probeTotal.WithLabelValues("failed").Inc()
	}
	return ok
}

// Reconnector makes exactly one attempt per call to get a usable session.
// Backoff belongs to the caller.
type Reconnector struct {
	verifier Verifier
	table    string

	mu      sync.Mutex
	logger  rowwatch.Logger
	lastErr error
}

func NewReconnector(verifier Verifier, table string) *Reconnector {
	return &Reconnector{verifier: verifier, table: table, logger: rowwatch.NopLogger{}}
}

// SetLogger sets the logger for the reconnector.
func (r *Reconnector) SetLogger(logger rowwatch.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger == nil {
		logger = rowwatch.NopLogger{}
	}
	r.logger = logger
}

// Reconnect reopens a session and runs a verification query. On success the
// retry counter of state is reset.
func (r *Reconnector) Reconnect(ctx context.Context, state RetryResetter) bool {
	err := r.verifier.Verify(ctx, r.table)

	r.mu.Lock()
	r.lastErr = err
	logger := r.logger
	r.mu.Unlock()

	if err != nil {
		reconnectTotal.WithLabelValues("failed").Inc()
		logger.Warn("Reconnect attempt failed", "table", r.table, "error", err)
		return false
	}
	reconnectTotal.WithLabelValues("ok").Inc()
	logger.Info("Reconnected to store", "table", r.table)
	if state != nil {
		state.ResetRetries()
	}
	return true
}

// LastError returns the error of the most recent attempt, nil after a success.
func (r *Reconnector) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}
