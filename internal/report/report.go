package report

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/user/rowwatch"
	"github.com/user/rowwatch/pkg/poller"
)

// StatusFunc returns the current poller status.
type StatusFunc func() poller.Status

// Reporter logs a periodic one-line poller summary on a cron schedule so a
// quiet poller is still visibly alive in the logs.
type Reporter struct {
	schedule string
	status   StatusFunc
	logger   rowwatch.Logger
	cron     *cron.Cron

	mu         sync.Mutex
	lastCycles uint64
	lastAt     time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule accepts standard five-field expressions and descriptors
// such as @hourly or @every 5m.
func ValidateSchedule(schedule string) error {
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid report schedule %q: %w", schedule, err)
	}
	return nil
}

func New(schedule string, status StatusFunc, logger rowwatch.Logger) (*Reporter, error) {
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = rowwatch.NopLogger{}
	}
	return &Reporter{
		schedule: schedule,
		status:   status,
		logger:   logger,
		cron:     cron.New(cron.WithParser(parser)),
		lastAt:   time.Now(),
	}, nil
}

// Start schedules the summary. Stop must be called to release the scheduler.
func (r *Reporter) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, r.Report); err != nil {
		return fmt.Errorf("failed to schedule report: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running report to finish.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
}

// Report logs one summary line now.
func (r *Reporter) Report() {
	st := r.status()

	r.mu.Lock()
	delta := st.Cycles - r.lastCycles
	if st.Cycles < r.lastCycles {
		// A new run restarted the counter.
		delta = st.Cycles
	}
	since := time.Since(r.lastAt)
	r.lastCycles = st.Cycles
	r.lastAt = time.Now()
	r.mu.Unlock()

	kv := []interface{}{
		"table", st.Table,
		"state", string(st.State),
		"cycles", st.Cycles,
		"cycles_since_last", delta,
		"window", since.Round(time.Second).String(),
		"retries", st.Retries,
	}
	if st.Baseline != nil {
		kv = append(kv, "identity", st.Baseline.Identity, "serial", st.Baseline.Serial)
	}
	if !st.LastCycle.IsZero() {
		kv = append(kv, "last_cycle", st.LastCycle.Format(time.RFC3339))
	}
	if st.LastError != "" {
		kv = append(kv, "last_error", st.LastError)
	}

	if st.State != poller.StateRunning {
		r.logger.Warn("Poller summary: not running", append(kv, "stopped_by", st.StoppedBy)...)
		return
	}
	r.logger.Info("Poller summary", kv...)
}
