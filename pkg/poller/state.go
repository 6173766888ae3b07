package poller

import (
	"sync"
	"time"

	"github.com/user/rowwatch/pkg/record"
	"github.com/user/rowwatch/pkg/watermark"
)

// State is the lifecycle state of a Poller.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Status is a point-in-time view of the poller, safe to hand to other goroutines.
type Status struct {
	State     State             `json:"state"`
	Table     string            `json:"table"`
	Retries   int               `json:"retries"`
	Cycles    uint64            `json:"cycles"`
	Baseline  *record.Watermark `json:"baseline,omitempty"`
	LastCycle time.Time         `json:"last_cycle,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	StartedAt time.Time         `json:"started_at,omitempty"`
	StoppedBy string            `json:"stopped_by,omitempty"`
}

// pollState is owned by one run and only touched under the poller's cycle lock.
type pollState struct {
	tracker   *watermark.Tracker
	retries   int
	cycles    uint64
	lastCycle time.Time
	lastErr   error
}

func newPollState() *pollState {
	return &pollState{tracker: watermark.New()}
}

// ResetRetries implements health.RetryResetter.
func (s *pollState) ResetRetries() {
	s.retries = 0
}

// run is one Start..Stop span of a poller.
type run struct {
	state     *pollState
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	startedAt time.Time
	stoppedBy string
	snapshot  Status
}

func newRun(table string) *run {
	now := time.Now()
	return &run{
		state:     newPollState(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		startedAt: now,
		snapshot:  Status{State: StateRunning, Table: table, StartedAt: now},
	}
}

// halt closes the schedule; reports whether this call did it.
func (r *run) halt() bool {
	halted := false
	r.stopOnce.Do(func() {
		close(r.stop)
		halted = true
	})
	return halted
}

func (r *run) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}
