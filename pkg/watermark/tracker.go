package watermark

import (
	"errors"

	"github.com/user/rowwatch/pkg/record"
)

// ErrAlreadyInitialized is returned by a second Initialize call.
var ErrAlreadyInitialized = errors.New("watermark: baseline already initialized")

// Outcome is the result of observing a candidate watermark.
type Outcome int

const (
	Unchanged Outcome = iota
	Changed
)

func (o Outcome) String() string {
	if o == Changed {
		return "changed"
	}
	return "unchanged"
}

// Tracker holds the last observed watermark. It is not safe for concurrent
// use; the poller serializes access under its cycle lock.
type Tracker struct {
	baseline    record.Watermark
	initialized bool
}

// New returns an uninitialized tracker.
func New() *Tracker {
	return &Tracker{}
}

// Initialize sets the baseline. It may only be called once per tracker.
func (t *Tracker) Initialize(wm record.Watermark) error {
	if t.initialized {
		return ErrAlreadyInitialized
	}
	t.baseline = wm
	t.initialized = true
	return nil
}

// Initialized reports whether a baseline exists.
func (t *Tracker) Initialized() bool {
	return t.initialized
}

// Baseline returns the current baseline.
func (t *Tracker) Baseline() (record.Watermark, bool) {
	return t.baseline, t.initialized
}

// Differs reports whether candidate would be observed as Changed, without
// touching the baseline.
func (t *Tracker) Differs(candidate record.Watermark) bool {
	return !t.initialized || !t.baseline.Matches(candidate)
}

// Observe compares candidate against the baseline case-insensitively on both
// identity and serial. On Changed the baseline is replaced wholesale.
func (t *Tracker) Observe(candidate record.Watermark) Outcome {
	if !t.Differs(candidate) {
		return Unchanged
	}
	t.baseline = candidate
	t.initialized = true
	return Changed
}
