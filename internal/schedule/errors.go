package schedule

import (
	"errors"
	"fmt"
	"time"

	"alarmsched/internal/alarm"
)

var (
	// ErrPastDeadline is reported in strict mode for fire times that are not
	// strictly in the future.
	ErrPastDeadline = errors.New("fire time is not in the future")
	// ErrInvalidEntry covers malformed input: zero fire times and unknown kinds.
	ErrInvalidEntry = errors.New("invalid scheduled entry")
	// ErrTimer matches every failure surfaced by the wake timer.
	ErrTimer = errors.New("wake timer failure")
)

// PastDeadlineError describes the first offending entry of a rejected Set.
type PastDeadlineError struct {
	Key      alarm.Key
	FireTime time.Time
	Now      time.Time
}

func (e *PastDeadlineError) Error() string {
	return fmt.Sprintf("schedule %s at %s: %v (now %s)",
		e.Key, e.FireTime.Format(time.RFC3339), ErrPastDeadline, e.Now.Format(time.RFC3339))
}

func (e *PastDeadlineError) Unwrap() error { return ErrPastDeadline }

// TimerError wraps a wake timer failure. The pending store mutation that
// triggered it has already been committed; the engine retries arming on the
// next mutating call.
type TimerError struct {
	Op       string // "arm" or "disarm"
	Key      alarm.Key
	Deadline time.Time
	Err      error
}

func (e *TimerError) Error() string {
	if e.Op == "disarm" {
		return fmt.Sprintf("wake timer disarm: %v", e.Err)
	}
	return fmt.Sprintf("wake timer arm %s at %s: %v", e.Key, e.Deadline.Format(time.RFC3339), e.Err)
}

func (e *TimerError) Unwrap() []error { return []error{ErrTimer, e.Err} }
