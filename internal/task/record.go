package task

import (
	"errors"
	"fmt"
	"time"
)

// Status is a TaskRecord's position in the Pending -> Running ->
// (Succeeded|Failed|Skipped) state machine (spec.md §4.9).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// ErrInvalidTransition is wrapped by transitionError so callers can
// errors.Is against it regardless of the specific from/to pair.
var ErrInvalidTransition = errors.New("invalid task state transition")

// transitions enumerates every legal Status -> Status move. Succeeded,
// Failed, and Skipped are terminal.
var transitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusSkipped},
	StatusRunning:   {StatusSucceeded, StatusFailed},
	StatusSucceeded: {},
	StatusFailed:    {},
	StatusSkipped:   {},
}

// isAllowedTransition reports whether to is reachable from from per the
// transition table.
func isAllowedTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	for _, candidate := range allowed {
		if candidate == to {
			return true
		}
	}
	return false
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: cannot transition from %q to %q", ErrInvalidTransition, from, to)
}

// Record is one task's persisted execution state.
type Record struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	LogPath     string     `json:"log_path,omitempty"`
}

// transitionTo applies from r.Status to `to`, validating the move and
// stamping the relevant timestamp.
func (r *Record) transitionTo(to Status, now time.Time) error {
	if !isAllowedTransition(r.Status, to) {
		return transitionError(r.Status, to)
	}
	r.Status = to
	switch to {
	case StatusRunning:
		r.StartedAt = &now
	case StatusSucceeded, StatusFailed, StatusSkipped:
		r.FinishedAt = &now
	}
	return nil
}
