package models

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state shared by plans, steps and actions.
type Status string

const (
	StatusNotStarted         Status = "not_started"
	StatusInProgress         Status = "in_progress"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusWaitingForApproval Status = "waiting_for_approval"
	StatusCancelled          Status = "cancelled"
	StatusRetrying           Status = "retrying"
	StatusTimedOut           Status = "timed_out"
	StatusRolledBack         Status = "rolled_back"
)

// Completed, Failed and TimedOut may still move to RolledBack; RolledBack may settle to
// Completed once its compensation has been confirmed.
var validStatusTransitions = map[Status]map[Status]bool{
	StatusNotStarted: {
		StatusInProgress:         true,
		StatusWaitingForApproval: true,
		StatusCancelled:          true,
	},
	StatusWaitingForApproval: {
		StatusInProgress: true,
		StatusCancelled:  true,
	},
	StatusInProgress: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusRetrying:  true,
		StatusTimedOut:  true,
		StatusCancelled: true,
	},
	StatusRetrying: {
		StatusInProgress: true,
		StatusFailed:     true,
	},
	StatusCompleted: {
		StatusRolledBack: true,
	},
	StatusFailed: {
		StatusRolledBack: true,
	},
	StatusTimedOut: {
		StatusRolledBack: true,
	},
	StatusRolledBack: {
		StatusCompleted: true,
	},
}

var terminalStatuses = map[Status]bool{
	StatusCompleted:  true,
	StatusFailed:     true,
	StatusCancelled:  true,
	StatusTimedOut:   true,
	StatusRolledBack: true,
}

// IsTerminal reports whether no further forward progress is expected from s.
func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

// IsFailure reports whether s counts as a failure for rollback purposes.
func IsFailure(s Status) bool {
	return s == StatusFailed || s == StatusTimedOut
}

// ErrInvalidTransition is returned for moves outside the status state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidateTransition returns an error when from → to is not part of the state machine.
func ValidateTransition(from, to Status) error {
	allowed, ok := validStatusTransitions[from]
	if !ok {
		return fmt.Errorf("%w: cannot leave %q", ErrInvalidTransition, from)
	}
	if !allowed[to] {
		return fmt.Errorf("%w: %q → %q", ErrInvalidTransition, from, to)
	}
	return nil
}
