package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// State of a queued task. Claims are legal from StateNew and StateRetried
// only; StateFinished and StateFailed are terminal.
type State string

const (
	StateNew        State = "new"
	StateInProgress State = "in_progress"
	StateFinished   State = "finished"
	StateFailed     State = "failed"
	StateRetried    State = "retried"
)

func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// Claimable reports whether a task in this state may be handed to a worker.
func (s State) Claimable() bool {
	return s == StateNew || s == StateRetried
}

// CanTransition reports whether from -> to is a legal state-machine edge.
// Anything outside the diagram
//
//	new/retried -> in_progress -> finished | failed | retried
//
// is rejected.
func CanTransition(from, to State) bool {
	switch from {
	case StateNew, StateRetried:
		return to == StateInProgress
	case StateInProgress:
		return to == StateFinished || to == StateFailed || to == StateRetried
	default:
		return false
	}
}

// ErrIllegalTransition is returned by the store when an update would violate
// the state machine.
type ErrIllegalTransition struct {
	From, To State
}

func (e ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal task transition %s -> %s", e.From, e.To)
}

// Task is one unit of work. The payload is owned by the task and never
// interpreted by the engine; the Kind tag selects the capability that runs it.
type Task struct {
	ID           string
	Kind         string
	Payload      json.RawMessage
	State        State
	Retries      int
	MaxRetries   int
	ScheduledAt  time.Time
	ErrorMessage string
	UniqKey      *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Definition is a stored schedule template. The scheduler re-evaluates it
// periodically and inserts a fresh Task row for each resolved instant; past
// task rows are never mutated.
type Definition struct {
	ID         string
	Name       string
	CronExpr   string
	Kind       string
	Payload    json.RawMessage
	MaxRetries int
	Enabled    bool
	LastRun    *time.Time
	NextRun    time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
