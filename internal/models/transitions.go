package models

import "fmt"

// transitions lists every status change the engine is allowed to write.
// PROCESSING is only ever entered from PENDING by the executor claim.
// PENDING and FAILED may be rewritten in place for content edits and re-dispatch.
var transitions = map[Status][]Status{
	StatusPending:    {StatusPending, StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusPublished, StatusFailed, StatusPending},
	StatusFailed:     {StatusFailed, StatusPending, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrNoTransition describes a status change that the lifecycle does not allow.
type ErrNoTransition struct {
	From Status
	To   Status
}

func (e *ErrNoTransition) Error() string {
	return fmt.Sprintf("no transition from '%s' to '%s'", e.From, e.To)
}

func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &ErrNoTransition{From: from, To: to}
	}
	return nil
}
