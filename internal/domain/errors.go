package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPersistence = errors.New("persistence failed")
	ErrNotFound    = errors.New("not found")
	ErrStorage     = errors.New("storage write failed")
)

// RuleEvaluationError reports a condition that panicked.
type RuleEvaluationError struct {
	RuleID string
	Cause  any
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s: condition panicked: %v", e.RuleID, e.Cause)
}

// PersistenceError reports a failed exception write; it aborts only
// the dispatch of the rule that produced it.
type PersistenceError struct {
	RuleID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("rule %s: record exception: %v", e.RuleID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// AutoActionError reports one failed auto-action.
type AutoActionError struct {
	RuleID string
	Kind   ActionKind
	Err    error
}

func (e *AutoActionError) Error() string {
	return fmt.Sprintf("rule %s: auto-action %s: %v", e.RuleID, e.Kind, e.Err)
}

func (e *AutoActionError) Unwrap() error { return e.Err }

// QueuedActionError reports a remote write that failed during sync.
type QueuedActionError struct {
	ActionID string
	Type     ActionType
	Attempt  int
	Err      error
}

func (e *QueuedActionError) Error() string {
	return fmt.Sprintf("action %s (%s) attempt %d: %v", e.ActionID, e.Type, e.Attempt, e.Err)
}

func (e *QueuedActionError) Unwrap() error { return e.Err }

// StorageError reports a failed durable write of outbox state.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
