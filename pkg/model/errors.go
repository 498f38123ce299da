package model

import (
	"errors"
	"fmt"
)

// The error taxonomy separates caller mistakes (validation, not found,
// invalid transition, precondition, forbidden) from retryable races and
// system faults. Callers match with errors.As.

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

type InvalidTransitionError struct {
	Stage  WorkflowStage
	Action WorkflowActionType
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s from %s", e.Action, e.Stage)
}

type PreconditionError struct {
	Action WorkflowActionType
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition for %s not met: %s", e.Action, e.Reason)
}

type ForbiddenError struct {
	Action   WorkflowActionType
	Required []StaffRole
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("actor role not permitted for %s", e.Action)
}

// ConcurrentModificationError reports a lost optimistic update: the workflow
// moved stage between read and write. Retryable with fresh state.
type ConcurrentModificationError struct {
	WorkflowID string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("workflow %s was modified concurrently", e.WorkflowID)
}

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsCallerError reports whether the error represents a caller mistake rather
// than a system fault; these map to 4xx responses and are never retried.
func IsCallerError(err error) bool {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		transition *InvalidTransitionError
		precond    *PreconditionError
		forbidden  *ForbiddenError
	)
	return errors.As(err, &validation) ||
		errors.As(err, &notFound) ||
		errors.As(err, &transition) ||
		errors.As(err, &precond) ||
		errors.As(err, &forbidden)
}
