// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrExecutionNotFound struct {
	ExecutionID string
}

func (e *ErrExecutionNotFound) Error() string {
	return fmt.Sprintf("execution %s not found", e.ExecutionID)
}

func NewExecutionNotFound(id string) error {
	return &ErrExecutionNotFound{ExecutionID: id}
}

// ValidationError rejects a malformed campaign definition at creation time.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

func NewValidation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidStateError means the operation is not permitted in the current
// campaign/execution status. No state is mutated.
type InvalidStateError struct {
	Op     string
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s in status %q", e.Op, e.Status)
}

func NewInvalidState(op, status string) error {
	return &InvalidStateError{Op: op, Status: status}
}

// TransientStepError marks a step failure presumed recoverable; the engine
// retries it with backoff instead of failing the execution.
type TransientStepError struct {
	Err error
}

func (e *TransientStepError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientStepError) Unwrap() error { return e.Err }

func NewTransient(err error) error { return &TransientStepError{Err: err} }

// PermanentStepError marks a step failure presumed unrecoverable; the
// execution terminates as failed without retry.
type PermanentStepError struct {
	Err error
}

func (e *PermanentStepError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentStepError) Unwrap() error { return e.Err }

func NewPermanent(err error) error { return &PermanentStepError{Err: err} }

// IsPermanent reports whether err is (or wraps) a PermanentStepError.
func IsPermanent(err error) bool {
	var pe *PermanentStepError
	return errors.As(err, &pe)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsInvalidState(err error) bool {
	var se *InvalidStateError
	return errors.As(err, &se)
}

func IsNotFound(err error) bool {
	var ce *ErrCampaignNotFound
	var ee *ErrExecutionNotFound
	return errors.As(err, &ce) || errors.As(err, &ee)
}
