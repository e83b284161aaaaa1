package payroll

import (
	"errors"
	"fmt"
)

var (
	ErrRunNotFound        = errors.New("payroll run not found")
	ErrRunCommitted       = errors.New("payroll run is committed and cannot change")
	ErrCommitInvalidState = errors.New("payroll run must be validated before commit")
	ErrCommitNoLines      = errors.New("payroll run has no employee lines")
	ErrRunStateStale      = errors.New("payroll run status changed concurrently")
	ErrInvalidPeriod      = errors.New("invalid payroll period")
	ErrAuditLogNotFound   = errors.New("payroll audit log not found")
	ErrDuplicateAuditLog  = errors.New("duplicate audit log for employee in run")
	ErrValidation         = errors.New("payroll run has blocking validation findings")
	ErrConcurrentCommit   = errors.New("payroll run commit raced with another commit")
)

type ValidationError struct {
	RunID    string
	Findings []Finding
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payroll run %s has %d blocking validation findings", e.RunID, len(e.Findings))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

type ConcurrentCommitError struct {
	RunID      string
	PracticeID string
	Period     Period
}

func (e *ConcurrentCommitError) Error() string {
	return fmt.Sprintf("payroll run %s for practice %s period %s is being or has been committed elsewhere", e.RunID, e.PracticeID, e.Period)
}

func (e *ConcurrentCommitError) Unwrap() error {
	return ErrConcurrentCommit
}
