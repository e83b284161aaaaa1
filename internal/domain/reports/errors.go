package reports

import "errors"

var (
	ErrNoCommittedData = errors.New("no committed payroll data for report")
	ErrInvalidScope    = errors.New("reconciliation scope must be interim or annual")
	ErrInvalidPeriod   = errors.New("invalid report period")
)
