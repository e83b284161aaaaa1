package payroll

import (
	"context"
	"time"
)

type StoreAPI interface {
	ListActiveEmployees(ctx context.Context, practiceID string) ([]Employee, error)
	ListPracticesWithActiveEmployees(ctx context.Context) ([]string, error)
	GetRun(ctx context.Context, runID string) (Run, error)
	GetRunByKey(ctx context.Context, practiceID string, period Period) (Run, error)
	CountRuns(ctx context.Context, practiceID string) (int, error)
	ListRuns(ctx context.Context, practiceID string, limit, offset int) ([]Run, error)
	SaveDraft(ctx context.Context, run Run, lines []Line) (Run, error)
	ListLines(ctx context.Context, runID string) ([]Line, error)
	SetRunStatus(ctx context.Context, runID, from, to string, at time.Time) error
	DeleteDraft(ctx context.Context, runID string) error
	EmployeeHistory(ctx context.Context, practiceID string, before Period) (map[string]EmployeeHistory, error)
	GetAuditLog(ctx context.Context, auditLogID string) (AuditLog, error)
	ListAuditLogs(ctx context.Context, runID string) ([]AuditLog, error)
	WithinCommit(ctx context.Context, fn func(tx CommitTx) error) error
}

// CommitTx is the view of the store inside a commit transaction. Everything
// done through it is rolled back if the transaction function fails.
type CommitTx interface {
	AuditTx
	TryLockRunKey(ctx context.Context, practiceID string, period Period) (bool, error)
	LockRun(ctx context.Context, runID string) (Run, error)
	ListLines(ctx context.Context, runID string) ([]Line, error)
	ListActiveEmployees(ctx context.Context, practiceID string) ([]Employee, error)
	EmployeeHistory(ctx context.Context, practiceID string, before Period) (map[string]EmployeeHistory, error)
	MarkCommitted(ctx context.Context, runID string, totals Totals, at time.Time) error
}
