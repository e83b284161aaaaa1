package reports

import "context"

// StoreAPI is read-only. Reports never write back to the audit log.
type StoreAPI interface {
	AuditRowsForPeriod(ctx context.Context, practiceID string, period Period) ([]AuditRow, error)
	AuditTotalsByMonth(ctx context.Context, practiceID, taxYear string) ([]MonthTotals, error)
	CommittedRunTotals(ctx context.Context, practiceID, taxYear string) ([]MonthTotals, error)
	EmployeeAuditRows(ctx context.Context, employeeID, taxYear string) ([]AuditRow, error)
	PracticeName(ctx context.Context, practiceID string) (string, error)
}
