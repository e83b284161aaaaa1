package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sapayroll/internal/domain/taxtable"
)

type TableProvider interface {
	Table(ctx context.Context, taxYear string) (taxtable.Table, error)
}

// Recorder receives run lifecycle counters.
type Recorder interface {
	RunGenerated()
	RunCommitted()
	CommitConflict()
	ValidationFailed()
}

type Service struct {
	store   StoreAPI
	tables  TableProvider
	writer  *AuditWriter
	now     func() time.Time
	newID   func() string
	workers int
	metrics Recorder
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithMetrics(r Recorder) Option {
	return func(s *Service) {
		s.metrics = r
	}
}

func NewService(store StoreAPI, tables TableProvider, opts ...Option) *Service {
	s := &Service{
		store:   store,
		tables:  tables,
		writer:  NewAuditWriter(),
		now:     time.Now,
		newID:   uuid.NewString,
		workers: runtime.NumCPU(),
		metrics: noopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateRun calculates every active employee of a practice for a month and
// stores the result as a draft, replacing any existing uncommitted run for
// the same practice and month.
func (s *Service) GenerateRun(ctx context.Context, practiceID string, month, year int) (RunSummary, error) {
	period := Period{Month: month, Year: year}
	if !period.Valid() {
		return RunSummary{}, fmt.Errorf("%w: %d/%d", ErrInvalidPeriod, month, year)
	}

	existing, err := s.store.GetRunByKey(ctx, practiceID, period)
	switch {
	case errors.Is(err, ErrRunNotFound):
		existing = Run{}
	case err != nil:
		return RunSummary{}, err
	case existing.Status == RunStatusCommitted:
		return RunSummary{}, fmt.Errorf("%w: %s", ErrRunCommitted, existing.ID)
	}

	table, err := s.tables.Table(ctx, period.TaxYear())
	if err != nil {
		return RunSummary{}, fmt.Errorf("generate run for %s: %w", period, err)
	}

	employees, err := s.store.ListActiveEmployees(ctx, practiceID)
	if err != nil {
		return RunSummary{}, err
	}

	results, err := s.calculateAll(ctx, table, period, employees, SDLLiable(table.Limits, employees))
	if err != nil {
		return RunSummary{}, err
	}

	generatedAt := s.now().UTC()
	run := Run{
		ID:          existing.ID,
		PracticeID:  practiceID,
		Month:       month,
		Year:        year,
		TaxYear:     period.TaxYear(),
		Status:      RunStatusDraft,
		GeneratedAt: generatedAt,
	}
	if run.ID == "" {
		run.ID = s.newID()
	}
	lines := make([]Line, len(results))
	for i, r := range results {
		lines[i] = Line{Position: i + 1, Result: r, CalculatedAt: generatedAt}
		run.Totals = run.Totals.Add(r)
	}

	saved, err := s.store.SaveDraft(ctx, run, lines)
	if err != nil {
		return RunSummary{}, err
	}
	s.metrics.RunGenerated()
	slog.Info("payroll draft generated",
		"runId", saved.ID,
		"practiceId", practiceID,
		"period", period.String(),
		"employees", len(lines),
	)
	return RunSummary{Run: saved, Lines: lines}, nil
}

func (s *Service) calculateAll(ctx context.Context, table taxtable.Table, period Period, employees []Employee, sdlLiable bool) ([]CalculationResult, error) {
	results := make([]CalculationResult, len(employees))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, emp := range employees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := Calculate(table, CalculationInput{Employee: emp, Gross: emp.MonthlyGross, Period: period, SDLLiable: sdlLiable})
			if err != nil {
				return fmt.Errorf("calculate employee %s: %w", emp.ID, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ValidateRun checks a run against current employee data. A clean draft
// becomes VALIDATED; a validated run with new errors returns to DRAFT.
func (s *Service) ValidateRun(ctx context.Context, runID string) (ValidationReport, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return ValidationReport{}, err
	}
	lines, err := s.store.ListLines(ctx, runID)
	if err != nil {
		return ValidationReport{}, err
	}
	employees, err := s.store.ListActiveEmployees(ctx, run.PracticeID)
	if err != nil {
		return ValidationReport{}, err
	}
	history, err := s.store.EmployeeHistory(ctx, run.PracticeID, run.Period())
	if err != nil {
		return ValidationReport{}, err
	}

	report := Validate(ValidationInput{Run: run, Lines: lines, Employees: employees, History: history})
	if report.HasErrors() {
		s.metrics.ValidationFailed()
	}
	if run.Status == RunStatusCommitted {
		return report, nil
	}

	next := RunStatusValidated
	if report.HasErrors() {
		next = RunStatusDraft
	}
	if next != run.Status {
		if err := s.store.SetRunStatus(ctx, runID, run.Status, next, s.now().UTC()); err != nil {
			return ValidationReport{}, err
		}
	}
	return report, nil
}

// CommitRun re-validates a VALIDATED run and, in one transaction, writes its
// audit logs and freezes it as COMMITTED. Only one concurrent commit of a
// run key can succeed; the others fail with ConcurrentCommitError.
func (s *Service) CommitRun(ctx context.Context, runID string) (CommitResult, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return CommitResult{}, err
	}
	conflict := &ConcurrentCommitError{RunID: run.ID, PracticeID: run.PracticeID, Period: run.Period()}
	switch run.Status {
	case RunStatusCommitted:
		s.metrics.CommitConflict()
		return CommitResult{}, conflict
	case RunStatusValidated:
	default:
		return CommitResult{}, ErrCommitInvalidState
	}

	committedAt := s.now().UTC()
	var result CommitResult
	err = s.store.WithinCommit(ctx, func(tx CommitTx) error {
		locked, err := tx.TryLockRunKey(ctx, run.PracticeID, run.Period())
		if err != nil {
			return err
		}
		if !locked {
			return conflict
		}
		current, err := tx.LockRun(ctx, runID)
		if err != nil {
			return err
		}
		switch current.Status {
		case RunStatusCommitted:
			return conflict
		case RunStatusValidated:
		default:
			return ErrCommitInvalidState
		}

		lines, err := tx.ListLines(ctx, runID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrCommitNoLines
		}
		employees, err := tx.ListActiveEmployees(ctx, current.PracticeID)
		if err != nil {
			return err
		}
		history, err := tx.EmployeeHistory(ctx, current.PracticeID, current.Period())
		if err != nil {
			return err
		}
		report := Validate(ValidationInput{Run: current, Lines: lines, Employees: employees, History: history})
		if report.HasErrors() {
			return &ValidationError{RunID: runID, Findings: report.Errors}
		}

		var totals Totals
		for _, line := range lines {
			totals = totals.Add(line.Result)
		}
		logs, err := s.writer.Write(ctx, tx, current, lines, committedAt)
		if err != nil {
			return err
		}
		if err := tx.MarkCommitted(ctx, runID, totals, committedAt); err != nil {
			return err
		}

		current.Status = RunStatusCommitted
		current.Totals = totals
		current.CommittedAt = &committedAt
		result = CommitResult{Run: current, AuditLogs: logs}
		return nil
	})
	if err != nil {
		s.recordCommitFailure(ctx, run, err)
		return CommitResult{}, err
	}

	s.metrics.RunCommitted()
	slog.Info("payroll run committed",
		"runId", run.ID,
		"practiceId", run.PracticeID,
		"period", run.Period().String(),
		"auditLogs", len(result.AuditLogs),
	)
	return result, nil
}

func (s *Service) recordCommitFailure(ctx context.Context, run Run, err error) {
	switch {
	case errors.Is(err, ErrConcurrentCommit):
		s.metrics.CommitConflict()
	case errors.Is(err, ErrValidation):
		s.metrics.ValidationFailed()
		if statusErr := s.store.SetRunStatus(ctx, run.ID, RunStatusValidated, RunStatusDraft, s.now().UTC()); statusErr != nil {
			slog.Warn("payroll run status reset failed", "runId", run.ID, "err", statusErr)
		}
	}
}

// DiscardRun drops an uncommitted run and its lines.
func (s *Service) DiscardRun(ctx context.Context, runID string) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == RunStatusCommitted {
		return fmt.Errorf("%w: %s", ErrRunCommitted, runID)
	}
	return s.store.DeleteDraft(ctx, runID)
}

func (s *Service) GetRun(ctx context.Context, runID string) (RunSummary, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return RunSummary{}, err
	}
	lines, err := s.store.ListLines(ctx, runID)
	if err != nil {
		return RunSummary{}, err
	}
	return RunSummary{Run: run, Lines: lines}, nil
}

func (s *Service) GetRunByKey(ctx context.Context, practiceID string, period Period) (Run, error) {
	return s.store.GetRunByKey(ctx, practiceID, period)
}

func (s *Service) ListRuns(ctx context.Context, practiceID string, limit, offset int) ([]Run, int, error) {
	total, err := s.store.CountRuns(ctx, practiceID)
	if err != nil {
		return nil, 0, err
	}
	runs, err := s.store.ListRuns(ctx, practiceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, runID string) ([]AuditLog, error) {
	return s.store.ListAuditLogs(ctx, runID)
}

// VerifyAuditLog replays a stored row's own figures.
func (s *Service) VerifyAuditLog(ctx context.Context, auditLogID string) (VerifyResult, error) {
	log, err := s.store.GetAuditLog(ctx, auditLogID)
	if err != nil {
		return VerifyResult{}, err
	}
	return Verify(log), nil
}

func (s *Service) PracticesWithActiveEmployees(ctx context.Context) ([]string, error) {
	return s.store.ListPracticesWithActiveEmployees(ctx)
}

type noopRecorder struct{}

func (noopRecorder) RunGenerated()     {}
func (noopRecorder) RunCommitted()     {}
func (noopRecorder) CommitConflict()   {}
func (noopRecorder) ValidationFailed() {}
