package payroll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapayroll/internal/domain/taxtable"
)

type fakeStore struct {
	mu         sync.Mutex
	employees  map[string][]Employee
	runs       map[string]Run
	lines      map[string][]Line
	audit      []AuditLog
	history    map[string]EmployeeHistory
	locks      map[string]bool
	failInsert error
}

func newFakeStore(employees ...Employee) *fakeStore {
	s := &fakeStore{
		employees: map[string][]Employee{},
		runs:      map[string]Run{},
		lines:     map[string][]Line{},
		history:   map[string]EmployeeHistory{},
		locks:     map[string]bool{},
	}
	for _, e := range employees {
		s.employees[e.PracticeID] = append(s.employees[e.PracticeID], e)
	}
	return s
}

func (s *fakeStore) setEmployee(emp Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.employees[emp.PracticeID]
	for i := range list {
		if list[i].ID == emp.ID {
			list[i] = emp
			return
		}
	}
	s.employees[emp.PracticeID] = append(list, emp)
}

func (s *fakeStore) activeEmployees(practiceID string) []Employee {
	var out []Employee
	for _, e := range s.employees[practiceID] {
		if e.Active {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeStore) ListActiveEmployees(_ context.Context, practiceID string) ([]Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeEmployees(practiceID), nil
}

func (s *fakeStore) ListPracticesWithActiveEmployees(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id := range s.employees {
		if len(s.activeEmployees(id)) > 0 {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *fakeStore) GetRun(_ context.Context, runID string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return run, nil
}

func (s *fakeStore) GetRunByKey(_ context.Context, practiceID string, period Period) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.runs {
		if run.PracticeID == practiceID && run.Period() == period {
			return run, nil
		}
	}
	return Run{}, ErrRunNotFound
}

func (s *fakeStore) CountRuns(_ context.Context, practiceID string) (int, error) {
	runs, _ := s.ListRuns(context.Background(), practiceID, 1000, 0)
	return len(runs), nil
}

func (s *fakeStore) ListRuns(_ context.Context, practiceID string, limit, offset int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Run
	for _, run := range s.runs {
		if run.PracticeID == practiceID {
			out = append(out, run)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) SaveDraft(_ context.Context, run Run, lines []Line) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.runs {
		if existing.PracticeID == run.PracticeID && existing.Period() == run.Period() {
			if existing.Status == RunStatusCommitted {
				return Run{}, ErrRunCommitted
			}
			run.ID = existing.ID
		}
	}
	run.Status = RunStatusDraft
	run.ValidatedAt = nil
	s.runs[run.ID] = run
	s.lines[run.ID] = append([]Line(nil), lines...)
	return run, nil
}

func (s *fakeStore) ListLines(_ context.Context, runID string) ([]Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Line(nil), s.lines[runID]...), nil
}

func (s *fakeStore) SetRunStatus(_ context.Context, runID, from, to string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok || run.Status != from {
		return ErrRunStateStale
	}
	run.Status = to
	if to == RunStatusValidated {
		run.ValidatedAt = &at
	}
	s.runs[runID] = run
	return nil
}

func (s *fakeStore) DeleteDraft(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	delete(s.lines, runID)
	return nil
}

func (s *fakeStore) EmployeeHistory(context.Context, string, Period) (map[string]EmployeeHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history, nil
}

func (s *fakeStore) GetAuditLog(_ context.Context, auditLogID string) (AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, log := range s.audit {
		if log.ID == auditLogID {
			return log, nil
		}
	}
	return AuditLog{}, ErrAuditLogNotFound
}

func (s *fakeStore) ListAuditLogs(_ context.Context, runID string) ([]AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditLog
	for _, log := range s.audit {
		if log.RunID == runID {
			out = append(out, log)
		}
	}
	return out, nil
}

// WithinCommit stages writes and applies them only when fn succeeds.
func (s *fakeStore) WithinCommit(_ context.Context, fn func(tx CommitTx) error) error {
	tx := &fakeCommitTx{store: s}
	err := fn(tx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.audit = append(s.audit, tx.audit...)
		if tx.committed != nil {
			s.runs[tx.committed.ID] = *tx.committed
		}
	}
	for _, key := range tx.held {
		delete(s.locks, key)
	}
	return err
}

type fakeCommitTx struct {
	store     *fakeStore
	held      []string
	audit     []AuditLog
	committed *Run
}

func (t *fakeCommitTx) TryLockRunKey(_ context.Context, practiceID string, period Period) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	key := practiceID + ":" + period.String()
	if t.store.locks[key] {
		return false, nil
	}
	t.store.locks[key] = true
	t.held = append(t.held, key)
	return true, nil
}

func (t *fakeCommitTx) LockRun(ctx context.Context, runID string) (Run, error) {
	return t.store.GetRun(ctx, runID)
}

func (t *fakeCommitTx) ListLines(ctx context.Context, runID string) ([]Line, error) {
	return t.store.ListLines(ctx, runID)
}

func (t *fakeCommitTx) ListActiveEmployees(ctx context.Context, practiceID string) ([]Employee, error) {
	return t.store.ListActiveEmployees(ctx, practiceID)
}

func (t *fakeCommitTx) EmployeeHistory(ctx context.Context, practiceID string, before Period) (map[string]EmployeeHistory, error) {
	return t.store.EmployeeHistory(ctx, practiceID, before)
}

func (t *fakeCommitTx) InsertAuditLog(_ context.Context, log AuditLog) error {
	if t.store.failInsert != nil && len(t.audit) == 1 {
		return t.store.failInsert
	}
	t.audit = append(t.audit, log)
	return nil
}

func (t *fakeCommitTx) MarkCommitted(ctx context.Context, runID string, totals Totals, at time.Time) error {
	run, err := t.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != RunStatusValidated {
		return &ConcurrentCommitError{RunID: runID}
	}
	run.Status = RunStatusCommitted
	run.Totals = totals
	run.CommittedAt = &at
	t.committed = &run
	return nil
}

type countingRecorder struct {
	mu        sync.Mutex
	generated int
	committed int
	conflicts int
	failures  int
}

func (c *countingRecorder) bump(n *int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*n++
}

func (c *countingRecorder) RunGenerated()     { c.bump(&c.generated) }
func (c *countingRecorder) RunCommitted()     { c.bump(&c.committed) }
func (c *countingRecorder) CommitConflict()   { c.bump(&c.conflicts) }
func (c *countingRecorder) ValidationFailed() { c.bump(&c.failures) }

var fixedNow = time.Date(2024, time.July, 25, 9, 30, 0, 0, time.UTC)

func practiceEmployees() []Employee {
	a := employeeAged(40)
	a.PracticeID = "practice-1"
	b := employeeAged(67)
	b.ID = "emp-2"
	b.FirstName = "Pieter"
	b.LastName = "van Wyk"
	b.PracticeID = "practice-1"
	b.MonthlyGross = dec("18500")
	b.MedicalAidDependents = 1
	return []Employee{a, b}
}

func newTestService(t *testing.T, store *fakeStore, opts ...Option) *Service {
	t.Helper()
	tables, err := taxtable.BuiltIn()
	require.NoError(t, err)
	provider := taxtable.NewProvider(taxtable.NewStaticSource(tables...))
	opts = append([]Option{WithClock(func() time.Time { return fixedNow }), WithWorkers(2)}, opts...)
	return NewService(store, provider, opts...)
}

func validatedRun(t *testing.T, svc *Service) Run {
	t.Helper()
	ctx := context.Background()
	summary, err := svc.GenerateRun(ctx, "practice-1", 7, 2024)
	require.NoError(t, err)
	report, err := svc.ValidateRun(ctx, summary.Run.ID)
	require.NoError(t, err)
	require.False(t, report.HasErrors(), "unexpected findings %+v", report.Errors)
	run, err := svc.GetRun(ctx, summary.Run.ID)
	require.NoError(t, err)
	require.Equal(t, RunStatusValidated, run.Run.Status)
	return run.Run
}

func TestGenerateRunIsIdempotent(t *testing.T) {
	store := newFakeStore(practiceEmployees()...)
	svc := newTestService(t, store)
	ctx := context.Background()

	first, err := svc.GenerateRun(ctx, "practice-1", 7, 2024)
	require.NoError(t, err)
	second, err := svc.GenerateRun(ctx, "practice-1", 7, 2024)
	require.NoError(t, err)

	assert.Equal(t, first.Run.ID, second.Run.ID)
	assert.Equal(t, RunStatusDraft, second.Run.Status)
	assert.Equal(t, "2024/2025", second.Run.TaxYear)
	require.Len(t, second.Lines, 2)
	for i := range first.Lines {
		assert.True(t, first.Lines[i].Result.MonthlyPAYE.Equal(second.Lines[i].Result.MonthlyPAYE))
		assert.True(t, first.Lines[i].Result.NetPay.Equal(second.Lines[i].Result.NetPay))
	}
	assert.Equal(t, 2, second.Run.Totals.EmployeeCount)
	assert.True(t, second.Run.Totals.Gross.Equal(dec("48500")), "gross %s", second.Run.Totals.Gross)
	assert.True(t, second.Run.Totals.SDL.Equal(dec("485")), "sdl %s", second.Run.Totals.SDL)
	assert.Len(t, store.runs, 1)
}

func TestGenerateRunSDLExemptBelowThreshold(t *testing.T) {
	emps := practiceEmployees()[:1]
	emps[0].MonthlyGross = dec("40000")
	svc := newTestService(t, newFakeStore(emps...))
	summary, err := svc.GenerateRun(context.Background(), "practice-1", 7, 2024)
	require.NoError(t, err)
	assert.True(t, summary.Run.Totals.SDL.IsZero())
	assert.False(t, summary.Lines[0].Result.SDLLiable)
}

func TestGenerateRunReplacesDraftAfterChange(t *testing.T) {
	store := newFakeStore(practiceEmployees()...)
	svc := newTestService(t, store)
	ctx := context.Background()
	run := validatedRun(t, svc)

	changed := practiceEmployees()[0]
	changed.MonthlyGross = dec("32000")
	store.setEmployee(changed)

	summary, err := svc.GenerateRun(ctx, "practice-1", 7, 2024)
	require.NoError(t, err)
	assert.Equal(t, run.ID, summary.Run.ID)
	assert.Equal(t, RunStatusDraft, summary.Run.Status)
	assert.True(t, summary.Lines[0].Result.Gross.Equal(dec("32000")))
}

func TestGenerateRunRequiresConfiguredTaxYear(t *testing.T) {
	store := newFakeStore(practiceEmployees()...)
	svc := newTestService(t, store)
	_, err := svc.GenerateRun(context.Background(), "practice-1", 4, 2031)
	require.ErrorIs(t, err, taxtable.ErrNotConfigured)
	var notConfigured *taxtable.NotConfiguredError
	require.ErrorAs(t, err, &notConfigured)
	assert.Equal(t, "2031/2032", notConfigured.TaxYear)
	assert.Empty(t, store.runs)
}

func TestGenerateRunRejectsInvalidPeriod(t *testing.T) {
	svc := newTestService(t, newFakeStore(practiceEmployees()...))
	_, err := svc.GenerateRun(context.Background(), "practice-1", 0, 2024)
	require.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestValidateRunTransitions(t *testing.T) {
	store := newFakeStore(practiceEmployees()...)
	metrics := &countingRecorder{}
	svc := newTestService(t, store, WithMetrics(metrics))
	ctx := context.Background()
	run := validatedRun(t, svc)

	broken := practiceEmployees()[1]
	broken.BankAccount = ""
	store.setEmployee(broken)

	report, err := svc.ValidateRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, FindingMissingBank, report.Errors[0].Code)
	summary, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusDraft, summary.Run.Status)
	assert.Equal(t, 1, metrics.failures)

	_, err = svc.CommitRun(ctx, run.ID)
	require.ErrorIs(t, err, ErrCommitInvalidState)
}

func TestCommitRunWritesAuditLogs(t *testing.T) {
	store := newFakeStore(practiceEmployees()...)
	metrics := &countingRecorder{}
	svc := newTestService(t, store, WithMetrics(metrics))
	ctx := context.Background()
	run := validatedRun(t, svc)

	result, err := svc.CommitRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCommitted, result.Run.Status)
	require.NotNil(t, result.Run.CommittedAt)
	assert.True(t, result.Run.CommittedAt.Equal(fixedNow))
	require.Len(t, result.AuditLogs, 2)
	assert.Len(t, store.audit, 2)
	assert.True(t, result.Run.Totals.Equal(run.Totals))

	paye := dec("0")
	for _, log := range store.audit {
		paye = paye.Add(log.Result.MonthlyPAYE)
		assert.True(t, Verify(log).Matches)
	}
	assert.True(t, paye.Equal(store.runs[run.ID].Totals.PAYE))
	assert.Equal(t, 1, metrics.committed)

	logs, err := svc.ListAuditLogs(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	verify, err := svc.VerifyAuditLog(ctx, logs[0].ID)
	require.NoError(t, err)
	assert.True(t, verify.Matches)
}

func TestCommittedRunIsImmutable(t *testing.T) {
	store := newFakeStore(practiceEmployees()...)
	svc := newTestService(t, store)
	ctx := context.Background()
	run := validatedRun(t, svc)
	_, err := svc.CommitRun(ctx, run.ID)
	require.NoError(t, err)

	_, err = svc.GenerateRun(ctx, "practice-1", 7, 2024)
	require.ErrorIs(t, err, ErrRunCommitted)
	require.ErrorIs(t, svc.DiscardRun(ctx, run.ID), ErrRunCommitted)

	_, err = svc.CommitRun(ctx, run.ID)
	var conflict *ConcurrentCommitError
	require.ErrorAs(t, err, &conflict)
	assert.Len(t, store.audit, 2)

	report, err := svc.ValidateRun(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, report.HasErrors())
	assert.Equal(t, RunStatusCommitted, store.runs[run.ID].Status)
}

func TestCommitRunRevalidates(t *testing.T) {
	store := newFakeStore(practiceEmployees()...)
	metrics := &countingRecorder{}
	svc := newTestService(t, store, WithMetrics(metrics))
	ctx := context.Background()
	run := validatedRun(t, svc)

	changed := practiceEmployees()[0]
	changed.MedicalAidDependents = 4
	store.setEmployee(changed)

	_, err := svc.CommitRun(ctx, run.ID)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.NotEmpty(t, validation.Findings)
	assert.Equal(t, FindingStaleLine, validation.Findings[0].Code)
	assert.Empty(t, store.audit)
	assert.Equal(t, RunStatusDraft, store.runs[run.ID].Status)
	assert.Equal(t, 1, metrics.failures)
}

func TestCommitRunIsAtomic(t *testing.T) {
	store := newFakeStore(practiceEmployees()...)
	svc := newTestService(t, store)
	run := validatedRun(t, svc)
	store.failInsert = errors.New("connection reset")

	_, err := svc.CommitRun(context.Background(), run.ID)
	require.ErrorIs(t, err, store.failInsert)
	assert.Empty(t, store.audit)
	assert.Equal(t, RunStatusValidated, store.runs[run.ID].Status)
}

func TestConcurrentCommitHasSingleWinner(t *testing.T) {
	store := newFakeStore(practiceEmployees()...)
	metrics := &countingRecorder{}
	svc := newTestService(t, store, WithMetrics(metrics))
	run := validatedRun(t, svc)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = svc.CommitRun(context.Background(), run.ID)
		}()
	}
	close(start)
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrConcurrentCommit)
	}
	assert.Equal(t, 1, successes)
	assert.Len(t, store.audit, 2)
	assert.Equal(t, attempts-1, metrics.conflicts)
}

func TestDiscardRun(t *testing.T) {
	store := newFakeStore(practiceEmployees()...)
	svc := newTestService(t, store)
	ctx := context.Background()
	summary, err := svc.GenerateRun(ctx, "practice-1", 7, 2024)
	require.NoError(t, err)

	require.NoError(t, svc.DiscardRun(ctx, summary.Run.ID))
	_, err = svc.GetRun(ctx, summary.Run.ID)
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRunsAndPractices(t *testing.T) {
	store := newFakeStore(practiceEmployees()...)
	svc := newTestService(t, store)
	ctx := context.Background()
	for _, month := range []int{5, 6, 7} {
		_, err := svc.GenerateRun(ctx, "practice-1", month, 2024)
		require.NoError(t, err)
	}
	runs, total, err := svc.ListRuns(ctx, "practice-1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, runs, 2)

	practices, err := svc.PracticesWithActiveEmployees(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"practice-1"}, practices)
}
