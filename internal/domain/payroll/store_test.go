package payroll

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"sapayroll/internal/domain/taxtable"
	"sapayroll/internal/platform/crypto"
	"sapayroll/internal/platform/db"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if strings.TrimSpace(dbURL) == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.Migrate(ctx, pool, db.Migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	tables, err := taxtable.BuiltIn()
	if err != nil {
		t.Fatalf("built-in tables: %v", err)
	}
	if err := taxtable.SeedAll(ctx, taxtable.NewStore(pool), tables); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return pool
}

func seedPractice(t *testing.T, pool *pgxpool.Pool, enc *crypto.Service) string {
	t.Helper()
	ctx := context.Background()
	var practiceID string
	if err := pool.QueryRow(ctx, `INSERT INTO practices (name) VALUES ($1) RETURNING id::text`, "Test Practice "+uuid.NewString()).Scan(&practiceID); err != nil {
		t.Fatalf("insert practice: %v", err)
	}
	for _, emp := range practiceEmployees() {
		bank, err := enc.EncryptString(emp.BankAccount)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if _, err := pool.Exec(ctx, `
      INSERT INTO employees (practice_id, first_name, last_name, date_of_birth, monthly_gross, medical_aid_dependents, tax_number, bank_account_enc)
      VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8)
    `, practiceID, emp.FirstName, emp.LastName, emp.DateOfBirth, emp.MonthlyGross.String(), emp.MedicalAidDependents, emp.TaxNumber, bank); err != nil {
			t.Fatalf("insert employee: %v", err)
		}
	}
	return practiceID
}

func TestStoreRunLifecycle(t *testing.T) {
	pool := newTestPool(t)
	enc, err := crypto.New(strings.Repeat("cd", 32))
	if err != nil {
		t.Fatalf("crypto: %v", err)
	}
	practiceID := seedPractice(t, pool, enc)
	store := NewStore(pool, enc)
	svc := NewService(store, taxtable.NewProvider(taxtable.NewStore(pool)))
	ctx := context.Background()

	summary, err := svc.GenerateRun(ctx, practiceID, 7, 2024)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	again, err := svc.GenerateRun(ctx, practiceID, 7, 2024)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if again.Run.ID != summary.Run.ID {
		t.Fatalf("expected stable run id, got %s and %s", summary.Run.ID, again.Run.ID)
	}
	report, err := svc.ValidateRun(ctx, summary.Run.ID)
	if err != nil || report.HasErrors() {
		t.Fatalf("validate: %v %+v", err, report.Errors)
	}

	const attempts = 4
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.CommitRun(ctx, summary.Run.ID)
		}()
	}
	wg.Wait()
	successes := 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case !errors.Is(err, ErrConcurrentCommit):
			t.Fatalf("unexpected commit error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one commit, got %d", successes)
	}

	logs, err := store.ListAuditLogs(ctx, summary.Run.ID)
	if err != nil || len(logs) != 2 {
		t.Fatalf("expected 2 audit logs, got %d (%v)", len(logs), err)
	}
	if !Verify(logs[0]).Matches {
		t.Fatalf("stored audit log does not verify: %+v", Verify(logs[0]).Problems)
	}
	if _, err := pool.Exec(ctx, `UPDATE payroll_audit_logs SET monthly_paye = 0 WHERE id = $1`, logs[0].ID); err == nil {
		t.Fatal("expected audit log update to be rejected")
	}
	if _, err := pool.Exec(ctx, `UPDATE payroll_runs SET total_paye = 0 WHERE id = $1`, summary.Run.ID); err == nil {
		t.Fatal("expected committed run update to be rejected")
	}
	if _, err := svc.GenerateRun(ctx, practiceID, 7, 2024); !errors.Is(err, ErrRunCommitted) {
		t.Fatalf("expected ErrRunCommitted, got %v", err)
	}

	history, err := store.EmployeeHistory(ctx, practiceID, Period{Month: 8, Year: 2024})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected history for 2 employees, got %d", len(history))
	}
	for _, h := range history {
		if h.Runs != 1 || h.LastRebateTier == "" {
			t.Fatalf("unexpected history %+v", h)
		}
	}
}
