package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"sapayroll/internal/domain/taxtable"
	"sapayroll/internal/platform/db"
	"sapayroll/internal/platform/querier"
)

const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
)

// Decrypter opens bank account details stored encrypted at rest.
type Decrypter interface {
	DecryptString(value []byte) (string, error)
}

type Store struct {
	DB     querier.TxBeginner
	Crypto Decrypter
}

func NewStore(db querier.TxBeginner, crypto Decrypter) *Store {
	return &Store{DB: db, Crypto: crypto}
}

func (s *Store) ListActiveEmployees(ctx context.Context, practiceID string) ([]Employee, error) {
	return listActiveEmployees(ctx, s.DB, s.Crypto, practiceID)
}

func listActiveEmployees(ctx context.Context, q querier.Querier, crypto Decrypter, practiceID string) ([]Employee, error) {
	rows, err := q.Query(ctx, `
    SELECT id, practice_id, first_name, last_name, date_of_birth, monthly_gross::text,
           medical_aid_dependents, COALESCE(tax_number, ''), bank_account_enc, active
    FROM employees
    WHERE practice_id = $1 AND active
    ORDER BY last_name, first_name, id
  `, practiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		var emp Employee
		var gross string
		var bankEnc []byte
		if err := rows.Scan(&emp.ID, &emp.PracticeID, &emp.FirstName, &emp.LastName, &emp.DateOfBirth, &gross,
			&emp.MedicalAidDependents, &emp.TaxNumber, &bankEnc, &emp.Active); err != nil {
			return nil, err
		}
		if emp.MonthlyGross, err = decimal.NewFromString(gross); err != nil {
			return nil, err
		}
		if len(bankEnc) > 0 && crypto != nil {
			if emp.BankAccount, err = crypto.DecryptString(bankEnc); err != nil {
				return nil, fmt.Errorf("decrypt bank account for employee %s: %w", emp.ID, err)
			}
		}
		out = append(out, emp)
	}
	return out, rows.Err()
}

func (s *Store) ListPracticesWithActiveEmployees(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT DISTINCT practice_id::text
    FROM employees
    WHERE active
    ORDER BY 1
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const runColumns = `
    id::text, practice_id::text, month, year, tax_year, status, employee_count,
    total_gross::text, total_paye::text, total_uif_employee::text, total_uif_employer::text,
    total_sdl::text, total_net::text, generated_at, validated_at, committed_at`

func scanRun(row pgx.Row) (Run, error) {
	var run Run
	var gross, paye, uifEE, uifER, sdl, net string
	if err := row.Scan(&run.ID, &run.PracticeID, &run.Month, &run.Year, &run.TaxYear, &run.Status,
		&run.Totals.EmployeeCount, &gross, &paye, &uifEE, &uifER, &sdl, &net,
		&run.GeneratedAt, &run.ValidatedAt, &run.CommittedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, err
	}
	amounts, err := parseDecimals(gross, paye, uifEE, uifER, sdl, net)
	if err != nil {
		return Run{}, err
	}
	run.Totals.Gross, run.Totals.PAYE = amounts[0], amounts[1]
	run.Totals.UIFEmployee, run.Totals.UIFEmployer = amounts[2], amounts[3]
	run.Totals.SDL, run.Totals.Net = amounts[4], amounts[5]
	return run, nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	return scanRun(s.DB.QueryRow(ctx, `SELECT `+runColumns+` FROM payroll_runs WHERE id = $1`, runID))
}

func (s *Store) GetRunByKey(ctx context.Context, practiceID string, period Period) (Run, error) {
	return scanRun(s.DB.QueryRow(ctx, `
    SELECT `+runColumns+`
    FROM payroll_runs
    WHERE practice_id = $1 AND month = $2 AND year = $3
  `, practiceID, period.Month, period.Year))
}

func (s *Store) CountRuns(ctx context.Context, practiceID string) (int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM payroll_runs WHERE practice_id = $1", practiceID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListRuns(ctx context.Context, practiceID string, limit, offset int) ([]Run, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+runColumns+`
    FROM payroll_runs
    WHERE practice_id = $1
    ORDER BY year DESC, month DESC
    LIMIT $2 OFFSET $3
  `, practiceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// SaveDraft upserts the run header on its practice/month key and replaces
// its lines. A committed run on the same key is never touched.
func (s *Store) SaveDraft(ctx context.Context, run Run, lines []Line) (Run, error) {
	var saved Run
	err := db.WithTransaction(ctx, s.DB, func(tx pgx.Tx) error {
		t := run.Totals
		var id string
		err := tx.QueryRow(ctx, `
      INSERT INTO payroll_runs (id, practice_id, month, year, tax_year, status, employee_count,
        total_gross, total_paye, total_uif_employee, total_uif_employer, total_sdl, total_net, generated_at)
      VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::numeric, $9::text::numeric, $10::text::numeric,
        $11::text::numeric, $12::text::numeric, $13::text::numeric, $14)
      ON CONFLICT (practice_id, month, year) DO UPDATE SET
        tax_year = EXCLUDED.tax_year,
        status = EXCLUDED.status,
        employee_count = EXCLUDED.employee_count,
        total_gross = EXCLUDED.total_gross,
        total_paye = EXCLUDED.total_paye,
        total_uif_employee = EXCLUDED.total_uif_employee,
        total_uif_employer = EXCLUDED.total_uif_employer,
        total_sdl = EXCLUDED.total_sdl,
        total_net = EXCLUDED.total_net,
        generated_at = EXCLUDED.generated_at,
        validated_at = NULL
      WHERE payroll_runs.status <> 'COMMITTED'
      RETURNING id::text
    `, run.ID, run.PracticeID, run.Month, run.Year, run.TaxYear, RunStatusDraft, t.EmployeeCount,
			t.Gross.String(), t.PAYE.String(), t.UIFEmployee.String(), t.UIFEmployer.String(),
			t.SDL.String(), t.Net.String(), run.GeneratedAt).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s %s", ErrRunCommitted, run.PracticeID, run.Period())
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM payroll_run_lines WHERE run_id = $1`, id); err != nil {
			return err
		}
		for _, line := range lines {
			payload, err := json.Marshal(line.Result)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
        INSERT INTO payroll_run_lines (run_id, position, employee_id, employee_name, gross, net, result_json, calculated_at)
        VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7, $8)
      `, id, line.Position, line.Result.EmployeeID, line.Result.EmployeeName,
				line.Result.Gross.String(), line.Result.NetPay.String(), payload, line.CalculatedAt); err != nil {
				return err
			}
		}
		saved, err = scanRun(tx.QueryRow(ctx, `SELECT `+runColumns+` FROM payroll_runs WHERE id = $1`, id))
		return err
	})
	return saved, err
}

func (s *Store) ListLines(ctx context.Context, runID string) ([]Line, error) {
	return listLines(ctx, s.DB, runID)
}

func listLines(ctx context.Context, q querier.Querier, runID string) ([]Line, error) {
	rows, err := q.Query(ctx, `
    SELECT position, result_json, calculated_at
    FROM payroll_run_lines
    WHERE run_id = $1
    ORDER BY position
  `, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var line Line
		var payload []byte
		if err := rows.Scan(&line.Position, &payload, &line.CalculatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &line.Result); err != nil {
			return nil, fmt.Errorf("decode run line %d: %w", line.Position, err)
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (s *Store) SetRunStatus(ctx context.Context, runID, from, to string, at time.Time) error {
	var validatedAt *time.Time
	if to == RunStatusValidated {
		validatedAt = &at
	}
	tag, err := s.DB.Exec(ctx, `
    UPDATE payroll_runs SET status = $1, validated_at = $2
    WHERE id = $3 AND status = $4
  `, to, validatedAt, runID, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunStateStale
	}
	return nil
}

func (s *Store) DeleteDraft(ctx context.Context, runID string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM payroll_runs WHERE id = $1 AND status <> 'COMMITTED'`, runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *Store) EmployeeHistory(ctx context.Context, practiceID string, before Period) (map[string]EmployeeHistory, error) {
	return employeeHistory(ctx, s.DB, practiceID, before)
}

func employeeHistory(ctx context.Context, q querier.Querier, practiceID string, before Period) (map[string]EmployeeHistory, error) {
	rows, err := q.Query(ctx, `
    SELECT employee_id::text, COUNT(1), AVG(net_pay)::text
    FROM payroll_audit_logs
    WHERE practice_id = $1 AND year * 100 + month < $2
    GROUP BY employee_id
  `, practiceID, before.Key())
	if err != nil {
		return nil, err
	}
	out := map[string]EmployeeHistory{}
	for rows.Next() {
		var id, avg string
		var h EmployeeHistory
		if err := rows.Scan(&id, &h.Runs, &avg); err != nil {
			rows.Close()
			return nil, err
		}
		if h.AverageNet, err = decimal.NewFromString(avg); err != nil {
			rows.Close()
			return nil, err
		}
		out[id] = h
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `
    SELECT DISTINCT ON (employee_id) employee_id::text, rebate_tier, medical_dependents
    FROM payroll_audit_logs
    WHERE practice_id = $1 AND year * 100 + month < $2
    ORDER BY employee_id, year DESC, month DESC
  `, practiceID, before.Key())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, tier string
		var deps int
		if err := rows.Scan(&id, &tier, &deps); err != nil {
			return nil, err
		}
		h := out[id]
		h.LastRebateTier = taxtable.Tier(tier)
		h.LastDependents = deps
		out[id] = h
	}
	return out, rows.Err()
}

const auditColumns = `id::text, run_id::text, practice_id::text, employee_id::text, result_json, calculation_timestamp, committed_at`

func scanAuditLog(row pgx.Row) (AuditLog, error) {
	var log AuditLog
	var payload []byte
	if err := row.Scan(&log.ID, &log.RunID, &log.PracticeID, &log.EmployeeID, &payload, &log.CalculatedAt, &log.CommittedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AuditLog{}, ErrAuditLogNotFound
		}
		return AuditLog{}, err
	}
	if err := json.Unmarshal(payload, &log.Result); err != nil {
		return AuditLog{}, fmt.Errorf("decode audit log %s: %w", log.ID, err)
	}
	return log, nil
}

func (s *Store) GetAuditLog(ctx context.Context, auditLogID string) (AuditLog, error) {
	return scanAuditLog(s.DB.QueryRow(ctx, `SELECT `+auditColumns+` FROM payroll_audit_logs WHERE id = $1`, auditLogID))
}

func (s *Store) ListAuditLogs(ctx context.Context, runID string) ([]AuditLog, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+auditColumns+`
    FROM payroll_audit_logs
    WHERE run_id = $1
    ORDER BY employee_name, employee_id
  `, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditLog
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, log)
	}
	return out, rows.Err()
}

func (s *Store) WithinCommit(ctx context.Context, fn func(tx CommitTx) error) error {
	return db.WithTransaction(ctx, s.DB, func(tx pgx.Tx) error {
		return fn(&commitTx{tx: tx, crypto: s.Crypto})
	})
}

type commitTx struct {
	tx     pgx.Tx
	crypto Decrypter
}

func (c *commitTx) TryLockRunKey(ctx context.Context, practiceID string, period Period) (bool, error) {
	var locked bool
	err := c.tx.QueryRow(ctx, `
    SELECT pg_try_advisory_xact_lock(hashtext('payroll_run:' || $1 || ':' || $2))
  `, practiceID, period.String()).Scan(&locked)
	return locked, err
}

func (c *commitTx) LockRun(ctx context.Context, runID string) (Run, error) {
	run, err := scanRun(c.tx.QueryRow(ctx, `SELECT `+runColumns+` FROM payroll_runs WHERE id = $1 FOR UPDATE NOWAIT`, runID))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return Run{}, &ConcurrentCommitError{RunID: runID}
	}
	return run, err
}

func (c *commitTx) ListLines(ctx context.Context, runID string) ([]Line, error) {
	return listLines(ctx, c.tx, runID)
}

func (c *commitTx) ListActiveEmployees(ctx context.Context, practiceID string) ([]Employee, error) {
	return listActiveEmployees(ctx, c.tx, c.crypto, practiceID)
}

func (c *commitTx) EmployeeHistory(ctx context.Context, practiceID string, before Period) (map[string]EmployeeHistory, error) {
	return employeeHistory(ctx, c.tx, practiceID, before)
}

func (c *commitTx) InsertAuditLog(ctx context.Context, log AuditLog) error {
	r := log.Result
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = c.tx.Exec(ctx, `
    INSERT INTO payroll_audit_logs (
      id, run_id, practice_id, employee_id, employee_name, tax_number, month, year, tax_year,
      gross, annualized_income, taxable_income, gross_annual_tax, total_rebates, rebate_tier,
      medical_dependents, medical_credit, final_annual_tax, monthly_paye, uif_employee, uif_employer,
      sdl, net_pay, result_json, calculation_timestamp, committed_at)
    VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9,
      $10::text::numeric, $11::text::numeric, $12::text::numeric, $13::text::numeric, $14::text::numeric, $15,
      $16, $17::text::numeric, $18::text::numeric, $19::text::numeric, $20::text::numeric, $21::text::numeric,
      $22::text::numeric, $23::text::numeric, $24, $25, $26)
  `, log.ID, log.RunID, log.PracticeID, log.EmployeeID, r.EmployeeName, r.TaxNumber, r.Period.Month, r.Period.Year, r.TaxYear,
		r.Gross.String(), r.AnnualizedIncome.String(), r.TaxableIncome.String(), r.GrossAnnualTax.String(),
		r.TotalRebates.String(), string(r.RebateTier), r.MedicalDependents, r.MedicalCredit.String(),
		r.FinalAnnualTax.String(), r.MonthlyPAYE.String(), r.UIFEmployee.String(), r.UIFEmployer.String(),
		r.SDL.String(), r.NetPay.String(), payload, log.CalculatedAt, log.CommittedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: employee %s in run %s", ErrDuplicateAuditLog, log.EmployeeID, log.RunID)
	}
	return err
}

func (c *commitTx) MarkCommitted(ctx context.Context, runID string, totals Totals, at time.Time) error {
	tag, err := c.tx.Exec(ctx, `
    UPDATE payroll_runs SET
      status = 'COMMITTED',
      employee_count = $2,
      total_gross = $3::text::numeric,
      total_paye = $4::text::numeric,
      total_uif_employee = $5::text::numeric,
      total_uif_employer = $6::text::numeric,
      total_sdl = $7::text::numeric,
      total_net = $8::text::numeric,
      committed_at = $9
    WHERE id = $1 AND status = 'VALIDATED'
  `, runID, totals.EmployeeCount, totals.Gross.String(), totals.PAYE.String(), totals.UIFEmployee.String(),
		totals.UIFEmployer.String(), totals.SDL.String(), totals.Net.String(), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ConcurrentCommitError{RunID: runID}
	}
	return nil
}

func parseDecimals(raw ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(raw))
	for i, value := range raw {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
