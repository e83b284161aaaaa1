package taxtable

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"sapayroll/internal/platform/db"
	"sapayroll/internal/platform/querier"
)

type Store struct {
	DB querier.TxBeginner
}

func NewStore(db querier.TxBeginner) *Store {
	return &Store{DB: db}
}

func (s *Store) BracketsFor(ctx context.Context, taxYear string) ([]Bracket, error) {
	return bracketsFor(ctx, s.DB, taxYear)
}

func bracketsFor(ctx context.Context, q querier.Querier, taxYear string) ([]Bracket, error) {
	rows, err := q.Query(ctx, `
    SELECT min_income::text, max_income::text, rate::text, base_tax::text
    FROM tax_brackets
    WHERE tax_year = $1
    ORDER BY min_income
  `, taxYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bracket
	for rows.Next() {
		var minIncome, rate, baseTax string
		var maxIncome *string
		if err := rows.Scan(&minIncome, &maxIncome, &rate, &baseTax); err != nil {
			return nil, err
		}
		b := Bracket{TaxYear: taxYear}
		if b.MinIncome, err = decimal.NewFromString(minIncome); err != nil {
			return nil, err
		}
		if b.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, err
		}
		if b.BaseTax, err = decimal.NewFromString(baseTax); err != nil {
			return nil, err
		}
		if maxIncome != nil {
			ceiling, err := decimal.NewFromString(*maxIncome)
			if err != nil {
				return nil, err
			}
			b.MaxIncome = &ceiling
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &NotConfiguredError{TaxYear: taxYear, Component: "tax brackets"}
	}
	return out, nil
}

func (s *Store) RebatesFor(ctx context.Context, taxYear string) (map[Tier]Rebate, error) {
	return rebatesFor(ctx, s.DB, taxYear)
}

func rebatesFor(ctx context.Context, q querier.Querier, taxYear string) (map[Tier]Rebate, error) {
	rows, err := q.Query(ctx, `
    SELECT tier, amount::text, age_threshold
    FROM tax_rebates
    WHERE tax_year = $1
  `, taxYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[Tier]Rebate{}
	for rows.Next() {
		var tier, amount string
		var threshold *int
		if err := rows.Scan(&tier, &amount, &threshold); err != nil {
			return nil, err
		}
		value, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, err
		}
		out[Tier(tier)] = Rebate{Tier: Tier(tier), Amount: value, AgeThreshold: threshold}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &NotConfiguredError{TaxYear: taxYear, Component: "tax rebates"}
	}
	return out, nil
}

func (s *Store) MedicalCreditFor(ctx context.Context, taxYear string) (MedicalCredit, error) {
	return medicalCreditFor(ctx, s.DB, taxYear)
}

func medicalCreditFor(ctx context.Context, q querier.Querier, taxYear string) (MedicalCredit, error) {
	var main, first, other string
	err := q.QueryRow(ctx, `
    SELECT main_member::text, first_dependent::text, other_dependents::text
    FROM medical_tax_credits
    WHERE tax_year = $1
  `, taxYear).Scan(&main, &first, &other)
	if errors.Is(err, pgx.ErrNoRows) {
		return MedicalCredit{}, &NotConfiguredError{TaxYear: taxYear, Component: "medical tax credits"}
	}
	if err != nil {
		return MedicalCredit{}, err
	}
	values, err := decimals(main, first, other)
	if err != nil {
		return MedicalCredit{}, err
	}
	return MedicalCredit{TaxYear: taxYear, MainMember: values[0], FirstDependent: values[1], OtherDependents: values[2]}, nil
}

func (s *Store) LimitsFor(ctx context.Context, taxYear string) (Limits, error) {
	return limitsFor(ctx, s.DB, taxYear)
}

func limitsFor(ctx context.Context, q querier.Querier, taxYear string) (Limits, error) {
	var ceiling, uifRate, sdlRate, threshold string
	err := q.QueryRow(ctx, `
    SELECT uif_monthly_ceiling::text, uif_rate::text, sdl_rate::text, sdl_annual_threshold::text
    FROM statutory_limits
    WHERE tax_year = $1
  `, taxYear).Scan(&ceiling, &uifRate, &sdlRate, &threshold)
	if errors.Is(err, pgx.ErrNoRows) {
		return Limits{}, &NotConfiguredError{TaxYear: taxYear, Component: "statutory limits"}
	}
	if err != nil {
		return Limits{}, err
	}
	values, err := decimals(ceiling, uifRate, sdlRate, threshold)
	if err != nil {
		return Limits{}, err
	}
	return Limits{
		TaxYear:            taxYear,
		UIFMonthlyCeiling:  values[0],
		UIFRate:            values[1],
		SDLRate:            values[2],
		SDLAnnualThreshold: values[3],
	}, nil
}

func (s *Store) ListTaxYears(ctx context.Context) ([]TaxYearSummary, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT b.tax_year, COUNT(1),
           EXISTS (SELECT 1 FROM payroll_runs r WHERE r.tax_year = b.tax_year AND r.status = 'COMMITTED')
    FROM tax_brackets b
    GROUP BY b.tax_year
    ORDER BY b.tax_year
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaxYearSummary
	for rows.Next() {
		var item TaxYearSummary
		if err := rows.Scan(&item.TaxYear, &item.BracketCount, &item.InUse); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// Seed inserts a tax year's reference data. An identical existing year is
// left alone; a differing one is replaced only while no committed run uses it.
func (s *Store) Seed(ctx context.Context, table Table) (SeedOutcome, error) {
	if err := table.Validate(); err != nil {
		return "", err
	}
	outcome := SeedInserted
	err := db.WithTransaction(ctx, s.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('tax_table:' || $1))`, table.TaxYear); err != nil {
			return err
		}
		existing, err := loadTable(ctx, tx, table.TaxYear)
		switch {
		case errors.Is(err, ErrNotConfigured):
			if err := deleteTaxYear(ctx, tx, table.TaxYear); err != nil {
				return err
			}
		case err != nil:
			return err
		case existing.Equal(table):
			outcome = SeedUnchanged
			return nil
		default:
			var inUse bool
			if err := tx.QueryRow(ctx, `
        SELECT EXISTS (SELECT 1 FROM payroll_runs WHERE tax_year = $1 AND status = 'COMMITTED')
      `, table.TaxYear).Scan(&inUse); err != nil {
				return err
			}
			if inUse {
				return fmt.Errorf("%w: %s", ErrTaxYearInUse, table.TaxYear)
			}
			if err := deleteTaxYear(ctx, tx, table.TaxYear); err != nil {
				return err
			}
			outcome = SeedReplaced
		}
		if err := insertTable(ctx, tx, table); err != nil {
			return err
		}
		return bumpVersion(ctx, tx, table.TaxYear)
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// VersionOf returns the seed version of a tax year, or zero when the year
// has never been seeded.
func (s *Store) VersionOf(ctx context.Context, taxYear string) (int64, error) {
	var version int64
	err := s.DB.QueryRow(ctx, `SELECT version FROM tax_table_versions WHERE tax_year = $1`, taxYear).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

func bumpVersion(ctx context.Context, tx pgx.Tx, taxYear string) error {
	_, err := tx.Exec(ctx, `
    INSERT INTO tax_table_versions (tax_year) VALUES ($1)
    ON CONFLICT (tax_year) DO UPDATE
    SET version = tax_table_versions.version + 1, updated_at = now()
  `, taxYear)
	return err
}

func loadTable(ctx context.Context, q querier.Querier, taxYear string) (Table, error) {
	brackets, err := bracketsFor(ctx, q, taxYear)
	if err != nil {
		return Table{}, err
	}
	rebates, err := rebatesFor(ctx, q, taxYear)
	if err != nil {
		return Table{}, err
	}
	medical, err := medicalCreditFor(ctx, q, taxYear)
	if err != nil {
		return Table{}, err
	}
	limits, err := limitsFor(ctx, q, taxYear)
	if err != nil {
		return Table{}, err
	}
	return Table{TaxYear: taxYear, Brackets: brackets, Rebates: rebates, MedicalCredit: medical, Limits: limits}, nil
}

func deleteTaxYear(ctx context.Context, tx pgx.Tx, taxYear string) error {
	for _, stmt := range []string{
		`DELETE FROM tax_brackets WHERE tax_year = $1`,
		`DELETE FROM tax_rebates WHERE tax_year = $1`,
		`DELETE FROM medical_tax_credits WHERE tax_year = $1`,
		`DELETE FROM statutory_limits WHERE tax_year = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, taxYear); err != nil {
			return err
		}
	}
	return nil
}

func insertTable(ctx context.Context, tx pgx.Tx, table Table) error {
	for _, b := range table.Brackets {
		var ceiling *string
		if b.MaxIncome != nil {
			value := b.MaxIncome.String()
			ceiling = &value
		}
		if _, err := tx.Exec(ctx, `
      INSERT INTO tax_brackets (tax_year, min_income, max_income, rate, base_tax)
      VALUES ($1, $2::text::numeric, $3::text::numeric, $4::text::numeric, $5::text::numeric)
    `, table.TaxYear, b.MinIncome.String(), ceiling, b.Rate.String(), b.BaseTax.String()); err != nil {
			return err
		}
	}
	for _, r := range table.Rebates {
		if _, err := tx.Exec(ctx, `
      INSERT INTO tax_rebates (tax_year, tier, amount, age_threshold)
      VALUES ($1, $2, $3::text::numeric, $4)
    `, table.TaxYear, string(r.Tier), r.Amount.String(), r.AgeThreshold); err != nil {
			return err
		}
	}
	mc := table.MedicalCredit
	if _, err := tx.Exec(ctx, `
    INSERT INTO medical_tax_credits (tax_year, main_member, first_dependent, other_dependents)
    VALUES ($1, $2::text::numeric, $3::text::numeric, $4::text::numeric)
  `, table.TaxYear, mc.MainMember.String(), mc.FirstDependent.String(), mc.OtherDependents.String()); err != nil {
		return err
	}
	l := table.Limits
	_, err := tx.Exec(ctx, `
    INSERT INTO statutory_limits (tax_year, uif_monthly_ceiling, uif_rate, sdl_rate, sdl_annual_threshold)
    VALUES ($1, $2::text::numeric, $3::text::numeric, $4::text::numeric, $5::text::numeric)
  `, table.TaxYear, l.UIFMonthlyCeiling.String(), l.UIFRate.String(), l.SDLRate.String(), l.SDLAnnualThreshold.String())
	return err
}

func decimals(raw ...string) ([]decimal.Decimal, error) {
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
