package taxtable

import "context"

// Source is the read side used by Provider.
type Source interface {
	BracketsFor(ctx context.Context, taxYear string) ([]Bracket, error)
	RebatesFor(ctx context.Context, taxYear string) (map[Tier]Rebate, error)
	MedicalCreditFor(ctx context.Context, taxYear string) (MedicalCredit, error)
	LimitsFor(ctx context.Context, taxYear string) (Limits, error)
}

// Versioner reports a counter that changes whenever a tax year is reseeded.
// Provider reloads a cached table when it moves.
type Versioner interface {
	VersionOf(ctx context.Context, taxYear string) (int64, error)
}

type Seeder interface {
	Seed(ctx context.Context, table Table) (SeedOutcome, error)
}

type StoreAPI interface {
	Source
	Seeder
	Versioner
	ListTaxYears(ctx context.Context) ([]TaxYearSummary, error)
}

type SeedOutcome string

const (
	SeedInserted  SeedOutcome = "inserted"
	SeedReplaced  SeedOutcome = "replaced"
	SeedUnchanged SeedOutcome = "unchanged"
)
