package taxtable

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var builtInTables []byte

type document struct {
	Version  int          `yaml:"version"`
	TaxYears []yearRecord `yaml:"taxYears"`
}

type yearRecord struct {
	TaxYear       string          `yaml:"taxYear"`
	Brackets      []bracketRecord `yaml:"brackets"`
	Rebates       []rebateRecord  `yaml:"rebates"`
	MedicalCredit medicalRecord   `yaml:"medicalCredit"`
	Limits        limitsRecord    `yaml:"limits"`
}

type bracketRecord struct {
	Min     string `yaml:"min"`
	Max     string `yaml:"max"`
	Rate    string `yaml:"rate"`
	BaseTax string `yaml:"baseTax"`
}

type rebateRecord struct {
	Tier         string `yaml:"tier"`
	Amount       string `yaml:"amount"`
	AgeThreshold *int   `yaml:"ageThreshold"`
}

type medicalRecord struct {
	MainMember      string `yaml:"mainMember"`
	FirstDependent  string `yaml:"firstDependent"`
	OtherDependents string `yaml:"otherDependents"`
}

type limitsRecord struct {
	UIFMonthlyCeiling  string `yaml:"uifMonthlyCeiling"`
	UIFRate            string `yaml:"uifRate"`
	SDLRate            string `yaml:"sdlRate"`
	SDLAnnualThreshold string `yaml:"sdlAnnualThreshold"`
}

// BuiltIn returns the tax tables shipped with the binary.
func BuiltIn() ([]Table, error) {
	return ParseDocument(builtInTables)
}

func LoadFile(path string) ([]Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDocument(b)
}

// ParseDocument decodes a versioned tax table document and validates every
// tax year in it.
func ParseDocument(b []byte) ([]Table, error) {
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("tax tables: %w", err)
	}
	if doc.Version != 1 {
		return nil, errors.New("tax tables: unsupported version")
	}
	if len(doc.TaxYears) == 0 {
		return nil, errors.New("tax tables: no tax years")
	}
	seen := map[string]bool{}
	tables := make([]Table, 0, len(doc.TaxYears))
	for _, rec := range doc.TaxYears {
		table, err := rec.table()
		if err != nil {
			return nil, fmt.Errorf("tax tables %s: %w", rec.TaxYear, err)
		}
		if seen[table.TaxYear] {
			return nil, fmt.Errorf("tax tables: duplicate tax year %s", table.TaxYear)
		}
		seen[table.TaxYear] = true
		if err := table.Validate(); err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (rec yearRecord) table() (Table, error) {
	taxYear, err := NormalizeTaxYear(rec.TaxYear)
	if err != nil {
		return Table{}, err
	}
	p := &parser{}
	table := Table{TaxYear: taxYear, Rebates: map[Tier]Rebate{}}
	for _, b := range rec.Brackets {
		bracket := Bracket{
			TaxYear:   taxYear,
			MinIncome: p.decimal("min", b.Min),
			Rate:      p.decimal("rate", b.Rate),
			BaseTax:   p.decimal("baseTax", b.BaseTax),
		}
		if b.Max != "" {
			ceiling := p.decimal("max", b.Max)
			bracket.MaxIncome = &ceiling
		}
		table.Brackets = append(table.Brackets, bracket)
	}
	for _, r := range rec.Rebates {
		tier := Tier(r.Tier)
		switch tier {
		case TierPrimary, TierSecondary, TierTertiary:
		default:
			return Table{}, fmt.Errorf("unknown rebate tier %q", r.Tier)
		}
		table.Rebates[tier] = Rebate{Tier: tier, Amount: p.decimal("rebate amount", r.Amount), AgeThreshold: r.AgeThreshold}
	}
	table.MedicalCredit = MedicalCredit{
		TaxYear:         taxYear,
		MainMember:      p.decimal("mainMember", rec.MedicalCredit.MainMember),
		FirstDependent:  p.decimal("firstDependent", rec.MedicalCredit.FirstDependent),
		OtherDependents: p.decimal("otherDependents", rec.MedicalCredit.OtherDependents),
	}
	table.Limits = Limits{
		TaxYear:            taxYear,
		UIFMonthlyCeiling:  p.decimal("uifMonthlyCeiling", rec.Limits.UIFMonthlyCeiling),
		UIFRate:            p.decimal("uifRate", rec.Limits.UIFRate),
		SDLRate:            p.decimal("sdlRate", rec.Limits.SDLRate),
		SDLAnnualThreshold: p.decimal("sdlAnnualThreshold", rec.Limits.SDLAnnualThreshold),
	}
	if p.err != nil {
		return Table{}, p.err
	}
	return table, nil
}

type parser struct {
	err error
}

func (p *parser) decimal(field, raw string) decimal.Decimal {
	if p.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		p.err = fmt.Errorf("%s: invalid amount %q", field, raw)
		return decimal.Zero
	}
	return d
}

// SeedAll loads tables into the store, logging what changed per tax year.
func SeedAll(ctx context.Context, store Seeder, tables []Table) error {
	for _, table := range tables {
		outcome, err := store.Seed(ctx, table)
		if err != nil {
			return fmt.Errorf("seed tax year %s: %w", table.TaxYear, err)
		}
		if outcome != SeedUnchanged {
			slog.Info("tax table seeded", "taxYear", table.TaxYear, "outcome", outcome)
		}
	}
	return nil
}
