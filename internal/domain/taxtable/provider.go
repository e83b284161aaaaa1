package taxtable

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Provider assembles and caches validated tables per tax year. When the
// source is a Versioner each lookup checks the seed version and reloads a
// table that has been reseeded since it was cached. It is safe for
// concurrent use.
type Provider struct {
	source Source
	mu     sync.RWMutex
	cache  map[string]cachedTable
}

type cachedTable struct {
	table   Table
	version int64
}

func NewProvider(source Source) *Provider {
	return &Provider{source: source, cache: map[string]cachedTable{}}
}

func (p *Provider) Table(ctx context.Context, taxYear string) (Table, error) {
	version, err := p.version(ctx, taxYear)
	if err != nil {
		return Table{}, err
	}
	p.mu.RLock()
	cached, ok := p.cache[taxYear]
	p.mu.RUnlock()
	if ok && cached.version == version {
		return cached.table, nil
	}

	table, err := p.load(ctx, taxYear)
	if err != nil {
		return Table{}, err
	}

	// A reseed that landed mid-load may have mixed old and new rows.
	after, err := p.version(ctx, taxYear)
	if err != nil {
		return Table{}, err
	}
	if after != version {
		if table, err = p.load(ctx, taxYear); err != nil {
			return Table{}, err
		}
		version = after
	}

	p.mu.Lock()
	p.cache[taxYear] = cachedTable{table: table, version: version}
	p.mu.Unlock()
	return table, nil
}

func (p *Provider) version(ctx context.Context, taxYear string) (int64, error) {
	v, ok := p.source.(Versioner)
	if !ok {
		return 0, nil
	}
	version, err := v.VersionOf(ctx, taxYear)
	if err != nil {
		return 0, fmt.Errorf("load tax table version: %w", err)
	}
	return version, nil
}

func (p *Provider) load(ctx context.Context, taxYear string) (Table, error) {
	brackets, err := p.source.BracketsFor(ctx, taxYear)
	if err != nil {
		return Table{}, fmt.Errorf("load brackets: %w", err)
	}
	rebates, err := p.source.RebatesFor(ctx, taxYear)
	if err != nil {
		return Table{}, fmt.Errorf("load rebates: %w", err)
	}
	medical, err := p.source.MedicalCreditFor(ctx, taxYear)
	if err != nil {
		return Table{}, fmt.Errorf("load medical credits: %w", err)
	}
	limits, err := p.source.LimitsFor(ctx, taxYear)
	if err != nil {
		return Table{}, fmt.Errorf("load statutory limits: %w", err)
	}
	table := Table{TaxYear: taxYear, Brackets: brackets, Rebates: rebates, MedicalCredit: medical, Limits: limits}
	if err := table.Validate(); err != nil {
		return Table{}, err
	}
	return table, nil
}

// StaticSource serves tables held in memory, such as the built-in set.
type StaticSource struct {
	tables map[string]Table
}

func NewStaticSource(tables ...Table) *StaticSource {
	s := &StaticSource{tables: map[string]Table{}}
	for _, t := range tables {
		s.tables[t.TaxYear] = t
	}
	return s
}

func (s *StaticSource) TaxYears() []string {
	out := make([]string, 0, len(s.tables))
	for year := range s.tables {
		out = append(out, year)
	}
	sort.Strings(out)
	return out
}

func (s *StaticSource) lookup(taxYear, component string) (Table, error) {
	t, ok := s.tables[taxYear]
	if !ok {
		return Table{}, &NotConfiguredError{TaxYear: taxYear, Component: component}
	}
	return t, nil
}

func (s *StaticSource) BracketsFor(_ context.Context, taxYear string) ([]Bracket, error) {
	t, err := s.lookup(taxYear, "tax brackets")
	if err != nil {
		return nil, err
	}
	return append([]Bracket(nil), t.Brackets...), nil
}

func (s *StaticSource) RebatesFor(_ context.Context, taxYear string) (map[Tier]Rebate, error) {
	t, err := s.lookup(taxYear, "tax rebates")
	if err != nil {
		return nil, err
	}
	out := make(map[Tier]Rebate, len(t.Rebates))
	for tier, r := range t.Rebates {
		out[tier] = r
	}
	return out, nil
}

func (s *StaticSource) MedicalCreditFor(_ context.Context, taxYear string) (MedicalCredit, error) {
	t, err := s.lookup(taxYear, "medical tax credits")
	if err != nil {
		return MedicalCredit{}, err
	}
	return t.MedicalCredit, nil
}

func (s *StaticSource) LimitsFor(_ context.Context, taxYear string) (Limits, error) {
	t, err := s.lookup(taxYear, "statutory limits")
	if err != nil {
		return Limits{}, err
	}
	return t.Limits, nil
}
