package taxtable

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type countingSource struct {
	*StaticSource
	mu    sync.Mutex
	calls int
}

func (c *countingSource) BracketsFor(ctx context.Context, taxYear string) ([]Bracket, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.StaticSource.BracketsFor(ctx, taxYear)
}

func TestProviderCachesPerTaxYear(t *testing.T) {
	tables, err := BuiltIn()
	if err != nil {
		t.Fatalf("built-in tables: %v", err)
	}
	source := &countingSource{StaticSource: NewStaticSource(tables...)}
	provider := NewProvider(source)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := provider.Table(context.Background(), "2024/2025"); err != nil {
				t.Errorf("table: %v", err)
			}
		}()
	}
	wg.Wait()

	before := source.calls
	if _, err := provider.Table(context.Background(), "2024/2025"); err != nil {
		t.Fatalf("table: %v", err)
	}
	if source.calls != before {
		t.Fatal("expected cached table on repeat lookup")
	}
}

// reseedableSource swaps its tables and bumps its version the way a
// database reseed does.
type reseedableSource struct {
	*StaticSource
	mu      sync.Mutex
	version int64
}

func (r *reseedableSource) VersionOf(context.Context, string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version, nil
}

func (r *reseedableSource) reseed(tables ...Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StaticSource = NewStaticSource(tables...)
	r.version++
}

func TestProviderReloadsAfterReseed(t *testing.T) {
	tables, err := BuiltIn()
	if err != nil {
		t.Fatalf("built-in tables: %v", err)
	}
	var original Table
	for _, tbl := range tables {
		if tbl.TaxYear == "2024/2025" {
			original = tbl
		}
	}
	source := &reseedableSource{StaticSource: NewStaticSource(original), version: 1}
	provider := NewProvider(source)
	first, err := provider.Table(context.Background(), "2024/2025")
	if err != nil {
		t.Fatalf("table: %v", err)
	}

	revised := original
	revised.Limits.UIFMonthlyCeiling = original.Limits.UIFMonthlyCeiling.Add(original.Limits.UIFMonthlyCeiling)
	source.reseed(revised)

	second, err := provider.Table(context.Background(), "2024/2025")
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	if second.Limits.UIFMonthlyCeiling.Equal(first.Limits.UIFMonthlyCeiling) {
		t.Fatal("expected reseeded table after version change")
	}
	if !second.Limits.UIFMonthlyCeiling.Equal(revised.Limits.UIFMonthlyCeiling) {
		t.Fatalf("unexpected ceiling %s", second.Limits.UIFMonthlyCeiling)
	}

	third, err := provider.Table(context.Background(), "2024/2025")
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	if !third.Equal(second) {
		t.Fatal("expected cached table while version is unchanged")
	}
}

func TestProviderNotConfigured(t *testing.T) {
	provider := NewProvider(NewStaticSource())
	_, err := provider.Table(context.Background(), "2030/2031")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	var nc *NotConfiguredError
	if !errors.As(err, &nc) || nc.TaxYear != "2030/2031" || nc.Component != "tax brackets" {
		t.Fatalf("unexpected error detail %+v", nc)
	}
}

func TestProviderRejectsInvalidTable(t *testing.T) {
	tables, err := BuiltIn()
	if err != nil {
		t.Fatalf("built-in tables: %v", err)
	}
	broken := tables[2]
	broken.Brackets = broken.Brackets[1:]
	provider := NewProvider(NewStaticSource(broken))
	if _, err := provider.Table(context.Background(), broken.TaxYear); !errors.Is(err, ErrTableIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}
