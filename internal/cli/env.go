package cli

import (
	"context"

	"sapayroll/internal/domain/payroll"
	"sapayroll/internal/domain/reports"
	"sapayroll/internal/domain/taxtable"
	"sapayroll/internal/platform/config"
	"sapayroll/internal/platform/crypto"
	"sapayroll/internal/platform/db"
)

func loadConfig(opts *RootOptions) config.Config {
	cfg := config.Load()
	if opts.DatabaseURL != "" {
		cfg.DatabaseURL = opts.DatabaseURL
	}
	if opts.TablesFile != "" {
		cfg.TaxTablesFile = opts.TablesFile
	}
	return cfg
}

func loadTables(opts *RootOptions) ([]taxtable.Table, error) {
	if opts.TablesFile != "" {
		return taxtable.LoadFile(opts.TablesFile)
	}
	return taxtable.BuiltIn()
}

// services is the database-backed stack a command works against.
type services struct {
	pool     *db.Pool
	taxStore *taxtable.Store
	payroll  *payroll.Service
	reports  *reports.Service
}

func (s *services) Close() {
	s.pool.Close()
}

func connect(ctx context.Context, opts *RootOptions) (*services, error) {
	cfg := loadConfig(opts)
	if cfg.DatabaseURL == "" {
		return nil, NewExitError(ExitCommandError, "DATABASE_URL or --database-url is required")
	}
	cipher, err := crypto.New(cfg.DataEncryptionKey)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "encryption key", err)
	}
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, WrapExitError(ExitCommandError, "connect", err)
	}
	taxStore := taxtable.NewStore(pool)
	return &services{
		pool:     pool,
		taxStore: taxStore,
		payroll: payroll.NewService(
			payroll.NewStore(pool, cipher),
			taxtable.NewProvider(taxStore),
			payroll.WithWorkers(cfg.PayrollWorkers),
		),
		reports: reports.NewService(reports.NewStore(pool)),
	}, nil
}
