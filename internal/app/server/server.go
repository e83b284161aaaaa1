package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"sapayroll/internal/domain/audit"
	"sapayroll/internal/domain/payroll"
	"sapayroll/internal/domain/reports"
	"sapayroll/internal/domain/taxtable"
	"sapayroll/internal/platform/config"
	"sapayroll/internal/platform/crypto"
	"sapayroll/internal/platform/db"
	"sapayroll/internal/platform/jobs"
	"sapayroll/internal/platform/metrics"
	"sapayroll/internal/transport/http/middleware"

	"github.com/go-chi/httplog/v3"
)

type App struct {
	Config  config.Config
	DB      *db.Pool
	Router  http.Handler
	Metrics *metrics.Collector
	Jobs    *jobs.Service
	logger  *slog.Logger
}

// NewLogger returns the process logger: JSON lines with ECS field names so
// application and access logs share one schema.
func NewLogger(cfg config.Config) *slog.Logger {
	logFormat := httplog.SchemaECS.Concise(!cfg.IsProduction())
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       cfg.SlogLevel(),
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", "sapayroll"),
		slog.String("env", cfg.Environment),
	)
}

// LoadTaxTables returns the tables to seed: the file named by TAX_TABLES_FILE
// when set, the embedded tables otherwise.
func LoadTaxTables(cfg config.Config) ([]taxtable.Table, error) {
	if cfg.TaxTablesFile != "" {
		return taxtable.LoadFile(cfg.TaxTablesFile)
	}
	return taxtable.BuiltIn()
}

// New connects to the database, applies migrations and seed data and wires
// every service behind the HTTP router.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, db.Migrations()); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}

	taxStore := taxtable.NewStore(pool)
	if cfg.RunSeed {
		tables, err := LoadTaxTables(cfg)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("load tax tables: %w", err)
		}
		if err := taxtable.SeedAll(ctx, taxStore, tables); err != nil {
			pool.Close()
			return nil, err
		}
	}

	cipher, err := crypto.New(cfg.DataEncryptionKey)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	if !cipher.Configured() {
		logger.Warn("DATA_ENCRYPTION_KEY not set; bank account numbers are read as plaintext")
	}

	collector := metrics.New()
	provider := taxtable.NewProvider(taxStore)
	payrollSvc := payroll.NewService(
		payroll.NewStore(pool, cipher),
		provider,
		payroll.WithWorkers(cfg.PayrollWorkers),
		payroll.WithMetrics(collector),
	)
	auditSvc := audit.New(pool)

	router := NewRouter(cfg, logger, Deps{
		Payroll:     payrollSvc,
		Reports:     reports.NewService(reports.NewStore(pool)),
		TaxYears:    taxStore,
		Tables:      provider,
		Audit:       auditSvc,
		Idempotency: middleware.NewIdempotencyStore(pool),
		Metrics:     collector,
		Ready:       pool.Ping,
	})

	return &App{
		Config:  cfg,
		DB:      pool,
		Router:  router,
		Metrics: collector,
		Jobs:    jobs.New(pool, payrollSvc, cfg.DraftScheduleInterval),
		logger:  logger,
	}, nil
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	a.Jobs.Start(ctx)
	srv := &http.Server{
		Addr:              a.Config.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("payroll server listening", "addr", a.Config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()
	a.logger.Info("payroll server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}
