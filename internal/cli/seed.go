package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"sapayroll/internal/domain/taxtable"
	"sapayroll/internal/platform/db"
)

func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load tax tables into the database",
		Long: `Seed writes every tax year from --tables (or the built-in tables) into the
database. Unchanged years are left alone; years already used by a committed
payroll run are refused.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tables, err := loadTables(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "load tax tables", err)
			}
			svc, err := connect(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer svc.Close()

			if migrate {
				if err := db.Migrate(cmd.Context(), svc.pool, db.Migrations()); err != nil {
					return WrapExitError(ExitCommandError, "migrations", err)
				}
			}
			if err := taxtable.SeedAll(cmd.Context(), svc.taxStore, tables); err != nil {
				return WrapExitError(ExitFailure, "seed", err)
			}
			years := make([]string, 0, len(tables))
			for _, t := range tables {
				years = append(years, t.TaxYear)
			}
			return formatter(rootOpts, cmd).Success(map[string]any{"taxYears": years}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "seeded %d tax years: %v\n", len(years), years)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations first")
	return cmd
}
