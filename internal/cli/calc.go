package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"sapayroll/internal/domain/payroll"
	"sapayroll/internal/domain/taxtable"
)

type calcOptions struct {
	gross      string
	birthDate  string
	month      int
	year       int
	dependents int
	sdlLiable  bool
}

// NewCalcCommand computes one employee's withholding from the tax tables
// alone. It never touches the database.
func NewCalcCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &calcOptions{}
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Calculate PAYE, UIF and SDL for one monthly salary",
		Example: `  payrollctl calc --gross 30000 --birth-date 1984-06-15 --month 6 --year 2024
  payrollctl calc --gross 30000 --birth-date 1957-01-01 --month 6 --year 2024 --dependents 2 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalc(rootOpts, opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.gross, "gross", "", "monthly gross remuneration in rand")
	cmd.Flags().StringVar(&opts.birthDate, "birth-date", "", "date of birth (YYYY-MM-DD)")
	cmd.Flags().IntVar(&opts.month, "month", 0, "payroll month (1-12)")
	cmd.Flags().IntVar(&opts.year, "year", 0, "calendar year of the payroll month")
	cmd.Flags().IntVar(&opts.dependents, "dependents", 0, "medical aid members including the employee")
	cmd.Flags().BoolVar(&opts.sdlLiable, "sdl-liable", false, "employer is liable for SDL")
	_ = cmd.MarkFlagRequired("gross")
	_ = cmd.MarkFlagRequired("birth-date")
	_ = cmd.MarkFlagRequired("month")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func runCalc(rootOpts *RootOptions, opts *calcOptions, cmd *cobra.Command) error {
	gross, err := decimal.NewFromString(opts.gross)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --gross", err)
	}
	dob, err := time.Parse(time.DateOnly, opts.birthDate)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --birth-date", err)
	}
	if opts.dependents < 0 {
		return NewExitError(ExitCommandError, "--dependents must not be negative")
	}
	period := payroll.Period{Month: opts.month, Year: opts.year}
	if !period.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid period %d/%d", opts.month, opts.year))
	}

	tables, err := loadTables(rootOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "load tax tables", err)
	}
	table, err := tableFor(tables, period.TaxYear())
	if err != nil {
		return WrapExitError(ExitFailure, "calculate", err)
	}

	result, err := payroll.Calculate(table, payroll.CalculationInput{
		Employee: payroll.Employee{
			ID:                   "cli",
			DateOfBirth:          dob,
			MonthlyGross:         gross,
			MedicalAidDependents: opts.dependents,
		},
		Gross:     gross,
		Period:    period,
		SDLLiable: opts.sdlLiable,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "calculate", err)
	}
	return formatter(rootOpts, cmd).Success(result, func(w io.Writer) error {
		return writeCalculation(w, result)
	})
}

func tableFor(tables []taxtable.Table, taxYear string) (taxtable.Table, error) {
	for _, t := range tables {
		if t.TaxYear == taxYear {
			return t, nil
		}
	}
	return taxtable.Table{}, &taxtable.NotConfiguredError{TaxYear: taxYear, Component: "tax table"}
}

func writeCalculation(w io.Writer, r payroll.CalculationResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Period", r.Period.String()},
		{"Tax year", r.TaxYear},
		{"Age", fmt.Sprint(r.Age)},
		{"Gross", r.Gross.StringFixed(2)},
		{"Annualized income", r.AnnualizedIncome.StringFixed(2)},
		{"Gross annual tax", r.GrossAnnualTax.StringFixed(2)},
		{"Rebates", r.TotalRebates.StringFixed(2)},
		{"Medical credit", r.MedicalCredit.StringFixed(2)},
		{"Final annual tax", r.FinalAnnualTax.StringFixed(2)},
		{"PAYE", r.MonthlyPAYE.StringFixed(2)},
		{"UIF employee", r.UIFEmployee.StringFixed(2)},
		{"UIF employer", r.UIFEmployer.StringFixed(2)},
		{"SDL", r.SDL.StringFixed(2)},
		{"Net pay", r.NetPay.StringFixed(2)},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
	}
	return tw.Flush()
}
