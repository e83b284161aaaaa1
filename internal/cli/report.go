package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"sapayroll/internal/domain/reports"
)

type reportOptions struct {
	practiceID string
	outDir     string
}

// NewReportCommand groups the statutory report generators. Each writes one
// file into --out and prints its path.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &reportOptions{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write EMP201, EMP501 or IRP5 reports from committed payroll data",
	}
	cmd.PersistentFlags().StringVarP(&opts.outDir, "out", "o", ".", "output directory")
	cmd.AddCommand(newEMP201Command(rootOpts, opts))
	cmd.AddCommand(newEMP501Command(rootOpts, opts))
	cmd.AddCommand(newIRP5Command(rootOpts, opts))
	return cmd
}

func newEMP201Command(rootOpts *RootOptions, opts *reportOptions) *cobra.Command {
	var month, year int
	cmd := &cobra.Command{
		Use:   "emp201",
		Short: "Monthly employer declaration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := connect(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer svc.Close()

			decl, err := svc.reports.MonthlyDeclaration(cmd.Context(), opts.practiceID, reports.Period{Month: month, Year: year})
			if err != nil {
				return WrapExitError(ExitFailure, "emp201", err)
			}
			body, err := reports.DeclarationCSV(decl)
			if err != nil {
				return WrapExitError(ExitFailure, "emp201", err)
			}
			return writeReport(rootOpts, opts, cmd, decl.Filename(), body)
		},
	}
	cmd.Flags().StringVar(&opts.practiceID, "practice", "", "practice id")
	cmd.Flags().IntVar(&month, "month", 0, "payroll month (1-12)")
	cmd.Flags().IntVar(&year, "year", 0, "calendar year of the payroll month")
	_ = cmd.MarkFlagRequired("practice")
	_ = cmd.MarkFlagRequired("month")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func newEMP501Command(rootOpts *RootOptions, opts *reportOptions) *cobra.Command {
	var taxYear, period string
	cmd := &cobra.Command{
		Use:   "emp501",
		Short: "Interim or annual reconciliation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := reports.ParseScope(period)
			if err != nil {
				return WrapExitError(ExitCommandError, "emp501", err)
			}
			svc, err := connect(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer svc.Close()

			rec, err := svc.reports.Reconciliation(cmd.Context(), opts.practiceID, taxYear, scope)
			if err != nil {
				return WrapExitError(ExitFailure, "emp501", err)
			}
			body, err := reports.ReconciliationCSV(rec)
			if err != nil {
				return WrapExitError(ExitFailure, "emp501", err)
			}
			if err := writeReport(rootOpts, opts, cmd, rec.Filename(), body); err != nil {
				return err
			}
			if !rec.Balanced {
				return NewExitError(ExitFailure, fmt.Sprintf("reconciliation for %s does not balance", rec.TaxYear))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.practiceID, "practice", "", "practice id")
	cmd.Flags().StringVar(&taxYear, "tax-year", "", "tax year, e.g. 2024/2025")
	cmd.Flags().StringVar(&period, "period", string(reports.ScopeAnnual), "interim or annual")
	_ = cmd.MarkFlagRequired("practice")
	_ = cmd.MarkFlagRequired("tax-year")
	return cmd
}

func newIRP5Command(rootOpts *RootOptions, opts *reportOptions) *cobra.Command {
	var employeeID, taxYear, format string
	cmd := &cobra.Command{
		Use:   "irp5",
		Short: "Employee tax certificate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "txt" && format != "pdf" {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid --as %q: must be txt or pdf", format))
			}
			svc, err := connect(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer svc.Close()

			cert, err := svc.reports.AnnualCertificate(cmd.Context(), employeeID, taxYear)
			if err != nil {
				return WrapExitError(ExitFailure, "irp5", err)
			}
			body := reports.CertificateText(cert)
			if format == "pdf" {
				if body, err = reports.CertificatePDF(cert); err != nil {
					return WrapExitError(ExitFailure, "irp5", err)
				}
			}
			return writeReport(rootOpts, opts, cmd, cert.Filename(format), body)
		},
	}
	cmd.Flags().StringVar(&employeeID, "employee", "", "employee id")
	cmd.Flags().StringVar(&taxYear, "tax-year", "", "tax year, e.g. 2024/2025")
	cmd.Flags().StringVar(&format, "as", "txt", "certificate format (txt|pdf)")
	_ = cmd.MarkFlagRequired("employee")
	_ = cmd.MarkFlagRequired("tax-year")
	return cmd
}

func writeReport(rootOpts *RootOptions, opts *reportOptions, cmd *cobra.Command, filename string, body []byte) error {
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "output directory", err)
	}
	path := filepath.Join(opts.outDir, filename)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return WrapExitError(ExitCommandError, "write report", err)
	}
	return formatter(rootOpts, cmd).Success(map[string]any{"path": path, "bytes": len(body)}, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, path)
		return err
	})
}
