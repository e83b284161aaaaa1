package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sapayroll/internal/domain/payroll"
)

func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	var practiceID string
	var month, year int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate or recalculate the draft payroll run for a month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := connect(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer svc.Close()

			summary, err := svc.payroll.GenerateRun(cmd.Context(), practiceID, month, year)
			if err != nil {
				return WrapExitError(ExitFailure, "generate", err)
			}
			return formatter(rootOpts, cmd).Success(summary, func(w io.Writer) error {
				return writeRun(w, summary.Run)
			})
		},
	}
	cmd.Flags().StringVar(&practiceID, "practice", "", "practice id")
	cmd.Flags().IntVar(&month, "month", 0, "payroll month (1-12)")
	cmd.Flags().IntVar(&year, "year", 0, "calendar year of the payroll month")
	_ = cmd.MarkFlagRequired("practice")
	_ = cmd.MarkFlagRequired("month")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <run-id>",
		Short: "Validate a payroll run and list its findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := connect(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer svc.Close()

			report, err := svc.payroll.ValidateRun(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "validate", err)
			}
			if err := formatter(rootOpts, cmd).Success(report, func(w io.Writer) error {
				return writeFindings(w, report)
			}); err != nil {
				return err
			}
			if report.HasErrors() {
				return NewExitError(ExitFailure, fmt.Sprintf("run %s has %d blocking findings", args[0], len(report.Errors)))
			}
			return nil
		},
	}
}

func NewCommitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "commit <run-id>",
		Short: "Commit a validated payroll run and write its audit logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := connect(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := svc.payroll.CommitRun(cmd.Context(), args[0])
			if err != nil {
				var verr *payroll.ValidationError
				if errors.As(err, &verr) {
					report := payroll.ValidationReport{Errors: verr.Findings}
					_ = formatter(rootOpts, cmd).Success(report, func(w io.Writer) error {
						return writeFindings(w, report)
					})
				}
				return WrapExitError(ExitFailure, "commit", err)
			}
			return formatter(rootOpts, cmd).Success(result, func(w io.Writer) error {
				if err := writeRun(w, result.Run); err != nil {
					return err
				}
				_, err := fmt.Fprintf(w, "audit logs written: %d\n", len(result.AuditLogs))
				return err
			})
		},
	}
}

func writeRun(w io.Writer, run payroll.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run\t%s\n", run.ID)
	fmt.Fprintf(tw, "Practice\t%s\n", run.PracticeID)
	fmt.Fprintf(tw, "Period\t%s\n", run.Period())
	fmt.Fprintf(tw, "Status\t%s\n", run.Status)
	fmt.Fprintf(tw, "Employees\t%d\n", run.Totals.EmployeeCount)
	fmt.Fprintf(tw, "Gross\t%s\n", run.Totals.Gross.StringFixed(2))
	fmt.Fprintf(tw, "PAYE\t%s\n", run.Totals.PAYE.StringFixed(2))
	fmt.Fprintf(tw, "UIF\t%s\n", run.Totals.UIFEmployee.Add(run.Totals.UIFEmployer).StringFixed(2))
	fmt.Fprintf(tw, "SDL\t%s\n", run.Totals.SDL.StringFixed(2))
	fmt.Fprintf(tw, "Net\t%s\n", run.Totals.Net.StringFixed(2))
	return tw.Flush()
}

func writeFindings(w io.Writer, report payroll.ValidationReport) error {
	if len(report.Errors) == 0 && len(report.Warnings) == 0 {
		_, err := fmt.Fprintln(w, "no findings")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tCODE\tEMPLOYEE\tMESSAGE")
	for _, f := range append(append([]payroll.Finding{}, report.Errors...), report.Warnings...) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Severity, f.Code, f.EmployeeName, f.Message)
	}
	return tw.Flush()
}
