package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bnema/sundial/internal/application"
	"github.com/bnema/sundial/internal/domain"
)

func newUsageCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Record and inspect token consumption",
	}

	cmd.AddCommand(
		newUsageRecordCmd(app),
		newUsageSummaryCmd(app),
	)

	return cmd
}

func newUsageRecordCmd(app *app) *cobra.Command {
	var (
		component string
		usageType string
	)

	cmd := &cobra.Command{
		Use:   "record <worker> <tokens>",
		Short: "Charge tokens against a worker's active allocation",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || tokens <= 0 {
				return usageError{err: fmt.Errorf("tokens must be a positive integer, got %q", args[1])}
			}

			accepted, err := app.budget.RecordUsage(cmd.Context(), application.UsageReport{
				WorkerID:  domain.WorkerID(args[0]),
				Component: component,
				Tokens:    tokens,
				UsageType: usageType,
			})
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "recorded %d token(s)\n", accepted)
			return err
		},
	}

	cmd.Flags().StringVar(&component, "component", "", "Component the usage belongs to")
	cmd.Flags().StringVar(&usageType, "type", "total", "Usage type: input, output, total")

	return cmd
}

func newUsageSummaryCmd(app *app) *cobra.Command {
	var (
		period string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show per-tier consumption for the current period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summaries := app.budget.Summary(domain.BudgetPeriod(period))

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summaries)
			}

			for _, summary := range summaries {
				line := fmt.Sprintf("%-12s %s: %d", summary.Tier, summary.Period, summary.Used)
				if summary.Limit > 0 {
					line = fmt.Sprintf("%s/%d tokens (%.0f%%)", line, summary.Limit, summary.Utilization*100)
				} else {
					line += " tokens"
				}
				if summary.ActiveAllocations > 0 {
					line = fmt.Sprintf("%s, %d active allocation(s)", line, summary.ActiveAllocations)
				}
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&period, "period", string(domain.PeriodDaily), "Budget period: hourly, daily, weekly, monthly, per-session")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}
