package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/sundial/internal/domain"
)

func newPolicyCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage budget policies",
	}

	cmd.AddCommand(
		newPolicyListCmd(app),
		newPolicySetCmd(app),
		newPolicyRemoveCmd(app),
	)

	return cmd
}

func newPolicyListCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List budget policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policies := app.budget.Policies()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(policies)
			}

			for _, policy := range policies {
				scope := ""
				if policy.Component != "" {
					scope = " component=" + policy.Component
				}
				if policy.TaskType != "" {
					scope += " task=" + policy.TaskType
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s %s %s limit=%d warn=%.2f action=%.2f%s\n",
					policy.ID, policy.Type, policy.Tier, policy.Period,
					policy.Limit, policy.WarningThreshold, policy.ActionThreshold, scope); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

func newPolicySetCmd(app *app) *cobra.Command {
	var (
		id              string
		policyType      string
		tier            string
		period          string
		limit           int64
		warnThreshold   float64
		actionThreshold float64
		component       string
		taskType        string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create or replace a budget policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy := domain.BudgetPolicy{
				ID:               id,
				Type:             domain.PolicyType(policyType),
				Period:           domain.BudgetPeriod(period),
				Tier:             domain.BudgetTier(tier),
				Limit:            limit,
				WarningThreshold: warnThreshold,
				ActionThreshold:  actionThreshold,
				Component:        component,
				TaskType:         taskType,
				Enabled:          true,
			}
			if err := app.budget.SetPolicy(cmd.Context(), policy); err != nil {
				return err
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), "policy stored")
			return err
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Policy ID (default: generated)")
	cmd.Flags().StringVar(&policyType, "type", string(domain.PolicyWarn), "Policy type: ignore, warn, soft-limit, hard-limit")
	cmd.Flags().StringVar(&tier, "tier", string(domain.TierMidweight), "Budget tier: lightweight, midweight, heavyweight")
	cmd.Flags().StringVar(&period, "period", string(domain.PeriodDaily), "Budget period: hourly, daily, weekly, monthly, per-session")
	cmd.Flags().Int64Var(&limit, "limit", 0, "Token limit")
	cmd.Flags().Float64Var(&warnThreshold, "warn-threshold", 0.8, "Warning threshold ratio")
	cmd.Flags().Float64Var(&actionThreshold, "action-threshold", 0.95, "Action threshold ratio")
	cmd.Flags().StringVar(&component, "component", "", "Scope to a component")
	cmd.Flags().StringVar(&taskType, "task", "", "Scope to a task type")

	return cmd
}

func newPolicyRemoveCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <policy-id>",
		Short: "Remove a budget policy",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.budget.RemovePolicy(cmd.Context(), args[0]); err != nil {
				return err
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return err
		},
	}
}
