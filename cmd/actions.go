package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/sundial/internal/domain"
)

func newActionsCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Inspect and apply planner recommendations",
	}

	cmd.AddCommand(
		newActionsListCmd(app),
		newActionsApplyCmd(app),
	)

	return cmd
}

func newActionsListCmd(app *app) *cobra.Command {
	var (
		worker string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actionable recommendations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var actions []domain.Action
			if worker != "" {
				actions = app.planner.ActionsFor(domain.WorkerID(worker))
			} else {
				actions = app.planner.ActionableNow()
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(actions)
			}

			if len(actions) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no pending actions")
				return err
			}

			for _, action := range actions {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%s\n",
					action.ID, action.WorkerID, action.Type, action.Priority, action.Reason); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&worker, "worker", "", "Limit to one worker's actions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

func newActionsApplyCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <action-id>",
		Short: "Mark a recommendation as applied",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.planner.MarkApplied(cmd.Context(), args[0]); err != nil {
				return err
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", args[0])
			return err
		},
	}
}
