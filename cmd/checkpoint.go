package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/sundial/internal/domain"
)

func newCheckpointCmd(app *app) *cobra.Command {
	var (
		reason   string
		complete bool
		summary  string
		tokens   int64
	)

	cmd := &cobra.Command{
		Use:   "checkpoint <worker>",
		Short: "Initiate or complete a sundown checkpoint",
		Long:  "Without --complete, stages the sundown instruction as the worker's next prompt. With --complete, archives the summary and flags the worker for a fresh start; an empty --summary falls back to the context the registry captured from the worker's output.",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			worker := domain.WorkerID(args[0])

			if !complete {
				if err := app.lifecycle.InitiateCheckpoint(cmd.Context(), worker, reason); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "checkpoint requested for %s\n", domain.NormalizeName(worker))
				return err
			}

			state, err := app.lifecycle.CompleteCheckpoint(cmd.Context(), worker, summary, tokens)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "checkpoint complete for %s: %d key decision(s) preserved\n",
				state.WorkerID, len(state.KeyDecisions))
			return err
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the checkpoint was requested")
	cmd.Flags().BoolVar(&complete, "complete", false, "Complete the checkpoint instead of initiating one")
	cmd.Flags().StringVar(&summary, "summary", "", "Checkpoint summary text (default: registry-captured context)")
	cmd.Flags().Int64Var(&tokens, "tokens", 0, "Tokens consumed by the session being checkpointed")

	return cmd
}
