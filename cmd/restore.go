package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/sundial/internal/domain"
)

func newRestoreCmd(app *app) *cobra.Command {
	var stateRef string

	cmd := &cobra.Command{
		Use:   "restore <worker>",
		Short: "Stage a sunrise restoration prompt",
		Long:  "Builds the sunrise prompt from the worker's most recent checkpoint and stages it as the next prompt. --state restores from a specific archived checkpoint file instead.",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			worker := domain.WorkerID(args[0])

			var (
				prompt string
				err    error
			)
			if stateRef != "" {
				prompt, err = app.lifecycle.RestoreFrom(cmd.Context(), worker, stateRef)
			} else {
				prompt, err = app.lifecycle.Restore(cmd.Context(), worker)
			}
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), prompt)
			return err
		},
	}

	cmd.Flags().StringVar(&stateRef, "state", "", "Archived checkpoint file name to restore from")

	return cmd
}
