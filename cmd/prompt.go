package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/sundial/internal/domain"
)

func newPromptCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Stage, promote, and consume worker prompts",
	}

	cmd.AddCommand(
		newPromptStageCmd(app),
		newPromptPromoteCmd(app),
		newPromptNextCmd(app),
		newPromptRecordCmd(app),
	)

	return cmd
}

func newPromptStageCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stage <worker> <text>",
		Short: "Stage a prompt for later promotion",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.registry.UpdateCoordination(cmd.Context(), domain.WorkerID(args[0]), func(state *domain.CoordinationState) error {
				state.StagedPrompt = args[1]
				return nil
			})
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), "prompt staged")
			return err
		},
	}
}

func newPromptPromoteCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <worker>",
		Short: "Promote the staged prompt to the next-prompt slot",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			promoted := false
			err := app.registry.UpdateCoordination(cmd.Context(), domain.WorkerID(args[0]), func(state *domain.CoordinationState) error {
				promoted = state.PromoteStaged()
				return nil
			})
			if err != nil {
				return err
			}

			if !promoted {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "nothing staged")
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "prompt promoted")
			return err
		},
	}
}

func newPromptNextCmd(app *app) *cobra.Command {
	var consume bool

	cmd := &cobra.Command{
		Use:   "next <worker>",
		Short: "Print the pending next prompt",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			worker := domain.WorkerID(args[0])

			state, err := app.registry.Coordination(cmd.Context(), worker)
			if err != nil {
				return err
			}
			if state.NextPrompt == "" {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no pending prompt")
				return err
			}

			if consume {
				err = app.registry.UpdateCoordination(cmd.Context(), worker, func(state *domain.CoordinationState) error {
					state.NextPrompt = ""
					return nil
				})
				if err != nil {
					return err
				}
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), state.NextPrompt)
			return err
		},
	}

	cmd.Flags().BoolVar(&consume, "consume", false, "Clear the prompt after printing it")

	return cmd
}

// newPromptRecordCmd is the output ingestion path: it stores the worker's
// latest exchange (which lets the registry capture checkpoint-style summaries)
// and runs a stress reading over it.
func newPromptRecordCmd(app *app) *cobra.Command {
	var (
		prompt    string
		response  string
		tokens    int64
		maxTokens int64
	)

	cmd := &cobra.Command{
		Use:   "record <worker>",
		Short: "Record a worker's latest prompt/response exchange",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			worker := domain.WorkerID(args[0])
			now := app.now()

			err := app.registry.UpdateCoordination(cmd.Context(), worker, func(state *domain.CoordinationState) error {
				state.LastOutput = &domain.Exchange{
					Prompt:   prompt,
					Response: response,
					At:       now,
				}
				return nil
			})
			if err != nil {
				return err
			}

			analysis, err := app.stress.Analyze(cmd.Context(), worker, domain.ContextSnapshot{
				TokenCount: tokens,
				MaxTokens:  maxTokens,
				Turns:      []domain.Exchange{{Prompt: prompt, Response: response, At: now}},
			}, response)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "recorded; stress %.2f (%s)\n", analysis.Stress, analysis.Mood)
			return err
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt sent to the worker")
	cmd.Flags().StringVar(&response, "response", "", "Worker's response")
	cmd.Flags().Int64Var(&tokens, "tokens", 0, "Current context token count")
	cmd.Flags().Int64Var(&maxTokens, "max-tokens", 0, "Context window size")

	return cmd
}
