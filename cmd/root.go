package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sundial",
		Short:         "sundial: CI worker fleet coordination",
		Long:          "sundial coordinates a fleet of CI workers: it meters token budgets, plans corrective actions under stress, and walks workers through sundown/sunrise checkpoint transitions without losing context.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newWorkersCmd(app),
		newStatusCmd(app),
		newCheckpointCmd(app),
		newPromptCmd(app),
		newRestoreCmd(app),
		newAllocateCmd(app),
		newUsageCmd(app),
		newActionsCmd(app),
		newPolicyCmd(app),
		newRunCmd(app),
	)

	return rootCmd
}
