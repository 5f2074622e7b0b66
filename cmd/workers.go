package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/sundial/internal/domain"
)

func newWorkersCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Manage the worker registry",
	}

	cmd.AddCommand(
		newWorkersListCmd(app),
		newWorkersRegisterCmd(app),
		newWorkersRemoveCmd(app),
		newWorkersPruneCmd(app),
	)

	return cmd
}

func newWorkersListCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := app.registry.All(cmd.Context())
			if err != nil {
				return err
			}

			sorted := make([]domain.WorkerEntry, 0, len(entries))
			for _, entry := range entries {
				sorted = append(sorted, entry)
			}
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sorted)
			}

			if len(sorted) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No workers registered.")
				return err
			}

			for _, entry := range sorted {
				line := fmt.Sprintf("%s\t%s", entry.Name, entry.Type)
				if entry.Project != "" {
					line += "\t" + entry.Project
				}
				if len(entry.Capabilities) > 0 {
					line += "\t[" + strings.Join(entry.Capabilities, ", ") + "]"
				}
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

func newWorkersRegisterCmd(app *app) *cobra.Command {
	var (
		workerType   string
		endpoint     string
		capabilities []string
		pid          int
		project      string
	)

	cmd := &cobra.Command{
		Use:   "register <worker>",
		Short: "Register a worker or refresh its entry",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := domain.WorkerEntry{
				Name:         domain.WorkerID(args[0]),
				Type:         domain.WorkerType(workerType),
				Endpoint:     endpoint,
				Capabilities: capabilities,
				PID:          pid,
				Project:      project,
			}
			if err := entry.Validate(); err != nil {
				return usageError{err: err}
			}

			if err := app.registry.Upsert(cmd.Context(), entry); err != nil {
				return err
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", domain.NormalizeName(entry.Name), entry.Type)
			return err
		},
	}

	cmd.Flags().StringVar(&workerType, "type", string(domain.WorkerPoolMember), "Worker type: pool-member, terminal, project-bound")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Worker endpoint address")
	cmd.Flags().StringSliceVar(&capabilities, "capabilities", nil, "Worker capabilities")
	cmd.Flags().IntVar(&pid, "pid", 0, "Worker process ID, enables liveness pruning")
	cmd.Flags().StringVar(&project, "project", "", "Bound project, required for project-bound workers")

	return cmd
}

func newWorkersRemoveCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <worker>",
		Short: "Remove a worker and its coordination state",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := domain.WorkerID(args[0])
			if err := app.registry.Remove(cmd.Context(), name); err != nil {
				return err
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", domain.NormalizeName(name))
			return err
		},
	}
}

func newWorkersPruneCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove workers whose recorded process is gone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			removed, err := app.registry.PruneDead(cmd.Context())
			if err != nil {
				return err
			}

			if len(removed) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no dead workers")
				return err
			}

			names := make([]string, len(removed))
			for i, name := range removed {
				names[i] = string(name)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %s\n", strings.Join(names, ", "))
			return err
		},
	}
}
