package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	statusrender "github.com/bnema/sundial/internal/adapters/render/status"
	"github.com/bnema/sundial/internal/domain"
)

func newStatusCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the fleet overview",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			view, err := buildFleetView(cmd.Context(), app)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), statusrender.Render(view))
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

func buildFleetView(ctx context.Context, app *app) (statusrender.FleetView, error) {
	entries, err := app.registry.All(ctx)
	if err != nil {
		return statusrender.FleetView{}, err
	}
	coordination, err := app.registry.AllCoordination(ctx)
	if err != nil {
		return statusrender.FleetView{}, err
	}

	workers := make([]statusrender.WorkerView, 0, len(entries))
	for name, entry := range entries {
		view := statusrender.WorkerView{
			Name:     name,
			Type:     entry.Type,
			Phase:    app.lifecycle.Phase(name),
			LastSeen: entry.LastSeen,
		}
		if state, ok := coordination[name]; ok {
			view.NeedsFreshStart = state.NeedsFreshStart
		}

		if allocations := app.budget.AllocationsFor(name); len(allocations) > 0 {
			newest := allocations[0]
			view.Tier = newest.Tier
			view.TokensUsed = newest.TokensUsed
			view.TokensAllocated = newest.TokensAllocated
		}

		view.PendingActions = len(app.planner.ActionsFor(name))

		if history := app.stress.History(name); len(history) > 0 {
			latest := history[len(history)-1]
			view.Stress = latest.Stress
			view.Urgency = latest.Urgency
		}

		workers = append(workers, view)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].Name < workers[j].Name })

	return statusrender.FleetView{
		Workers:   workers,
		Summaries: app.budget.Summary(domain.PeriodDaily),
		Now:       app.now(),
	}, nil
}
