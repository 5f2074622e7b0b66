package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/sundial/internal/application"
	"github.com/bnema/sundial/internal/domain"
)

func newAllocateCmd(app *app) *cobra.Command {
	var (
		component string
		provider  string
		model     string
		taskType  string
		priority  string
		tokens    int64
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "allocate <worker>",
		Short: "Grant a token allocation to a worker",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskPriority, err := parsePriority(priority)
			if err != nil {
				return usageError{err: err}
			}

			allocation, err := app.budget.Allocate(cmd.Context(), application.AllocationRequest{
				WorkerID:  domain.WorkerID(args[0]),
				Component: component,
				Provider:  provider,
				Model:     model,
				TaskType:  taskType,
				Priority:  taskPriority,
				Tokens:    tokens,
				TTL:       ttl,
			})
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "allocated %d tokens (%s tier) to %s: %s\n",
				allocation.TokensAllocated, allocation.Tier, allocation.WorkerID, allocation.ID)
			return err
		},
	}

	cmd.Flags().StringVar(&component, "component", "", "Component the allocation belongs to")
	cmd.Flags().StringVar(&provider, "provider", "", "Model provider, used for tier resolution")
	cmd.Flags().StringVar(&model, "model", "", "Model name, used for tier resolution")
	cmd.Flags().StringVar(&taskType, "task", "default", "Task type: default, chat, coding, analysis")
	cmd.Flags().StringVar(&priority, "priority", "normal", "Task priority: low, normal, high, critical")
	cmd.Flags().Int64Var(&tokens, "tokens", 0, "Token grant (default: per task type and priority)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Allocation lifetime, zero means no expiry")

	return cmd
}

func parsePriority(value string) (domain.TaskPriority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "low":
		return domain.PriorityLow, nil
	case "", "normal":
		return domain.PriorityNormal, nil
	case "high":
		return domain.PriorityHigh, nil
	case "critical":
		return domain.PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", value)
	}
}
