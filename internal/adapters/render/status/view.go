// Package status renders the fleet overview for the terminal.
package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/sundial/internal/application"
	"github.com/bnema/sundial/internal/domain"
)

// WorkerView is one worker's row in the fleet overview.
type WorkerView struct {
	Name            domain.WorkerID
	Type            domain.WorkerType
	Phase           domain.LifecyclePhase
	Tier            domain.BudgetTier
	TokensUsed      int64
	TokensAllocated int64
	PendingActions  int
	Stress          float64
	Urgency         domain.Urgency
	NeedsFreshStart bool
	LastSeen        time.Time
}

// FleetView is everything the status command shows.
type FleetView struct {
	Workers   []WorkerView
	Summaries []application.TierSummary
	Now       time.Time
}

func Render(view FleetView) string {
	return renderView(view, newStyles())
}

func renderView(view FleetView, s styles) string {
	lines := []string{
		s.title.Render("Sundial Fleet Status"),
		s.header.Render(fmt.Sprintf("workers: %d", len(view.Workers))),
	}

	if len(view.Workers) == 0 {
		lines = append(lines, s.empty.Render("No workers registered."))
	}

	for _, worker := range view.Workers {
		lines = append(lines, s.section.Render(renderWorker(worker, view.Now, s)))
	}

	if len(view.Summaries) > 0 {
		lines = append(lines, s.section.Render(renderSummaries(view.Summaries, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderWorker(worker WorkerView, now time.Time, s styles) string {
	parts := []string{
		s.worker.Render(fmt.Sprintf("%s (%s)", worker.Name, worker.Type)),
	}

	phase := fmt.Sprintf("phase: %s", worker.Phase)
	if worker.NeedsFreshStart {
		phase += " " + s.warning.Render("[needs fresh start]")
	}
	parts = append(parts, s.detail.Render(phase))

	if worker.TokensAllocated > 0 {
		percent := float64(worker.TokensUsed) / float64(worker.TokensAllocated) * 100
		line := lipgloss.JoinHorizontal(
			lipgloss.Top,
			s.limitKey.Render(fmt.Sprintf("%s budget:", worker.Tier)),
			" ",
			renderProgressBar(percent, 24, s),
			" ",
			s.detail.Render(fmt.Sprintf("%d/%d tokens", worker.TokensUsed, worker.TokensAllocated)),
		)
		parts = append(parts, line)
	} else {
		parts = append(parts, s.detail.Render("budget: no active allocation"))
	}

	meta := fmt.Sprintf("actions pending: %d  stress: %.2f", worker.PendingActions, worker.Stress)
	if worker.Urgency != domain.UrgencyNone && worker.Urgency != "" {
		meta += " " + s.warning.Render(fmt.Sprintf("[%s]", worker.Urgency))
	}
	parts = append(parts, s.detail.Render(meta))

	if !worker.LastSeen.IsZero() && !now.IsZero() {
		parts = append(parts, s.header.Render("last seen "+formatAge(now.Sub(worker.LastSeen))))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderSummaries(summaries []application.TierSummary, s styles) string {
	parts := []string{s.title.Render("Daily budgets")}

	for _, summary := range summaries {
		if summary.Limit <= 0 {
			continue
		}

		line := lipgloss.JoinHorizontal(
			lipgloss.Top,
			s.limitKey.Render(fmt.Sprintf("%-12s", summary.Tier)),
			" ",
			renderProgressBar(summary.Utilization*100, 24, s),
			" ",
			s.detail.Render(fmt.Sprintf("%d/%d tokens (%d active)", summary.Used, summary.Limit, summary.ActiveAllocations)),
		)
		parts = append(parts, line)
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderProgressBar(usedPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	used := clampPercent(usedPercent)
	filled := int(math.Round(float64(width) * used / 100))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	fillSegment := s.barFill.Render(strings.Repeat("=", filled))
	emptySegment := s.barEmpty.Render(strings.Repeat("-", width-filled))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		fillSegment,
		emptySegment,
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatAge(age time.Duration) string {
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		minutes := int(age.Minutes())
		return fmt.Sprintf("%dm ago", minutes)
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}
