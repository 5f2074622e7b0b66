// Package heuristics holds the text-pattern classifiers that bridge free-form
// worker output and the lifecycle state machine. They are wired in behind
// function types so a smarter classifier can replace them without touching
// callers.
package heuristics

import "strings"

const maxKeyDecisions = 10

var checkpointMarkers = []string{
	"current context",
	"key decisions",
	"progress made",
	"unfinished work",
	"next steps",
	"context preserved",
	"sunset summary",
	"checkpoint summary",
}

var decisionPrefixes = []string{
	"decision:", "decided:", "conclusion:", "agreed:", "will:",
}

var decisionSectionWords = []string{
	"decision", "conclusion", "next step",
}

// IsCheckpointSummary reports whether worker output reads like a structured
// sundown summary rather than ordinary conversation. It requires at least two
// of the summary section markers so a passing mention does not trigger a
// lifecycle transition.
func IsCheckpointSummary(text string) bool {
	lowered := strings.ToLower(text)

	hits := 0
	for _, marker := range checkpointMarkers {
		if strings.Contains(lowered, marker) {
			hits++
			if hits >= 2 {
				return true
			}
		}
	}

	return false
}

// ExtractKeyDecisions pulls decision-looking lines out of a summary: lines
// with an explicit decision prefix, plus bulleted items that appear after a
// decision-ish heading. Capped at ten entries.
func ExtractKeyDecisions(summary string) []string {
	var decisions []string
	lines := strings.Split(summary, "\n")

	offset := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		lowered := strings.ToLower(trimmed)

		switch {
		case hasDecisionPrefix(lowered):
			decisions = append(decisions, trimmed)
		case isBullet(trimmed) && len(trimmed) > 10:
			preceding := strings.ToLower(summary[:offset])
			for _, word := range decisionSectionWords {
				if strings.Contains(preceding, word) {
					decisions = append(decisions, strings.TrimSpace(trimmed[2:]))
					break
				}
			}
		}

		offset += len(line) + 1
		if len(decisions) >= maxKeyDecisions {
			break
		}
	}

	return decisions
}

func hasDecisionPrefix(lowered string) bool {
	for _, prefix := range decisionPrefixes {
		if strings.Contains(lowered, prefix) {
			return true
		}
	}
	return false
}

func isBullet(line string) bool {
	return strings.HasPrefix(line, "- ") ||
		strings.HasPrefix(line, "* ") ||
		strings.HasPrefix(line, "• ")
}
