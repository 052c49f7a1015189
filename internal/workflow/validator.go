// Package workflow implements the workflow store and workflow resolver:
// persisted ordered step lists with static type-flow validation and
// dynamic resolution for a document.
//
// The ValidationIssue/ValidationResult shape reports
// Code/Path/Message/Hint for every problem instead of a bare error
// string.
package workflow

import (
	"fmt"

	"docpipe/pkg/models"
)

// TypeProvider answers the three questions the type-flow validator needs
// about a plugin without depending on the plugin package directly (kept
// as a narrow interface so workflow has no import on internal/plugin).
type TypeProvider interface {
	// AcceptsInput reports whether plugin accepts inputType.
	AcceptsInput(plugin, inputType string) (bool, error)
	// OutputType returns the output type a plugin declares, or "" if none.
	OutputType(plugin string) (string, error)
	// IsActive reports whether the named plugin is currently active.
	IsActive(plugin string) bool
}

// group is one sequence number's worth of steps.
type group struct {
	sequence int
	steps    []*models.WorkflowStep
}

func groupBySequence(steps []*models.WorkflowStep) []group {
	bySeq := map[int][]*models.WorkflowStep{}
	for _, s := range steps {
		bySeq[s.Sequence] = append(bySeq[s.Sequence], s)
	}
	var seqs []int
	for seq := range bySeq {
		seqs = append(seqs, seq)
	}
	// insertion sort is fine: workflows are short (a handful of steps)
	for i := 1; i < len(seqs); i++ {
		for j := i; j > 0 && seqs[j-1] > seqs[j]; j-- {
			seqs[j-1], seqs[j] = seqs[j], seqs[j-1]
		}
	}
	out := make([]group, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, group{sequence: seq, steps: bySeq[seq]})
	}
	return out
}

// Validate implements the type-flow validation algorithm: the expected
// input type at position k (T_{k-1}) must be accepted by
// every member of group k; T_k is the unique member's output type when
// the group has exactly one member, and is otherwise undefined, which
// forbids any further sequence from appending past a parallel fan-out
// unless it still only requires T_{k-1} (the documented relaxation).
func Validate(rootType string, steps []*models.WorkflowStep, types TypeProvider) models.ValidationResult {
	var result models.ValidationResult
	groups := groupBySequence(steps)

	expected := rootType
	expectedDefined := true

	for _, g := range groups {
		path := fmt.Sprintf("/sequence/%d", g.sequence)

		if !expectedDefined {
			// A previous group fanned out in parallel; the relaxed rule
			// allows continuing by falling back to the prior defined type.
			// `expected` still holds the last defined type, so validation
			// continues, but a warning is recorded so callers know
			// chaining here is on thin ice.
			result.Warnings = append(result.Warnings, models.ValidationIssue{
				Code:    "CHAINING_PAST_FANOUT",
				Path:    path,
				Message: fmt.Sprintf("sequence %d follows a parallel fan-out with no single output type; falling back to '%s'", g.sequence, expected),
				Hint:    "Avoid appending steps after a parallel group unless every sibling in that group happens to declare the same implicit contract.",
			})
		}

		for _, s := range g.steps {
			if !types.IsActive(s.PluginName) {
				result.Errors = append(result.Errors, models.ValidationIssue{
					Code:    "PLUGIN_NOT_ACTIVE",
					Path:    path + "/plugin/" + s.PluginName,
					Message: fmt.Sprintf("plugin '%s' is not active", s.PluginName),
					Hint:    "Load or enable the plugin before referencing it in a workflow.",
				})
				continue
			}
			ok, err := types.AcceptsInput(s.PluginName, expected)
			if err != nil {
				result.Errors = append(result.Errors, models.ValidationIssue{
					Code:    "PLUGIN_LOOKUP_FAILED",
					Path:    path + "/plugin/" + s.PluginName,
					Message: err.Error(),
				})
				continue
			}
			if !ok {
				result.Errors = append(result.Errors, models.ValidationIssue{
					Code:    "TYPE_MISMATCH",
					Path:    path + "/plugin/" + s.PluginName,
					Message: fmt.Sprintf("plugin '%s' does not accept input type '%s' at sequence %d", s.PluginName, expected, g.sequence),
					Hint:    "Choose a plugin whose input types include the previous step's output type, or reorder the workflow.",
				})
			}
		}

		if len(g.steps) == 1 {
			out, err := types.OutputType(g.steps[0].PluginName)
			if err == nil && out != "" {
				expected = out
				expectedDefined = true
				continue
			}
		}
		// Either a parallel group, or a single plugin with no declared
		// output type: the type at this position is undefined.
		expectedDefined = false
	}

	return result
}

// ValidateAppend checks whether inserting one new step at the given
// sequence would keep the resulting list valid, without mutating
// anything — used by Append.
func ValidateAppend(rootType string, existing []*models.WorkflowStep, candidate *models.WorkflowStep, types TypeProvider) models.ValidationResult {
	combined := make([]*models.WorkflowStep, 0, len(existing)+1)
	combined = append(combined, existing...)
	combined = append(combined, candidate)
	return Validate(rootType, combined, types)
}
