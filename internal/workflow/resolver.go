package workflow

import (
	"context"
	"fmt"

	"docpipe/internal/logging"
	"docpipe/pkg/models"
)

// Resolver selects the effective step list for a document: source-scoped
// if set and non-empty, else user-scoped, else empty.
type Resolver struct {
	store *Store
	types TypeProvider
}

func NewResolver(store *Store, types TypeProvider) *Resolver {
	return &Resolver{store: store, types: types}
}

// DocumentRef is the minimal document shape the resolver needs.
type DocumentRef struct {
	TypeName string
	OwnerID  string
	SourceID *string
}

// Resolve returns the ordered, read-time-validated step list for a
// document. Unknown plugins are skipped with a warning; steps whose
// input type does not match the running expected type are dropped, not
// errored, so partial workflows still progress as far as they can.
// Source-scoped workflows win over user-scoped ones when non-empty.
func (r *Resolver) Resolve(ctx context.Context, doc DocumentRef) ([]models.ResolvedStep, error) {
	if doc.SourceID != nil {
		steps, err := r.store.Read(ctx, models.ScopeSource, *doc.SourceID, doc.TypeName)
		if err != nil {
			return nil, fmt.Errorf("read source workflow: %w", err)
		}
		if len(steps) > 0 {
			return r.filterAndResolve(doc.TypeName, steps), nil
		}
	}

	steps, err := r.store.Read(ctx, models.ScopeUser, doc.OwnerID, doc.TypeName)
	if err != nil {
		return nil, fmt.Errorf("read user workflow: %w", err)
	}
	if len(steps) > 0 {
		return r.filterAndResolve(doc.TypeName, steps), nil
	}

	// Neither scope has a workflow: do nothing rather than falling back
	// to a system-default (see DESIGN.md for the decision record).
	return nil, nil
}

// filterAndResolve walks the persisted step list in sequence order,
// skipping unknown plugins and type-incompatible steps rather than
// failing the whole resolution.
func (r *Resolver) filterAndResolve(rootType string, steps []*models.WorkflowStep) []models.ResolvedStep {
	groups := groupBySequence(steps)
	expected := rootType
	expectedDefined := true
	var out []models.ResolvedStep

	for _, g := range groups {
		var survivors []*models.WorkflowStep
		for _, s := range g.steps {
			if !s.Enabled {
				continue
			}
			if !r.types.IsActive(s.PluginName) {
				logging.Info("workflow resolver: warning: skipping unknown/inactive plugin %s at sequence %d", s.PluginName, s.Sequence)
				continue
			}
			if !expectedDefined {
				// Fan-out ambiguity: nothing downstream can be trusted to
				// chain correctly, so stop here entirely.
				continue
			}
			ok, err := r.types.AcceptsInput(s.PluginName, expected)
			if err != nil || !ok {
				logging.Debug("workflow resolver: dropping step %s/%s, input type mismatch at sequence %d", s.PluginName, s.ID, s.Sequence)
				continue
			}
			survivors = append(survivors, s)
		}

		if len(survivors) == 0 {
			if !expectedDefined {
				break
			}
			continue
		}

		for _, s := range survivors {
			out = append(out, models.ResolvedStep{Sequence: s.Sequence, PluginName: s.PluginName, Settings: s.Settings})
		}

		if len(survivors) == 1 {
			if outType, err := r.types.OutputType(survivors[0].PluginName); err == nil && outType != "" {
				expected = outType
				expectedDefined = true
				continue
			}
		}
		expectedDefined = false
	}

	return out
}
