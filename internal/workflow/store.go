package workflow

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"docpipe/internal/apperr"
	"docpipe/internal/db/repositories"
	"docpipe/pkg/models"
)

// Store is the workflow store: persists ordered step lists keyed by
// (scope, document-type) and enforces type-flow validation
// transactionally on every mutation.
type Store struct {
	repo     *repositories.WorkflowStepRepo
	database interface {
		BeginTx() (*sql.Tx, error)
	}
	types TypeProvider
	// rootType resolves the document-type name to the T0 the validator
	// chains from. In this system a document-type name doubles as its
	// own type identity, so rootType is the identity function; it is a
	// field (not a free function) so tests can swap it.
	rootType func(docType string) string
}

func NewStore(repos *repositories.Repositories, types TypeProvider) *Store {
	return &Store{
		repo:     repos.Workflows,
		database: repos,
		types:    types,
		rootType: func(docType string) string { return docType },
	}
}

// Read returns the ordered step list for (scope, scopeID, docType),
// unvalidated — this is the raw persisted shape; Resolver applies the
// read-time relaxation for type-incompatible and fanned-out steps.
func (s *Store) Read(ctx context.Context, scope models.WorkflowScope, scopeID, docType string) ([]*models.WorkflowStep, error) {
	return s.repo.List(ctx, nil, scope, scopeID, docType)
}

// Append validates the prospective list (existing + candidate) and, if
// valid, persists the new step inside a transaction. A validation
// failure never touches the database.
func (s *Store) Append(ctx context.Context, scope models.WorkflowScope, scopeID, docType, pluginName string, sequence int, settings map[string]any) (*models.WorkflowStep, models.ValidationResult, error) {
	existing, err := s.repo.List(ctx, nil, scope, scopeID, docType)
	if err != nil {
		return nil, models.ValidationResult{}, fmt.Errorf("read existing steps: %w", err)
	}

	candidate := &models.WorkflowStep{
		ID:           uuid.NewString(),
		Scope:        scope,
		ScopeID:      scopeID,
		DocumentType: docType,
		Sequence:     sequence,
		PluginName:   pluginName,
		Enabled:      true,
		Settings:     settings,
	}

	result := ValidateAppend(s.rootType(docType), existing, candidate, s.types)
	if !result.OK() {
		return nil, result, apperr.New(apperr.Validation, "workflow step is not type-compatible")
	}

	tx, err := s.database.BeginTx()
	if err != nil {
		return nil, result, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.repo.Insert(ctx, tx, candidate); err != nil {
		return nil, result, apperr.Wrap(apperr.Conflict, "duplicate (sequence, plugin) for this scope and type", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, result, fmt.Errorf("commit: %w", err)
	}
	return candidate, result, nil
}

// Delete removes one step without revalidating the remaining list.
// Removing a step from the middle of a chain can leave later steps
// type-incompatible; the Resolver drops such steps at read time.
func (s *Store) Delete(ctx context.Context, scope models.WorkflowScope, scopeID, docType, stepID string) error {
	if err := s.repo.Delete(ctx, nil, scope, stepID); err != nil {
		if err == sql.ErrNoRows {
			return apperr.New(apperr.NotFound, "workflow step not found")
		}
		return fmt.Errorf("delete step: %w", err)
	}
	return nil
}

// SequenceChange is one entry of a Reorder request.
type SequenceChange struct {
	StepID      string
	NewSequence int
}

// Reorder persists new sequence numbers and revalidates the whole list;
// if the resulting flow is invalid, the transaction is rolled back and
// the store is left exactly as it was.
func (s *Store) Reorder(ctx context.Context, scope models.WorkflowScope, scopeID, docType string, changes []SequenceChange) (models.ValidationResult, error) {
	tx, err := s.database.BeginTx()
	if err != nil {
		return models.ValidationResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, c := range changes {
		if err := s.repo.UpdateSequence(ctx, tx, scope, c.StepID, c.NewSequence); err != nil {
			return models.ValidationResult{}, fmt.Errorf("update sequence for %s: %w", c.StepID, err)
		}
	}

	updated, err := s.repo.List(ctx, tx, scope, scopeID, docType)
	if err != nil {
		return models.ValidationResult{}, fmt.Errorf("read reordered steps: %w", err)
	}

	result := Validate(s.rootType(docType), updated, s.types)
	if !result.OK() {
		// Rollback happens via defer; report the reason without
		// committing anything.
		return result, apperr.New(apperr.Validation, "reordered workflow is not type-compatible")
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit reorder: %w", err)
	}
	return result, nil
}

// ListCompatiblePlugins returns the names of active plugins that accept
// the expected input type at insertionSequence, i.e. the output type of
// whatever currently sits at insertionSequence-1 (or rootType if
// insertionSequence is 1). The only warning it reports is
// UNDEFINED_INPUT_TYPE, when a fan-out precedes the slot; plugins left
// out for a wrong input type are not reported, and plugins already
// present at that slot are not excluded.
func (s *Store) ListCompatiblePlugins(ctx context.Context, scope models.WorkflowScope, scopeID, docType string, insertionSequence int) ([]string, models.ValidationResult, error) {
	existing, err := s.repo.List(ctx, nil, scope, scopeID, docType)
	if err != nil {
		return nil, models.ValidationResult{}, fmt.Errorf("read existing steps: %w", err)
	}

	expected := s.rootType(docType)
	groups := groupBySequence(existing)
	for _, g := range groups {
		if g.sequence >= insertionSequence {
			break
		}
		if len(g.steps) == 1 {
			if out, err := s.types.OutputType(g.steps[0].PluginName); err == nil && out != "" {
				expected = out
				continue
			}
		}
		expected = "" // undefined: fan-out precedes the insertion point
	}

	var result models.ValidationResult
	if expected == "" {
		result.Warnings = append(result.Warnings, models.ValidationIssue{
			Code:    "UNDEFINED_INPUT_TYPE",
			Path:    fmt.Sprintf("/sequence/%d", insertionSequence),
			Message: "the preceding sequence is a parallel fan-out with no single output type",
		})
		return nil, result, nil
	}

	all := []string{}
	provider, ok := s.types.(interface{ CompatibleWithInput(string) []string })
	if ok {
		all = provider.CompatibleWithInput(expected)
	}
	return all, result, nil
}
