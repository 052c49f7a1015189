package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"docpipe/pkg/models"
)

// WorkflowStepRepo is the persistence half of the workflow store. It is
// deliberately dumb: ordering and type-flow validation live in
// internal/workflow, which calls this repo for plain CRUD within a
// transaction it controls.
type WorkflowStepRepo struct{ db *sql.DB }

func NewWorkflowStepRepo(db *sql.DB) *WorkflowStepRepo { return &WorkflowStepRepo{db: db} }

func (r *WorkflowStepRepo) table(scope models.WorkflowScope) string {
	if scope == models.ScopeSource {
		return "source_workflow_steps"
	}
	return "user_workflow_steps"
}

func (r *WorkflowStepRepo) scopeColumn(scope models.WorkflowScope) string {
	if scope == models.ScopeSource {
		return "source_id"
	}
	return "user_id"
}

// List returns every step for (scope, scopeID, documentType) ordered by
// sequence number, then plugin name for deterministic sibling ordering.
func (r *WorkflowStepRepo) List(ctx context.Context, tx *sql.Tx, scope models.WorkflowScope, scopeID, docType string) ([]*models.WorkflowStep, error) {
	q := fmt.Sprintf(`SELECT id, %s, document_type, sequence_number, plugin_name, enabled, settings
		FROM %s WHERE %s = ? AND document_type = ? ORDER BY sequence_number, plugin_name`,
		r.scopeColumn(scope), r.table(scope), r.scopeColumn(scope))

	q2 := querier(tx, r.db)
	rows, err := q2.QueryContext(ctx, q, scopeID, docType)
	if err != nil {
		return nil, fmt.Errorf("list workflow steps: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkflowStep
	for rows.Next() {
		var s models.WorkflowStep
		var settings string
		var enabled int
		if err := rows.Scan(&s.ID, &s.ScopeID, &s.DocumentType, &s.Sequence, &s.PluginName, &enabled, &settings); err != nil {
			return nil, fmt.Errorf("scan workflow step: %w", err)
		}
		s.Scope = scope
		s.Enabled = enabled != 0
		if settings != "" {
			_ = json.Unmarshal([]byte(settings), &s.Settings)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// Insert persists one step row. The schema's unique index on
// (scope, document_type, sequence_number, plugin_name) enforces that
// constraint; a conflict surfaces as a plain SQL error that the caller
// maps to a Conflict apperr.
func (r *WorkflowStepRepo) Insert(ctx context.Context, tx *sql.Tx, s *models.WorkflowStep) error {
	settings, err := json.Marshal(s.Settings)
	if err != nil {
		return fmt.Errorf("marshal step settings: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, %s, document_type, sequence_number, plugin_name, enabled, settings)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, r.table(s.Scope), r.scopeColumn(s.Scope))

	enabled := 0
	if s.Enabled {
		enabled = 1
	}
	_, err = querier(tx, r.db).ExecContext(ctx, q, s.ID, s.ScopeID, s.DocumentType, s.Sequence, s.PluginName, enabled, string(settings))
	if err != nil {
		return fmt.Errorf("insert workflow step: %w", err)
	}
	return nil
}

func (r *WorkflowStepRepo) Delete(ctx context.Context, tx *sql.Tx, scope models.WorkflowScope, id string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, r.table(scope))
	res, err := querier(tx, r.db).ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete workflow step: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateSequence rewrites the sequence_number of one step, used by
// Reorder.
func (r *WorkflowStepRepo) UpdateSequence(ctx context.Context, tx *sql.Tx, scope models.WorkflowScope, id string, newSeq int) error {
	q := fmt.Sprintf(`UPDATE %s SET sequence_number = ? WHERE id = ?`, r.table(scope))
	_, err := querier(tx, r.db).ExecContext(ctx, q, newSeq, id)
	if err != nil {
		return fmt.Errorf("update step sequence: %w", err)
	}
	return nil
}

// querier lets call sites pass either an open transaction or fall back to
// the repo's own connection, matching the Repositories.BeginTx usage
// pattern used elsewhere in this package.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func querier(tx *sql.Tx, db *sql.DB) execQuerier {
	if tx != nil {
		return tx
	}
	return db
}
