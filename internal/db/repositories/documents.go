package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"docpipe/pkg/models"
)

type DocumentRepo struct{ db *sql.DB }

func NewDocumentRepo(db *sql.DB) *DocumentRepo { return &DocumentRepo{db: db} }

// Insert persists a document within the given transaction (or the repo's
// own connection if tx is nil); a declared parent must already exist,
// enforced at the foreign-key level via schema constraints.
func (r *DocumentRepo) Insert(ctx context.Context, tx *sql.Tx, d *models.Document) error {
	props, err := json.Marshal(d.Properties)
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}

	q := `INSERT INTO documents
		(id, type_name, owner_id, source_id, parent_id, storage_plugin, storage_path, content_type, size_bytes, content_hash, properties, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []any{
		d.ID, d.TypeName, d.OwnerID, nullableStr(d.SourceID), nullableStr(d.ParentID),
		d.Storage.PluginName, d.Storage.Path, d.Storage.ContentType, d.Storage.Size, d.Storage.ContentHash,
		string(props), d.CreatedAt, d.UpdatedAt,
	}

	var execErr error
	if tx != nil {
		_, execErr = tx.ExecContext(ctx, q, args...)
	} else {
		_, execErr = r.db.ExecContext(ctx, q, args...)
	}
	if execErr != nil {
		return fmt.Errorf("insert document: %w", execErr)
	}
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*models.Document, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, baseDocumentQuery+" WHERE id = ?", id))
}

// Children returns the direct children of a document, ordered by
// creation time, used to walk the tree for cascade delete; a document's
// children form a finite tree, so this traversal terminates.
func (r *DocumentRepo) Children(ctx context.Context, tx *sql.Tx, parentID string) ([]*models.Document, error) {
	q := baseDocumentQuery + " WHERE parent_id = ? ORDER BY created_at"
	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, q, parentID)
	} else {
		rows, err = r.db.QueryContext(ctx, q, parentID)
	}
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// DeleteCascade removes a document and every descendant inside one
// transaction.
func (r *DocumentRepo) DeleteCascade(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := r.deleteCascadeTx(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *DocumentRepo) deleteCascadeTx(ctx context.Context, tx *sql.Tx, id string) error {
	children, err := r.Children(ctx, tx, id)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := r.deleteCascadeTx(ctx, tx, c.ID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

const baseDocumentQuery = `SELECT id, type_name, owner_id, source_id, parent_id, storage_plugin, storage_path, content_type, size_bytes, content_hash, properties, created_at, updated_at FROM documents`

func (r *DocumentRepo) scanOne(row *sql.Row) (*models.Document, error) {
	var d models.Document
	var sourceID, parentID sql.NullString
	var props string
	if err := row.Scan(&d.ID, &d.TypeName, &d.OwnerID, &sourceID, &parentID,
		&d.Storage.PluginName, &d.Storage.Path, &d.Storage.ContentType, &d.Storage.Size, &d.Storage.ContentHash,
		&props, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	if sourceID.Valid {
		d.SourceID = &sourceID.String
	}
	if parentID.Valid {
		d.ParentID = &parentID.String
	}
	if props != "" {
		_ = json.Unmarshal([]byte(props), &d.Properties)
	}
	return &d, nil
}

func (r *DocumentRepo) scanAll(rows *sql.Rows) ([]*models.Document, error) {
	var out []*models.Document
	for rows.Next() {
		var d models.Document
		var sourceID, parentID sql.NullString
		var props string
		if err := rows.Scan(&d.ID, &d.TypeName, &d.OwnerID, &sourceID, &parentID,
			&d.Storage.PluginName, &d.Storage.Path, &d.Storage.ContentType, &d.Storage.Size, &d.Storage.ContentHash,
			&props, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		if sourceID.Valid {
			d.SourceID = &sourceID.String
		}
		if parentID.Valid {
			d.ParentID = &parentID.String
		}
		if props != "" {
			_ = json.Unmarshal([]byte(props), &d.Properties)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func nullableStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
