package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"docpipe/pkg/models"
)

type DocumentTypeRepo struct{ db *sql.DB }

func NewDocumentTypeRepo(db *sql.DB) *DocumentTypeRepo { return &DocumentTypeRepo{db: db} }

// Upsert registers (or re-registers) a document type. Types are never
// deleted while referenced; there is deliberately no Delete
// method here.
func (r *DocumentTypeRepo) Upsert(ctx context.Context, t *models.DocumentType) error {
	mimes, err := json.Marshal(t.MimeTypes)
	if err != nil {
		return fmt.Errorf("marshal mime types: %w", err)
	}
	var schema []byte
	if t.MetadataSchema != nil {
		if schema, err = json.Marshal(t.MetadataSchema); err != nil {
			return fmt.Errorf("marshal metadata schema: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO document_types (name, display_name, registered_by, mime_types, metadata_schema)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name = excluded.display_name,
			registered_by = excluded.registered_by,
			mime_types = excluded.mime_types,
			metadata_schema = excluded.metadata_schema`,
		t.Name, t.DisplayName, t.RegisteredBy, string(mimes), nullBytes(schema))
	if err != nil {
		return fmt.Errorf("upsert document type %s: %w", t.Name, err)
	}
	return nil
}

func (r *DocumentTypeRepo) GetByName(ctx context.Context, name string) (*models.DocumentType, error) {
	row := r.db.QueryRowContext(ctx, `SELECT name, display_name, registered_by, mime_types, metadata_schema, created_at FROM document_types WHERE name = ?`, name)
	var t models.DocumentType
	var mimes string
	var schema sql.NullString
	if err := row.Scan(&t.Name, &t.DisplayName, &t.RegisteredBy, &mimes, &schema, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan document type: %w", err)
	}
	_ = json.Unmarshal([]byte(mimes), &t.MimeTypes)
	if schema.Valid {
		_ = json.Unmarshal([]byte(schema.String), &t.MetadataSchema)
	}
	return &t, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
