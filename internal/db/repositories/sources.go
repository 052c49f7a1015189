package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"docpipe/pkg/models"
)

type SourceRepo struct{ db *sql.DB }

func NewSourceRepo(db *sql.DB) *SourceRepo { return &SourceRepo{db: db} }

func (r *SourceRepo) Insert(ctx context.Context, s *models.Source) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sources (id, owner_id, name, credential_hash, credential_prefix, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.OwnerID, s.Name, s.CredentialHash, s.CredentialPrefix, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

func (r *SourceRepo) GetByID(ctx context.Context, id string) (*models.Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, owner_id, name, credential_hash, credential_prefix, created_at FROM sources WHERE id = ?`, id)
	var s models.Source
	if err := row.Scan(&s.ID, &s.OwnerID, &s.Name, &s.CredentialHash, &s.CredentialPrefix, &s.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan source: %w", err)
	}
	return &s, nil
}
