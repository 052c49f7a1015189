package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"docpipe/pkg/models"
)

// EventRepo is the event log. It is written to only from
// the bus's fire-and-forget persistence hook.
type EventRepo struct{ db *sql.DB }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// Insert writes one event row. Persisting an event yields exactly one
// new row whose id equals the event id, since (id) is the primary key
// and this is a plain single-row insert.
func (r *EventRepo) Insert(ctx context.Context, e models.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO system_events (id, type, origin, severity, payload, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.Origin, string(e.Severity), string(payload), nullableStr(e.UserID), e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent returns events newer than `since`, optionally filtered by an
// exact-match type list and an origin substring, newest-first — the storage
// side of `recentEvents` for callers that want history
// older than the in-memory ring buffer retains.
func (r *EventRepo) Recent(ctx context.Context, since time.Time, types []string, originSubstring string) ([]models.Event, error) {
	q := `SELECT id, type, origin, severity, payload, user_id, created_at FROM system_events WHERE created_at >= ?`
	args := []any{since}

	if len(types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
		q += fmt.Sprintf(" AND type IN (%s)", placeholders)
		for _, t := range types {
			args = append(args, t)
		}
	}
	if originSubstring != "" {
		q += " AND origin LIKE ?"
		args = append(args, "%"+originSubstring+"%")
	}
	q += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var e models.Event
		var payload string
		var userID sql.NullString
		if err := rows.Scan(&e.ID, &e.Type, &e.Origin, &e.Severity, &payload, &userID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if payload != "" {
			_ = json.Unmarshal([]byte(payload), &e.Payload)
		}
		if userID.Valid {
			e.UserID = &userID.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
