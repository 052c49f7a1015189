package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"docpipe/pkg/models"
)

// JobRepo is the durable half of the job store. It performs no
// state-machine checking itself; internal/scheduler calls it only
// after validating transitions via models.CanTransition, one row at a
// time under short transactions.
type JobRepo struct{ db *sql.DB }

func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{db: db} }

func (r *JobRepo) Insert(ctx context.Context, j *models.Job) error {
	settings, err := json.Marshal(j.Settings)
	if err != nil {
		return fmt.Errorf("marshal job settings: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO processing_jobs (id, document_id, plugin_name, task_id, status, progress, settings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.DocumentID, j.PluginName, j.TaskID, string(j.Status), j.Progress, string(settings), j.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepo) GetByID(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, baseJobQuery+" WHERE id = ?", id)
	return r.scanOne(row)
}

// UpdateStatus transitions a job's status. Callers must have already
// checked models.CanTransition; this method does not re-check it, since
// the no-transition-out-of-terminal-state rule is enforced by the caller
// under a lock, not by a database CHECK constraint.
func (r *JobRepo) UpdateStatus(ctx context.Context, id string, status models.JobStatus, taskID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE processing_jobs SET status = ?, task_id = COALESCE(NULLIF(?, ''), task_id) WHERE id = ?`, string(status), taskID, id)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

func (r *JobRepo) MarkStarted(ctx context.Context, id string, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE processing_jobs SET status = ?, started_at = ? WHERE id = ?`, string(models.JobRunning), startedAt, id)
	if err != nil {
		return fmt.Errorf("mark job started: %w", err)
	}
	return nil
}

// UpdateProgress enforces monotonic nondecreasing progress while
// running at the SQL layer via a WHERE guard, so a stale/racing update
// from a retried message cannot move progress backwards.
func (r *JobRepo) UpdateProgress(ctx context.Context, id string, percent int, message string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE processing_jobs SET progress = ?, progress_message = ?
		WHERE id = ? AND status = ? AND progress <= ?`,
		percent, message, id, string(models.JobRunning), percent)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update job progress: job %s not running or progress regressed", id)
	}
	return nil
}

func (r *JobRepo) MarkCompleted(ctx context.Context, id string, result map[string]any, outputDocID *string, completedAt time.Time) error {
	resJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `UPDATE processing_jobs SET status = ?, progress = 100, result = ?, output_document_id = ?, completed_at = ? WHERE id = ?`,
		string(models.JobCompleted), string(resJSON), nullableStr(outputDocID), completedAt, id)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

func (r *JobRepo) MarkFailed(ctx context.Context, id, errMsg string, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE processing_jobs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(models.JobFailed), errMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

func (r *JobRepo) MarkCancelled(ctx context.Context, id, reason string, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE processing_jobs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(models.JobCancelled), reason, completedAt, id)
	if err != nil {
		return fmt.Errorf("mark job cancelled: %w", err)
	}
	return nil
}

// ExistingChildOfType implements the at-most-one-per-fingerprint check:
// a completed job for the same parent document and plugin whose output
// document is of the expected type means the work is done.
func (r *JobRepo) ExistingChildOfType(ctx context.Context, parentDocID, pluginName, outputType string) (*models.Document, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT d.id, d.type_name, d.owner_id, d.source_id, d.parent_id, d.storage_plugin, d.storage_path, d.content_type, d.size_bytes, d.content_hash, d.properties, d.created_at, d.updated_at
		FROM processing_jobs j
		JOIN documents d ON d.id = j.output_document_id
		WHERE j.document_id = ? AND j.plugin_name = ? AND j.status = ? AND d.type_name = ?
		LIMIT 1`, parentDocID, pluginName, string(models.JobCompleted), outputType)

	var d models.Document
	var sourceID, parentID sql.NullString
	var props string
	if err := row.Scan(&d.ID, &d.TypeName, &d.OwnerID, &sourceID, &parentID,
		&d.Storage.PluginName, &d.Storage.Path, &d.Storage.ContentType, &d.Storage.Size, &d.Storage.ContentHash,
		&props, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query existing child: %w", err)
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

const baseJobQuery = `SELECT id, document_id, plugin_name, task_id, status, progress, progress_message, result, error_message, output_document_id, settings, created_at, started_at, completed_at FROM processing_jobs`

func (r *JobRepo) scanOne(row *sql.Row) (*models.Job, error) {
	var j models.Job
	var taskID, progressMsg, result, errMsg, outputDocID, settings sql.NullString
	var startedAt, completedAt sql.NullTime
	if err := row.Scan(&j.ID, &j.DocumentID, &j.PluginName, &taskID, &j.Status, &j.Progress, &progressMsg, &result, &errMsg, &outputDocID, &settings, &j.CreatedAt, &startedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.TaskID = taskID.String
	j.ProgressMsg = progressMsg.String
	j.ErrorMessage = errMsg.String
	if result.Valid && result.String != "" {
		_ = json.Unmarshal([]byte(result.String), &j.Result)
	}
	if settings.Valid && settings.String != "" {
		_ = json.Unmarshal([]byte(settings.String), &j.Settings)
	}
	if outputDocID.Valid {
		id := outputDocID.String
		j.OutputDocID = &id
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	return &j, nil
}
