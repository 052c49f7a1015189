package models

import "time"

// JobStatus is a job's position in the execution state machine.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is one of the machine's sink states.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// validTransitions encodes the legal state machine edges.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobPending: {JobQueued: true, JobCancelled: true},
	JobQueued:  {JobRunning: true, JobCancelled: true},
	JobRunning: {JobCompleted: true, JobFailed: true, JobCancelled: true},
}

// CanTransition reports whether moving from 'from' to 'to' is legal.
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return false
	}
	return validTransitions[from][to]
}

// Job is a durable execution record for one (document, plugin) pairing.
type Job struct {
	ID             string     `json:"id"`
	DocumentID     string     `json:"document_id"`
	PluginName     string     `json:"plugin_name"`
	TaskID         string     `json:"task_id,omitempty"`
	Status         JobStatus  `json:"status"`
	Progress       int        `json:"progress"`
	ProgressMsg    string     `json:"progress_message,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	OutputDocID    *string    `json:"output_document_id,omitempty"`
	Settings       map[string]any `json:"settings,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}
