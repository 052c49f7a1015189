package scheduler

import (
	"context"
	"errors"

	"docpipe/internal/logging"
)

type workerContextKey struct{}

// ErrCancelled is returned by CheckCancellation once the job's cancel
// signal has fired; plugin code that polls it should treat this as
// grounds to abort the current step.
var ErrCancelled = errors.New("scheduler: job was cancelled")

// WorkerContext is the worker runtime's progress and cancellation
// surface, reachable from inside a plugin's handler via
// WorkerContextFrom(ctx) without widening the Plugin interface itself.
type WorkerContext struct {
	jobID      string
	pluginName string
	store      *JobStore
	cancelCh   <-chan struct{}
}

func withWorkerContext(ctx context.Context, wc *WorkerContext) context.Context {
	return context.WithValue(ctx, workerContextKey{}, wc)
}

// WorkerContextFrom retrieves the WorkerContext a dispatched job's
// handler is running under, or nil if ctx was not produced by the
// scheduler (e.g. in a unit test invoking a plugin directly).
func WorkerContextFrom(ctx context.Context) *WorkerContext {
	wc, _ := ctx.Value(workerContextKey{}).(*WorkerContext)
	return wc
}

// ReportProgress calls updateProgress(job_id, percent, message); errors
// are logged rather than propagated, since a progress report dropped due
// to a transient store failure should not abort the plugin's work.
func (wc *WorkerContext) ReportProgress(ctx context.Context, percent int, message string) {
	if wc == nil {
		return
	}
	if err := wc.store.UpdateProgress(ctx, wc.jobID, percent, message); err != nil {
		logging.Error("worker runtime: job %s progress update failed: %v", wc.jobID, err)
	}
}

// CheckCancellation reports whether the job's cancel signal has fired,
// returning ErrCancelled if so. Plugins are expected to poll this
// periodically during long-running work.
func (wc *WorkerContext) CheckCancellation() error {
	if wc == nil {
		return nil
	}
	select {
	case <-wc.cancelCh:
		return ErrCancelled
	default:
		return nil
	}
}

// JobID returns the identifier of the job the current handler invocation
// belongs to.
func (wc *WorkerContext) JobID() string {
	if wc == nil {
		return ""
	}
	return wc.jobID
}
