package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"docpipe/internal/apperr"
	"docpipe/internal/db/repositories"
	"docpipe/internal/eventbus"
	"docpipe/internal/logging"
	"docpipe/internal/plugin"
	"docpipe/pkg/models"
)

// ErrAlreadyDone is returned by Submit when the at-most-one-per-fingerprint
// check finds a completed child of the expected output
// type already exists and regenerate was not requested.
var ErrAlreadyDone = errors.New("scheduler: equivalent job already completed for this document")

// Dispatcher is the scheduler/dispatcher: it submits tasks to a
// per-plugin worker pool, honoring each plugin's declared
// max_concurrent_jobs via a buffered-channel semaphore, and emits the job
// lifecycle events. Built in a goroutine-per-task-with-bounded-
// concurrency style, generalized from one fixed-size pool to one
// semaphore per plugin name.
type Dispatcher struct {
	store    *JobStore
	jobs     *repositories.JobRepo
	docs     *repositories.DocumentRepo
	registry *plugin.Registry
	bus      *eventbus.Bus

	mu        sync.Mutex
	sems      map[string]chan struct{}
	cancelled map[string]*cancelSignal

	wg           sync.WaitGroup
	shuttingDown atomic.Bool
}

func NewDispatcher(store *JobStore, jobs *repositories.JobRepo, docs *repositories.DocumentRepo, registry *plugin.Registry, bus *eventbus.Bus) *Dispatcher {
	return &Dispatcher{
		store:     store,
		jobs:      jobs,
		docs:      docs,
		registry:  registry,
		bus:       bus,
		sems:      make(map[string]chan struct{}),
		cancelled: make(map[string]*cancelSignal),
	}
}

// cancelSignal pairs a job's cancel channel with a sync.Once so
// concurrent Cancel/CancelAll calls can never double-close it.
type cancelSignal struct {
	ch   chan struct{}
	once sync.Once
}

func (c *cancelSignal) fire() {
	c.once.Do(func() { close(c.ch) })
}

// Submit creates a pending job for (documentID, pluginName), checks the
// at-most-one-per-fingerprint rule unless regenerate is set, then queues
// the job and runs it on a dedicated goroutine gated by the plugin's
// concurrency semaphore.
func (d *Dispatcher) Submit(ctx context.Context, documentID, pluginName string, settings map[string]any, regenerate bool) (*models.Job, error) {
	if d.shuttingDown.Load() {
		return nil, apperr.New(apperr.Conflict, "scheduler is shutting down, new jobs are refused")
	}

	rec, ok := d.registry.Record(pluginName)
	if !ok {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("plugin %s is not registered", pluginName))
	}

	if !regenerate && rec.Manifest.OutputType != "" {
		existing, err := d.jobs.ExistingChildOfType(ctx, documentID, pluginName, rec.Manifest.OutputType)
		if err != nil {
			return nil, fmt.Errorf("scheduler: check existing output: %w", err)
		}
		if existing != nil {
			return nil, ErrAlreadyDone
		}
	}

	job, err := d.store.Create(ctx, documentID, pluginName, settings)
	if err != nil {
		return nil, err
	}

	signal := &cancelSignal{ch: make(chan struct{})}
	d.mu.Lock()
	d.cancelled[job.ID] = signal
	d.mu.Unlock()

	taskID := uuid.NewString()
	if _, err := d.store.Queue(ctx, job.ID, taskID); err != nil {
		return nil, err
	}
	job.Status = models.JobQueued
	job.TaskID = taskID

	d.bus.Emit(ctx, "job.queued", pluginName, map[string]any{"job_id": job.ID, "document_id": documentID}, nil, models.SeverityInfo, true)

	d.wg.Add(1)
	go d.run(job.ID, pluginName, documentID, signal.ch)

	return job, nil
}

// Cancel transitions a job to cancelled, signaling its cancel channel so
// a running worker observes it via CheckCancellation.
func (d *Dispatcher) Cancel(ctx context.Context, jobID, reason string) (*models.Job, error) {
	job, err := d.store.Cancel(ctx, jobID, reason)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	signal, ok := d.cancelled[jobID]
	d.mu.Unlock()
	if ok {
		signal.fire()
	}

	d.bus.Emit(ctx, "job.cancelled", job.PluginName, map[string]any{"job_id": jobID, "reason": reason}, nil, models.SeverityWarning, true)
	return job, nil
}

func (d *Dispatcher) semaphore(pluginName string, capacity int) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	sem, ok := d.sems[pluginName]
	if !ok {
		if capacity <= 0 {
			capacity = 1
		}
		sem = make(chan struct{}, capacity)
		d.sems[pluginName] = sem
	}
	return sem
}

func (d *Dispatcher) run(jobID, pluginName, documentID string, cancelCh chan struct{}) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.cancelled, jobID)
		d.mu.Unlock()
	}()

	ctx := context.Background()

	capacity := 1
	if rec, ok := d.registry.Record(pluginName); ok {
		capacity = rec.Manifest.MaxConcurrentJobs
	}
	sem := d.semaphore(pluginName, capacity)

	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-cancelCh:
		d.finishCancelled(ctx, jobID, pluginName, "cancelled while queued")
		return
	}

	select {
	case <-cancelCh:
		d.finishCancelled(ctx, jobID, pluginName, "cancelled while queued")
		return
	default:
	}

	if _, err := d.store.MarkStarted(ctx, jobID); err != nil {
		logging.Error("scheduler: job %s failed to start: %v", jobID, err)
		return
	}
	d.bus.Emit(ctx, "job.started", pluginName, map[string]any{"job_id": jobID, "document_id": documentID}, nil, models.SeverityInfo, true)

	p, ok := d.registry.Get(pluginName)
	if !ok {
		d.finishFailed(ctx, jobID, pluginName, fmt.Sprintf("plugin %s is not active", pluginName))
		return
	}

	doc, err := d.docs.GetByID(ctx, documentID)
	if err != nil {
		d.finishFailed(ctx, jobID, pluginName, fmt.Sprintf("load document: %v", err))
		return
	}
	if doc == nil {
		d.finishFailed(ctx, jobID, pluginName, fmt.Sprintf("document %s not found", documentID))
		return
	}

	wctx := withWorkerContext(ctx, &WorkerContext{jobID: jobID, pluginName: pluginName, store: d.store, cancelCh: cancelCh})

	if err := p.HandleDocumentCreated(wctx, *doc); err != nil {
		if errors.Is(err, ErrCancelled) {
			d.finishCancelled(ctx, jobID, pluginName, "cancelled during execution")
			return
		}
		d.finishFailed(ctx, jobID, pluginName, err.Error())
		return
	}

	d.finishCompleted(ctx, jobID, pluginName, nil, nil)
}

func (d *Dispatcher) finishCompleted(ctx context.Context, jobID, pluginName string, result map[string]any, outputDocID *string) {
	if _, err := d.store.Complete(ctx, jobID, result, outputDocID); err != nil {
		logging.Error("scheduler: job %s failed to mark completed: %v", jobID, err)
		return
	}
	d.bus.Emit(ctx, "job.completed", pluginName, map[string]any{"job_id": jobID, "result": result}, nil, models.SeveritySuccess, true)
}

func (d *Dispatcher) finishFailed(ctx context.Context, jobID, pluginName, errMsg string) {
	if _, err := d.store.Fail(ctx, jobID, errMsg); err != nil {
		logging.Error("scheduler: job %s failed to mark failed: %v", jobID, err)
		return
	}
	d.bus.Emit(ctx, "job.failed", pluginName, map[string]any{"job_id": jobID, "error": errMsg}, nil, models.SeverityError, true)
}

func (d *Dispatcher) finishCancelled(ctx context.Context, jobID, pluginName, reason string) {
	if _, err := d.store.Cancel(ctx, jobID, reason); err != nil {
		logging.Error("scheduler: job %s failed to mark cancelled: %v", jobID, err)
		return
	}
	d.bus.Emit(ctx, "job.cancelled", pluginName, map[string]any{"job_id": jobID, "reason": reason}, nil, models.SeverityWarning, true)
}

// StopAccepting refuses further Submit calls.
func (d *Dispatcher) StopAccepting() {
	d.shuttingDown.Store(true)
}

// CancelAll transitions every job still tracked by this dispatcher (i.e.
// still running or queued) to cancelled, used by the shutdown coordinator
// once the graceful window has elapsed.
func (d *Dispatcher) CancelAll(ctx context.Context, reason string) {
	d.mu.Lock()
	ids := make([]string, 0, len(d.cancelled))
	for id := range d.cancelled {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		if _, err := d.Cancel(ctx, id, reason); err != nil {
			logging.Error("scheduler: shutdown cancel of job %s failed: %v", id, err)
		}
	}
}

// Wait blocks until every dispatched goroutine has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// InFlight reports how many jobs this dispatcher currently has running or
// queued, for the shutdown coordinator's polling loop.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cancelled)
}
