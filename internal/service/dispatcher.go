// Package service implements the agent orchestration layer: the backtest
// dispatcher and the tool-calling conversation loop.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/atlasfin/atlas/internal/config"
	"github.com/atlasfin/atlas/internal/domain"
	"github.com/atlasfin/atlas/internal/sandbox"
	"github.com/atlasfin/atlas/internal/store"
)

// ScriptFunc translates a job request into an executable script body. The
// translation itself is an external collaborator; the dispatcher treats it
// as opaque.
type ScriptFunc func(req domain.JobRequest) (string, error)

// DependencyFunc names the packages a strategy script needs installed.
type DependencyFunc func(req domain.JobRequest) []string

// Dispatcher drives backtest jobs through the sandbox lifecycle. Jobs run
// concurrently up to the configured worker count; each job's steps are
// strictly sequential and no sandbox state crosses job boundaries.
type Dispatcher struct {
	store    store.Store
	sandbox  sandbox.ControlPlane
	cfg      *config.Config
	toScript ScriptFunc
	deps     DependencyFunc

	queue chan string

	mu        sync.Mutex
	cancelled map[string]bool
	subs      map[string][]chan domain.JobUpdate

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewDispatcher creates a dispatcher. Start must be called before Submit.
func NewDispatcher(st store.Store, sb sandbox.ControlPlane, cfg *config.Config, toScript ScriptFunc, deps DependencyFunc) *Dispatcher {
	if toScript == nil {
		toScript = StrategyScript
	}
	if deps == nil {
		deps = StrategyDependencies
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	return &Dispatcher{
		store:     st,
		sandbox:   sb,
		cfg:       cfg,
		toScript:  toScript,
		deps:      deps,
		queue:     make(chan string, size),
		cancelled: make(map[string]bool),
		subs:      make(map[string][]chan domain.JobUpdate),
		stop:      make(chan struct{}),
	}
}

// Start recovers jobs left queued in the store by a previous run, then
// launches the worker pool.
func (d *Dispatcher) Start() {
	jobs, err := d.store.ListJobs(context.Background(), domain.JobStatusQueued)
	if err != nil {
		log.Printf("ERROR: failed to recover queued jobs: %v", err)
	}
	for i := len(jobs) - 1; i >= 0; i-- { // ListJobs is newest first
		select {
		case d.queue <- jobs[i].JobID:
		default:
			log.Printf("WARN: queue full while recovering job %s", jobs[i].JobID)
		}
	}

	workers := d.cfg.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop shuts the worker pool down and waits for in-flight jobs.
func (d *Dispatcher) Stop() {
	close(d.stop)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			return
		case jobID := <-d.queue:
			if d.takeCancelled(jobID) {
				continue
			}
			d.runJob(jobID)
		}
	}
}

// Submit creates a queued job and hands it to the worker pool. Requests
// beyond worker capacity stay queued until a slot frees up.
func (d *Dispatcher) Submit(ctx context.Context, req domain.JobRequest) (*domain.Job, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	job, err := d.store.CreateJob(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	d.emit(job.JobID, domain.JobEventQueued, domain.JobUpdate{
		JobID:   job.JobID,
		Status:  domain.JobStatusQueued,
		Message: "backtest queued",
	})

	select {
	case d.queue <- job.JobID:
	default:
		// No worker will ever see this job; close its record out so the
		// store holds no stranded queued entry.
		envelope := &domain.ResultEnvelope{
			Status:  domain.JobStatusCancelled,
			Summary: "job queue is full",
			Metrics: map[string]float64{},
		}
		if terr := d.store.Transition(ctx, job.JobID, domain.JobStatusCancelled, envelope); terr != nil {
			log.Printf("ERROR: failed to cancel overflowed job %s: %v", job.JobID, terr)
		} else {
			d.emit(job.JobID, domain.JobEventCancelled, domain.JobUpdate{
				JobID:    job.JobID,
				Status:   domain.JobStatusCancelled,
				Message:  "job queue is full",
				Envelope: envelope,
			})
		}
		return nil, fmt.Errorf("job queue is full")
	}
	return job, nil
}

func validateRequest(req domain.JobRequest) error {
	if req.Strategy == "" {
		return fmt.Errorf("strategy is required")
	}
	if len(req.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if req.Timeframe == "" {
		return fmt.Errorf("timeframe is required")
	}
	if req.From == "" || req.To == "" {
		return fmt.Errorf("date range (from, to) is required")
	}
	return nil
}

// Cancel cancels a job. Queued jobs are removed without ever touching the
// sandbox; terminal jobs are a no-op; running jobs cannot be cancelled here
// (the per-job timeout bounds them).
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) error {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	if job.Status == domain.JobStatusRunning {
		return fmt.Errorf("job %s is already running", jobID)
	}

	d.mu.Lock()
	d.cancelled[jobID] = true
	d.mu.Unlock()

	envelope := &domain.ResultEnvelope{
		Status:  domain.JobStatusCancelled,
		Summary: "cancelled before start",
		Metrics: map[string]float64{},
	}
	if err := d.store.Transition(ctx, jobID, domain.JobStatusCancelled, envelope); err != nil {
		d.mu.Lock()
		delete(d.cancelled, jobID)
		d.mu.Unlock()
		var ite *store.InvalidTransitionError
		if errors.As(err, &ite) {
			// Lost the race against a worker picking the job up.
			return fmt.Errorf("job %s is already running", jobID)
		}
		return err
	}
	d.emit(jobID, domain.JobEventCancelled, domain.JobUpdate{
		JobID:    jobID,
		Status:   domain.JobStatusCancelled,
		Message:  "backtest cancelled",
		Envelope: envelope,
	})
	return nil
}

// takeCancelled consumes a cancellation mark, so the map only holds jobs
// whose queue entry has not been drained yet.
func (d *Dispatcher) takeCancelled(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.cancelled[jobID] {
		return false
	}
	delete(d.cancelled, jobID)
	return true
}

// Subscribe returns a channel of progress updates for a job. Updates already
// recorded are replayed first, so delivery is at-least-once; consumers must
// deduplicate on (job id, seq). The channel is closed after the terminal
// update.
//
// Replay and registration share one critical section with emit's fan-out
// snapshot: an event recorded after the replay read is always delivered live,
// so a terminal update can never fall between the two.
func (d *Dispatcher) Subscribe(jobID string) <-chan domain.JobUpdate {
	ch := make(chan domain.JobUpdate, 64)

	d.mu.Lock()
	defer d.mu.Unlock()

	events, err := d.store.ListEvents(context.Background(), jobID, 0)
	if err != nil {
		log.Printf("ERROR: failed to replay events for %s: %v", jobID, err)
	}
	terminal := false
	for _, ev := range events {
		var update domain.JobUpdate
		if err := json.Unmarshal(ev.Payload, &update); err != nil {
			continue
		}
		update.Seq = ev.Seq
		select {
		case ch <- update:
		default:
		}
		if update.Status.Terminal() {
			terminal = true
		}
	}
	if terminal {
		close(ch)
		return ch
	}

	d.subs[jobID] = append(d.subs[jobID], ch)
	return ch
}

// emit records the event and fans it out to subscribers. Channel sends are
// non-blocking; the persisted event log is the source of truth for replay.
func (d *Dispatcher) emit(jobID string, typ domain.JobEventType, update domain.JobUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		log.Printf("ERROR: failed to encode job update: %v", err)
		return
	}
	seq, err := d.store.AppendEvent(context.Background(), jobID, typ, payload)
	if err != nil {
		log.Printf("ERROR: failed to record job event: %v", err)
	}
	update.Seq = seq

	d.mu.Lock()
	subs := d.subs[jobID]
	if update.Status.Terminal() {
		delete(d.subs, jobID)
	}
	d.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- update:
		default:
			log.Printf("WARN: dropping job update for slow subscriber of %s", jobID)
		}
		if update.Status.Terminal() {
			close(ch)
		}
	}
}

// runJob drives one job through create -> install -> execute -> cleanup.
func (d *Dispatcher) runJob(jobID string) {
	ctx := context.Background()

	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		log.Printf("ERROR: failed to load job %s: %v", jobID, err)
		return
	}

	if err := d.store.Transition(ctx, jobID, domain.JobStatusRunning, nil); err != nil {
		var ite *store.InvalidTransitionError
		if errors.As(err, &ite) {
			// Cancelled between dequeue and start.
			d.takeCancelled(jobID)
			return
		}
		log.Printf("ERROR: failed to start job %s: %v", jobID, err)
		return
	}
	d.emit(jobID, domain.JobEventRunning, domain.JobUpdate{
		JobID:   jobID,
		Status:  domain.JobStatusRunning,
		Message: "backtest started",
	})

	sessionName := "atlas-bt-" + jobID
	image := job.Request.Image
	if image == "" {
		image = d.cfg.SandboxImage
	}
	container := domain.ContainerInfo{Name: sessionName, Image: image}

	jobCtx, cancel := context.WithTimeout(ctx, d.cfg.JobTimeout)
	defer cancel()

	err = d.withRetry(jobCtx, func() error {
		_, err := d.sandbox.CreateSession(jobCtx, image, sessionName, nil)
		return err
	})
	if err != nil {
		d.failJob(ctx, jobID, container, nil, fmt.Sprintf("sandbox session creation failed: %v", err))
		return
	}
	if err := d.store.SetJobSession(ctx, jobID, sessionName); err != nil {
		log.Printf("ERROR: failed to record session for %s: %v", jobID, err)
	}

	// Cleanup runs on every path from here on unless persistence was asked
	// for. A cleanup failure is reported but never masks the job outcome.
	defer func() {
		if job.Request.Persist {
			return
		}
		if err := d.sandbox.Cleanup(context.Background(), sessionName); err != nil {
			log.Printf("ERROR: failed to clean up session %s: %v", sessionName, err)
		}
	}()

	deps := d.deps(job.Request)
	if len(deps) > 0 {
		d.emit(jobID, domain.JobEventProgress, domain.JobUpdate{
			JobID:   jobID,
			Status:  domain.JobStatusRunning,
			Message: fmt.Sprintf("installing dependencies: %v", deps),
		})
		err = d.withRetry(jobCtx, func() error {
			return d.sandbox.AddDependencies(jobCtx, sessionName, deps)
		})
		if err != nil {
			d.failJob(ctx, jobID, container, nil, fmt.Sprintf("dependency install failed: %v", err))
			return
		}
	}

	script, err := d.toScript(job.Request)
	if err != nil {
		d.failJob(ctx, jobID, container, nil, fmt.Sprintf("strategy translation failed: %v", err))
		return
	}

	result, err := d.sandbox.ExecuteScript(jobCtx, sessionName, script, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			d.failJob(ctx, jobID, container, nil, fmt.Sprintf("backtest timed out after %s", d.cfg.JobTimeout))
			return
		}
		var ee *sandbox.ExecutionError
		if errors.As(err, &ee) {
			logs := []domain.Artifact{{Type: domain.ArtifactTypeLog, Content: ee.Stdout + ee.Stderr}}
			d.failJob(ctx, jobID, container, logs, fmt.Sprintf("backtest script exited with code %d", ee.ExitCode))
			return
		}
		d.failJob(ctx, jobID, container, nil, fmt.Sprintf("backtest execution failed: %v", err))
		return
	}

	metrics, artifacts, logText := parseExecOutput(result.Stdout)
	artifacts = append(artifacts, domain.Artifact{Type: domain.ArtifactTypeLog, Content: logText})
	if reqJSON, err := json.Marshal(job.Request); err == nil {
		artifacts = append(artifacts, domain.Artifact{Type: domain.ArtifactTypeConfig, Content: string(reqJSON)})
	}

	persisted, err := persistArtifacts(d.cfg.ArtifactsDir, jobID, artifacts)
	if err != nil {
		log.Printf("ERROR: failed to persist artifacts for %s: %v", jobID, err)
		persisted = artifacts
	}

	envelope := &domain.ResultEnvelope{
		Status:    domain.JobStatusCompleted,
		Summary:   summarize(job.Request, metrics),
		Metrics:   metrics,
		Artifacts: persisted,
		Container: container,
	}
	if err := d.store.Transition(ctx, jobID, domain.JobStatusCompleted, envelope); err != nil {
		log.Printf("ERROR: failed to complete job %s: %v", jobID, err)
		return
	}
	d.emit(jobID, domain.JobEventCompleted, domain.JobUpdate{
		JobID:    jobID,
		Status:   domain.JobStatusCompleted,
		Message:  envelope.Summary,
		Envelope: envelope,
	})
}

func (d *Dispatcher) failJob(ctx context.Context, jobID string, container domain.ContainerInfo, artifacts []domain.Artifact, summary string) {
	persisted, err := persistArtifacts(d.cfg.ArtifactsDir, jobID, artifacts)
	if err != nil {
		log.Printf("ERROR: failed to persist artifacts for %s: %v", jobID, err)
		persisted = artifacts
	}
	envelope := &domain.ResultEnvelope{
		Status:    domain.JobStatusFailed,
		Summary:   summary,
		Metrics:   map[string]float64{},
		Artifacts: persisted,
		Container: container,
	}
	if err := d.store.Transition(ctx, jobID, domain.JobStatusFailed, envelope); err != nil {
		log.Printf("ERROR: failed to fail job %s: %v", jobID, err)
		return
	}
	d.emit(jobID, domain.JobEventFailed, domain.JobUpdate{
		JobID:    jobID,
		Status:   domain.JobStatusFailed,
		Message:  summary,
		Envelope: envelope,
	})
}

// withRetry retries transient sandbox failures with exponential backoff, up
// to the configured bound. Non-transient failures return immediately.
func (d *Dispatcher) withRetry(ctx context.Context, op func() error) error {
	backoff := d.cfg.RetryBackoff
	attempts := d.cfg.MaxRetries + 1

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err = op()
		if err == nil {
			return nil
		}
		if !sandbox.IsTransient(err) {
			return err
		}
		log.Printf("WARN: transient sandbox failure (attempt %d/%d): %v", attempt+1, attempts, err)
	}
	return err
}

func summarize(req domain.JobRequest, metrics map[string]float64) string {
	s := fmt.Sprintf("Backtest of %s on %v (%s, %s to %s) completed",
		req.Strategy, req.Symbols, req.Timeframe, req.From, req.To)
	if cagr, ok := metrics["cagr"]; ok {
		s += fmt.Sprintf(" with CAGR %.2f%%", cagr*100)
	}
	return s
}
