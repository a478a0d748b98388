// Package orchestrator creates jobs on the backend and drives one poll cycle
// per job until the job reaches a terminal state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/localclipper/clipper/internal/domain"
	apperrors "github.com/localclipper/clipper/internal/errors"
	"github.com/localclipper/clipper/internal/logger"
	"github.com/localclipper/clipper/internal/metrics"
	"github.com/localclipper/clipper/internal/registry"
	"github.com/localclipper/clipper/internal/validators"
)

const DefaultPollInterval = 2 * time.Second

// Backend is the subset of the processing API the orchestrator drives
type Backend interface {
	CreateFromLink(ctx context.Context, link string, cfg domain.Configuration) (string, error)
	CreateFromFile(ctx context.Context, name string, r io.Reader, cfg domain.Configuration) (string, error)
	Status(ctx context.Context, jobID string) (domain.Job, error)
	Highlights(ctx context.Context, jobID string) ([]domain.Highlight, error)
}

// ConfigSource supplies the configuration snapshot used for a submission
type ConfigSource interface {
	Snapshot() domain.Configuration
}

// HighlightsHandler receives the highlights of a job once it is ready
type HighlightsHandler interface {
	Show(jobID string, highlights []domain.Highlight) error
}

// Archiver stores the final snapshot of a terminal job
type Archiver interface {
	Archive(ctx context.Context, job domain.Job) error
}

type task struct {
	cancel context.CancelFunc
}

// Orchestrator owns the task table of running poll cycles
type Orchestrator struct {
	backend  Backend
	registry *registry.Registry
	config   ConfigSource
	links    *validators.Registry
	interval time.Duration
	handler  HighlightsHandler
	archiver Archiver
	metrics  *metrics.Metrics
	log      *logger.Logger

	mu       sync.Mutex
	tasks    map[string]*task
	wg       sync.WaitGroup
	baseCtx  context.Context
	shutdown context.CancelFunc
	closed   bool
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithInterval sets the delay between observations of one job
func WithInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithHighlightsHandler sets the receiver for highlights of ready jobs
func WithHighlightsHandler(h HighlightsHandler) Option {
	return func(o *Orchestrator) { o.handler = h }
}

// WithArchiver stores terminal job snapshots
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithMetrics records poll and job counters into m instead of the default
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLinkValidators replaces the link validator registry
func WithLinkValidators(v *validators.Registry) Option {
	return func(o *Orchestrator) { o.links = v }
}

// New creates an orchestrator writing into reg
func New(backend Backend, reg *registry.Registry, cfg ConfigSource, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		backend:  backend,
		registry: reg,
		config:   cfg,
		links:    validators.DefaultRegistry(),
		interval: DefaultPollInterval,
		metrics:  metrics.Default(),
		log:      logger.Default().WithComponent("orchestrator"),
		tasks:    make(map[string]*task),
		baseCtx:  ctx,
		shutdown: cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit creates a job from src using the configuration at this moment and
// starts polling it. Invalid links are rejected before any network call.
func (o *Orchestrator) Submit(ctx context.Context, src Source) (string, error) {
	var (
		jobID string
		err   error
	)

	switch s := src.(type) {
	case LinkSource:
		if _, verr := o.links.Check(s.URL); verr != nil {
			return "", verr
		}
		cfg := o.config.Snapshot()
		jobID, err = o.backend.CreateFromLink(ctx, s.URL, cfg)
	case FileSource:
		if s.Open == nil {
			return "", apperrors.ValidationError("no file selected")
		}
		cfg := o.config.Snapshot()
		rc, oerr := s.Open()
		if oerr != nil {
			return "", apperrors.ValidationError(fmt.Sprintf("cannot open %s", s.Name)).WithCause(oerr)
		}
		jobID, err = o.backend.CreateFromFile(ctx, s.Name, rc, cfg)
		if cerr := rc.Close(); cerr != nil {
			o.log.Warn(ctx, "failed to close upload source", cerr, map[string]interface{}{"file": s.Name})
		}
	default:
		return "", apperrors.ValidationError("unsupported source")
	}
	if err != nil {
		o.log.Error(ctx, "job submission failed", err, map[string]interface{}{"source": src.kind()})
		return "", err
	}

	ctx = apperrors.WithJobID(ctx, jobID)
	if _, err := o.registry.Create(jobID); err != nil {
		return "", apperrors.InternalError("failed to register job").WithCause(err)
	}
	o.metrics.RecordSubmit(src.kind())
	o.log.Info(ctx, "job submitted", map[string]interface{}{"source": src.kind()})

	if err := o.start(jobID); err != nil {
		return jobID, err
	}
	return jobID, nil
}

// Track attaches to a job that already exists on the backend
func (o *Orchestrator) Track(ctx context.Context, jobID string) error {
	if jobID == "" {
		return apperrors.ValidationError("job id is required")
	}
	if _, err := o.registry.Create(jobID); err != nil && !errors.Is(err, registry.ErrJobExists) {
		return apperrors.InternalError("failed to register job").WithCause(err)
	}
	if job, ok := o.registry.Get(jobID); ok && job.IsTerminal() {
		return nil
	}
	o.log.Info(apperrors.WithJobID(ctx, jobID), "tracking existing job")
	return o.start(jobID)
}

// start launches the poll cycle for jobID unless one is already running
func (o *Orchestrator) start(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return apperrors.InternalError("orchestrator is shut down")
	}
	if _, running := o.tasks[jobID]; running {
		return nil
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	ctx = apperrors.WithJobID(ctx, jobID)
	ctx = apperrors.WithCorrelationID(ctx, apperrors.GenerateCorrelationID())
	t := &task{cancel: cancel}
	o.tasks[jobID] = t
	o.wg.Add(1)
	o.metrics.IncActiveTasks()

	go o.run(ctx, jobID, t)
	return nil
}

func (o *Orchestrator) run(ctx context.Context, jobID string, t *task) {
	defer func() {
		t.cancel()
		o.mu.Lock()
		if o.tasks[jobID] == t {
			delete(o.tasks, jobID)
		}
		o.mu.Unlock()
		o.metrics.DecActiveTasks()
		o.wg.Done()
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Debug(ctx, "poll cycle cancelled")
			return
		case <-timer.C:
		}

		if o.observe(ctx, jobID) {
			return
		}
		timer.Reset(o.interval)
	}
}

// observe performs one status query and reports whether the cycle is done
func (o *Orchestrator) observe(ctx context.Context, jobID string) bool {
	start := time.Now()
	job, err := o.backend.Status(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		code := "UNKNOWN"
		if appErr, ok := apperrors.As(err); ok {
			code = appErr.Code
		}
		o.metrics.RecordPoll(time.Since(start), code)
		o.log.Warn(ctx, "status poll failed, retrying next cycle", err, map[string]interface{}{
			"retryable": apperrors.IsRetryable(err),
		})
		return false
	}
	o.metrics.RecordPoll(time.Since(start), "")

	if err := o.registry.Update(jobID, job); err != nil {
		switch {
		case errors.Is(err, registry.ErrTerminal):
			return true
		case errors.Is(err, registry.ErrTransition):
			o.log.Warn(ctx, "ignoring out-of-order status", err, map[string]interface{}{"status": string(job.Status)})
			return false
		default:
			o.log.Error(ctx, "failed to record job state", err)
			return true
		}
	}

	if !job.IsTerminal() {
		return false
	}

	o.metrics.RecordFinished(job.Status)
	if job.Status == domain.StatusError {
		o.log.Warn(ctx, "job failed", errors.New(job.Error))
	} else {
		o.log.Info(ctx, "job ready")
		o.deliverHighlights(ctx, jobID)
	}
	o.archive(ctx, jobID)
	return true
}

// deliverHighlights performs the one-shot highlight retrieval for a ready job
func (o *Orchestrator) deliverHighlights(ctx context.Context, jobID string) {
	if o.handler == nil {
		return
	}
	hs, err := o.backend.Highlights(ctx, jobID)
	if err != nil {
		o.log.Error(ctx, "failed to load highlights", err)
		return
	}
	if err := o.handler.Show(jobID, hs); err != nil {
		o.log.Error(ctx, "failed to display highlights", err, map[string]interface{}{"count": len(hs)})
	}
}

func (o *Orchestrator) archive(ctx context.Context, jobID string) {
	if o.archiver == nil {
		return
	}
	job, ok := o.registry.Get(jobID)
	if !ok {
		return
	}
	if err := o.archiver.Archive(ctx, job); err != nil {
		o.log.Warn(ctx, "failed to archive job", err)
	}
}

// Cancel abandons the poll cycle of one job. The job keeps its last state.
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	t, ok := o.tasks[jobID]
	if ok {
		delete(o.tasks, jobID)
	}
	o.mu.Unlock()

	if ok {
		t.cancel()
		o.log.Info(apperrors.WithJobID(context.Background(), jobID), "poll cycle cancelled by caller")
	}
	return ok
}

// Running reports whether a poll cycle is active for jobID
func (o *Orchestrator) Running(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.tasks[jobID]
	return ok
}

// Wait blocks until every poll cycle has finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels all poll cycles and waits for them to exit
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.shutdown()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
