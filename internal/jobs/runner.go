package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"wpdock/internal/domain"
	"wpdock/internal/logger"

	"github.com/google/uuid"
)

// WorkFunc is the body of a job. It should call Handle.Checkpoint before
// every step that cannot be undone.
type WorkFunc func(ctx context.Context, h *Handle) error

// SiteWriter is the part of the registry a runner writes job outcomes to.
type SiteWriter interface {
	UpdateStatus(name string, status domain.SiteStatus, lastError string) error
	SetLastJob(name, jobID string) error
	List() []domain.Site
}

type Recorder interface {
	Info(site, format string, args ...any)
	Error(site, format string, args ...any)
}

type Publisher interface {
	Publish(topic, kind string, v any)
}

// Handle is what a running job sees of itself.
type Handle struct {
	id      string
	site    string
	kind    domain.JobKind
	ctx     context.Context
	touched atomic.Bool
	runner  *Runner
}

func (h *Handle) ID() string           { return h.id }
func (h *Handle) Site() string         { return h.site }
func (h *Handle) Kind() domain.JobKind { return h.kind }

// Checkpoint returns an error once the job was cancelled.
func (h *Handle) Checkpoint(step string) error {
	if err := h.ctx.Err(); err != nil {
		return fmt.Errorf("cancelled before %s: %w", step, err)
	}
	return nil
}

// MarkLiveDataTouched records that the job started overwriting the site's
// live files or database.
func (h *Handle) MarkLiveDataTouched() {
	h.touched.Store(true)
}

func (h *Handle) Progress(message string, progress float64) {
	h.runner.publishProgress(domain.ProgressEvent{Site: h.site, JobID: h.id, Message: message, Progress: progress})
}

type task struct {
	job     domain.Job
	work    WorkFunc
	release func()
	ctx     context.Context
	cancel  context.CancelFunc
	handle  *Handle
}

type Options struct {
	Workers    int
	QueueSize  int
	ToggleWait time.Duration

	Repo      domain.JobRepository
	Sites     SiteWriter
	Activity  Recorder
	Publisher Publisher
	// EventsTopic receives job snapshots; SiteTopic(site) receives progress.
	EventsTopic string
	SiteTopic   func(site string) string
	Logger      *slog.Logger
}

// Runner executes jobs on a fixed worker pool. A job holds its site's lock
// from Submit until it is terminal.
type Runner struct {
	opts  Options
	locks *Locks
	log   *slog.Logger
	queue chan *task

	mu        sync.Mutex
	active    map[string]*task
	closed    bool
	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
	started   bool
	now       func() time.Time
}

func NewRunner(locks *Locks, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if locks == nil {
		locks = NewLocks()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		opts:      opts,
		locks:     locks,
		log:       opts.Logger,
		queue:     make(chan *task, opts.QueueSize),
		active:    make(map[string]*task),
		baseCtx:   ctx,
		cancelAll: cancel,
		now:       time.Now,
	}
}

func (r *Runner) Locks() *Locks { return r.locks }

// Start launches the workers. It is a no-op after the first call.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	for i := 0; i < r.opts.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
}

// Run starts the workers and shuts down when ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.Start()
	<-ctx.Done()
	r.Shutdown()
	return nil
}

// Shutdown stops accepting jobs, cancels every job and waits for workers.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.wg.Wait()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.cancelAll()
	r.wg.Wait()
}

// Submit registers a job for site and queues it. It fails with Busy when
// another operation holds the site.
func (r *Runner) Submit(site string, kind domain.JobKind, detail string, work WorkFunc) (domain.Job, error) {
	id := uuid.NewString()

	var release func()
	var err error
	if kind == domain.JobBackup || kind == domain.JobRestore {
		release, err = r.locks.AcquireBehindToggle(r.baseCtx, site, kind, id, r.opts.ToggleWait)
	} else {
		release, err = r.locks.TryAcquire(site, kind, id)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return domain.Job{}, domain.Unavailable("job runner is shutting down", err)
		}
		return domain.Job{}, err
	}

	job := domain.Job{
		ID:        id,
		SiteName:  site,
		Kind:      kind,
		State:     domain.JobQueued,
		Detail:    detail,
		CreatedAt: r.now().UTC(),
	}
	if err := r.opts.Repo.SaveJob(&job); err != nil {
		release()
		return domain.Job{}, fmt.Errorf("error saving job: %w", err)
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	t := &task{job: job, work: work, release: release, ctx: ctx, cancel: cancel}
	t.handle = &Handle{id: id, site: site, kind: kind, ctx: ctx, runner: r}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.abandon(t, "job runner is shutting down")
		return domain.Job{}, domain.Unavailable("job runner is shutting down", nil)
	}
	select {
	case r.queue <- t:
		r.active[id] = t
		r.mu.Unlock()
	default:
		r.mu.Unlock()
		r.abandon(t, "job queue is full")
		return domain.Job{}, domain.Busyf("job queue is full, try again later")
	}

	if err := r.opts.Sites.SetLastJob(site, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		r.log.Warn("failed to link job to site", "site", site, "job", id, "error", err)
	}
	r.publishJob(job)
	r.log.Info("job queued", "job", id, "site", site, "kind", kind)
	return job, nil
}

func (r *Runner) abandon(t *task, reason string) {
	t.cancel()
	t.job.State = domain.JobFailed
	t.job.Error = reason
	finished := r.now().UTC()
	t.job.FinishedAt = &finished
	if err := r.opts.Repo.UpdateJob(&t.job); err != nil {
		r.log.Error("failed to persist abandoned job", "job", t.job.ID, "error", err)
	}
	t.release()
}

// Cancel asks a queued or running job to stop at its next checkpoint.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	t, ok := r.active[id]
	r.mu.Unlock()
	if !ok {
		return domain.NotFoundf("job %q is not active", id)
	}
	t.cancel()
	r.log.Info("job cancel requested", "job", id, "site", t.handle.site)
	return nil
}

// Get returns the live view of an active job, or the stored record.
func (r *Runner) Get(id string) (domain.Job, error) {
	r.mu.Lock()
	t, ok := r.active[id]
	var job domain.Job
	if ok {
		job = t.job
	}
	r.mu.Unlock()
	if ok {
		return job, nil
	}

	stored, err := r.opts.Repo.GetJob(id)
	if err != nil {
		return domain.Job{}, err
	}
	if stored == nil {
		return domain.Job{}, domain.NotFoundf("job %q not found", id)
	}
	return *stored, nil
}

func (r *Runner) ListBySite(site string, limit int) ([]domain.Job, error) {
	return r.opts.Repo.ListJobsBySite(site, limit)
}

// Recover fails jobs a previous process left unfinished and moves sites
// stuck in creating to error.
func (r *Runner) Recover() error {
	unfinished, err := r.opts.Repo.ListUnfinishedJobs()
	if err != nil {
		return fmt.Errorf("error listing unfinished jobs: %w", err)
	}
	for _, job := range unfinished {
		job := job
		job.State = domain.JobFailed
		job.Error = "interrupted by daemon restart"
		finished := r.now().UTC()
		job.FinishedAt = &finished
		if err := r.opts.Repo.UpdateJob(&job); err != nil {
			return fmt.Errorf("error failing job %s: %w", job.ID, err)
		}
		r.log.Warn("failed interrupted job", "job", job.ID, "site", job.SiteName, "kind", job.Kind)
	}

	for _, site := range r.opts.Sites.List() {
		if site.Status != domain.StatusCreating {
			continue
		}
		if err := r.opts.Sites.UpdateStatus(site.ProjectName, domain.StatusError, "provisioning interrupted by daemon restart"); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) worker(n int) {
	defer r.wg.Done()
	for t := range r.queue {
		r.execute(t)
	}
	r.log.Debug("job worker stopped", "worker", n)
}

func (r *Runner) execute(t *task) {
	defer t.cancel()

	var err error
	if cerr := t.ctx.Err(); cerr != nil {
		err = fmt.Errorf("cancelled before start: %w", cerr)
	} else {
		started := r.now().UTC()
		r.mu.Lock()
		t.job.State = domain.JobRunning
		t.job.StartedAt = &started
		snapshot := t.job
		r.mu.Unlock()
		if perr := r.opts.Repo.UpdateJob(&snapshot); perr != nil {
			r.log.Error("failed to persist job start", "job", snapshot.ID, "error", perr)
		}
		r.publishJob(snapshot)
		r.log.Info("job started", "job", snapshot.ID, "site", snapshot.SiteName, "kind", snapshot.Kind)

		err = r.safeRun(t)
	}

	r.finish(t, err)
}

func (r *Runner) safeRun(t *task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("job panicked", "job", t.job.ID, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("internal error: %v", p)
		}
	}()
	return t.work(t.ctx, t.handle)
}

func (r *Runner) finish(t *task, err error) {
	finished := r.now().UTC()

	r.mu.Lock()
	job := t.job
	r.mu.Unlock()
	job.FinishedAt = &finished
	if err != nil {
		job.State = domain.JobFailed
		job.Error = err.Error()
	} else {
		job.State = domain.JobSucceeded
	}

	if perr := r.opts.Repo.UpdateJob(&job); perr != nil {
		r.log.Error("failed to persist job result", "job", job.ID, "error", perr)
	}

	// The status is written before the lock is released so no sweep can
	// observe the site between the two.
	out := statusAfter(job.Kind, err != nil, t.handle.touched.Load())
	if out.apply {
		lastError := ""
		if err != nil {
			lastError = err.Error()
		}
		if uerr := r.opts.Sites.UpdateStatus(job.SiteName, out.status, lastError); uerr != nil && !errors.Is(uerr, domain.ErrNotFound) {
			r.log.Error("failed to update site status", "site", job.SiteName, "job", job.ID, "error", uerr)
		}
	}

	t.release()

	// Readers see the terminal state only once the lock is free.
	r.mu.Lock()
	t.job = job
	delete(r.active, job.ID)
	r.mu.Unlock()

	r.publishJob(job)
	if err != nil {
		r.log.Error("job failed", "job", job.ID, "site", job.SiteName, "kind", job.Kind, "error", err)
		r.opts.Activity.Error(job.SiteName, "%s job for '%s' failed: %v", job.Kind, job.SiteName, err)
		return
	}
	r.log.Info("job succeeded", "job", job.ID, "site", job.SiteName, "kind", job.Kind)
	r.opts.Activity.Info(job.SiteName, "%s job for '%s' succeeded", job.Kind, job.SiteName)
}

func (r *Runner) publishJob(job domain.Job) {
	if r.opts.Publisher == nil || r.opts.EventsTopic == "" {
		return
	}
	r.opts.Publisher.Publish(r.opts.EventsTopic, "job", job)
}

func (r *Runner) publishProgress(ev domain.ProgressEvent) {
	if r.opts.Publisher == nil || r.opts.SiteTopic == nil {
		return
	}
	r.opts.Publisher.Publish(r.opts.SiteTopic(ev.Site), "progress", ev)
}
