package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wpdock/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newMemJobs() *memJobs { return &memJobs{jobs: map[string]domain.Job{}} }

func (m *memJobs) SaveJob(j *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = *j
	return nil
}

func (m *memJobs) UpdateJob(j *domain.Job) error { return m.SaveJob(j) }

func (m *memJobs) GetJob(id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (m *memJobs) ListJobsBySite(site string, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, j := range m.jobs {
		if j.SiteName == site {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memJobs) ListUnfinishedJobs() ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, j := range m.jobs {
		if !j.State.Terminal() {
			out = append(out, j)
		}
	}
	return out, nil
}

type memSites struct {
	mu     sync.Mutex
	status map[string]domain.SiteStatus
	errs   map[string]string
	last   map[string]string
}

func newMemSites(names ...string) *memSites {
	s := &memSites{status: map[string]domain.SiteStatus{}, errs: map[string]string{}, last: map[string]string{}}
	for _, n := range names {
		s.status[n] = domain.StatusActive
	}
	return s
}

func (s *memSites) UpdateStatus(name string, status domain.SiteStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.status[name]; !ok {
		return domain.NotFoundf("site %q not found", name)
	}
	s.status[name] = status
	s.errs[name] = lastError
	return nil
}

func (s *memSites) SetLastJob(name, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[name] = id
	return nil
}

func (s *memSites) List() []domain.Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Site
	for n, st := range s.status {
		out = append(out, domain.Site{ProjectName: n, Status: st})
	}
	return out
}

func (s *memSites) get(name string) (domain.SiteStatus, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[name], s.errs[name]
}

type nopRecorder struct{ errors atomic.Int32 }

func (*nopRecorder) Info(site, format string, args ...any) {}
func (n *nopRecorder) Error(site, format string, args ...any) {
	n.errors.Add(1)
}

func newRunner(t *testing.T, sites *memSites) (*Runner, *memJobs) {
	t.Helper()
	repo := newMemJobs()
	r := NewRunner(NewLocks(), Options{
		Workers:    2,
		QueueSize:  8,
		ToggleWait: time.Second,
		Repo:       repo,
		Sites:      sites,
		Activity:   &nopRecorder{},
	})
	r.Start()
	t.Cleanup(r.Shutdown)
	return r, repo
}

func waitTerminal(t *testing.T, r *Runner, id string) domain.Job {
	t.Helper()
	var job domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = r.Get(id)
		return err == nil && job.State.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestCreateSuccessMarksActive(t *testing.T) {
	sites := newMemSites("demo")
	sites.status["demo"] = domain.StatusCreating
	r, _ := newRunner(t, sites)

	job, err := r.Submit("demo", domain.JobCreate, "", func(ctx context.Context, h *Handle) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, job.State)

	done := waitTerminal(t, r, job.ID)
	assert.Equal(t, domain.JobSucceeded, done.State)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)

	status, _ := sites.get("demo")
	assert.Equal(t, domain.StatusActive, status)
	assert.Equal(t, job.ID, sites.last["demo"])
}

func TestCreateFailureMarksErrorWithDetail(t *testing.T) {
	sites := newMemSites("demo")
	sites.status["demo"] = domain.StatusCreating
	r, _ := newRunner(t, sites)

	job, err := r.Submit("demo", domain.JobCreate, "", func(ctx context.Context, h *Handle) error {
		return errors.New("compose up failed")
	})
	require.NoError(t, err)

	done := waitTerminal(t, r, job.ID)
	assert.Equal(t, domain.JobFailed, done.State)
	assert.Equal(t, "compose up failed", done.Error)

	status, lastErr := sites.get("demo")
	assert.Equal(t, domain.StatusError, status)
	assert.Equal(t, "compose up failed", lastErr)
}

func TestConflictingSubmitIsBusyUntilJobFinishes(t *testing.T) {
	sites := newMemSites("demo")
	r, _ := newRunner(t, sites)

	gate := make(chan struct{})
	backup, err := r.Submit("demo", domain.JobBackup, "", func(ctx context.Context, h *Handle) error {
		<-gate
		return nil
	})
	require.NoError(t, err)

	_, err = r.Submit("demo", domain.JobRestart, "", func(ctx context.Context, h *Handle) error { return nil })
	assert.True(t, errors.Is(err, domain.ErrBusy))

	_, err = r.Submit("other", domain.JobRestart, "", func(ctx context.Context, h *Handle) error { return nil })
	assert.NoError(t, err, "other sites are not serialized behind demo")

	close(gate)
	waitTerminal(t, r, backup.ID)

	restart, err := r.Submit("demo", domain.JobRestart, "", func(ctx context.Context, h *Handle) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, waitTerminal(t, r, restart.ID).State)
}

func TestConcurrentDestructiveSubmitsExactlyOneWins(t *testing.T) {
	sites := newMemSites("demo")
	r, _ := newRunner(t, sites)

	gate := make(chan struct{})
	defer close(gate)
	work := func(ctx context.Context, h *Handle) error {
		<-gate
		return nil
	}

	var ok, busy atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		kind := domain.JobDelete
		if i%2 == 0 {
			kind = domain.JobRestart
		}
		wg.Add(1)
		go func(kind domain.JobKind) {
			defer wg.Done()
			_, err := r.Submit("demo", kind, "", work)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrBusy):
				busy.Add(1)
			}
		}(kind)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(19), busy.Load())
}

func TestBackupFailureLeavesStatus(t *testing.T) {
	sites := newMemSites("demo")
	r, _ := newRunner(t, sites)

	job, err := r.Submit("demo", domain.JobBackup, "", func(ctx context.Context, h *Handle) error {
		return errors.New("disk full")
	})
	require.NoError(t, err)
	waitTerminal(t, r, job.ID)

	status, _ := sites.get("demo")
	assert.Equal(t, domain.StatusActive, status)
}

func TestRestoreFailureAfterOverwriteMarksError(t *testing.T) {
	sites := newMemSites("demo")
	r, _ := newRunner(t, sites)

	job, err := r.Submit("demo", domain.JobRestore, "", func(ctx context.Context, h *Handle) error {
		return errors.New("backup not readable")
	})
	require.NoError(t, err)
	waitTerminal(t, r, job.ID)
	status, _ := sites.get("demo")
	assert.Equal(t, domain.StatusActive, status)

	job, err = r.Submit("demo", domain.JobRestore, "", func(ctx context.Context, h *Handle) error {
		h.MarkLiveDataTouched()
		return errors.New("import failed")
	})
	require.NoError(t, err)
	waitTerminal(t, r, job.ID)
	status, lastErr := sites.get("demo")
	assert.Equal(t, domain.StatusError, status)
	assert.Equal(t, "import failed", lastErr)
}

func TestCancelStopsAtCheckpoint(t *testing.T) {
	sites := newMemSites("demo")
	r, _ := newRunner(t, sites)

	entered := make(chan struct{})
	var reachedSecondStep atomic.Bool
	job, err := r.Submit("demo", domain.JobBackup, "", func(ctx context.Context, h *Handle) error {
		close(entered)
		<-ctx.Done()
		if err := h.Checkpoint("archive"); err != nil {
			return err
		}
		reachedSecondStep.Store(true)
		return nil
	})
	require.NoError(t, err)

	<-entered
	require.NoError(t, r.Cancel(job.ID))

	done := waitTerminal(t, r, job.ID)
	assert.Equal(t, domain.JobFailed, done.State)
	assert.Contains(t, done.Error, "cancelled before archive")
	assert.False(t, reachedSecondStep.Load())

	assert.True(t, errors.Is(r.Cancel(job.ID), domain.ErrNotFound))
}

func TestBackupWaitsBehindPluginToggle(t *testing.T) {
	sites := newMemSites("demo")
	r, _ := newRunner(t, sites)

	release, err := r.Locks().TryAcquire("demo", domain.JobPluginToggle, "toggle")
	require.NoError(t, err)
	go func() {
		time.Sleep(30 * time.Millisecond)
		release()
	}()

	job, err := r.Submit("demo", domain.JobBackup, "", func(ctx context.Context, h *Handle) error { return nil })
	require.NoError(t, err)
	waitTerminal(t, r, job.ID)

	_, err = r.Locks().TryAcquire("demo", domain.JobRestart, "x")
	require.NoError(t, err)
	_, err = r.Submit("demo", domain.JobBackup, "", func(ctx context.Context, h *Handle) error { return nil })
	assert.True(t, errors.Is(err, domain.ErrBusy), "only toggles are waited for")
}

func TestPanicFailsJobAndReleasesLock(t *testing.T) {
	sites := newMemSites("demo")
	r, _ := newRunner(t, sites)

	job, err := r.Submit("demo", domain.JobRestart, "", func(ctx context.Context, h *Handle) error {
		panic("boom")
	})
	require.NoError(t, err)
	done := waitTerminal(t, r, job.ID)
	assert.Contains(t, done.Error, "boom")

	require.Eventually(t, func() bool {
		_, _, held := r.Locks().Holder("demo")
		return !held
	}, time.Second, 5*time.Millisecond)
}

func TestRecoverFailsInterruptedWork(t *testing.T) {
	sites := newMemSites("demo", "blog")
	sites.status["demo"] = domain.StatusCreating
	repo := newMemJobs()
	require.NoError(t, repo.SaveJob(&domain.Job{ID: "old", SiteName: "demo", Kind: domain.JobCreate, State: domain.JobRunning}))

	r := NewRunner(NewLocks(), Options{Repo: repo, Sites: sites, Activity: &nopRecorder{}})
	require.NoError(t, r.Recover())

	job, err := r.Get("old")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.State)

	status, lastErr := sites.get("demo")
	assert.Equal(t, domain.StatusError, status)
	assert.NotEmpty(t, lastErr)
	status, _ = sites.get("blog")
	assert.Equal(t, domain.StatusActive, status)
}

func TestSubmitAfterShutdownIsUnavailable(t *testing.T) {
	sites := newMemSites("demo")
	r, _ := newRunner(t, sites)
	r.Shutdown()

	_, err := r.Submit("demo", domain.JobRestart, "", func(ctx context.Context, h *Handle) error { return nil })
	assert.True(t, errors.Is(err, domain.ErrRuntimeUnavailable))
	_, _, held := r.Locks().Holder("demo")
	assert.False(t, held)
}
