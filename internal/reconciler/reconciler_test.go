package reconciler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"wpdock/internal/domain"
	"wpdock/internal/jobs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSites struct {
	mu      sync.Mutex
	sites   map[string]domain.Site
	updates int
}

func newMemSites(sites ...domain.Site) *memSites {
	m := &memSites{sites: map[string]domain.Site{}}
	for _, s := range sites {
		m.sites[s.ProjectName] = s
	}
	return m
}

func (m *memSites) Get(name string) (domain.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[name]
	if !ok {
		return domain.Site{}, domain.NotFoundf("site %q not found", name)
	}
	return s, nil
}

func (m *memSites) List() []domain.Site {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Site, 0, len(m.sites))
	for _, s := range m.sites {
		out = append(out, s)
	}
	return out
}

func (m *memSites) UpdateStatus(name string, status domain.SiteStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sites[name]
	s.Status, s.LastError = status, lastError
	m.sites[name] = s
	m.updates++
	return nil
}

func (m *memSites) Touch(name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sites[name]
	s.LastChecked = &at
	m.sites[name] = s
	return nil
}

func (m *memSites) get(name string) domain.Site {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sites[name]
}

type fakeRuntime map[string]bool

func (f fakeRuntime) Running(ctx context.Context, name string) (bool, error) {
	return f[name], nil
}

func healthyProbe(context.Context, int) error { return nil }

func fixedSampler(context.Context) (float64, float64, error) { return 12.5, 40, nil }

func newReconciler(sites *memSites, rt fakeRuntime, locks *jobs.Locks, probe Probe) *Reconciler {
	return New(sites, rt, locks, Options{Interval: time.Hour, Probe: probe, Sample: fixedSampler})
}

func TestSweepMarksStoppedSiteDown(t *testing.T) {
	sites := newMemSites(domain.Site{ProjectName: "demo", Status: domain.StatusActive, WPPort: 8100})
	r := newReconciler(sites, fakeRuntime{"demo": false}, jobs.NewLocks(), healthyProbe)

	r.Sweep(context.Background())

	got := sites.get("demo")
	assert.Equal(t, domain.StatusDown, got.Status)
	assert.Contains(t, got.LastError, "not running")
	assert.NotNil(t, got.LastChecked)
}

func TestSweepBringsRecoveredSiteBack(t *testing.T) {
	sites := newMemSites(domain.Site{ProjectName: "demo", Status: domain.StatusDown, LastError: "x"})
	r := newReconciler(sites, fakeRuntime{"demo": true}, jobs.NewLocks(), healthyProbe)

	r.Sweep(context.Background())

	got := sites.get("demo")
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Empty(t, got.LastError)
}

func TestSweepFailingProbeMarksDown(t *testing.T) {
	sites := newMemSites(domain.Site{ProjectName: "demo", Status: domain.StatusActive})
	probe := func(context.Context, int) error { return errors.New("connection refused") }
	r := newReconciler(sites, fakeRuntime{"demo": true}, jobs.NewLocks(), probe)

	r.Sweep(context.Background())
	assert.Equal(t, domain.StatusDown, sites.get("demo").Status)
}

func TestSweepLeavesHealthySiteAlone(t *testing.T) {
	sites := newMemSites(domain.Site{ProjectName: "demo", Status: domain.StatusActive})
	r := newReconciler(sites, fakeRuntime{"demo": true}, jobs.NewLocks(), healthyProbe)

	r.Sweep(context.Background())
	assert.Equal(t, 0, sites.updates)
	assert.NotNil(t, sites.get("demo").LastChecked)
}

func TestSweepSkipsCreatingAndErrorSites(t *testing.T) {
	sites := newMemSites(
		domain.Site{ProjectName: "new", Status: domain.StatusCreating},
		domain.Site{ProjectName: "broken", Status: domain.StatusError},
	)
	r := newReconciler(sites, fakeRuntime{}, jobs.NewLocks(), healthyProbe)

	r.Sweep(context.Background())
	assert.Equal(t, 0, sites.updates)
	assert.Nil(t, sites.get("new").LastChecked)
	assert.Nil(t, sites.get("broken").LastChecked)
}

func TestSweepSkipsLockedSite(t *testing.T) {
	sites := newMemSites(domain.Site{ProjectName: "demo", Status: domain.StatusActive})
	locks := jobs.NewLocks()
	release, err := locks.TryAcquire("demo", domain.JobRestart, "job-1")
	require.NoError(t, err)
	defer release()

	r := newReconciler(sites, fakeRuntime{"demo": false}, locks, healthyProbe)
	r.Sweep(context.Background())

	got := sites.get("demo")
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Nil(t, got.LastChecked)
}

// lockerThen runs before on every successful acquire, standing in for a job
// that finished just before the health check got the lock.
type lockerThen struct {
	*jobs.Locks
	before func(site string)
}

func (l lockerThen) TryAcquire(site string, kind domain.JobKind, owner string) (func(), error) {
	release, err := l.Locks.TryAcquire(site, kind, owner)
	if err == nil {
		l.before(site)
	}
	return release, err
}

func TestSweepKeepsErrorSetByFinishedJob(t *testing.T) {
	sites := newMemSites(domain.Site{ProjectName: "demo", Status: domain.StatusActive})
	locks := lockerThen{Locks: jobs.NewLocks(), before: func(site string) {
		require.NoError(t, sites.UpdateStatus(site, domain.StatusError, "restart failed"))
	}}
	r := New(sites, fakeRuntime{"demo": false}, locks, Options{Interval: time.Hour, Probe: healthyProbe, Sample: fixedSampler})

	r.Sweep(context.Background())

	got := sites.get("demo")
	assert.Equal(t, domain.StatusError, got.Status)
	assert.Equal(t, "restart failed", got.LastError)
	assert.Nil(t, got.LastChecked)
}

func TestSweepSkipsSiteDeletedMeanwhile(t *testing.T) {
	sites := newMemSites(domain.Site{ProjectName: "demo", Status: domain.StatusActive})
	locks := lockerThen{Locks: jobs.NewLocks(), before: func(site string) {
		sites.mu.Lock()
		delete(sites.sites, site)
		sites.mu.Unlock()
	}}
	r := New(sites, fakeRuntime{}, locks, Options{Interval: time.Hour, Probe: healthyProbe, Sample: fixedSampler})

	r.Sweep(context.Background())
	assert.Equal(t, 0, sites.updates)
	assert.Empty(t, sites.List())
}

func TestSweepReleasesLock(t *testing.T) {
	sites := newMemSites(domain.Site{ProjectName: "demo", Status: domain.StatusActive})
	locks := jobs.NewLocks()
	r := newReconciler(sites, fakeRuntime{"demo": true}, locks, healthyProbe)

	r.Sweep(context.Background())
	_, _, held := locks.Holder("demo")
	assert.False(t, held)
}

func TestStatsAreSampled(t *testing.T) {
	r := newReconciler(newMemSites(), fakeRuntime{}, jobs.NewLocks(), healthyProbe)
	assert.Zero(t, r.Stats().CPUUsage)

	r.Sweep(context.Background())
	stats := r.Stats()
	assert.Equal(t, 12.5, stats.CPUUsage)
	assert.Equal(t, 40.0, stats.RAMUsage)
	assert.False(t, stats.SampledAt.IsZero())
}

func TestRunSweepsImmediatelyAndStops(t *testing.T) {
	sites := newMemSites(domain.Site{ProjectName: "demo", Status: domain.StatusActive})
	r := newReconciler(sites, fakeRuntime{"demo": false}, jobs.NewLocks(), healthyProbe)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sites.get("demo").Status == domain.StatusDown
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}

func portOf(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestHTTPProbe(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/wp-admin/install.php", http.StatusFound)
	}))
	defer ok.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	probe := HTTPProbe(time.Second)
	assert.NoError(t, probe(context.Background(), portOf(t, ok)))
	assert.Error(t, probe(context.Background(), portOf(t, broken)))
}
