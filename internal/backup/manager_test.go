package backup

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"wpdock/internal/domain"
	"wpdock/internal/jobs"
	"wpdock/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSites struct {
	mu     sync.Mutex
	status domain.SiteStatus
	err    string
}

func (s *fakeSites) Get(name string) (domain.Site, error) {
	if name != "demo" {
		return domain.Site{}, domain.NotFoundf("site %q not found", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Site{ProjectName: "demo", DBName: "wp_demo", Status: s.status}, nil
}

func (s *fakeSites) UpdateStatus(name string, status domain.SiteStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.err = status, lastError
	return nil
}

func (s *fakeSites) SetLastJob(name, id string) error { return nil }

func (s *fakeSites) List() []domain.Site { return nil }

func (s *fakeSites) current() domain.SiteStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

type fakeRuntime struct {
	mu      sync.Mutex
	root    string
	calls   []string
	stopErr error
	onStop  func()
}

func (f *fakeRuntime) HTMLDir(name string) string { return filepath.Join(f.root, name, "html") }

func (f *fakeRuntime) Stop(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop")
	if f.onStop != nil {
		f.onStop()
	}
	return f.stopErr
}

func (f *fakeRuntime) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRuntime) Up(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "up")
	return nil
}

type fakeDBs struct {
	mu         sync.Mutex
	dumpErr    error
	importErr  error
	imported   string
	dumpSource string
}

func (f *fakeDBs) Dump(ctx context.Context, name string, w io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dumpErr != nil {
		return f.dumpErr
	}
	_, err := io.WriteString(w, f.dumpSource)
	return err
}

func (f *fakeDBs) Import(ctx context.Context, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.importErr != nil {
		return f.importErr
	}
	f.imported = string(data)
	return nil
}

type nopRecorder struct{}

func (nopRecorder) Info(site, format string, args ...any)  {}
func (nopRecorder) Error(site, format string, args ...any) {}

type fixture struct {
	mgr    *Manager
	runner *jobs.Runner
	sites  *fakeSites
	rt     *fakeRuntime
	dbs    *fakeDBs
	html   string
}

func newFixture(t *testing.T, keep int) *fixture {
	t.Helper()
	base := t.TempDir()
	store, err := storage.NewGormStore(filepath.Join(base, "jobs.db"), storage.Options{Sealer: storage.NewSealer("t")})
	require.NoError(t, err)

	sites := &fakeSites{status: domain.StatusActive}
	locks := jobs.NewLocks()
	r := jobs.NewRunner(locks, jobs.Options{Workers: 1, Repo: store, Sites: sites, Activity: nopRecorder{}})
	r.Start()
	t.Cleanup(r.Shutdown)

	rt := &fakeRuntime{root: filepath.Join(base, "sites")}
	html := rt.HTMLDir("demo")
	require.NoError(t, os.MkdirAll(filepath.Join(html, "wp-content"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(html, "index.php"), []byte("<?php // v1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(html, "wp-content", "theme.css"), []byte("body{}"), 0644))

	dbs := &fakeDBs{dumpSource: "CREATE TABLE wp_posts (id int);"}
	mgr := NewManager(filepath.Join(base, "backups"), Deps{
		Sites:    sites,
		Runtime:  rt,
		DBs:      dbs,
		Jobs:     r,
		Locks:    locks,
		Activity: nopRecorder{},
	}, Options{Keep: keep})

	var mu sync.Mutex
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	return &fixture{mgr: mgr, runner: r, sites: sites, rt: rt, dbs: dbs, html: html}
}

func (f *fixture) wait(t *testing.T, id string) domain.Job {
	t.Helper()
	var job domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = f.runner.Get(id)
		return err == nil && job.State.Terminal()
	}, 3*time.Second, 5*time.Millisecond)
	return job
}

func (f *fixture) backup(t *testing.T) string {
	t.Helper()
	job, err := f.mgr.Create("demo")
	require.NoError(t, err)
	done := f.wait(t, job.ID)
	require.Equal(t, domain.JobSucceeded, done.State, done.Error)
	names, err := f.mgr.Names("demo")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	return names[0]
}

func TestBackupArchivesDumpAndFiles(t *testing.T) {
	f := newFixture(t, 0)

	name := f.backup(t)
	assert.Regexp(t, `^demo-\d{8}-\d{6}\.zip$`, name)

	r, err := zip.OpenReader(filepath.Join(f.mgr.BackupsPath, "demo", name))
	require.NoError(t, err)
	defer r.Close()

	entries := map[string]bool{}
	for _, file := range r.File {
		entries[file.Name] = true
	}
	assert.True(t, entries["db.sql"])
	assert.True(t, entries["html/index.php"])
	assert.True(t, entries["html/wp-content/theme.css"])
	assert.Equal(t, domain.StatusActive, f.sites.current())
}

func TestRetentionKeepsNewest(t *testing.T) {
	f := newFixture(t, 2)

	first := f.backup(t)
	second := f.backup(t)
	third := f.backup(t)

	names, err := f.mgr.Names("demo")
	require.NoError(t, err)
	assert.Equal(t, []string{third, second}, names)
	assert.NotContains(t, names, first)
}

func TestBackupFailureLeavesNoArchive(t *testing.T) {
	f := newFixture(t, 0)
	f.dbs.dumpErr = errors.New("mysqldump: access denied")

	job, err := f.mgr.Create("demo")
	require.NoError(t, err)
	done := f.wait(t, job.ID)
	assert.Equal(t, domain.JobFailed, done.State)
	assert.Contains(t, done.Error, "access denied")

	entries, _ := os.ReadDir(filepath.Join(f.mgr.BackupsPath, "demo"))
	assert.Empty(t, entries)
	assert.Equal(t, domain.StatusActive, f.sites.current())
}

func TestRestoreBringsBackFilesAndDatabase(t *testing.T) {
	f := newFixture(t, 0)
	name := f.backup(t)

	require.NoError(t, os.WriteFile(filepath.Join(f.html, "index.php"), []byte("<?php // broken"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(f.html, "stray.txt"), []byte("x"), 0644))
	f.sites.UpdateStatus("demo", domain.StatusDown, "")

	job, err := f.mgr.Restore("demo", name)
	require.NoError(t, err)
	assert.Equal(t, name, job.Detail)
	done := f.wait(t, job.ID)
	require.Equal(t, domain.JobSucceeded, done.State, done.Error)

	data, err := os.ReadFile(filepath.Join(f.html, "index.php"))
	require.NoError(t, err)
	assert.Equal(t, "<?php // v1", string(data))
	_, err = os.Stat(filepath.Join(f.html, "stray.txt"))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, "CREATE TABLE wp_posts (id int);", f.dbs.imported)
	assert.Equal(t, []string{"stop", "up"}, f.rt.calls)
	assert.Equal(t, domain.StatusActive, f.sites.current())
}

func TestRestoreImportFailureMarksError(t *testing.T) {
	f := newFixture(t, 0)
	name := f.backup(t)
	f.dbs.importErr = errors.New("syntax error")

	job, err := f.mgr.Restore("demo", name)
	require.NoError(t, err)
	done := f.wait(t, job.ID)
	assert.Equal(t, domain.JobFailed, done.State)
	assert.Equal(t, domain.StatusError, f.sites.current())
}

func TestRestoreStartsSiteAgainWhenStopFails(t *testing.T) {
	f := newFixture(t, 0)
	name := f.backup(t)
	f.rt.stopErr = errors.New("compose stop: exit status 1")

	job, err := f.mgr.Restore("demo", name)
	require.NoError(t, err)
	done := f.wait(t, job.ID)
	assert.Equal(t, domain.JobFailed, done.State)
	assert.Equal(t, []string{"stop", "up"}, f.rt.history())
	assert.Equal(t, domain.StatusActive, f.sites.current())
	assert.Empty(t, f.dbs.imported)
}

func TestRestoreCancelledBeforeOverwriteStartsSiteAgain(t *testing.T) {
	f := newFixture(t, 0)
	name := f.backup(t)

	ids := make(chan string, 1)
	f.rt.onStop = func() {
		assert.NoError(t, f.runner.Cancel(<-ids))
	}

	job, err := f.mgr.Restore("demo", name)
	require.NoError(t, err)
	ids <- job.ID

	done := f.wait(t, job.ID)
	assert.Equal(t, domain.JobFailed, done.State)
	assert.Contains(t, done.Error, "before overwrite")
	assert.Equal(t, []string{"stop", "up"}, f.rt.history())
	assert.Equal(t, domain.StatusActive, f.sites.current())

	data, err := os.ReadFile(filepath.Join(f.html, "index.php"))
	require.NoError(t, err)
	assert.Equal(t, "<?php // v1", string(data))
}

func TestRestoreOfArchiveWithoutDumpLeavesStatus(t *testing.T) {
	f := newFixture(t, 0)
	dir := filepath.Join(f.mgr.BackupsPath, "demo")
	require.NoError(t, os.MkdirAll(dir, 0755))

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("html/index.php")
	w.Write([]byte("x"))
	require.NoError(t, zw.Close())
	name := "demo-20260101-000000.zip"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0644))

	job, err := f.mgr.Restore("demo", name)
	require.NoError(t, err)
	done := f.wait(t, job.ID)
	assert.Equal(t, domain.JobFailed, done.State)
	assert.Equal(t, domain.StatusActive, f.sites.current())
	assert.Empty(t, f.rt.calls)
}

func TestRestoreRejectsUnknownArchives(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.mgr.Restore("demo", "demo-20260101-000000.zip")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = f.mgr.Restore("demo", "../other/demo-20260101-000000.zip")
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = f.mgr.Restore("ghost", "ghost-20260101-000000.zip")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestDeleteBackup(t *testing.T) {
	f := newFixture(t, 0)
	name := f.backup(t)

	require.NoError(t, f.mgr.Delete("demo", name))
	names, err := f.mgr.Names("demo")
	require.NoError(t, err)
	assert.Empty(t, names)

	err = f.mgr.Delete("demo", name)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRemoveAll(t *testing.T) {
	f := newFixture(t, 0)
	f.backup(t)

	require.NoError(t, f.mgr.RemoveAll("demo"))
	_, err := os.Stat(filepath.Join(f.mgr.BackupsPath, "demo"))
	assert.True(t, os.IsNotExist(err))
	assert.Error(t, f.mgr.RemoveAll(".."))
}
