package backup

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"wpdock/internal/domain"
	"wpdock/internal/jobs"
	"wpdock/internal/logger"

	"github.com/google/uuid"
)

const (
	timestampLayout = "20060102-150405"
	dumpEntry       = "db.sql"
	filesPrefix     = "html/"
)

var fileSuffix = regexp.MustCompile(`^-\d{8}-\d{6}\.zip$`)

type Sites interface {
	Get(name string) (domain.Site, error)
}

type Runtime interface {
	HTMLDir(name string) string
	Stop(ctx context.Context, name string) error
	Up(ctx context.Context, name string) error
}

type Databases interface {
	Dump(ctx context.Context, name string, w io.Writer) error
	Import(ctx context.Context, name string, r io.Reader) error
}

type Submitter interface {
	Submit(site string, kind domain.JobKind, detail string, work jobs.WorkFunc) (domain.Job, error)
}

type Locker interface {
	TryAcquire(site string, kind domain.JobKind, owner string) (func(), error)
}

type Recorder interface {
	Info(site, format string, args ...any)
	Error(site, format string, args ...any)
}

type Options struct {
	// Keep is how many archives a site retains; 0 keeps all.
	Keep int
	// UID and GID own restored files when set, matching the container user.
	UID, GID int
}

type Manager struct {
	BackupsPath string

	sites    Sites
	runtime  Runtime
	dbs      Databases
	jobs     Submitter
	locks    Locker
	activity Recorder
	opts     Options
	log      *slog.Logger
	now      func() time.Time
}

type Deps struct {
	Sites    Sites
	Runtime  Runtime
	DBs      Databases
	Jobs     Submitter
	Locks    Locker
	Activity Recorder
	Logger   *slog.Logger
}

func NewManager(backupsPath string, deps Deps, opts Options) *Manager {
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	return &Manager{
		BackupsPath: backupsPath,
		sites:       deps.Sites,
		runtime:     deps.Runtime,
		dbs:         deps.DBs,
		jobs:        deps.Jobs,
		locks:       deps.Locks,
		activity:    deps.Activity,
		opts:        opts,
		log:         deps.Logger,
		now:         time.Now,
	}
}

func (m *Manager) siteDir(site string) string {
	return filepath.Join(m.BackupsPath, site)
}

// validFile reports whether file is an archive name belonging to site.
func validFile(site, file string) bool {
	rest, ok := strings.CutPrefix(file, site)
	return ok && fileSuffix.MatchString(rest)
}

// List returns the site's archives, newest first.
func (m *Manager) List(site string) ([]domain.Backup, error) {
	if _, err := m.sites.Get(site); err != nil {
		return nil, err
	}
	files, err := os.ReadDir(m.siteDir(site))
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.Backup{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read backups directory: %w", err)
	}

	backups := make([]domain.Backup, 0, len(files))
	for _, file := range files {
		if file.IsDir() || !validFile(site, file.Name()) {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		created, _ := time.ParseInLocation(timestampLayout, strings.TrimSuffix(strings.TrimPrefix(file.Name(), site+"-"), ".zip"), time.UTC)
		backups = append(backups, domain.Backup{
			File:      file.Name(),
			Site:      site,
			Size:      info.Size(),
			CreatedAt: created,
		})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].File > backups[j].File })
	return backups, nil
}

// Names is List reduced to file names.
func (m *Manager) Names(site string) ([]string, error) {
	backups, err := m.List(site)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(backups))
	for i, b := range backups {
		names[i] = b.File
	}
	return names, nil
}

// Delete removes one archive. It is refused while a job holds the site.
func (m *Manager) Delete(site, file string) error {
	if _, err := m.sites.Get(site); err != nil {
		return err
	}
	if !validFile(site, file) {
		return domain.Validationf("invalid backup name %q", file)
	}
	release, err := m.locks.TryAcquire(site, domain.JobBackup, uuid.NewString())
	if err != nil {
		return err
	}
	defer release()

	path := filepath.Join(m.siteDir(site), file)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.NotFoundf("backup %q not found", file)
		}
		return err
	}
	m.activity.Info(site, "Backup '%s' of site '%s' deleted", file, site)
	return nil
}

// RemoveAll drops every archive of a site. Missing archives are fine.
func (m *Manager) RemoveAll(site string) error {
	if site == "" || strings.ContainsAny(site, `/\`) || site == "." || site == ".." {
		return fmt.Errorf("refusing to remove backups for %q", site)
	}
	return os.RemoveAll(m.siteDir(site))
}

// Create queues a backup job for site.
func (m *Manager) Create(site string) (domain.Job, error) {
	if _, err := m.sites.Get(site); err != nil {
		return domain.Job{}, err
	}
	return m.jobs.Submit(site, domain.JobBackup, "", m.runBackup)
}

func (m *Manager) runBackup(ctx context.Context, h *jobs.Handle) error {
	name := h.Site()
	site, err := m.sites.Get(name)
	if err != nil {
		return err
	}
	if err := h.Checkpoint("backup"); err != nil {
		return err
	}

	htmlDir := m.runtime.HTMLDir(name)
	if _, err := os.Stat(htmlDir); err != nil {
		return domain.NotRunningf("site %q has no files to back up", name)
	}

	dir := m.siteDir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create backups directory: %w", err)
	}

	backupFileName := fmt.Sprintf("%s-%s.zip", name, m.now().UTC().Format(timestampLayout))
	backupFilePath := filepath.Join(dir, backupFileName)
	if _, err := os.Stat(backupFilePath); err == nil {
		return domain.Busyf("backup %s already exists, try again in a second", backupFileName)
	}
	tempBackupFilePath := backupFilePath + ".temp"

	if err := m.writeArchive(ctx, h, site, htmlDir, tempBackupFilePath); err != nil {
		os.Remove(tempBackupFilePath)
		return fmt.Errorf("error creating backup: %w", err)
	}
	if err := os.Rename(tempBackupFilePath, backupFilePath); err != nil {
		os.Remove(tempBackupFilePath)
		return fmt.Errorf("error renaming temp file: %w", err)
	}

	m.activity.Info(name, "Backup '%s' of site '%s' created", backupFileName, name)
	m.prune(name)
	return nil
}

func (m *Manager) writeArchive(ctx context.Context, h *jobs.Handle, site domain.Site, htmlDir, target string) error {
	backupFile, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("could not create backup file: %w", err)
	}
	zipWriter := zip.NewWriter(backupFile)

	err = m.fillArchive(ctx, h, zipWriter, site, htmlDir)

	zipErr := zipWriter.Close()
	fileErr := backupFile.Close()
	if err != nil {
		return err
	}
	if zipErr != nil || fileErr != nil {
		return fmt.Errorf("error closing files: %v, %v", zipErr, fileErr)
	}
	return nil
}

func (m *Manager) fillArchive(ctx context.Context, h *jobs.Handle, zw *zip.Writer, site domain.Site, htmlDir string) error {
	h.Progress("Dumping database", 0.05)
	dump, err := zw.CreateHeader(&zip.FileHeader{Name: dumpEntry, Method: zip.Deflate, Modified: m.now()})
	if err != nil {
		return err
	}
	if err := m.dbs.Dump(ctx, site.DBName, dump); err != nil {
		return err
	}

	var totalSize int64
	filepath.Walk(htmlDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	var processedSize int64
	var lastProgress int
	return filepath.Walk(htmlDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		relPath, err := filepath.Rel(htmlDir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filesPrefix + filepath.ToSlash(relPath)
		if info.IsDir() {
			header.Name += "/"
		} else {
			header.Method = zip.Deflate
		}

		writer, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		if _, err := io.Copy(writer, file); err != nil {
			return err
		}

		processedSize += info.Size()
		if totalSize > 0 {
			percentage := int(float64(processedSize) / float64(totalSize) * 100)
			if percentage >= lastProgress+5 {
				lastProgress = percentage
				h.Progress(fmt.Sprintf("Backing up... %d%%", percentage), 0.1+0.9*float64(percentage)/100)
			}
		}
		return nil
	})
}

// prune deletes the oldest archives beyond the retention count.
func (m *Manager) prune(site string) {
	if m.opts.Keep <= 0 {
		return
	}
	backups, err := m.List(site)
	if err != nil {
		m.log.Warn("could not list backups for retention", "site", site, "error", err)
		return
	}
	for _, b := range backups[min(m.opts.Keep, len(backups)):] {
		if err := os.Remove(filepath.Join(m.siteDir(site), b.File)); err != nil {
			m.log.Warn("could not prune backup", "site", site, "file", b.File, "error", err)
			continue
		}
		m.log.Info("pruned backup", "site", site, "file", b.File)
	}
}

// Restore checks the archive and queues a restore job.
func (m *Manager) Restore(site, file string) (domain.Job, error) {
	if _, err := m.sites.Get(site); err != nil {
		return domain.Job{}, err
	}
	if !validFile(site, file) {
		return domain.Job{}, domain.Validationf("invalid backup name %q", file)
	}
	if _, err := os.Stat(filepath.Join(m.siteDir(site), file)); err != nil {
		return domain.Job{}, domain.NotFoundf("backup %q not found", file)
	}
	return m.jobs.Submit(site, domain.JobRestore, file, func(ctx context.Context, h *jobs.Handle) error {
		return m.runRestore(ctx, h, file)
	})
}

func (m *Manager) runRestore(ctx context.Context, h *jobs.Handle, file string) error {
	name := h.Site()
	site, err := m.sites.Get(name)
	if err != nil {
		return err
	}

	r, err := zip.OpenReader(filepath.Join(m.siteDir(name), file))
	if err != nil {
		return fmt.Errorf("cannot open backup: %w", err)
	}
	defer r.Close()

	var dump *zip.File
	for _, f := range r.File {
		if f.Name == dumpEntry {
			dump = f
			break
		}
	}
	if dump == nil {
		return domain.Validationf("backup %q has no database dump", file)
	}

	if err := h.Checkpoint("stop"); err != nil {
		return err
	}
	h.Progress("Stopping site", 0.1)
	if err := m.runtime.Stop(ctx, name); err != nil {
		m.startAgain(name)
		return err
	}

	if err := h.Checkpoint("overwrite"); err != nil {
		m.startAgain(name)
		return err
	}
	h.MarkLiveDataTouched()

	htmlDir := m.runtime.HTMLDir(name)
	h.Progress("Restoring files", 0.3)
	if err := clearDir(htmlDir); err != nil {
		return fmt.Errorf("failed to clear site files: %w", err)
	}
	if err := m.unzip(ctx, &r.Reader, htmlDir); err != nil {
		return fmt.Errorf("failed to unzip backup: %w", err)
	}

	h.Progress("Restoring database", 0.7)
	rc, err := dump.Open()
	if err != nil {
		return err
	}
	err = m.dbs.Import(ctx, site.DBName, rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}

	h.Progress("Starting site", 0.9)
	if err := m.runtime.Up(ctx, name); err != nil {
		return err
	}
	m.activity.Info(name, "Site '%s' restored from '%s'", name, file)
	return nil
}

// startAgain brings a site back up after a restore gave up before touching
// its data. The job's context may already be cancelled.
func (m *Manager) startAgain(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := m.runtime.Up(ctx, name); err != nil {
		m.log.Error("failed to start site after aborted restore", "site", name, "error", err)
	}
}

func clearDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := os.RemoveAll(filepath.Join(dir, file.Name())); err != nil {
			return err
		}
	}
	return nil
}

// unzip extracts the html/ entries of r into dest.
func (m *Manager) unzip(ctx context.Context, r *zip.Reader, dest string) error {
	dest = filepath.Clean(dest)
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, ok := strings.CutPrefix(f.Name, filesPrefix)
		if !ok || rel == "" {
			continue
		}
		fpath := filepath.Join(dest, rel)
		if !strings.HasPrefix(fpath, dest+string(os.PathSeparator)) {
			return fmt.Errorf("%s: illegal file path", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0755); err != nil {
				return err
			}
			m.chown(fpath)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(fpath), 0755); err != nil {
			return err
		}

		outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0600)
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return err
		}
		_, err = io.Copy(outFile, rc)
		outFile.Close()
		rc.Close()
		if err != nil {
			return err
		}
		m.chown(fpath)
	}
	return nil
}

func (m *Manager) chown(path string) {
	if m.opts.UID <= 0 {
		return
	}
	if err := os.Lchown(path, m.opts.UID, m.opts.GID); err != nil {
		m.log.Debug("chown failed", "path", path, "error", err)
	}
}
