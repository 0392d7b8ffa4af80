package site

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"wpdock/internal/domain"
	"wpdock/internal/jobs"
	"wpdock/internal/logger"
	"wpdock/internal/proxy"
	"wpdock/internal/runner/strategy"
	"wpdock/internal/ws"
)

// Runtime is the container side of a site.
type Runtime interface {
	WriteCompose(name string, data []byte) error
	Exists(name string) bool
	Up(ctx context.Context, name string) error
	Down(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	RemoveFiles(name string) error
	WaitReady(ctx context.Context, name string, timeout, interval time.Duration) error
	WP(ctx context.Context, name string, args ...string) (string, error)
	WPInput(ctx context.Context, name string, stdin io.Reader, args ...string) (string, error)
}

type Databases interface {
	CreateDatabase(ctx context.Context, name, user, password string) error
	DropDatabase(ctx context.Context, name, user string) error
}

type Registry interface {
	Get(name string) (domain.Site, error)
	Create(site domain.Site) error
	Delete(name string) error
	UpdateStatus(name string, status domain.SiteStatus, lastError string) error
	UsedPorts() map[int]bool
	UsedDatabases() map[string]bool
}

type Submitter interface {
	Submit(site string, kind domain.JobKind, detail string, work jobs.WorkFunc) (domain.Job, error)
}

// BackupStore is asked to drop a site's archives when the site goes away.
type BackupStore interface {
	RemoveAll(site string) error
}

type Recorder interface {
	Info(site, format string, args ...any)
	Error(site, format string, args ...any)
}

// Hubs drops the websocket channel of a deleted site so a later site with
// the same name starts with an empty history.
type Hubs interface {
	RemoveHub(topic string)
}

type Options struct {
	BaseDomain     string
	Compose        strategy.Options
	HealthTimeout  time.Duration
	HealthInterval time.Duration
	SiteURL        func(subdomain string, port int) string
	PortAvailable  func(port int) bool
}

type Manager struct {
	registry Registry
	ports    PortRangeSource
	runtime  Runtime
	dbs      Databases
	router   proxy.Router
	jobs     Submitter
	backups  BackupStore
	activity Recorder
	hubs     Hubs
	opts     Options
	log      *slog.Logger

	allocMu sync.Mutex
	now     func() time.Time
}

type Deps struct {
	Registry Registry
	Ports    PortRangeSource
	Runtime  Runtime
	DBs      Databases
	Router   proxy.Router
	Jobs     Submitter
	Backups  BackupStore
	Activity Recorder
	Hubs     Hubs
	Logger   *slog.Logger
}

func NewManager(deps Deps, opts Options) *Manager {
	if deps.Router == nil {
		deps.Router = proxy.Direct{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 2 * time.Minute
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 5 * time.Second
	}
	if opts.SiteURL == nil {
		opts.SiteURL = func(sub string, port int) string { return fmt.Sprintf("http://localhost:%d", port) }
	}
	return &Manager{
		registry: deps.Registry,
		ports:    deps.Ports,
		runtime:  deps.Runtime,
		dbs:      deps.DBs,
		router:   deps.Router,
		jobs:     deps.Jobs,
		backups:  deps.Backups,
		activity: deps.Activity,
		hubs:     deps.Hubs,
		opts:     opts,
		log:      deps.Logger,
		now:      time.Now,
	}
}

// Host is the public host name of a site, or "" without a base domain.
func (m *Manager) Host(site domain.Site) string {
	if m.opts.BaseDomain == "" {
		return ""
	}
	return site.Subdomain + "." + m.opts.BaseDomain
}

const passwordAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomPassword(n int) (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(passwordAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// dbIdentifiers derives the database and user names of a site. "my-site"
// and "my_site" fold to the same base, so both carry a random suffix.
func dbIdentifiers(name string) (string, string, error) {
	base := strings.ReplaceAll(name, "-", "_")
	raw := make([]byte, 2)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	suffix := hex.EncodeToString(raw)
	short := base
	if len(short) > 20 {
		short = short[:20]
	}
	return "wp_" + base + "_" + suffix, "wp_" + short + "_" + suffix, nil
}

// Prepare validates req, allocates a port and credentials and registers
// the site as creating. Nothing on the host is touched yet.
func (m *Manager) Prepare(req CreateRequest) (domain.Site, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return domain.Site{}, err
	}
	if _, err := strategy.GetPlatform(req.Platform); err != nil {
		return domain.Site{}, err
	}

	dbPassword, err := randomPassword(24)
	if err != nil {
		return domain.Site{}, err
	}

	email := req.AdminEmail
	if email == "" {
		domainPart := m.opts.BaseDomain
		if domainPart == "" {
			domainPart = "localhost.localdomain"
		}
		email = fmt.Sprintf("admin@%s.%s", req.Subdomain, domainPart)
	}

	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	port, err := AllocatePort(m.ports, m.registry.UsedPorts(), m.opts.PortAvailable)
	if err != nil {
		return domain.Site{}, err
	}
	m.log.Info("port allocated", "site", req.ProjectName, "port", port)

	var dbName, dbUser string
	usedDBs := m.registry.UsedDatabases()
	for attempt := 0; ; attempt++ {
		if dbName, dbUser, err = dbIdentifiers(req.ProjectName); err != nil {
			return domain.Site{}, err
		}
		if !usedDBs[dbName] {
			break
		}
		if attempt == 8 {
			return domain.Site{}, domain.Conflictf("could not pick a free database name for %q", req.ProjectName)
		}
	}

	now := m.now().UTC()
	site := domain.Site{
		ProjectName:   req.ProjectName,
		Subdomain:     req.Subdomain,
		SiteURL:       m.opts.SiteURL(req.Subdomain, port),
		Platform:      domain.PlatformWordPress,
		WPPort:        port,
		DBName:        dbName,
		DBUser:        dbUser,
		DBPassword:    dbPassword,
		AdminUsername: req.AdminUsername,
		AdminPassword: req.AdminPassword,
		AdminEmail:    email,
		Plugins:       req.Plugins,
		Status:        domain.StatusCreating,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.registry.Create(site); err != nil {
		return domain.Site{}, err
	}
	return site, nil
}

// CreateSite registers the site and queues its provisioning.
func (m *Manager) CreateSite(req CreateRequest) (domain.Site, domain.Job, error) {
	site, err := m.Prepare(req)
	if err != nil {
		return domain.Site{}, domain.Job{}, err
	}
	m.activity.Info(site.ProjectName, "Site '%s' creation initiated", site.ProjectName)

	job, err := m.jobs.Submit(site.ProjectName, domain.JobCreate, "", m.Provision)
	if err != nil {
		// Nothing holds a fresh record, so only a stopped or saturated
		// runner gets here. Keep the record visible as error.
		m.log.Error("failed to queue provisioning", "site", site.ProjectName, "error", err)
		if uerr := m.registry.UpdateStatus(site.ProjectName, domain.StatusError, err.Error()); uerr != nil {
			m.log.Error("failed to mark site as error", "site", site.ProjectName, "error", uerr)
		}
		return site, domain.Job{}, err
	}
	return site, job, nil
}

type provisionState struct {
	database bool
	files    bool
	runtime  bool
	route    bool
}

// Provision builds the runtime of a registered site. On failure everything
// it created is torn down again and the error is returned to the runner.
func (m *Manager) Provision(ctx context.Context, h *jobs.Handle) (err error) {
	name := h.Site()
	site, err := m.registry.Get(name)
	if err != nil {
		return err
	}

	var state provisionState
	defer func() {
		if err != nil {
			m.rollback(site, state)
		}
	}()

	if err := h.Checkpoint("database"); err != nil {
		return err
	}
	h.Progress("Creating database", 0.1)
	if err := m.dbs.CreateDatabase(ctx, site.DBName, site.DBUser, site.DBPassword); err != nil {
		return err
	}
	state.database = true

	if err := h.Checkpoint("runtime"); err != nil {
		return err
	}
	platform, err := strategy.GetPlatform(site.Platform)
	if err != nil {
		return err
	}
	composeOpts := m.opts.Compose
	if m.opts.BaseDomain != "" && composeOpts.BindAddress == "" {
		composeOpts.BindAddress = "127.0.0.1"
	}
	compose, err := platform.Compose(site, composeOpts)
	if err != nil {
		return err
	}
	h.Progress("Starting containers", 0.25)
	state.files = true
	if err := m.runtime.WriteCompose(name, compose); err != nil {
		return err
	}
	state.runtime = true
	if err := m.runtime.Up(ctx, name); err != nil {
		return err
	}

	h.Progress("Waiting for WordPress", 0.4)
	if err := m.runtime.WaitReady(ctx, name, m.opts.HealthTimeout, m.opts.HealthInterval); err != nil {
		return err
	}

	if err := h.Checkpoint("install"); err != nil {
		return err
	}
	h.Progress("Installing WordPress", 0.6)
	_, err = m.runtime.WPInput(ctx, name, strings.NewReader(site.AdminPassword+"\n"),
		"core", "install",
		"--url="+site.SiteURL,
		"--title="+site.ProjectName,
		"--admin_user="+site.AdminUsername,
		"--admin_email="+site.AdminEmail,
		"--prompt=admin_password",
		"--skip-email",
	)
	if err != nil {
		return fmt.Errorf("wordpress install failed: %w", err)
	}

	for i, plugin := range site.Plugins {
		h.Progress(fmt.Sprintf("Installing plugin %s", plugin), 0.7+0.2*float64(i)/float64(len(site.Plugins)))
		if _, perr := m.runtime.WP(ctx, name, "plugin", "install", plugin, "--activate"); perr != nil {
			m.log.Warn("plugin install failed", "site", name, "plugin", plugin, "error", perr)
			m.activity.Error(name, "Failed to install plugin '%s' on site '%s'", plugin, name)
			continue
		}
		m.activity.Info(name, "Plugin '%s' installed on site '%s'", plugin, name)
	}

	if err := h.Checkpoint("proxy route"); err != nil {
		return err
	}
	if host := m.Host(site); host != "" {
		h.Progress("Registering proxy route", 0.95)
		if err := m.router.Register(ctx, host, site.WPPort); err != nil {
			return err
		}
		state.route = true
	}

	h.Progress("Site ready", 1)
	m.activity.Info(name, "Site '%s' created successfully: %s", name, site.SiteURL)
	return nil
}

// rollback undoes a partial provision. It runs on its own context since the
// job's may be cancelled, and only logs failures.
func (m *Manager) rollback(site domain.Site, state provisionState) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	name := site.ProjectName
	m.log.Warn("rolling back partial provision", "site", name)
	if state.route {
		if err := m.router.Remove(ctx, m.Host(site)); err != nil {
			m.log.Error("rollback: proxy route", "site", name, "error", err)
		}
	}
	if state.runtime {
		if err := m.runtime.Down(ctx, name); err != nil {
			m.log.Error("rollback: runtime", "site", name, "error", err)
		}
	}
	if state.files {
		if err := m.runtime.RemoveFiles(name); err != nil {
			m.log.Error("rollback: site files", "site", name, "error", err)
		}
	}
	if state.database {
		if err := m.dbs.DropDatabase(ctx, site.DBName, site.DBUser); err != nil {
			m.log.Error("rollback: database", "site", name, "error", err)
		}
	}
	m.activity.Error(name, "Site '%s' creation failed and resources were cleaned up", name)
}

// DeleteSite queues the teardown of a site.
func (m *Manager) DeleteSite(name string) (domain.Job, error) {
	if _, err := m.registry.Get(name); err != nil {
		return domain.Job{}, err
	}
	return m.jobs.Submit(name, domain.JobDelete, "", m.Deprovision)
}

// Deprovision tears down every resource of a site and then removes its
// record. Every step tolerates resources that are already gone, so a failed
// run can simply be retried.
func (m *Manager) Deprovision(ctx context.Context, h *jobs.Handle) error {
	name := h.Site()
	site, err := m.registry.Get(name)
	if err != nil {
		return err
	}
	if err := h.Checkpoint("teardown"); err != nil {
		return err
	}

	var errs []error
	if host := m.Host(site); host != "" {
		if err := m.router.Remove(ctx, host); err != nil {
			errs = append(errs, fmt.Errorf("proxy route: %w", err))
		}
	}
	h.Progress("Stopping containers", 0.2)
	if err := m.runtime.Down(ctx, name); err != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", err))
	}
	h.Progress("Dropping database", 0.5)
	if err := m.dbs.DropDatabase(ctx, site.DBName, site.DBUser); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if len(errs) == 0 {
		if err := m.runtime.RemoveFiles(name); err != nil {
			errs = append(errs, fmt.Errorf("site files: %w", err))
		}
	}
	if m.backups != nil && len(errs) == 0 {
		if err := m.backups.RemoveAll(name); err != nil {
			errs = append(errs, fmt.Errorf("backups: %w", err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if err := m.registry.Delete(name); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if m.hubs != nil {
		m.hubs.RemoveHub(ws.SiteTopic(name))
	}
	return nil
}

// RestartSite queues a container restart. A site without a runtime fails
// with NotRunning straight away.
func (m *Manager) RestartSite(name string) (domain.Job, error) {
	if _, err := m.registry.Get(name); err != nil {
		return domain.Job{}, err
	}
	if !m.runtime.Exists(name) {
		return domain.Job{}, domain.NotRunningf("site %q has no runtime to restart", name)
	}
	return m.jobs.Submit(name, domain.JobRestart, "", m.Restart)
}

// Restart restarts the containers only; database and proxy are untouched.
func (m *Manager) Restart(ctx context.Context, h *jobs.Handle) error {
	if err := h.Checkpoint("restart"); err != nil {
		return err
	}
	return m.runtime.Restart(ctx, h.Site())
}
