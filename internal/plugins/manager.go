// Package plugins drives wp-cli to inspect and toggle the plugins of a
// running site.
package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"wpdock/internal/domain"
	"wpdock/internal/logger"
	"wpdock/internal/site"

	"github.com/google/uuid"
)

type Runtime interface {
	Running(ctx context.Context, name string) (bool, error)
	WP(ctx context.Context, name string, args ...string) (string, error)
}

type Sites interface {
	Get(name string) (domain.Site, error)
	SetPlugins(name string, plugins []string) error
}

type Locker interface {
	TryAcquire(site string, kind domain.JobKind, owner string) (func(), error)
}

type Recorder interface {
	Info(site, format string, args ...any)
	Error(site, format string, args ...any)
}

type Manager struct {
	runtime  Runtime
	sites    Sites
	locks    Locker
	activity Recorder
	log      *slog.Logger
}

func NewManager(rt Runtime, sites Sites, locks Locker, rec Recorder, l *slog.Logger) *Manager {
	if l == nil {
		l = logger.Discard()
	}
	return &Manager{runtime: rt, sites: sites, locks: locks, activity: rec, log: l}
}

func (m *Manager) requireRunning(ctx context.Context, name string) (domain.Site, error) {
	s, err := m.sites.Get(name)
	if err != nil {
		return domain.Site{}, err
	}
	running, err := m.runtime.Running(ctx, name)
	if err != nil {
		return domain.Site{}, domain.Unavailable(fmt.Sprintf("cannot inspect runtime of site %q", name), err)
	}
	if !running {
		return domain.Site{}, domain.Unavailable(fmt.Sprintf("site %q is not running", name), nil)
	}
	return s, nil
}

// List returns the plugins wp-cli reports for the site. It takes no lock.
func (m *Manager) List(ctx context.Context, name string) ([]domain.Plugin, error) {
	if _, err := m.requireRunning(ctx, name); err != nil {
		return nil, err
	}
	return m.list(ctx, name)
}

func (m *Manager) list(ctx context.Context, name string) ([]domain.Plugin, error) {
	out, err := m.runtime.WP(ctx, name, "plugin", "list", "--format=json", "--fields=name,status,version,update,author")
	if err != nil {
		return nil, fmt.Errorf("error listing plugins: %w", err)
	}
	out = strings.TrimSpace(out)
	// wp-cli may print notices before the payload.
	if i := strings.Index(out, "["); i > 0 {
		out = out[i:]
	}
	var plugins []domain.Plugin
	if err := json.Unmarshal([]byte(out), &plugins); err != nil {
		return nil, fmt.Errorf("error parsing plugin list: %w", err)
	}
	if plugins == nil {
		plugins = []domain.Plugin{}
	}
	return plugins, nil
}

type action struct {
	cmd       string
	verb      string
	args      func(slug string) []string
	installed bool // plugin must already be installed
	keep      bool // whether the slug stays in the site's plugin set
}

var (
	activate = action{
		cmd:       "activate",
		verb:      "activated",
		args:      func(slug string) []string { return []string{"plugin", "activate", slug} },
		installed: true,
		keep:      true,
	}
	deactivate = action{
		cmd:       "deactivate",
		verb:      "deactivated",
		args:      func(slug string) []string { return []string{"plugin", "deactivate", slug} },
		installed: true,
	}
	install = action{
		cmd:  "install",
		verb: "installed",
		args: func(slug string) []string { return []string{"plugin", "install", slug, "--activate"} },
		keep: true,
	}
	uninstall = action{
		cmd:       "uninstall",
		verb:      "uninstalled",
		args:      func(slug string) []string { return []string{"plugin", "uninstall", slug, "--deactivate"} },
		installed: true,
	}
)

func (m *Manager) Activate(ctx context.Context, name, slug string) error {
	return m.apply(ctx, name, slug, activate)
}

func (m *Manager) Deactivate(ctx context.Context, name, slug string) error {
	return m.apply(ctx, name, slug, deactivate)
}

func (m *Manager) Install(ctx context.Context, name, slug string) error {
	return m.apply(ctx, name, slug, install)
}

func (m *Manager) Uninstall(ctx context.Context, name, slug string) error {
	return m.apply(ctx, name, slug, uninstall)
}

func (m *Manager) apply(ctx context.Context, name, slug string, a action) error {
	if !site.ValidPluginSlug(slug) {
		return domain.Validationf("plugin %q is not a valid slug", slug)
	}
	if _, err := m.sites.Get(name); err != nil {
		return err
	}

	release, err := m.locks.TryAcquire(name, domain.JobPluginToggle, uuid.NewString())
	if err != nil {
		return err
	}
	defer release()

	current, err := m.requireRunning(ctx, name)
	if err != nil {
		return err
	}

	if a.installed {
		plugins, err := m.list(ctx, name)
		if err != nil {
			return err
		}
		if !containsPlugin(plugins, slug) {
			return domain.NotFoundf("plugin %q is not installed on site %q", slug, name)
		}
	}

	if _, err := m.runtime.WP(ctx, name, a.args(slug)...); err != nil {
		m.log.Error("plugin command failed", "site", name, "plugin", slug, "error", err)
		m.activity.Error(name, "Failed to update plugin '%s' on site '%s'", slug, name)
		return fmt.Errorf("plugin %s failed: %w", a.cmd, err)
	}
	m.activity.Info(name, "Plugin '%s' %s on site '%s'", slug, a.verb, name)

	if current.HasPlugin(slug) != a.keep {
		if err := m.sites.SetPlugins(name, withPlugin(current.Plugins, slug, a.keep)); err != nil {
			return err
		}
	}
	return nil
}

func containsPlugin(plugins []domain.Plugin, slug string) bool {
	for _, p := range plugins {
		if p.Name == slug {
			return true
		}
	}
	return false
}

func withPlugin(plugins []string, slug string, keep bool) []string {
	out := make([]string, 0, len(plugins)+1)
	for _, p := range plugins {
		if p != slug {
			out = append(out, p)
		}
	}
	if keep {
		out = append(out, slug)
	}
	return out
}
