// Package registry is the durable record of every site. Writes go to the
// store first and then swap an immutable in-memory snapshot, so reads never
// wait on writers.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"wpdock/internal/domain"
)

// Recorder is the activity sink mutations report to.
type Recorder interface {
	Info(site, format string, args ...any)
}

type snapshot struct {
	byName map[string]domain.Site
	order  []string
}

type Registry struct {
	repo domain.SiteRepository
	rec  Recorder

	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

func New(repo domain.SiteRepository, rec Recorder) (*Registry, error) {
	r := &Registry{repo: repo, rec: rec}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the snapshot from the store.
func (r *Registry) Reload() error {
	sites, err := r.repo.ListSites()
	if err != nil {
		return fmt.Errorf("error loading sites: %w", err)
	}
	s := &snapshot{byName: make(map[string]domain.Site, len(sites))}
	for _, site := range sites {
		s.byName[site.ProjectName] = site
	}
	s.order = sortedNames(s.byName)
	r.snap.Store(s)
	return nil
}

func sortedNames(m map[string]domain.Site) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := m[names[i]], m[names[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ProjectName < b.ProjectName
	})
	return names
}

func clone(site domain.Site) domain.Site {
	site.Plugins = append([]string{}, site.Plugins...)
	if site.LastChecked != nil {
		t := *site.LastChecked
		site.LastChecked = &t
	}
	return site
}

func (r *Registry) Get(name string) (domain.Site, error) {
	site, ok := r.snap.Load().byName[name]
	if !ok {
		return domain.Site{}, domain.NotFoundf("site %q not found", name)
	}
	return clone(site), nil
}

func (r *Registry) List() []domain.Site {
	s := r.snap.Load()
	out := make([]domain.Site, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, clone(s.byName[name]))
	}
	return out
}

// UsedPorts returns the port of every registered site.
func (r *Registry) UsedPorts() map[int]bool {
	used := make(map[int]bool)
	for _, site := range r.snap.Load().byName {
		used[site.WPPort] = true
	}
	return used
}

// UsedDatabases returns the database name of every registered site.
func (r *Registry) UsedDatabases() map[string]bool {
	used := make(map[string]bool)
	for _, site := range r.snap.Load().byName {
		used[site.DBName] = true
	}
	return used
}

// mutate runs fn against a private copy of the snapshot and publishes the
// result only when fn succeeds.
func (r *Registry) mutate(fn func(m map[string]domain.Site) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	next := make(map[string]domain.Site, len(cur.byName)+1)
	for k, v := range cur.byName {
		next[k] = v
	}
	if err := fn(next); err != nil {
		return err
	}
	r.snap.Store(&snapshot{byName: next, order: sortedNames(next)})
	return nil
}

func (r *Registry) Create(site domain.Site) error {
	err := r.mutate(func(m map[string]domain.Site) error {
		if _, ok := m[site.ProjectName]; ok {
			return domain.Conflictf("a site named %q already exists", site.ProjectName)
		}
		for _, other := range m {
			if other.Subdomain == site.Subdomain {
				return domain.Conflictf("subdomain %q is already in use", site.Subdomain)
			}
			if other.DBName == site.DBName {
				return domain.Conflictf("database %q is already in use", site.DBName)
			}
		}
		if site.Plugins == nil {
			site.Plugins = []string{}
		}
		if err := r.repo.SaveSite(&site); err != nil {
			return err
		}
		m[site.ProjectName] = site
		return nil
	})
	if err != nil {
		return err
	}
	r.rec.Info(site.ProjectName, "Site '%s' registered (%s)", site.ProjectName, site.SiteURL)
	return nil
}

// UpdateStatus sets status and the last error. No activity is recorded
// when neither changes.
func (r *Registry) UpdateStatus(name string, status domain.SiteStatus, lastError string) error {
	changed := false
	err := r.mutate(func(m map[string]domain.Site) error {
		site, ok := m[name]
		if !ok {
			return domain.NotFoundf("site %q not found", name)
		}
		if site.Status == status && site.LastError == lastError {
			return nil
		}
		if err := r.repo.UpdateSiteStatus(name, status, lastError); err != nil {
			return err
		}
		changed = site.Status != status
		site.Status = status
		site.LastError = lastError
		site.UpdatedAt = time.Now()
		m[name] = site
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		if lastError != "" {
			r.rec.Info(name, "Site '%s' is now %s: %s", name, status, lastError)
		} else {
			r.rec.Info(name, "Site '%s' is now %s", name, status)
		}
	}
	return nil
}

func (r *Registry) SetPlugins(name string, plugins []string) error {
	plugins = append([]string{}, plugins...)
	err := r.mutate(func(m map[string]domain.Site) error {
		site, ok := m[name]
		if !ok {
			return domain.NotFoundf("site %q not found", name)
		}
		if err := r.repo.UpdateSitePlugins(name, plugins); err != nil {
			return err
		}
		site.Plugins = plugins
		site.UpdatedAt = time.Now()
		m[name] = site
		return nil
	})
	if err != nil {
		return err
	}
	r.rec.Info(name, "Plugin set of '%s' updated", name)
	return nil
}

// Touch records a reconciliation pass. It is bookkeeping and appends no
// activity entry.
func (r *Registry) Touch(name string, at time.Time) error {
	return r.mutate(func(m map[string]domain.Site) error {
		site, ok := m[name]
		if !ok {
			return domain.NotFoundf("site %q not found", name)
		}
		if err := r.repo.TouchSite(name, at); err != nil {
			return err
		}
		site.LastChecked = &at
		m[name] = site
		return nil
	})
}

func (r *Registry) SetLastJob(name, jobID string) error {
	return r.mutate(func(m map[string]domain.Site) error {
		site, ok := m[name]
		if !ok {
			return domain.NotFoundf("site %q not found", name)
		}
		if err := r.repo.SetSiteLastJob(name, jobID); err != nil {
			return err
		}
		site.LastJobID = jobID
		m[name] = site
		return nil
	})
}

func (r *Registry) Delete(name string) error {
	err := r.mutate(func(m map[string]domain.Site) error {
		if _, ok := m[name]; !ok {
			return domain.NotFoundf("site %q not found", name)
		}
		if err := r.repo.DeleteSite(name); err != nil {
			return err
		}
		delete(m, name)
		return nil
	})
	if err != nil {
		return err
	}
	r.rec.Info(name, "Site '%s' removed", name)
	return nil
}
