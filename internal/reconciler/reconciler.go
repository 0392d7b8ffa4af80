// Package reconciler periodically compares what the registry believes about
// each site with what is actually running, and samples host load.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"wpdock/internal/domain"
	"wpdock/internal/jobs"
	"wpdock/internal/logger"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type Sites interface {
	Get(name string) (domain.Site, error)
	List() []domain.Site
	UpdateStatus(name string, status domain.SiteStatus, lastError string) error
	Touch(name string, at time.Time) error
}

type Runtime interface {
	Running(ctx context.Context, name string) (bool, error)
}

type Locker interface {
	TryAcquire(site string, kind domain.JobKind, owner string) (func(), error)
}

type Publisher interface {
	Publish(topic, kind string, v any)
}

// Probe reports nil when a site answers on port.
type Probe func(ctx context.Context, port int) error

// Sampler reads host CPU and RAM usage in percent.
type Sampler func(ctx context.Context) (cpuPct, ramPct float64, err error)

type Options struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	Probe        Probe
	Sample       Sampler
	Publisher    Publisher
	EventsTopic  string
	Logger       *slog.Logger
}

type Reconciler struct {
	sites   Sites
	runtime Runtime
	locks   Locker
	opts    Options
	log     *slog.Logger

	stats atomic.Pointer[domain.VPSStats]
	now   func() time.Time
}

func New(sites Sites, rt Runtime, locks Locker, opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.Probe == nil {
		opts.Probe = HTTPProbe(opts.ProbeTimeout)
	}
	if opts.Sample == nil {
		opts.Sample = HostSampler
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	r := &Reconciler{sites: sites, runtime: rt, locks: locks, opts: opts, log: opts.Logger, now: time.Now}
	r.stats.Store(&domain.VPSStats{})
	return r
}

// HTTPProbe requests the site's front page on loopback. Anything below 500
// counts as alive, since WordPress answers redirects and auth walls too.
func HTTPProbe(timeout time.Duration) Probe {
	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return func(ctx context.Context, port int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/", port), nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("site answered %s", resp.Status)
		}
		return nil
	}
}

func HostSampler(ctx context.Context) (float64, float64, error) {
	c, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, 0, err
	}
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	var cpuPct float64
	if len(c) > 0 {
		cpuPct = c[0]
	}
	return cpuPct, v.UsedPercent, nil
}

// Stats returns the latest host sample.
func (r *Reconciler) Stats() domain.VPSStats {
	return *r.stats.Load()
}

// Run sweeps once immediately and then every interval until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	r.Sweep(ctx)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep samples the host and checks every active or down site once.
func (r *Reconciler) Sweep(ctx context.Context) {
	r.sample(ctx)

	for _, site := range r.sites.List() {
		if ctx.Err() != nil {
			return
		}
		if site.Status != domain.StatusActive && site.Status != domain.StatusDown {
			continue
		}
		r.check(ctx, site)
	}
}

func (r *Reconciler) sample(ctx context.Context) {
	cpuPct, ramPct, err := r.opts.Sample(ctx)
	if err != nil {
		r.log.Warn("failed to sample host stats", "error", err)
		return
	}
	stats := &domain.VPSStats{CPUUsage: cpuPct, RAMUsage: ramPct, SampledAt: r.now().UTC()}
	r.stats.Store(stats)
	if r.opts.Publisher != nil && r.opts.EventsTopic != "" {
		r.opts.Publisher.Publish(r.opts.EventsTopic, "stats", stats)
	}
}

func (r *Reconciler) check(ctx context.Context, listed domain.Site) {
	release, err := r.locks.TryAcquire(listed.ProjectName, jobs.KindReconcile, "reconciler")
	if err != nil {
		r.log.Debug("site busy, skipping health check", "site", listed.ProjectName)
		return
	}
	defer release()

	// A job may have finished between List and TryAcquire.
	site, err := r.sites.Get(listed.ProjectName)
	if err != nil || (site.Status != domain.StatusActive && site.Status != domain.StatusDown) {
		return
	}

	healthErr := r.health(ctx, site)
	if ctx.Err() != nil {
		return
	}

	if err := r.sites.Touch(site.ProjectName, r.now().UTC()); err != nil {
		r.log.Warn("failed to record health check", "site", site.ProjectName, "error", err)
		return
	}

	switch {
	case site.Status == domain.StatusActive && healthErr != nil:
		r.log.Warn("site went down", "site", site.ProjectName, "error", healthErr)
		if err := r.sites.UpdateStatus(site.ProjectName, domain.StatusDown, healthErr.Error()); err != nil {
			r.log.Error("failed to mark site down", "site", site.ProjectName, "error", err)
		}
	case site.Status == domain.StatusDown && healthErr == nil:
		r.log.Info("site is back up", "site", site.ProjectName)
		if err := r.sites.UpdateStatus(site.ProjectName, domain.StatusActive, ""); err != nil {
			r.log.Error("failed to mark site active", "site", site.ProjectName, "error", err)
		}
	}
}

func (r *Reconciler) health(ctx context.Context, site domain.Site) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
	defer cancel()

	running, err := r.runtime.Running(ctx, site.ProjectName)
	if err != nil {
		return fmt.Errorf("cannot inspect containers: %w", err)
	}
	if !running {
		return fmt.Errorf("containers are not running")
	}
	if err := r.opts.Probe(ctx, site.WPPort); err != nil {
		return fmt.Errorf("http probe failed: %w", err)
	}
	return nil
}
