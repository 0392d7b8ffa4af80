package jobs

import (
	"context"
	"sync"
	"time"

	"wpdock/internal/domain"
)

// KindReconcile tags a lock held by a health sweep.
const KindReconcile domain.JobKind = "reconcile"

type holder struct {
	kind     domain.JobKind
	owner    string
	released chan struct{}
}

// Locks is a keyed mutex table with one entry per site. Acquisition never
// blocks except behind a plugin toggle, which is expected to be short.
type Locks struct {
	mu   sync.Mutex
	held map[string]*holder
}

func NewLocks() *Locks {
	return &Locks{held: make(map[string]*holder)}
}

func (l *Locks) take(site string, kind domain.JobKind, owner string) func() {
	h := &holder{kind: kind, owner: owner, released: make(chan struct{})}
	l.held[site] = h
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.held[site] == h {
				delete(l.held, site)
			}
			l.mu.Unlock()
			close(h.released)
		})
	}
}

func busy(site string, h *holder) error {
	return domain.Busyf("site %q is busy: %s in progress", site, h.kind)
}

// TryAcquire takes the site's lock or fails with Busy. The returned
// release func is safe to call more than once.
func (l *Locks) TryAcquire(site string, kind domain.JobKind, owner string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.held[site]; ok {
		return nil, busy(site, h)
	}
	return l.take(site, kind, owner), nil
}

// AcquireBehindToggle is TryAcquire, except that when the holder is a
// plugin toggle it waits up to wait for the toggle to finish.
func (l *Locks) AcquireBehindToggle(ctx context.Context, site string, kind domain.JobKind, owner string, wait time.Duration) (func(), error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		l.mu.Lock()
		h, ok := l.held[site]
		if !ok {
			release := l.take(site, kind, owner)
			l.mu.Unlock()
			return release, nil
		}
		l.mu.Unlock()

		if h.kind != domain.JobPluginToggle {
			return nil, busy(site, h)
		}
		select {
		case <-h.released:
		case <-timer.C:
			return nil, busy(site, h)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Holder reports who holds site's lock.
func (l *Locks) Holder(site string) (domain.JobKind, string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.held[site]
	if !ok {
		return "", "", false
	}
	return h.kind, h.owner, true
}
