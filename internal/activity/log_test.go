package activity

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"wpdock/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu      sync.Mutex
	entries []domain.Activity
	fail    bool
}

func (m *memRepo) AppendActivity(e *domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	e.ID = uint(len(m.entries) + 1)
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memRepo) ListActivities(limit int) ([]domain.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.Activity(nil), m.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	frames []any
}

func (p *recordingPublisher) Publish(topic, kind string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, v)
}

func TestRecordPersistsAndPublishes(t *testing.T) {
	repo := &memRepo{}
	pub := &recordingPublisher{}
	l := NewLog(repo, pub, "events", 100, nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	entry := l.Record("demo", LevelInfo, "Site '%s' is now %s", "demo", "active")

	assert.Equal(t, "Site 'demo' is now active", entry.Action)
	assert.Equal(t, fixed, entry.Timestamp)
	require.Len(t, pub.frames, 1)
	assert.Equal(t, entry, pub.frames[0])
}

func TestListDefaultsLimit(t *testing.T) {
	repo := &memRepo{}
	l := NewLog(repo, nil, "events", 3, nil)
	for i := 0; i < 5; i++ {
		l.Info("", "entry %d", i)
	}

	entries, err := l.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "entry 4", entries[0].Action)

	entries, err = l.List(10)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestConcurrentWriters(t *testing.T) {
	repo := &memRepo{}
	l := NewLog(repo, nil, "events", 1000, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Info("demo", "tick %d", i)
		}(i)
	}
	wg.Wait()

	entries, err := l.List(1000)
	require.NoError(t, err)
	assert.Len(t, entries, 50)
}

func TestRecordSurvivesStorageFailure(t *testing.T) {
	repo := &memRepo{fail: true}
	pub := &recordingPublisher{}
	l := NewLog(repo, pub, "events", 10, nil)

	l.Error("demo", "restart failed")
	assert.Len(t, pub.frames, 1)
}
