package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"wpdock/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireIsPerSite(t *testing.T) {
	l := NewLocks()

	releaseDemo, err := l.TryAcquire("demo", domain.JobBackup, "j1")
	require.NoError(t, err)

	_, err = l.TryAcquire("demo", KindReconcile, "sweep")
	assert.True(t, errors.Is(err, domain.ErrBusy))
	assert.Contains(t, err.Error(), "backup in progress")

	releaseOther, err := l.TryAcquire("other", KindReconcile, "sweep")
	require.NoError(t, err)
	releaseOther()

	kind, owner, held := l.Holder("demo")
	assert.True(t, held)
	assert.Equal(t, domain.JobBackup, kind)
	assert.Equal(t, "j1", owner)

	releaseDemo()
	releaseDemo()
	_, _, held = l.Holder("demo")
	assert.False(t, held)
}

func TestStaleReleaseDoesNotFreeNewHolder(t *testing.T) {
	l := NewLocks()
	first, err := l.TryAcquire("demo", domain.JobRestart, "a")
	require.NoError(t, err)
	first()

	_, err = l.TryAcquire("demo", domain.JobRestart, "b")
	require.NoError(t, err)
	first()

	_, owner, held := l.Holder("demo")
	assert.True(t, held)
	assert.Equal(t, "b", owner)
}

func TestAcquireBehindToggleTimesOut(t *testing.T) {
	l := NewLocks()
	_, err := l.TryAcquire("demo", domain.JobPluginToggle, "t")
	require.NoError(t, err)

	start := time.Now()
	_, err = l.AcquireBehindToggle(context.Background(), "demo", domain.JobRestore, "r", 40*time.Millisecond)
	assert.True(t, errors.Is(err, domain.ErrBusy))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestAcquireBehindToggleHonoursContext(t *testing.T) {
	l := NewLocks()
	_, err := l.TryAcquire("demo", domain.JobPluginToggle, "t")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.AcquireBehindToggle(ctx, "demo", domain.JobBackup, "b", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
