package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindsMatch(t *testing.T) {
	conflict := Conflictf("site %q already exists", "demo")
	assert.True(t, errors.Is(conflict, ErrConflict))
	assert.True(t, errors.Is(conflict, ErrValidation))
	assert.False(t, errors.Is(conflict, ErrNotFound))

	notRunning := fmt.Errorf("restart: %w", NotRunningf("no runtime for %q", "demo"))
	assert.True(t, errors.Is(notRunning, ErrRuntimeUnavailable))
	assert.Equal(t, KindNotRunning, KindOf(notRunning))

	assert.False(t, errors.Is(ErrValidation, ErrConflict))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestErrorMessage(t *testing.T) {
	err := Unavailable("database unreachable", errors.New("dial tcp: refused"))
	assert.Equal(t, "database unreachable: dial tcp: refused", err.Error())
	assert.Equal(t, "busy", ErrBusy.Error())
}
