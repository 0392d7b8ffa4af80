package site

import (
	"errors"
	"testing"

	"wpdock/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRange struct {
	start, end int
	err        error
}

func (f fixedRange) GetPortRange() (int, int, error) { return f.start, f.end, f.err }

func TestAllocatePortSkipsUsedAndBusy(t *testing.T) {
	used := map[int]bool{9000: true}
	busy := func(p int) bool { return p != 9001 }

	port, err := AllocatePort(fixedRange{start: 9000, end: 9005}, used, busy)
	require.NoError(t, err)
	assert.Equal(t, 9002, port)
}

func TestAllocatePortExhausted(t *testing.T) {
	used := map[int]bool{9000: true, 9001: true}
	_, err := AllocatePort(fixedRange{start: 9000, end: 9001}, used, func(int) bool { return true })
	assert.True(t, errors.Is(err, domain.ErrRuntimeUnavailable))
}

func TestAllocatePortRangeError(t *testing.T) {
	_, err := AllocatePort(fixedRange{err: errors.New("no settings")}, nil, nil)
	assert.ErrorContains(t, err, "no settings")
}
