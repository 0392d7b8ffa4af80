package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"wpdock/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	mu       sync.Mutex
	commands []string
	outputs  map[string]string
	errs     map[string]error
}

func (f *fakeExec) Run(ctx context.Context, c Command) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	line := c.String()
	f.commands = append(f.commands, line)
	for key, err := range f.errs {
		if strings.Contains(line, key) {
			return "", err
		}
	}
	for key, out := range f.outputs {
		if strings.Contains(line, key) {
			return out, nil
		}
	}
	return "", nil
}

func newSupervisor(t *testing.T) (*Supervisor, *fakeExec) {
	t.Helper()
	fe := &fakeExec{outputs: map[string]string{}, errs: map[string]error{}}
	return NewSupervisor(fe, "docker", t.TempDir(), nil), fe
}

func TestWriteComposeAndExists(t *testing.T) {
	s, _ := newSupervisor(t)
	assert.False(t, s.Exists("demo"))

	require.NoError(t, s.WriteCompose("demo", []byte("name: demo\n")))
	assert.True(t, s.Exists("demo"))
	assert.DirExists(t, filepath.Join(s.SitesPath, "demo", "html"))
}

func TestRestartWithoutRuntimeIsNotRunning(t *testing.T) {
	s, fe := newSupervisor(t)
	err := s.Restart(context.Background(), "demo")
	assert.True(t, errors.Is(err, domain.ErrNotRunning))
	assert.Empty(t, fe.commands)
}

func TestDownIsIdempotent(t *testing.T) {
	s, fe := newSupervisor(t)
	require.NoError(t, s.Down(context.Background(), "demo"))
	assert.Empty(t, fe.commands)

	require.NoError(t, s.WriteCompose("demo", []byte("name: demo\n")))
	require.NoError(t, s.Down(context.Background(), "demo"))
	require.Len(t, fe.commands, 1)
	assert.Contains(t, fe.commands[0], "compose -p demo")
	assert.Contains(t, fe.commands[0], "down --remove-orphans")

	require.NoError(t, s.RemoveFiles("demo"))
	_, err := os.Stat(s.SiteDir("demo"))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, s.RemoveFiles("demo"))
}

func TestRemoveFilesRejectsTraversal(t *testing.T) {
	s, _ := newSupervisor(t)
	assert.Error(t, s.RemoveFiles(".."))
	assert.Error(t, s.RemoveFiles("a/b"))
	assert.Error(t, s.RemoveFiles(""))
}

func TestRunningNeedsBothServices(t *testing.T) {
	s, fe := newSupervisor(t)
	require.NoError(t, s.WriteCompose("demo", []byte("name: demo\n")))

	fe.outputs["ps --status running"] = "wordpress\n"
	running, err := s.Running(context.Background(), "demo")
	require.NoError(t, err)
	assert.False(t, running)

	fe.outputs["ps --status running"] = "wordpress\ncli\n"
	running, err = s.Running(context.Background(), "demo")
	require.NoError(t, err)
	assert.True(t, running)
}

func TestWaitReadyTimesOut(t *testing.T) {
	s, fe := newSupervisor(t)
	require.NoError(t, s.WriteCompose("demo", []byte("name: demo\n")))
	fe.outputs["ps --status running"] = "wordpress\n"

	err := s.WaitReady(context.Background(), "demo", 30*time.Millisecond, 10*time.Millisecond)
	assert.True(t, errors.Is(err, domain.ErrRuntimeUnavailable))
}

func TestWaitReadySucceeds(t *testing.T) {
	s, fe := newSupervisor(t)
	require.NoError(t, s.WriteCompose("demo", []byte("name: demo\n")))
	fe.outputs["ps --status running"] = "wordpress\ncli\n"
	fe.outputs["wp core version"] = "6.6.1\n"

	require.NoError(t, s.WaitReady(context.Background(), "demo", time.Second, 10*time.Millisecond))
}

func TestCommandErrorKeepsStderrTail(t *testing.T) {
	err := &CommandError{Command: "docker compose up", Err: errors.New("exit status 1"), Stderr: "port is already allocated\n"}
	assert.Equal(t, "docker compose up: exit status 1: port is already allocated", err.Error())
}

func TestExecRunnerCapturesOutputAndExitCode(t *testing.T) {
	out, err := ExecRunner{}.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", out)

	_, err = ExecRunner{}.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo oops >&2; exit 3"}})
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Contains(t, cmdErr.Stderr, "oops")
}
