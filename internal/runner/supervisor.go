package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"wpdock/internal/domain"
	"wpdock/internal/logger"
)

const (
	ComposeFileName = "docker-compose.yml"
	HTMLDirName     = "html"

	ServiceWordPress = "wordpress"
	ServiceCLI       = "cli"
)

// Supervisor drives one docker compose project per site. The compose
// project name is the site name.
type Supervisor struct {
	Exec      CommandRunner
	Docker    string
	SitesPath string
	log       *slog.Logger
}

func NewSupervisor(exec CommandRunner, docker, sitesPath string, l *slog.Logger) *Supervisor {
	if docker == "" {
		docker = "docker"
	}
	if l == nil {
		l = logger.Discard()
	}
	return &Supervisor{Exec: exec, Docker: docker, SitesPath: sitesPath, log: l}
}

func (s *Supervisor) SiteDir(name string) string {
	return filepath.Join(s.SitesPath, name)
}

func (s *Supervisor) HTMLDir(name string) string {
	return filepath.Join(s.SiteDir(name), HTMLDirName)
}

func (s *Supervisor) composePath(name string) string {
	return filepath.Join(s.SiteDir(name), ComposeFileName)
}

// WriteCompose lays out the site directory and writes its compose file.
func (s *Supervisor) WriteCompose(name string, data []byte) error {
	if err := os.MkdirAll(s.HTMLDir(name), 0755); err != nil {
		return fmt.Errorf("error creating site directory: %w", err)
	}
	return os.WriteFile(s.composePath(name), data, 0600)
}

// Exists reports whether a runtime was ever laid out for name.
func (s *Supervisor) Exists(name string) bool {
	_, err := os.Stat(s.composePath(name))
	return err == nil
}

func (s *Supervisor) compose(ctx context.Context, name string, args ...string) (string, error) {
	return s.composeInput(ctx, name, nil, args...)
}

func (s *Supervisor) composeInput(ctx context.Context, name string, stdin io.Reader, args ...string) (string, error) {
	full := append([]string{"compose", "-p", name, "-f", s.composePath(name)}, args...)
	out, err := s.Exec.Run(ctx, Command{Dir: s.SiteDir(name), Name: s.Docker, Args: full, Stdin: stdin})
	if err != nil {
		return out, fmt.Errorf("docker compose %s for %s: %w", args[0], name, err)
	}
	return out, nil
}

func (s *Supervisor) Up(ctx context.Context, name string) error {
	s.log.Info("starting runtime", "site", name)
	_, err := s.compose(ctx, name, "up", "-d", "--remove-orphans")
	return err
}

func (s *Supervisor) Stop(ctx context.Context, name string) error {
	_, err := s.compose(ctx, name, "stop")
	return err
}

// Restart restarts the containers only. It fails with NotRunning when the
// site has no runtime.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	if !s.Exists(name) {
		return domain.NotRunningf("site %q has no runtime", name)
	}
	s.log.Info("restarting runtime", "site", name)
	_, err := s.compose(ctx, name, "restart")
	return err
}

// Down removes containers and networks. A site without a compose file is
// already down.
func (s *Supervisor) Down(ctx context.Context, name string) error {
	if !s.Exists(name) {
		return nil
	}
	s.log.Info("removing runtime", "site", name)
	_, err := s.compose(ctx, name, "down", "--remove-orphans", "--volumes")
	return err
}

// RemoveFiles deletes the site directory.
func (s *Supervisor) RemoveFiles(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("refusing to remove site directory for %q", name)
	}
	return os.RemoveAll(s.SiteDir(name))
}

// RunningServices lists services whose containers are running.
func (s *Supervisor) RunningServices(ctx context.Context, name string) ([]string, error) {
	if !s.Exists(name) {
		return nil, nil
	}
	out, err := s.compose(ctx, name, "ps", "--status", "running", "--services")
	if err != nil {
		return nil, err
	}
	var services []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			services = append(services, line)
		}
	}
	return services, nil
}

// Running reports whether both the WordPress and wp-cli containers run.
func (s *Supervisor) Running(ctx context.Context, name string) (bool, error) {
	services, err := s.RunningServices(ctx, name)
	if err != nil {
		return false, err
	}
	var wp, cli bool
	for _, svc := range services {
		switch svc {
		case ServiceWordPress:
			wp = true
		case ServiceCLI:
			cli = true
		}
	}
	return wp && cli, nil
}

// WP runs wp-cli inside the site's cli container.
func (s *Supervisor) WP(ctx context.Context, name string, args ...string) (string, error) {
	full := append([]string{"exec", "-T", ServiceCLI, "wp"}, args...)
	return s.compose(ctx, name, full...)
}

// WPInput runs wp-cli with stdin attached, for values that must not appear
// on a command line.
func (s *Supervisor) WPInput(ctx context.Context, name string, stdin io.Reader, args ...string) (string, error) {
	full := append([]string{"exec", "-T", ServiceCLI, "wp"}, args...)
	return s.composeInput(ctx, name, stdin, full...)
}

// WaitReady polls until the containers run and wp-cli sees the WordPress
// files, or until timeout.
func (s *Supervisor) WaitReady(ctx context.Context, name string, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for attempt := 1; ; attempt++ {
		running, err := s.Running(ctx, name)
		switch {
		case err != nil:
			lastErr = err
		case !running:
			lastErr = errors.New("containers are not running")
		default:
			if _, err := s.WP(ctx, name, "core", "version"); err == nil {
				return nil
			} else {
				lastErr = err
			}
		}
		s.log.Debug("waiting for runtime", "site", name, "attempt", attempt, "error", lastErr)

		if time.Now().Add(interval).After(deadline) {
			return domain.Unavailable(fmt.Sprintf("site %q did not become ready within %s", name, timeout), lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Logs returns the last n lines of the site's container logs.
func (s *Supervisor) Logs(ctx context.Context, name string, n int) (string, error) {
	if !s.Exists(name) {
		return "", domain.NotRunningf("site %q has no runtime", name)
	}
	if n <= 0 {
		n = 200
	}
	return s.compose(ctx, name, "logs", "--no-color", "--tail", strconv.Itoa(n))
}
