package proxy

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"wpdock/internal/logger"
	"wpdock/internal/runner"
)

var hostPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

var vhostTemplate = template.Must(template.New("vhost").Parse(`# managed by wpdock, do not edit
server {
    listen 80;
    listen [::]:80;
    server_name {{.Host}};

    client_max_body_size 64m;

    location / {
        proxy_pass http://127.0.0.1:{{.Port}};
        proxy_http_version 1.1;
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
}
`))

// Router registers and removes the public route of a site.
type Router interface {
	Register(ctx context.Context, host string, port int) error
	Remove(ctx context.Context, host string) error
}

type NginxOptions struct {
	SitesAvailableDir string
	SitesEnabledDir   string
	Binary            string
	Reload            bool
}

type Nginx struct {
	exec runner.CommandRunner
	opts NginxOptions
	log  *slog.Logger
}

func NewNginx(exec runner.CommandRunner, opts NginxOptions, l *slog.Logger) *Nginx {
	if exec == nil {
		exec = runner.ExecRunner{}
	}
	if opts.SitesAvailableDir == "" {
		opts.SitesAvailableDir = "/etc/nginx/sites-available"
	}
	if opts.SitesEnabledDir == "" {
		opts.SitesEnabledDir = "/etc/nginx/sites-enabled"
	}
	if opts.Binary == "" {
		opts.Binary = "nginx"
	}
	if l == nil {
		l = logger.Discard()
	}
	return &Nginx{exec: exec, opts: opts, log: l}
}

func normalizeHost(host string) (string, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if !hostPattern.MatchString(host) {
		return "", fmt.Errorf("invalid host name %q", host)
	}
	return host, nil
}

func (n *Nginx) paths(host string) (string, string) {
	file := "wpdock-" + host + ".conf"
	return filepath.Join(n.opts.SitesAvailableDir, file), filepath.Join(n.opts.SitesEnabledDir, file)
}

// Register writes the vhost, checks the whole config and reloads. A config
// that fails the check is removed again.
func (n *Nginx) Register(ctx context.Context, host string, port int) error {
	host, err := normalizeHost(host)
	if err != nil {
		return err
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid upstream port %d", port)
	}

	var buf bytes.Buffer
	if err := vhostTemplate.Execute(&buf, map[string]any{"Host": host, "Port": port}); err != nil {
		return fmt.Errorf("render vhost: %w", err)
	}

	available, enabled := n.paths(host)
	if err := os.MkdirAll(n.opts.SitesAvailableDir, 0o755); err != nil {
		return fmt.Errorf("create sites-available dir: %w", err)
	}
	if err := os.MkdirAll(n.opts.SitesEnabledDir, 0o755); err != nil {
		return fmt.Errorf("create sites-enabled dir: %w", err)
	}
	if err := os.WriteFile(available, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write vhost config: %w", err)
	}
	if err := os.Remove(enabled); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove old vhost symlink: %w", err)
	}
	if err := os.Symlink(available, enabled); err != nil {
		return fmt.Errorf("create vhost symlink: %w", err)
	}

	if err := n.apply(ctx); err != nil {
		_ = os.Remove(enabled)
		_ = os.Remove(available)
		return err
	}
	n.log.Info("proxy route registered", "host", host, "port", port)
	return nil
}

// Remove deletes the vhost. A missing vhost is not an error.
func (n *Nginx) Remove(ctx context.Context, host string) error {
	host, err := normalizeHost(host)
	if err != nil {
		return err
	}
	available, enabled := n.paths(host)
	existed := false
	for _, p := range []string{enabled, available} {
		err := os.Remove(p)
		switch {
		case err == nil:
			existed = true
		case !os.IsNotExist(err):
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	if !existed {
		return nil
	}
	if err := n.apply(ctx); err != nil {
		return err
	}
	n.log.Info("proxy route removed", "host", host)
	return nil
}

func (n *Nginx) apply(ctx context.Context) error {
	if !n.opts.Reload {
		return nil
	}
	if _, err := n.exec.Run(ctx, runner.Command{Name: n.opts.Binary, Args: []string{"-t"}}); err != nil {
		return fmt.Errorf("nginx config test failed: %w", err)
	}
	if _, err := n.exec.Run(ctx, runner.Command{Name: n.opts.Binary, Args: []string{"-s", "reload"}}); err != nil {
		return fmt.Errorf("nginx reload failed: %w", err)
	}
	return nil
}

// Direct is used when sites are reached on their published port and no
// proxy route is needed.
type Direct struct{}

func (Direct) Register(context.Context, string, int) error { return nil }
func (Direct) Remove(context.Context, string) error         { return nil }
