// Package database manages per-site MariaDB/MySQL databases and accounts
// on the host server.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"time"

	"wpdock/internal/domain"
	"wpdock/internal/logger"
	"wpdock/internal/runner"

	"github.com/go-sql-driver/mysql"
)

var identPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{1,64}$`)

func checkIdent(kind, v string) error {
	if !identPattern.MatchString(v) {
		return fmt.Errorf("invalid %s name %q", kind, v)
	}
	return nil
}

type Admin struct {
	db       *sql.DB
	cfg      *mysql.Config
	exec     runner.CommandRunner
	dumpBin  string
	mysqlBin string
	log      *slog.Logger
}

type Options struct {
	DumpBinary  string
	MySQLBinary string
	Exec        runner.CommandRunner
	Logger      *slog.Logger
}

// Open parses the admin DSN and prepares a connection pool. The server is
// not contacted until first use.
func Open(dsn string, opts Options) (*Admin, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.InterpolateParams = true
	cfg.DBName = ""
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(time.Minute)

	if opts.DumpBinary == "" {
		opts.DumpBinary = "mysqldump"
	}
	if opts.MySQLBinary == "" {
		opts.MySQLBinary = "mysql"
	}
	if opts.Exec == nil {
		opts.Exec = runner.ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}

	return &Admin{
		db:       db,
		cfg:      cfg,
		exec:     opts.Exec,
		dumpBin:  opts.DumpBinary,
		mysqlBin: opts.MySQLBinary,
		log:      opts.Logger,
	}, nil
}

func (a *Admin) Close() error {
	return a.db.Close()
}

func (a *Admin) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return domain.Unavailable("database server unreachable", err)
	}
	return nil
}

// CreateDatabase creates the schema and an account limited to it. Both
// statements are idempotent.
func (a *Admin) CreateDatabase(ctx context.Context, name, user, password string) error {
	if err := checkIdent("database", name); err != nil {
		return err
	}
	if err := checkIdent("user", user); err != nil {
		return err
	}
	if err := a.Ping(ctx); err != nil {
		return err
	}

	stmts := []struct {
		query string
		args  []any
	}{
		{fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", name), nil},
		{"CREATE USER IF NOT EXISTS ?@'%' IDENTIFIED BY ?", []any{user, password}},
		{fmt.Sprintf("GRANT ALL PRIVILEGES ON `%s`.* TO ?@'%%'", name), []any{user}},
	}
	for _, st := range stmts {
		if _, err := a.db.ExecContext(ctx, st.query, st.args...); err != nil {
			return fmt.Errorf("error provisioning database %s: %w", name, err)
		}
	}
	a.log.Info("database created", "database", name, "user", user)
	return nil
}

// DropDatabase removes the schema and the account. Missing objects are
// not an error.
func (a *Admin) DropDatabase(ctx context.Context, name, user string) error {
	if err := checkIdent("database", name); err != nil {
		return err
	}
	if _, err := a.db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", name)); err != nil {
		return fmt.Errorf("error dropping database %s: %w", name, err)
	}
	if user != "" {
		if err := checkIdent("user", user); err != nil {
			return err
		}
		if _, err := a.db.ExecContext(ctx, "DROP USER IF EXISTS ?@'%'", user); err != nil {
			return fmt.Errorf("error dropping user %s: %w", user, err)
		}
	}
	a.log.Info("database dropped", "database", name)
	return nil
}

func (a *Admin) clientArgs() ([]string, []string) {
	host, port, err := net.SplitHostPort(a.cfg.Addr)
	if err != nil {
		host, port = a.cfg.Addr, "3306"
	}
	args := []string{"--host=" + host, "--port=" + port, "--user=" + a.cfg.User}
	var env []string
	if a.cfg.Passwd != "" {
		env = append(env, "MYSQL_PWD="+a.cfg.Passwd)
	}
	return args, env
}

// Dump streams a logical dump of name to w.
func (a *Admin) Dump(ctx context.Context, name string, w io.Writer) error {
	if err := checkIdent("database", name); err != nil {
		return err
	}
	args, env := a.clientArgs()
	args = append(args, "--single-transaction", "--routines", "--triggers", "--no-tablespaces", name)
	_, err := a.exec.Run(ctx, runner.Command{Name: a.dumpBin, Args: args, Env: env, Stdout: w})
	if err != nil {
		return fmt.Errorf("error dumping %s: %w", name, err)
	}
	return nil
}

// Import replays a dump read from r into name.
func (a *Admin) Import(ctx context.Context, name string, r io.Reader) error {
	if err := checkIdent("database", name); err != nil {
		return err
	}
	args, env := a.clientArgs()
	args = append(args, name)
	_, err := a.exec.Run(ctx, runner.Command{Name: a.mysqlBin, Args: args, Env: env, Stdin: r})
	if err != nil {
		return fmt.Errorf("error importing into %s: %w", name, err)
	}
	return nil
}
