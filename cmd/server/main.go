package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"wpdock/internal/activity"
	"wpdock/internal/api"
	"wpdock/internal/app"
	"wpdock/internal/backup"
	"wpdock/internal/config"
	"wpdock/internal/database"
	"wpdock/internal/jobs"
	"wpdock/internal/logger"
	"wpdock/internal/plugins"
	"wpdock/internal/proxy"
	"wpdock/internal/reconciler"
	"wpdock/internal/registry"
	"wpdock/internal/runner"
	"wpdock/internal/runner/strategy"
	"wpdock/internal/site"
	"wpdock/internal/storage"
	"wpdock/internal/ws"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	var configDir string

	rootCmd := &cobra.Command{
		Use:           "wpdockd",
		Short:         "WordPress site orchestration daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configDir == "" {
				dir, err := config.DefaultDir()
				if err != nil {
					return fmt.Errorf("error getting config directory: %w", err)
				}
				configDir = dir
			}
			return run(configDir)
		},
	}
	rootCmd.Flags().StringVar(&configDir, "config-dir", "", "directory holding config.json, the database and the secret")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	log := logger.New(config.Env())
	slog.SetDefault(log)

	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	log.Info("starting wpdock daemon",
		"config_dir", configDir,
		"database", cfg.DatabasePath,
		"sites", cfg.SitesPath,
		"backups", cfg.BackupsPath,
	)

	for _, path := range []string{cfg.SitesPath, cfg.BackupsPath} {
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("could not create directory %q: %w", path, err)
		}
	}

	secret := config.LoadOrGenerateSecret(configDir)

	store, err := storage.NewGormStore(cfg.DatabasePath, storage.Options{
		Sealer:         storage.NewSealer(secret),
		Logger:         log,
		PortRangeStart: cfg.PortRangeStart,
		PortRangeEnd:   cfg.PortRangeEnd,
		ActivityKeep:   cfg.ActivityLimit,
		JobKeep:        cfg.JobHistory,
	})
	if err != nil {
		return fmt.Errorf("could not open database: %w", err)
	}

	hubManager := ws.NewHubManager(50, log.With("component", "ws"))
	defer hubManager.StopAll()

	activityLog := activity.NewLog(store, hubManager, ws.EventsTopic, cfg.ActivityLimit, log.With("component", "activity"))
	reg, err := registry.New(store, activityLog)
	if err != nil {
		return fmt.Errorf("could not load site registry: %w", err)
	}

	locks := jobs.NewLocks()
	jobRunner := jobs.NewRunner(locks, jobs.Options{
		Workers:     cfg.JobWorkers,
		QueueSize:   cfg.JobQueueSize,
		ToggleWait:  cfg.Duration(cfg.ToggleWait),
		Repo:        store,
		Sites:       reg,
		Activity:    activityLog,
		Publisher:   hubManager,
		EventsTopic: ws.EventsTopic,
		SiteTopic:   ws.SiteTopic,
		Logger:      log.With("component", "jobs"),
	})
	if err := jobRunner.Recover(); err != nil {
		log.Warn("failed to recover unfinished jobs", "error", err)
	}

	exec := runner.ExecRunner{}
	supervisor := runner.NewSupervisor(exec, cfg.DockerBinary, cfg.SitesPath, log.With("component", "runtime"))

	dbs, err := database.Open(cfg.MySQLAdminDSN, database.Options{
		DumpBinary:  cfg.MySQLDumpBinary,
		MySQLBinary: cfg.MySQLBinary,
		Exec:        exec,
		Logger:      log.With("component", "database"),
	})
	if err != nil {
		return err
	}
	defer dbs.Close()

	var router proxy.Router = proxy.Direct{}
	if cfg.BaseDomain != "" {
		router = proxy.NewNginx(exec, proxy.NginxOptions{
			SitesAvailableDir: cfg.NginxSitesAvailable,
			SitesEnabledDir:   cfg.NginxSitesEnabled,
			Reload:            cfg.NginxReload,
		}, log.With("component", "proxy"))
	}

	backupOpts := backup.Options{Keep: cfg.BackupKeep}
	if os.Geteuid() == 0 {
		// www-data inside the official WordPress image.
		backupOpts.UID, backupOpts.GID = 33, 33
	}
	backups := backup.NewManager(cfg.BackupsPath, backup.Deps{
		Sites:    reg,
		Runtime:  supervisor,
		DBs:      dbs,
		Jobs:     jobRunner,
		Locks:    locks,
		Activity: activityLog,
		Logger:   log.With("component", "backup"),
	}, backupOpts)

	sites := site.NewManager(site.Deps{
		Registry: reg,
		Ports:    store,
		Runtime:  supervisor,
		DBs:      dbs,
		Router:   router,
		Jobs:     jobRunner,
		Backups:  backups,
		Activity: activityLog,
		Hubs:     hubManager,
		Logger:   log.With("component", "provisioner"),
	}, site.Options{
		BaseDomain: cfg.BaseDomain,
		Compose: strategy.Options{
			WordPressImage: cfg.WordPressImage,
			CLIImage:       cfg.WPCLIImage,
			DBHost:         cfg.ContainerDBHost,
		},
		HealthTimeout: cfg.Duration(cfg.HealthTimeout),
		SiteURL:       cfg.SiteURL,
	})

	rec := reconciler.New(reg, supervisor, locks, reconciler.Options{
		Interval:     cfg.Duration(cfg.ReconcileInterval),
		ProbeTimeout: cfg.Duration(cfg.ProbeTimeout),
		Publisher:    hubManager,
		EventsTopic:  ws.EventsTopic,
		Logger:       log.With("component", "reconciler"),
	})

	container := &app.Container{
		Config:     cfg,
		Store:      store,
		Registry:   reg,
		Activity:   activityLog,
		HubManager: hubManager,
		Jobs:       jobRunner,
		Supervisor: supervisor,
		Sites:      sites,
		Files:      site.NewFiles(reg, supervisor.HTMLDir),
		Plugins:    plugins.NewManager(supervisor, reg, locks, activityLog, log.With("component", "plugins")),
		Backups:    backups,
		Reconciler: rec,
	}

	if err := api.EnsureAdmin(store, cfg.AdminUsername, cfg.AdminPassword, log); err != nil {
		return fmt.Errorf("could not seed operator account: %w", err)
	}
	apiServer := api.NewAPIServer(container, secret, log.With("component", "api"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return apiServer.Run(ctx, fmt.Sprintf(":%d", cfg.Port))
	})
	g.Go(func() error {
		return jobRunner.Run(ctx)
	})
	g.Go(func() error {
		return rec.Run(ctx)
	})

	err = g.Wait()
	log.Info("wpdock daemon stopped")
	return err
}
