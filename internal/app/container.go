package app

import (
	"wpdock/internal/activity"
	"wpdock/internal/backup"
	"wpdock/internal/config"
	"wpdock/internal/jobs"
	"wpdock/internal/plugins"
	"wpdock/internal/reconciler"
	"wpdock/internal/registry"
	"wpdock/internal/runner"
	"wpdock/internal/site"
	"wpdock/internal/storage"
	"wpdock/internal/ws"
)

type Container struct {
	Config     *config.Config
	Store      *storage.GormStore
	Registry   *registry.Registry
	Activity   *activity.Log
	HubManager *ws.HubManager
	Jobs       *jobs.Runner
	Supervisor *runner.Supervisor
	Sites      *site.Manager
	Files      *site.Files
	Plugins    *plugins.Manager
	Backups    *backup.Manager
	Reconciler *reconciler.Reconciler
}
