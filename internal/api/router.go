package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"wpdock/internal/activity"
	"wpdock/internal/app"
	"wpdock/internal/backup"
	"wpdock/internal/domain"
	"wpdock/internal/jobs"
	"wpdock/internal/logger"
	"wpdock/internal/plugins"
	"wpdock/internal/reconciler"
	"wpdock/internal/registry"
	"wpdock/internal/site"
	"wpdock/internal/storage"
	"wpdock/internal/ws"
)

// LogSource returns recent container output for a site.
type LogSource interface {
	Logs(ctx context.Context, name string, lines int) (string, error)
}

type Server struct {
	Registry   *registry.Registry
	Sites      *site.Manager
	Files      *site.Files
	Plugins    *plugins.Manager
	Backups    *backup.Manager
	Jobs       *jobs.Runner
	Activity   *activity.Log
	Reconciler *reconciler.Reconciler
	Store      *storage.GormStore
	HubManager *ws.HubManager
	Logs       LogSource

	secret  []byte
	log     *slog.Logger
	revoked sync.Map // jti -> expiry
	now     func() time.Time
}

func NewAPIServer(container *app.Container, secret string, l *slog.Logger) *Server {
	if l == nil {
		l = logger.Discard()
	}
	s := &Server{
		Registry:   container.Registry,
		Sites:      container.Sites,
		Files:      container.Files,
		Plugins:    container.Plugins,
		Backups:    container.Backups,
		Jobs:       container.Jobs,
		Activity:   container.Activity,
		Reconciler: container.Reconciler,
		Store:      container.Store,
		HubManager: container.HubManager,
		secret:     []byte(secret),
		log:        l,
		now:        time.Now,
	}
	if container.Supervisor != nil {
		s.Logs = container.Supervisor
	}
	return s
}

// Handler builds the routed, authenticated handler tree.
func (api *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	protect := func(h http.HandlerFunc) http.Handler { return api.AuthMiddleware(h) }

	mux.HandleFunc("POST /api/login", api.handleLogin)
	mux.Handle("POST /api/logout", protect(api.handleLogout))

	mux.Handle("GET /api/sites", protect(api.handleListSites))
	mux.Handle("POST /api/sites", protect(api.handleCreateSite))
	mux.Handle("GET /api/sites/{name}", protect(api.handleGetSite))
	mux.Handle("DELETE /api/sites/{name}", protect(api.handleDeleteSite))
	mux.Handle("POST /api/sites/{name}/restart", protect(api.handleRestartSite))
	mux.Handle("GET /api/sites/{name}/logs", protect(api.handleSiteLogs))
	mux.Handle("GET /api/sites/{name}/jobs", protect(api.handleListSiteJobs))

	mux.Handle("GET /api/sites/{name}/files", protect(api.handleListFiles))
	mux.Handle("GET /api/sites/{name}/files/content", protect(api.handleGetFileContent))
	mux.Handle("GET /api/sites/{name}/files/download", protect(api.handleDownloadFile))

	mux.Handle("GET /api/sites/{name}/plugins", protect(api.handleListPlugins))
	mux.Handle("POST /api/sites/{name}/plugins/{plugin}/activate", protect(api.handleActivatePlugin))
	mux.Handle("POST /api/sites/{name}/plugins/{plugin}/deactivate", protect(api.handleDeactivatePlugin))
	mux.Handle("POST /api/sites/{name}/plugins/{plugin}", protect(api.handleInstallPlugin))
	mux.Handle("DELETE /api/sites/{name}/plugins/{plugin}", protect(api.handleUninstallPlugin))

	mux.Handle("GET /api/sites/{name}/backups", protect(api.handleListBackups))
	mux.Handle("POST /api/sites/{name}/backups", protect(api.handleCreateBackup))
	mux.Handle("POST /api/sites/{name}/backups/restore", protect(api.handleRestoreBackup))
	mux.Handle("DELETE /api/sites/{name}/backups/{file}", protect(api.handleDeleteBackup))

	mux.Handle("GET /api/jobs/{id}", protect(api.handleGetJob))
	mux.Handle("POST /api/jobs/{id}/cancel", protect(api.handleCancelJob))

	mux.Handle("GET /api/activities", protect(api.handleListActivities))
	mux.Handle("GET /api/vps/stats", protect(api.handleVPSStats))

	mux.Handle("GET /api/settings/port-range", protect(api.handleGetPortRange))
	mux.Handle("PUT /api/settings/port-range", protect(api.handleSetPortRange))

	mux.Handle("GET /api/ws/events", protect(api.handleEvents))
	mux.Handle("GET /api/ws/sites/{name}", protect(api.handleSiteEvents))

	return api.loggingMiddleware(api.corsMiddleware(mux))
}

// Run serves on listenAddr until ctx is cancelled.
func (api *Server) Run(ctx context.Context, listenAddr string) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		api.log.Info("api listening", "addr", listenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindConflict:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindBusy:
		return http.StatusConflict
	case domain.KindNotRunning, domain.KindRuntimeUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (api *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		api.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func accepted(w http.ResponseWriter, msg string, job domain.Job, extra map[string]any) {
	body := map[string]any{"message": msg, "jobId": job.ID}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusAccepted, body)
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (api *Server) handleListSiteJobs(w http.ResponseWriter, r *http.Request) {
	list, err := api.Jobs.ListBySite(r.PathValue("name"), intQuery(r, "limit", 50))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (api *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := api.Jobs.Get(r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (api *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := api.Jobs.Cancel(id); err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": fmt.Sprintf("Cancellation of job %s requested", id)})
}

func (api *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	entries, err := api.Activity.List(intQuery(r, "limit", 0))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (api *Server) handleVPSStats(w http.ResponseWriter, r *http.Request) {
	stats := api.Reconciler.Stats()
	if stats.SampledAt.IsZero() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "host stats not sampled yet"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"cpu_usage": strconv.FormatFloat(stats.CPUUsage, 'f', 1, 64),
		"ram_usage": strconv.FormatFloat(stats.RAMUsage, 'f', 1, 64),
	})
}

func (api *Server) handleGetPortRange(w http.ResponseWriter, r *http.Request) {
	start, end, err := api.Store.GetPortRange()
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"start": start, "end": end})
}

func (api *Server) handleSetPortRange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Start int `json:"start"`
		End   int `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}

	if err := api.Store.SetPortRange(req.Start, req.End); err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (api *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	api.HubManager.GetHub(ws.EventsTopic).ServeWs(w, r)
}

func (api *Server) handleSiteEvents(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := api.Registry.Get(name); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.HubManager.GetHub(ws.SiteTopic(name)).ServeWs(w, r)
}
