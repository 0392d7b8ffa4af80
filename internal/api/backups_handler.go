package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

func (api *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	names, err := api.Backups.Names(r.PathValue("name"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (api *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	job, err := api.Backups.Create(name)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	accepted(w, fmt.Sprintf("Backup of site '%s' started", name), job, nil)
}

func (api *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req struct {
		BackupFile string `json:"backupFile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if req.BackupFile == "" {
		badRequest(w, "backupFile is required")
		return
	}

	job, err := api.Backups.Restore(name, req.BackupFile)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	accepted(w, fmt.Sprintf("Restore of site '%s' from '%s' started", name, req.BackupFile), job, nil)
}

func (api *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	if err := api.Backups.Delete(r.PathValue("name"), r.PathValue("file")); err != nil {
		api.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
