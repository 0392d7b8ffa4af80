package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"wpdock/internal/site"
)

// PlaintextCredentialsHeader marks responses that carry site credentials
// in clear text.
const PlaintextCredentialsHeader = "X-Wpdock-Plaintext-Credentials"

func parseCreateRequest(r *http.Request) (site.CreateRequest, error) {
	var req site.CreateRequest
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid JSON")
		}
		return req, nil
	case strings.HasPrefix(ct, "multipart/form-data"):
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return req, fmt.Errorf("failed to parse form")
		}
	default:
		if err := r.ParseForm(); err != nil {
			return req, fmt.Errorf("failed to parse form")
		}
	}

	req = site.CreateRequest{
		ProjectName:   r.FormValue("projectName"),
		Subdomain:     r.FormValue("subdomain"),
		Platform:      r.FormValue("platform"),
		AdminUsername: r.FormValue("adminUsername"),
		AdminPassword: r.FormValue("adminPassword"),
		AdminEmail:    r.FormValue("adminEmail"),
	}
	req.Plugins = append(req.Plugins, r.Form["selectedPlugins"]...)
	req.Plugins = append(req.Plugins, r.Form["selectedPlugins[]"]...)
	return req, nil
}

func (api *Server) handleCreateSite(w http.ResponseWriter, r *http.Request) {
	req, err := parseCreateRequest(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	created, job, err := api.Sites.CreateSite(req)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	accepted(w, fmt.Sprintf("Site '%s' is being created", created.ProjectName), job, map[string]any{
		"siteURL": created.SiteURL,
	})
}

func (api *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(PlaintextCredentialsHeader, "1")
	writeJSON(w, http.StatusOK, api.Registry.List())
}

func (api *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	s, err := api.Registry.Get(r.PathValue("name"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	w.Header().Set(PlaintextCredentialsHeader, "1")
	writeJSON(w, http.StatusOK, s)
}

func (api *Server) handleDeleteSite(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	job, err := api.Sites.DeleteSite(name)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	accepted(w, fmt.Sprintf("Site '%s' is being deleted", name), job, nil)
}

func (api *Server) handleRestartSite(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	job, err := api.Sites.RestartSite(name)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	accepted(w, fmt.Sprintf("Site '%s' is restarting", name), job, nil)
}

func (api *Server) handleSiteLogs(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := api.Registry.Get(name); err != nil {
		api.writeError(w, r, err)
		return
	}
	out, err := api.Logs.Logs(r.Context(), name, intQuery(r, "lines", 200))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(out))
}
