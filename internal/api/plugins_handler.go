package api

import (
	"context"
	"fmt"
	"net/http"
)

func (api *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	list, err := api.Plugins.List(r.Context(), r.PathValue("name"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (api *Server) pluginAction(w http.ResponseWriter, r *http.Request, verb string, fn func(ctx context.Context, name, slug string) error) {
	name, slug := r.PathValue("name"), r.PathValue("plugin")
	if err := fn(r.Context(), name, slug); err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Plugin '%s' %s on site '%s'", slug, verb, name),
	})
}

func (api *Server) handleActivatePlugin(w http.ResponseWriter, r *http.Request) {
	api.pluginAction(w, r, "activated", api.Plugins.Activate)
}

func (api *Server) handleDeactivatePlugin(w http.ResponseWriter, r *http.Request) {
	api.pluginAction(w, r, "deactivated", api.Plugins.Deactivate)
}

func (api *Server) handleInstallPlugin(w http.ResponseWriter, r *http.Request) {
	api.pluginAction(w, r, "installed", api.Plugins.Install)
}

func (api *Server) handleUninstallPlugin(w http.ResponseWriter, r *http.Request) {
	api.pluginAction(w, r, "uninstalled", api.Plugins.Uninstall)
}
