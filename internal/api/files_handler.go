package api

import (
	"fmt"
	"io"
	"net/http"
	"path"
)

func (api *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		p = "/"
	}

	files, err := api.Files.List(r.PathValue("name"), p)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (api *Server) handleGetFileContent(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		badRequest(w, "missing path")
		return
	}

	content, err := api.Files.Read(r.PathValue("name"), p)
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(content)
}

func (api *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		badRequest(w, "missing path")
		return
	}

	rc, err := api.Files.Open(r.PathValue("name"), p)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(p)))
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, rc)
}
