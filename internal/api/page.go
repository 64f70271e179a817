package api

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkgate/internal/logging"
)

//go:embed templates/page.html.tmpl
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/page.html.tmpl"))

type pageBoot struct {
	Page      string `json:"page"`
	BeaconURL string `json:"beaconURL"`
}

type pageData struct {
	Title string
	Page  string
	Boot  pageBoot
}

// page serves the stub for protected paths. The stub only hosts the beacon
// script; page rendering lives elsewhere.
func (s *Server) page(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Gatekeeper.IsProtected(r.URL.Path) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	slug := strings.Trim(r.URL.Path, "/")
	if i := strings.IndexByte(slug, '/'); i >= 0 {
		slug = slug[:i]
	}
	data := pageData{
		Title: slug,
		Page:  slug,
		Boot:  pageBoot{Page: slug, BeaconURL: "/api/visit-beacon"},
	}
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		logging.FromContext(r.Context(), s.logger).Error("render page stub failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logging.FromContext(r.Context(), s.logger).Debug("write page stub failed", zap.Error(err))
	}
}
