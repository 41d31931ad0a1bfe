package handlers

import (
	"net/http"
	"runtime"
)

// VersionHandler reports build information
type VersionHandler struct {
	version string
	commit  string
}

// NewVersionHandler creates a version handler. Empty values read "dev" and "unknown".
func NewVersionHandler(version, commit string) *VersionHandler {
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	return &VersionHandler{version: version, commit: commit}
}

// VersionInfo is the body of /version
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

// Version handles /version
func (h *VersionHandler) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, VersionInfo{
		Version:   h.version,
		Commit:    h.commit,
		GoVersion: runtime.Version(),
	})
}
