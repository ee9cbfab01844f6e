package handlers

import (
	"net/http"
	"time"
)

// Build metadata, overridden at link time via
// -ldflags "-X .../internal/handlers.buildVersion=... -X .../internal/handlers.buildCommit=...".
var (
	buildVersion = "dev"
	buildCommit  = "none"
)

var startTime = time.Now().UTC()

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Uptime  string `json:"uptime"`
}

func (h *Handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: buildVersion,
		Commit:  buildCommit,
		Uptime:  time.Since(startTime).Round(time.Second).String(),
	})
}

// handleReadyz reports readiness. The service holds no connections to warm
// up, so readiness reduces to the process being able to serve.
func (h *Handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ready",
		Version: buildVersion,
		Commit:  buildCommit,
		Uptime:  time.Since(startTime).Round(time.Second).String(),
	})
}
