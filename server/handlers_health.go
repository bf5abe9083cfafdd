package server

import (
	"net/http"

	"github.com/airbais/conductor/internal/version"
	"github.com/airbais/conductor/job"
)

// HandleHealth handles GET /health: liveness plus a snapshot of
// registered tools, job counts, and system resource usage.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	counts, err := s.executor.Queue().Store().CountByStatus()
	if err != nil {
		s.logger.Warnw("Failed to count jobs for health check", "error", err)
		counts = map[job.Status]int{}
	}

	response := map[string]interface{}{
		"status":  "ok",
		"version": version.Get(),
		"tools":   s.registry.Names(),
		"jobs": map[string]int{
			"queued":    counts[job.StatusQueued],
			"running":   counts[job.StatusRunning],
			"completed": counts[job.StatusCompleted],
			"failed":    counts[job.StatusFailed],
			"cancelled": counts[job.StatusCancelled],
		},
		"system": s.executor.GetSystemMetrics(),
	}

	writeJSON(w, http.StatusOK, response)
}
