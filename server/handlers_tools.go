package server

import (
	"net/http"
)

// HandleTools handles GET /api/tools: registered tool metadata in
// registration order.
func (s *Server) HandleTools(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": s.registry.List(),
		"count": len(s.registry.Names()),
	})
}

// HandleTool handles /api/tools/{name} and /api/tools/{name}/run.
// GET  /api/tools/{name}      tool contract (parameters, result envelope)
// POST /api/tools/{name}/run  submit a job, tool taken from the path
func (s *Server) HandleTool(w http.ResponseWriter, r *http.Request) {
	pathParts := extractPathParts(r.URL.Path, "/api/tools/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing tool name")
		return
	}
	name := pathParts[0]

	if len(pathParts) > 1 && pathParts[1] == "run" {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		s.handleSubmitForTool(w, r, name)
		return
	}

	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	info, err := s.registry.Describe(name)
	if err != nil {
		handleError(w, s.logger, err, "failed to describe tool")
		return
	}

	writeJSON(w, http.StatusOK, info)
}
