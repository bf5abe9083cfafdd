package server

import (
	"encoding/json"
	"net/http"

	"github.com/airbais/conductor/job"
)

// submitRequest is the POST /api/jobs body.
type submitRequest struct {
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters"`
}

// submitResponse acknowledges an accepted job.
type submitResponse struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

// HandleJobs handles /api/jobs.
// GET:  list jobs, newest first (?status=&tool=&limit=)
// POST: submit a job ({tool, parameters})
func (s *Server) HandleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListJobs(w, r)
	case http.MethodPost:
		s.handleSubmitJob(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleJob handles /api/jobs/{id} and its sub-resources.
// GET  /api/jobs/{id}          job snapshot
// GET  /api/jobs/{id}/results  result payload once completed
// POST /api/jobs/{id}/cancel   cancel, idempotent on terminal jobs
func (s *Server) HandleJob(w http.ResponseWriter, r *http.Request) {
	pathParts := extractPathParts(r.URL.Path, "/api/jobs/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID")
		return
	}
	jobID := pathParts[0]

	if len(pathParts) > 1 && pathParts[1] == "results" {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		s.handleJobResults(w, r, jobID)
		return
	}

	if len(pathParts) > 1 && pathParts[1] == "cancel" {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		s.handleCancelJob(w, r, jobID)
		return
	}

	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	j, err := s.executor.Queue().Get(jobID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get job")
		return
	}

	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "Missing tool name")
		return
	}

	s.submit(w, r, req.Tool, req.Parameters)
}

// handleSubmitForTool serves POST /api/tools/{name}/run, where the
// request body is the parameters object itself.
func (s *Server) handleSubmitForTool(w http.ResponseWriter, r *http.Request, toolName string) {
	parameters := json.RawMessage("{}")
	if r.Body != nil && r.ContentLength != 0 {
		var params json.RawMessage
		if err := readJSON(w, r, &params); err != nil {
			return
		}
		parameters = params
	}

	s.submit(w, r, toolName, parameters)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, toolName string, parameters json.RawMessage) {
	j, err := s.executor.Submit(toolName, parameters)
	if err != nil {
		handleError(w, s.logger, err, "failed to submit job")
		return
	}

	s.logger.Infow("Job accepted",
		"job_id", j.ID,
		"tool", toolName,
		"remote", r.RemoteAddr)

	writeJSON(w, http.StatusAccepted, submitResponse{JobID: j.ID, Status: j.Status})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := job.Filter{
		Tool:  r.URL.Query().Get("tool"),
		Limit: parseIntQueryParam(r, "limit", job.DefaultListLimit, 1, job.MaxListLimit),
	}

	if status := r.URL.Query().Get("status"); status != "" {
		if !job.IsValidStatus(status) {
			writeError(w, http.StatusBadRequest, "Invalid status filter: "+status)
			return
		}
		filter.Status = job.Status(status)
	}

	jobs, err := s.executor.Queue().List(filter)
	if err != nil {
		handleError(w, s.logger, err, "failed to list jobs")
		return
	}

	summaries := make([]job.Summary, 0, len(jobs))
	for _, j := range jobs {
		summaries = append(summaries, j.Summarize())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  summaries,
		"count": len(summaries),
	})
}

// handleJobResults returns the result payload for a completed job. A
// job that has not finished yet answers 409 so pollers can tell "try
// again later" from "gone wrong"; failed and cancelled jobs answer 410
// with the stored error and code.
func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request, jobID string) {
	j, err := s.executor.Queue().Get(jobID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get job for results")
		return
	}

	switch j.Status {
	case job.StatusCompleted:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if len(j.Result) > 0 {
			w.Write(j.Result)
		} else {
			w.Write([]byte("{}"))
		}
	case job.StatusFailed, job.StatusCancelled:
		writeJSON(w, http.StatusGone, map[string]interface{}{
			"status":     j.Status,
			"error":      j.Error,
			"error_code": j.ErrorCode,
		})
	default:
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"status": j.Status,
			"error":  "job has not finished",
		})
	}
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	j, err := s.executor.Cancel(jobID)
	if err != nil {
		handleError(w, s.logger, err, "failed to cancel job")
		return
	}

	s.logger.Infow("Job cancel requested", "job_id", shortID(jobID), "status", j.Status)
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: j.ID, Status: j.Status})
}
