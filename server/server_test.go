package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/airbais/conductor/config"
	"github.com/airbais/conductor/errors"
	conductortest "github.com/airbais/conductor/internal/testing"
	"github.com/airbais/conductor/job"
	"github.com/airbais/conductor/tool"
)

// stubTool is a minimal registry entry for handler tests. It is never
// executed: the executor is not started, so jobs stay queued unless a
// test transitions them directly.
type stubTool struct {
	name     string
	required []string
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub analysis tool" }
func (s *stubTool) Parameters() tool.ParameterSpec {
	return tool.ParameterSpec{Required: s.required}
}
func (s *stubTool) Validate(params tool.Params) error {
	return tool.ValidateRequired(s.Parameters(), params)
}
func (s *stubTool) Execute(ctx context.Context, params tool.Params) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func newTestServer(t *testing.T) (*Server, *http.ServeMux) {
	t.Helper()

	database := conductortest.CreateTestDB(t)
	registry := tool.NewRegistry()
	registry.Register(&stubTool{name: "analyzer", required: []string{"url"}})

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			AllowedOrigins: []string{"http://localhost"},
		},
		Executor: config.ExecutorConfig{
			Workers:             1,
			PollIntervalSeconds: 1,
			JobTimeoutSeconds:   5,
		},
	}

	srv := New(database, cfg, registry, zaptest.NewLogger(t).Sugar())
	mux := http.NewServeMux()
	srv.routes(mux)
	return srv, mux
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body
}

func submitJob(t *testing.T, mux *http.ServeMux) string {
	t.Helper()

	rec := doRequest(t, mux, http.MethodPost, "/api/jobs",
		`{"tool": "analyzer", "parameters": {"url": "https://example.com"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	id, _ := body["job_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestSubmitJob(t *testing.T) {
	_, mux := newTestServer(t)

	t.Run("accepted", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/jobs",
			`{"tool": "analyzer", "parameters": {"url": "https://example.com"}}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		body := decodeBody(t, rec)
		assert.NotEmpty(t, body["job_id"])
		assert.Equal(t, "queued", body["status"])
	})

	t.Run("unknown tool", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/jobs",
			`{"tool": "nonexistent", "parameters": {}}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing required parameter", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/jobs",
			`{"tool": "analyzer", "parameters": {}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		body := decodeBody(t, rec)
		assert.Contains(t, body["error"], "url")
	})

	t.Run("missing tool name", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/jobs", `{"parameters": {}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/jobs", `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("parameters not an object", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/jobs",
			`{"tool": "analyzer", "parameters": [1, 2]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSubmitForTool(t *testing.T) {
	_, mux := newTestServer(t)

	t.Run("body is the parameters object", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/tools/analyzer/run",
			`{"url": "https://example.com"}`)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		body := decodeBody(t, rec)
		assert.Equal(t, "queued", body["status"])
	})

	t.Run("empty body means empty parameters", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/tools/analyzer/run", "")
		// analyzer requires url, so an empty payload is rejected
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown tool", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/tools/nope/run", `{}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestJobSnapshot(t *testing.T) {
	srv, mux := newTestServer(t)
	id := submitJob(t, mux)

	t.Run("known job", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/jobs/"+id, "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, id, body["job_id"])
		assert.Equal(t, "analyzer", body["tool"])
		assert.Equal(t, "queued", body["status"])
		assert.NotEmpty(t, body["submitted_at"])
	})

	t.Run("unknown job", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/jobs/no-such-id", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing id", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/jobs/", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	_ = srv
}

func TestJobResults(t *testing.T) {
	srv, mux := newTestServer(t)
	store := srv.executor.Queue().Store()

	t.Run("not finished answers conflict", func(t *testing.T) {
		id := submitJob(t, mux)

		rec := doRequest(t, mux, http.MethodGet, "/api/jobs/"+id+"/results", "")
		require.Equal(t, http.StatusConflict, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, "queued", body["status"])
	})

	t.Run("completed returns the raw payload", func(t *testing.T) {
		id := submitJob(t, mux)
		_, err := store.Transition(id, job.StatusQueued, job.StatusRunning, job.Fields{})
		require.NoError(t, err)
		_, err = store.Transition(id, job.StatusRunning, job.StatusCompleted, job.Fields{
			Result: json.RawMessage(`{"pages": 12}`),
		})
		require.NoError(t, err)

		rec := doRequest(t, mux, http.MethodGet, "/api/jobs/"+id+"/results", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"pages": 12}`, rec.Body.String())
	})

	t.Run("failed answers gone with the stored error", func(t *testing.T) {
		id := submitJob(t, mux)
		_, err := store.Transition(id, job.StatusQueued, job.StatusFailed, job.Fields{
			Error:     "connection refused",
			ErrorCode: job.ErrorCodeNetworkError,
		})
		require.NoError(t, err)

		rec := doRequest(t, mux, http.MethodGet, "/api/jobs/"+id+"/results", "")
		require.Equal(t, http.StatusGone, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, "failed", body["status"])
		assert.Equal(t, "connection refused", body["error"])
		assert.Equal(t, "network_error", body["error_code"])
	})

	t.Run("unknown job", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/jobs/no-such-id/results", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListJobs(t *testing.T) {
	srv, mux := newTestServer(t)
	store := srv.executor.Queue().Store()

	ids := make([]string, 3)
	for i := range ids {
		ids[i] = submitJob(t, mux)
	}
	_, err := store.Transition(ids[0], job.StatusQueued, job.StatusRunning, job.Fields{})
	require.NoError(t, err)

	t.Run("all jobs", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/jobs", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.EqualValues(t, 3, body["count"])
	})

	t.Run("status filter", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/jobs?status=running", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.EqualValues(t, 1, body["count"])
	})

	t.Run("invalid status filter", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/jobs?status=paused", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("limit", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/jobs?limit=2", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.EqualValues(t, 2, body["count"])
	})

	t.Run("summaries omit the result payload", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/jobs?limit=1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		jobs, ok := body["jobs"].([]interface{})
		require.True(t, ok)
		require.Len(t, jobs, 1)
		entry := jobs[0].(map[string]interface{})
		assert.NotContains(t, entry, "result")
		assert.NotContains(t, entry, "parameters")
	})
}

func TestCancelJob(t *testing.T) {
	_, mux := newTestServer(t)
	id := submitJob(t, mux)

	rec := doRequest(t, mux, http.MethodPost, "/api/jobs/"+id+"/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "cancelled", body["status"])

	// Cancelling a terminal job is a no-op that reports the final state
	rec = doRequest(t, mux, http.MethodPost, "/api/jobs/"+id+"/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "cancelled", body["status"])

	t.Run("unknown job", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/jobs/no-such-id/cancel", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/jobs/"+id+"/cancel", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestToolListing(t *testing.T) {
	_, mux := newTestServer(t)

	t.Run("list", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/tools", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.EqualValues(t, 1, body["count"])
	})

	t.Run("describe", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/tools/analyzer", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, "analyzer", body["name"])

		params, ok := body["parameters"].(map[string]interface{})
		require.True(t, ok)
		assert.Contains(t, params["required"], "url")
	})

	t.Run("unknown tool", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/tools/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	_, mux := newTestServer(t)
	submitJob(t, mux)

	rec := doRequest(t, mux, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body["tools"], "analyzer")

	jobs, ok := body["jobs"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, jobs["queued"])
}

func TestCORS(t *testing.T) {
	srv, mux := newTestServer(t)

	t.Run("preflight from an allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/jobs", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disallowed origin gets no allow header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/tools", nil)
		req.Header.Set("Origin", "http://evil.example.com")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	assert.True(t, srv.originAllowed("http://localhost:8888"))
	assert.False(t, srv.originAllowed("https://elsewhere.example"))
}

func TestHandleErrorMapping(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"unknown tool", errors.Wrap(errors.ErrUnknownTool, "nope"), http.StatusNotFound},
		{"invalid parameters", errors.NewInvalidParametersError("missing url"), http.StatusBadRequest},
		{"not found", errors.NewNotFoundError("job abc"), http.StatusNotFound},
		{"not ready", errors.Wrap(errors.ErrNotReady, "still running"), http.StatusConflict},
		{"job failed", errors.Wrap(errors.ErrJobFailed, "tool crashed"), http.StatusGone},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handleError(rec, logger, tc.err, "test context")
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}
