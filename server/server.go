package server

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/airbais/conductor/config"
	"github.com/airbais/conductor/errors"
	"github.com/airbais/conductor/job"
	"github.com/airbais/conductor/tool"
)

// Server exposes the job engine over HTTP JSON. It owns the executor's
// lifecycle: Start launches the worker pool before accepting requests,
// Shutdown drains HTTP then stops the workers.
type Server struct {
	db       *sql.DB
	config   *config.Config
	registry *tool.Registry
	executor *job.Executor
	logger   *zap.SugaredLogger

	httpServer *http.Server

	mu      sync.RWMutex
	wsConns map[*wsClient]bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a server wired to db, the tool registry, and an executor
// built from cfg.
func New(database *sql.DB, cfg *config.Config, registry *tool.Registry, logger *zap.SugaredLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	execCfg := job.ExecutorConfig{
		Workers:              cfg.Executor.Workers,
		PollInterval:         cfg.Executor.PollInterval(),
		JobTimeout:           cfg.Executor.JobTimeout(),
		Retention:            cfg.Executor.Retention(),
		MaxLaunchesPerMinute: cfg.Executor.MaxLaunchesPerMinute,
	}
	executor := job.NewExecutorWithContext(ctx, database, registry, execCfg, logger)

	return &Server{
		db:       database,
		config:   cfg,
		registry: registry,
		executor: executor,
		logger:   logger.Named("server"),
		wsConns:  make(map[*wsClient]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Executor returns the underlying executor, used by tests and the CLI.
func (s *Server) Executor() *job.Executor {
	return s.executor
}

// Start runs the HTTP server until ctx is cancelled or the listener
// fails. Blocks.
func (s *Server) Start(ctx context.Context) error {
	s.executor.Start()
	s.startJobBroadcaster()

	mux := http.NewServeMux()
	s.routes(mux)

	addr := net.JoinHostPort(s.config.Server.Host, fmt.Sprintf("%d", s.config.Server.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("HTTP server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server failed")
	}
}

// Shutdown drains in-flight HTTP requests, then stops the executor.
func (s *Server) Shutdown() error {
	s.logger.Infow("Server shutting down")

	var httpErr error
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpErr = s.httpServer.Shutdown(shutdownCtx)
	}

	s.cancel()
	s.executor.Stop()
	s.wg.Wait()

	if httpErr != nil {
		return errors.Wrap(httpErr, "http shutdown failed")
	}
	return nil
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))
	mux.HandleFunc("/api/tools", s.corsMiddleware(s.HandleTools))
	mux.HandleFunc("/api/tools/", s.corsMiddleware(s.HandleTool))
	mux.HandleFunc("/api/jobs", s.corsMiddleware(s.HandleJobs))
	mux.HandleFunc("/api/jobs/", s.corsMiddleware(s.HandleJob))
	mux.HandleFunc("/ws/jobs", s.HandleJobsWebSocket)
}

// corsMiddleware adds CORS headers using the configured allowed origins
// and answers preflight requests.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// originAllowed validates an Origin header against the configured list.
// Prefix matching so any port on an allowed host is accepted.
func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.config.Server.AllowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}
