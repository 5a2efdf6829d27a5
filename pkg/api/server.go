// Package api exposes flows and recordings over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/semaphore"

	"github.com/devicelab-dev/screencast-runner/pkg/config"
	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/encoder"
	"github.com/devicelab-dev/screencast-runner/pkg/executor"
	"github.com/devicelab-dev/screencast-runner/pkg/logger"
	"github.com/devicelab-dev/screencast-runner/pkg/report"
	"github.com/devicelab-dev/screencast-runner/pkg/store"
	"github.com/devicelab-dev/screencast-runner/pkg/validator"
)

// RecorderFactory creates the recorder for one request. Every recording
// gets its own recorder and browser; the server closes it afterwards.
type RecorderFactory func() *executor.Recorder

// Optimizer re-quantizes a finished GIF. *encoder.Pipeline satisfies it.
type Optimizer interface {
	Optimize(ctx context.Context, inputPath, outputPath string, colors int, dither string) (*encoder.Result, error)
}

// Deps are the collaborators a Server needs.
type Deps struct {
	Flows       store.FlowStore
	Index       *report.IndexWriter
	Optimizer   Optimizer
	NewRecorder RecorderFactory
}

// Server represents the HTTP API server.
type Server struct {
	cfg       config.Config
	deps      Deps
	router    *mux.Router
	server    *http.Server
	sem       *semaphore.Weighted
	validator *validator.Validator
	started   time.Time

	mu     sync.Mutex
	seq    int
	active map[int]*executor.Recorder
}

// NewServer creates a new API server.
func NewServer(cfg config.Config, deps Deps) *Server {
	max := cfg.Server.MaxConcurrent
	if max <= 0 {
		max = 1
	}
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		router:    mux.NewRouter(),
		sem:       semaphore.NewWeighted(int64(max)),
		validator: &validator.Validator{RequireID: true},
		started:   time.Now(),
		active:    make(map[int]*executor.Recorder),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Recording requests hold the connection for the whole run.
		WriteTimeout: cfg.RequestTimeout() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port and blocks until Stop.
func (s *Server) Start() error {
	logger.Info("Starting HTTP server on %s (max %d concurrent recordings)", s.server.Addr, s.cfg.Server.MaxConcurrent)

	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully and closes any browser still open.
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)

	s.mu.Lock()
	recorders := make([]*executor.Recorder, 0, len(s.active))
	for _, r := range s.active {
		recorders = append(recorders, r)
	}
	s.mu.Unlock()
	for _, r := range recorders {
		_ = r.Close()
	}
	return err
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	flows := api.PathPrefix("/flows").Subrouter()
	flows.HandleFunc("", s.handleListFlows).Methods(http.MethodGet)
	flows.HandleFunc("", s.handleCreateFlow).Methods(http.MethodPost)
	flows.HandleFunc("/{id}", s.handleGetFlow).Methods(http.MethodGet)
	flows.HandleFunc("/{id}", s.handleUpdateFlow).Methods(http.MethodPut)
	flows.HandleFunc("/{id}", s.handleDeleteFlow).Methods(http.MethodDelete)
	flows.HandleFunc("/{id}/record", s.handleRecord).Methods(http.MethodPost)

	recordings := api.PathPrefix("/recordings").Subrouter()
	recordings.HandleFunc("", s.handleListRecordings).Methods(http.MethodGet)
	recordings.HandleFunc("/{id}", s.handleGetRecording).Methods(http.MethodGet)
	recordings.HandleFunc("/{id}/gif", s.handleRecordingGif).Methods(http.MethodGet)
	recordings.HandleFunc("/{id}/optimize", s.handleOptimize).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router.Use(logRequests)
}

// logRequests logs every request with its status and duration.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.WithFields(logger.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   sw.status,
			"duration": time.Since(start).Round(time.Millisecond).String(),
		}).Debug("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// track registers a running recorder for /status and Stop.
func (s *Server) track(r *executor.Recorder) func() {
	s.mu.Lock()
	s.seq++
	id := s.seq
	s.active[id] = r
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
	}
}

func (s *Server) sessions() []core.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.SessionStatus, 0, len(s.active))
	for _, r := range s.active {
		out = append(out, r.Status())
	}
	return out
}
