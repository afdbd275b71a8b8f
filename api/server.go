package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillworks/quill/internal/academic"
	"github.com/quillworks/quill/internal/brainstorm"
	"github.com/quillworks/quill/internal/bucket"
	"github.com/quillworks/quill/internal/export"
	"github.com/quillworks/quill/internal/generate"
	"github.com/quillworks/quill/internal/ingest"
	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/project"
	"github.com/quillworks/quill/internal/store"
	"github.com/quillworks/quill/internal/version"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8700"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to prevent Slowloris attacks.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 60 * time.Second

	// WriteTimeout is generous because generation requests block on the
	// model backend.
	WriteTimeout = 10 * time.Minute

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// ServerConfig contains everything the API server needs.
type ServerConfig struct {
	Logger     log.Logger
	Registry   *project.Registry   // Required
	Store      *store.Store        // Required
	Ledger     *version.Ledger     // Required
	Buckets    *bucket.Gateway     // Required
	Ingest     *ingest.Service     // Required
	Exporter   *export.Exporter    // Required
	Pipeline   *generate.Pipeline  // Required
	Brainstorm *brainstorm.Service // Required
	Academic   *academic.Generator // Required

	Pool        *pgxpool.Pool // Optional: nil degrades /ready to "unconfigured"
	CORSOrigins []string      // Allowed origins for CORS
	TrustProxy  bool          // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int           // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes and middleware wired.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("project registry is required")
	case cfg.Store == nil:
		return nil, errors.New("store is required")
	case cfg.Ledger == nil:
		return nil, errors.New("version ledger is required")
	case cfg.Buckets == nil:
		return nil, errors.New("bucket gateway is required")
	case cfg.Ingest == nil:
		return nil, errors.New("ingest service is required")
	case cfg.Exporter == nil:
		return nil, errors.New("exporter is required")
	case cfg.Pipeline == nil:
		return nil, errors.New("generation pipeline is required")
	case cfg.Brainstorm == nil:
		return nil, errors.New("brainstorm service is required")
	case cfg.Academic == nil:
		return nil, errors.New("academic generator is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ph := &projectHandler{registry: cfg.Registry, store: cfg.Store, logger: logger}
	th := &tableHandler{store: cfg.Store, ingest: cfg.Ingest, logger: logger}
	vh := &versionHandler{ledger: cfg.Ledger, logger: logger}
	bh := &bucketHandler{buckets: cfg.Buckets, ingest: cfg.Ingest, logger: logger}
	gh := &generationHandler{pipeline: cfg.Pipeline, brainstorm: cfg.Brainstorm, academic: cfg.Academic, logger: logger}
	eh := &exportHandler{exporter: cfg.Exporter, logger: logger}

	mux := http.NewServeMux()

	// Projects and templates
	mux.HandleFunc("GET /api/v1/projects", ph.list)
	mux.HandleFunc("POST /api/v1/projects", ph.create)
	mux.HandleFunc("GET /api/v1/projects/{project}", ph.get)
	mux.HandleFunc("DELETE /api/v1/projects/{project}", ph.delete)
	mux.HandleFunc("GET /api/v1/templates", ph.templates)

	// Tables and rows
	mux.HandleFunc("GET /api/v1/projects/{project}/tables", th.list)
	mux.HandleFunc("POST /api/v1/projects/{project}/tables", th.create)
	mux.HandleFunc("GET /api/v1/projects/{project}/tables/{table}", th.schema)
	mux.HandleFunc("DELETE /api/v1/projects/{project}/tables/{table}", th.delete)
	mux.HandleFunc("GET /api/v1/projects/{project}/tables/{table}/rows", th.listRows)
	mux.HandleFunc("POST /api/v1/projects/{project}/tables/{table}/rows", th.addRow)
	mux.HandleFunc("GET /api/v1/projects/{project}/tables/{table}/rows/{id}", th.getRow)
	mux.HandleFunc("PUT /api/v1/projects/{project}/tables/{table}/rows/{id}", th.updateRow)
	mux.HandleFunc("DELETE /api/v1/projects/{project}/tables/{table}/rows/{id}", th.deleteRow)
	mux.HandleFunc("POST /api/v1/projects/{project}/tables/{table}/csv", th.uploadCSV)

	// Version ledger
	mux.HandleFunc("GET /api/v1/projects/{project}/versions", vh.list)
	mux.HandleFunc("GET /api/v1/projects/{project}/versions/types", vh.types)
	mux.HandleFunc("GET /api/v1/projects/{project}/versions/{id}", vh.get)
	mux.HandleFunc("PATCH /api/v1/projects/{project}/versions/{id}", vh.update)
	mux.HandleFunc("DELETE /api/v1/projects/{project}/versions/{id}", vh.delete)

	// Buckets and documents
	mux.HandleFunc("GET /api/v1/projects/{project}/buckets", bh.list)
	mux.HandleFunc("POST /api/v1/projects/{project}/buckets", bh.create)
	mux.HandleFunc("DELETE /api/v1/projects/{project}/buckets/{bucket}", bh.delete)
	mux.HandleFunc("GET /api/v1/projects/{project}/buckets/{bucket}/documents", bh.listDocuments)
	mux.HandleFunc("POST /api/v1/projects/{project}/buckets/{bucket}/documents", bh.ingestDocument)
	mux.HandleFunc("GET /api/v1/projects/{project}/buckets/{bucket}/documents/{doc}", bh.getDocument)
	mux.HandleFunc("DELETE /api/v1/projects/{project}/buckets/{bucket}/documents/{doc}", bh.deleteDocument)
	mux.HandleFunc("POST /api/v1/projects/{project}/buckets/{bucket}/query", bh.query)

	// Generation
	mux.HandleFunc("POST /api/v1/projects/{project}/generate", gh.generate)
	mux.HandleFunc("POST /api/v1/projects/{project}/brainstorm", gh.runBrainstorm)
	mux.HandleFunc("POST /api/v1/projects/{project}/academic/chapters", gh.generateChapter)

	// Export
	mux.HandleFunc("GET /api/v1/projects/{project}/export", eh.snapshot)
	mux.HandleFunc("GET /api/v1/projects/{project}/export/bundle", eh.bundle)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → Tracing → Logging → CORS → RateLimit → Routes
	// CORS sits before RateLimit so preflight OPTIONS gets proper headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = tracingMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, logger log.Logger) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
