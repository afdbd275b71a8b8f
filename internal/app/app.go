// Package app wires the application together: configuration, tracing, the
// model backend, the retrieval engine, and every service behind the HTTP
// API. Setup builds the whole graph; Close releases it in reverse order.
package app

import (
	"context"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillworks/quill/api"
	"github.com/quillworks/quill/internal/academic"
	"github.com/quillworks/quill/internal/brainstorm"
	"github.com/quillworks/quill/internal/bucket"
	"github.com/quillworks/quill/internal/config"
	"github.com/quillworks/quill/internal/export"
	"github.com/quillworks/quill/internal/generate"
	"github.com/quillworks/quill/internal/ingest"
	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/project"
	"github.com/quillworks/quill/internal/store"
	"github.com/quillworks/quill/internal/version"
)

// closeTimeout bounds the tracing flush during shutdown.
const closeTimeout = 5 * time.Second

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit *genkit.Genkit
	Pool   *pgxpool.Pool // nil when the vector database is unreachable

	Registry   *project.Registry
	Store      *store.Store
	Ledger     *version.Ledger
	Buckets    *bucket.Gateway
	Ingest     *ingest.Service
	Exporter   *export.Exporter
	Pipeline   *generate.Pipeline
	Brainstorm *brainstorm.Service
	Academic   *academic.Generator

	Server *api.Server

	tracingShutdown func(context.Context) error
}

// Close releases resources: flushes pending spans and closes the database
// pool. Safe to call on a partially constructed App.
func (a *App) Close() error {
	var firstErr error

	if a.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := a.tracingShutdown(ctx); err != nil {
			firstErr = err
		}
		cancel()
	}

	if a.Pool != nil {
		a.Pool.Close()
	}

	if a.Logger != nil {
		a.Logger.Info("application closed")
	}
	return firstErr
}
