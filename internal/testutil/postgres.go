// Package testutil provides shared testing utilities for the quill project:
// a deterministic mock model and embedder, a pgvector-enabled PostgreSQL
// container, and small fixture helpers reused across package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PGContainer wraps a pgvector-enabled PostgreSQL test container.
//
// Usage:
//
//	pg, cleanup := testutil.SetupPostgres(t)
//	defer cleanup()
//	// pg.Pool is ready; the retrieval engine creates its own schema.
type PGContainer struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupPostgres starts an isolated PostgreSQL container with the pgvector
// extension available and returns a ready connection pool. No schema is
// applied; the retrieval engine's EnsureIndex owns its own DDL.
func SetupPostgres(t *testing.T) (*PGContainer, func()) {
	t.Helper()

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("quill_test"),
		postgres.WithUsername("quill_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("reading connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("creating connection pool: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("pinging database: %v", err)
	}

	container := &PGContainer{
		Container: pgContainer,
		Pool:      pool,
		ConnStr:   connStr,
	}

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(context.Background())
	}

	return container, cleanup
}
