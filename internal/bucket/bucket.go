// Package bucket manages per-project research buckets. A bucket is a named
// collection of reference documents kept in two places at once: raw text
// files under the project's buckets/ directory (the durable copy) and an
// index owned by a retrieval Engine (the queryable copy). The files survive
// engine outages, so a bucket can always be rebuilt.
package bucket

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/project"
)

var (
	ErrBucketNotFound   = errors.New("bucket not found")
	ErrBucketExists     = errors.New("bucket already exists")
	ErrDocumentNotFound = errors.New("document not found")

	// ErrBucketUnavailable wraps engine failures. Callers that assemble
	// generation context treat it as a degraded source, not a hard stop.
	ErrBucketUnavailable = errors.New("bucket unavailable")
)

const docExtension = ".txt"

// Info describes one bucket in a listing.
type Info struct {
	Name          string `json:"name"`
	DocumentCount int    `json:"document_count"`
}

// Gateway coordinates the filesystem copy and the engine index for every
// bucket operation. One gateway serves all projects.
type Gateway struct {
	registry *project.Registry
	engine   Engine
	cache    *InitCache
	logger   log.Logger
}

func NewGateway(registry *project.Registry, engine Engine, cache *InitCache, logger log.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		engine:   engine,
		cache:    cache,
		logger:   logger,
	}
}

// Namespace is the engine-side identity of a bucket. Project and bucket
// names are already sanitized and contain no "/", so the join is unambiguous.
func Namespace(projectName, bucketName string) string {
	return projectName + "/" + bucketName
}

func (g *Gateway) dir(projectName, bucketName string) (string, error) {
	bucketsDir, err := g.registry.BucketsDir(projectName)
	if err != nil {
		return "", err
	}
	return filepath.Join(bucketsDir, bucketName), nil
}

// requireDir resolves the bucket directory and fails with ErrBucketNotFound
// when it does not exist.
func (g *Gateway) requireDir(projectName, bucketName string) (string, error) {
	dir, err := g.dir(projectName, bucketName)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrBucketNotFound, bucketName)
	}
	if err != nil {
		return "", fmt.Errorf("checking bucket directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrBucketNotFound, bucketName)
	}
	return dir, nil
}

// Create provisions a bucket: sanitizes the name, creates the directory,
// records it in project metadata, and warms the engine index. An engine
// failure does not fail creation; the index initializes lazily on first use.
func (g *Gateway) Create(ctx context.Context, projectName, bucketName string) (string, error) {
	clean, err := project.SanitizeName(bucketName)
	if err != nil {
		return "", fmt.Errorf("invalid bucket name: %w", err)
	}

	dir, err := g.dir(projectName, clean)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("%w: %s", ErrBucketExists, clean)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating bucket directory: %w", err)
	}
	if err := g.registry.DeclareBucket(projectName, clean); err != nil {
		return "", err
	}

	ns := Namespace(projectName, clean)
	if err := g.cache.Ensure(ctx, ns, g.engine.EnsureIndex); err != nil {
		g.logger.Warn("bucket index initialization deferred",
			"project", projectName,
			"bucket", clean,
			"error", err)
	}

	g.logger.Info("bucket created", "project", projectName, "bucket", clean)

	return clean, nil
}

// Delete removes the bucket directory, its metadata entry, and the engine
// index. The init cache entry is invalidated so a recreated bucket starts
// from a fresh index.
func (g *Gateway) Delete(ctx context.Context, projectName, bucketName string) error {
	dir, err := g.requireDir(projectName, bucketName)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing bucket directory: %w", err)
	}
	if err := g.registry.ForgetBucket(projectName, bucketName); err != nil {
		return err
	}

	ns := Namespace(projectName, bucketName)
	g.cache.Invalidate(ns)
	if err := g.engine.DropIndex(ctx, ns); err != nil {
		// The durable copy is gone; orphaned index rows are harmless and
		// get overwritten if the bucket is recreated.
		g.logger.Warn("dropping bucket index failed",
			"project", projectName,
			"bucket", bucketName,
			"error", err)
	}

	g.logger.Info("bucket deleted", "project", projectName, "bucket", bucketName)

	return nil
}

// List returns every bucket in the project with its document count,
// sorted by name.
func (g *Gateway) List(projectName string) ([]Info, error) {
	bucketsDir, err := g.registry.BucketsDir(projectName)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(bucketsDir)
	if err != nil {
		return nil, fmt.Errorf("reading buckets directory: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		docs, err := g.ListDocuments(projectName, entry.Name())
		if err != nil {
			g.logger.Warn("counting bucket documents failed",
				"project", projectName,
				"bucket", entry.Name(),
				"error", err)
			docs = nil
		}
		infos = append(infos, Info{Name: entry.Name(), DocumentCount: len(docs)})
	}

	return infos, nil
}

// IngestDocument stores the content as a new document file and indexes it.
// The generated document ID is returned. Indexing failure rolls back the
// file so the two copies never diverge on write.
func (g *Gateway) IngestDocument(ctx context.Context, projectName, bucketName, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", errors.New("document content is empty")
	}

	dir, err := g.requireDir(projectName, bucketName)
	if err != nil {
		return "", err
	}

	ns := Namespace(projectName, bucketName)
	if err := g.cache.Ensure(ctx, ns, g.engine.EnsureIndex); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrBucketUnavailable, bucketName, err)
	}

	docID := uuid.NewString()
	path := filepath.Join(dir, docID+docExtension)
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		return "", fmt.Errorf("writing document: %w", err)
	}

	if err := g.engine.Ingest(ctx, ns, docID, content); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			g.logger.Warn("rolling back document file failed", "path", path, "error", rmErr)
		}
		return "", fmt.Errorf("%w: %s: %v", ErrBucketUnavailable, bucketName, err)
	}

	g.logger.Info("document ingested",
		"project", projectName,
		"bucket", bucketName,
		"doc_id", docID,
		"chars", len(content))

	return docID, nil
}

// RemoveDocument deletes the document file and its index entries.
func (g *Gateway) RemoveDocument(ctx context.Context, projectName, bucketName, docID string) error {
	dir, err := g.requireDir(projectName, bucketName)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, docID+docExtension)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing document: %w", err)
	}

	ns := Namespace(projectName, bucketName)
	if err := g.engine.Remove(ctx, ns, docID); err != nil {
		g.logger.Warn("removing document from index failed",
			"project", projectName,
			"bucket", bucketName,
			"doc_id", docID,
			"error", err)
	}

	return nil
}

// ListDocuments returns the document IDs stored in the bucket.
func (g *Gateway) ListDocuments(projectName, bucketName string) ([]string, error) {
	dir, err := g.requireDir(projectName, bucketName)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading bucket directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), docExtension) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), docExtension))
	}

	return ids, nil
}

// ReadDocument returns the stored content of one document.
func (g *Gateway) ReadDocument(projectName, bucketName, docID string) (string, error) {
	dir, err := g.requireDir(projectName, bucketName)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(dir, docID+docExtension))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	if err != nil {
		return "", fmt.Errorf("reading document: %w", err)
	}

	return string(data), nil
}

// Query runs a retrieval query against the bucket. Engine failures come
// back wrapped in ErrBucketUnavailable so the assembler can degrade to a
// placeholder instead of aborting generation.
func (g *Gateway) Query(ctx context.Context, projectName, bucketName, query, mode, aux string) (string, error) {
	if _, err := g.requireDir(projectName, bucketName); err != nil {
		return "", err
	}

	ns := Namespace(projectName, bucketName)
	if err := g.cache.Ensure(ctx, ns, g.engine.EnsureIndex); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrBucketUnavailable, bucketName, err)
	}

	answer, err := g.engine.Query(ctx, ns, query, mode, aux)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrBucketUnavailable, bucketName, err)
	}

	return answer, nil
}
