// Package project manages the on-disk project namespace.
//
// Each project is one directory under the registry root:
//
//	<root>/<name>/
//	    project.db      structured store + version ledger (SQLite)
//	    buckets/        one subdirectory per document bucket
//	    metadata.json   creation time, template origin, declared tables/buckets
//
// This layout is the durable contract export and repair tooling depend on.
// Destructive operations (delete, export snapshots) serialize on a per-project
// file lock so a project is never exported while it is being torn down.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/quillworks/quill/internal/log"
)

var (
	// ErrNotFound indicates the project does not exist.
	ErrNotFound = errors.New("project not found")

	// ErrAlreadyExists indicates a project with that name already exists.
	ErrAlreadyExists = errors.New("project already exists")
)

// metadataFile is the per-project metadata record name.
const metadataFile = "metadata.json"

// lockFile guards destructive project operations.
const lockFile = ".lock"

// Metadata is the durable per-project record stored as metadata.json.
type Metadata struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Template    string    `json:"template,omitempty"`
	Category    string    `json:"category,omitempty"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
	Buckets     []string  `json:"buckets"`
	Tables      []string  `json:"tables"`
}

// Registry manages projects under a single root directory.
type Registry struct {
	root   string
	logger log.Logger
}

// NewRegistry creates a registry rooted at root, creating the directory when
// missing.
func NewRegistry(root string, logger log.Logger) (*Registry, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating projects root: %w", err)
	}
	return &Registry{root: root, logger: logger}, nil
}

// Root returns the registry root directory.
func (r *Registry) Root() string {
	return r.root
}

// Dir returns the directory for a (sanitized) project name without checking
// existence.
func (r *Registry) Dir(name string) (string, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.root, clean), nil
}

// RequireDir resolves the directory of an existing project.
// Returns ErrNotFound when the project directory is missing.
func (r *Registry) RequireDir(name string) (string, error) {
	dir, err := r.Dir(name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("stat project %s: %w", name, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return dir, nil
}

// BucketsDir resolves the bucket root of an existing project, creating it
// when missing (older projects predate the subdirectory).
func (r *Registry) BucketsDir(name string) (string, error) {
	dir, err := r.RequireDir(name)
	if err != nil {
		return "", err
	}
	bucketsDir := filepath.Join(dir, "buckets")
	if err := os.MkdirAll(bucketsDir, 0o750); err != nil {
		return "", fmt.Errorf("creating buckets directory: %w", err)
	}
	return bucketsDir, nil
}

// Create provisions a new empty project: directory, buckets/ subdirectory,
// and metadata.json. The SQLite file is created lazily on first store access.
func (r *Registry) Create(name, description string) (*Metadata, error) {
	return r.create(name, description, Template{})
}

// CreateFromTemplate provisions a new project recording its template origin
// and declaring the template's buckets and tables in metadata. Table and
// sample-row provisioning inside the store is the caller's responsibility
// (the registry only manages the namespace).
func (r *Registry) CreateFromTemplate(name, description string, tpl Template) (*Metadata, error) {
	return r.create(name, description, tpl)
}

func (r *Registry) create(name, description string, tpl Template) (*Metadata, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(r.root, clean)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, clean)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat project %s: %w", clean, err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "buckets"), 0o750); err != nil {
		return nil, fmt.Errorf("creating project directory: %w", err)
	}

	now := time.Now().UTC()
	meta := &Metadata{
		Name:        clean,
		Description: description,
		Template:    tpl.ID,
		Category:    tpl.Category,
		Created:     now,
		Updated:     now,
		Buckets:     append([]string{}, tpl.DefaultBuckets...),
		Tables:      tpl.TableNames(),
	}

	for _, bucket := range meta.Buckets {
		if err := os.MkdirAll(filepath.Join(dir, "buckets", bucket), 0o750); err != nil {
			return nil, fmt.Errorf("creating bucket directory %s: %w", bucket, err)
		}
	}

	if err := r.writeMetadata(dir, meta); err != nil {
		// Roll back the half-created namespace so a retry can succeed.
		_ = os.RemoveAll(dir)
		return nil, err
	}

	r.logger.Info("project created",
		"project", clean,
		"template", tpl.ID,
		"buckets", len(meta.Buckets),
		"tables", len(meta.Tables))
	return meta, nil
}

// List returns metadata for every project under the root, sorted by name.
// Directories without a readable metadata.json still appear with a minimal
// record; stray files are ignored.
func (r *Registry) List() ([]Metadata, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("reading projects root: %w", err)
	}

	var projects []Metadata
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := r.Get(entry.Name())
		if err != nil {
			r.logger.Warn("skipping unreadable project metadata",
				"project", entry.Name(), "error", err)
			projects = append(projects, Metadata{Name: entry.Name()})
			continue
		}
		projects = append(projects, *meta)
	}

	slices.SortFunc(projects, func(a, b Metadata) int {
		return strings.Compare(a.Name, b.Name)
	})
	return projects, nil
}

// Get loads a project's metadata. Projects created by older tooling may lack
// metadata.json; these get a minimal record rather than an error.
func (r *Registry) Get(name string) (*Metadata, error) {
	dir, err := r.RequireDir(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &Metadata{Name: filepath.Base(dir)}, nil
		}
		return nil, fmt.Errorf("reading project metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing project metadata: %w", err)
	}
	return &meta, nil
}

// Delete removes a project and everything it owns. Takes the project lock so
// a concurrent export sees either the whole project or none of it.
func (r *Registry) Delete(name string) error {
	dir, err := r.RequireDir(name)
	if err != nil {
		return err
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking project %s: %w", name, err)
	}
	defer func() { _ = lock.Unlock() }()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing project %s: %w", name, err)
	}

	r.logger.Info("project deleted", "project", name)
	return nil
}

// Lock returns the project's file lock for callers that need to serialize
// against Delete (export takes it around its snapshot).
func (r *Registry) Lock(name string) (*flock.Flock, error) {
	dir, err := r.RequireDir(name)
	if err != nil {
		return nil, err
	}
	return flock.New(filepath.Join(dir, lockFile)), nil
}

// DeclareTable records a table name in the project metadata (idempotent).
func (r *Registry) DeclareTable(name, table string) error {
	return r.updateMetadata(name, func(m *Metadata) {
		if !slices.Contains(m.Tables, table) {
			m.Tables = append(m.Tables, table)
		}
	})
}

// ForgetTable removes a table name from the project metadata.
func (r *Registry) ForgetTable(name, table string) error {
	return r.updateMetadata(name, func(m *Metadata) {
		m.Tables = slices.DeleteFunc(m.Tables, func(t string) bool { return t == table })
	})
}

// DeclareBucket records a bucket name in the project metadata (idempotent).
func (r *Registry) DeclareBucket(name, bucket string) error {
	return r.updateMetadata(name, func(m *Metadata) {
		if !slices.Contains(m.Buckets, bucket) {
			m.Buckets = append(m.Buckets, bucket)
		}
	})
}

// ForgetBucket removes a bucket name from the project metadata.
func (r *Registry) ForgetBucket(name, bucket string) error {
	return r.updateMetadata(name, func(m *Metadata) {
		m.Buckets = slices.DeleteFunc(m.Buckets, func(b string) bool { return b == bucket })
	})
}

// updateMetadata applies mutate under the project flock so concurrent
// declare/forget calls never lose each other's read-modify-write.
func (r *Registry) updateMetadata(name string, mutate func(*Metadata)) error {
	dir, err := r.RequireDir(name)
	if err != nil {
		return err
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking project %s: %w", name, err)
	}
	defer func() { _ = lock.Unlock() }()

	meta, err := r.Get(name)
	if err != nil {
		return err
	}

	mutate(meta)
	meta.Updated = time.Now().UTC()
	return r.writeMetadata(dir, meta)
}

func (r *Registry) writeMetadata(dir string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding project metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0o640); err != nil {
		return fmt.Errorf("writing project metadata: %w", err)
	}
	return nil
}
