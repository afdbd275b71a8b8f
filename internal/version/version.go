// Package version implements the per-project version ledger: a durable,
// append-mostly record of every generation attempt.
//
// Records are immutable history by default. Update and Delete exist as
// explicit, auditable exceptions, never as implicit overwrites. A version may
// reference other versions by id (chapters reference their sections); these
// are soft references with no cascade, so a version stays retrievable even if
// something it references is deleted later.
package version

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillworks/quill/internal/database"
	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/project"
)

var (
	// ErrNotFound indicates the version id does not exist in the project.
	ErrNotFound = errors.New("version not found")

	// ErrInvalidType indicates an empty or unsafe version type.
	ErrInvalidType = errors.New("invalid version type")
)

// Well-known version types. The type field is an open string enum; these are
// the ones the pipeline itself writes.
const (
	TypeBrainstorm      = "brainstorm"
	TypeWrite           = "write"
	TypeAcademicChapter = "academic_chapter"
	TypeAcademicSection = "academic_section"
)

// SelectedSources records which sources fed a generation.
type SelectedSources struct {
	Buckets            []string `json:"buckets"`
	Tables             []string `json:"tables"`
	BrainstormVersions []string `json:"brainstormVersions"`
}

// Customizations records the user-facing request knobs.
type Customizations struct {
	Tone         string `json:"tone"`
	Instructions string `json:"instructions"`
}

// GenerationStats is telemetry about the backend invocation.
type GenerationStats struct {
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	DurationMS  int64     `json:"durationMs"`
	PromptChars int       `json:"promptChars"`
	ResultChars int       `json:"resultChars"`
	Backend     string    `json:"backend,omitempty"`
	Status      string    `json:"status,omitempty"`
}

// Metadata is the provenance payload persisted with every version.
type Metadata struct {
	SelectedSources  SelectedSources  `json:"selectedSources"`
	Customizations   Customizations   `json:"customizations"`
	DataSourcesCount int              `json:"dataSourcesCount"`
	Generation       *GenerationStats `json:"generation,omitempty"`
	SectionVersions  []string         `json:"sectionVersions,omitempty"`
}

// Version is one ledger record.
type Version struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Focus     string    `json:"focus"`
	Created   time.Time `json:"created"`
	Prompt    string    `json:"prompt"`
	Result    string    `json:"result"`
	Metadata  Metadata  `json:"metadata"`
}

// Draft is the input to Append.
type Draft struct {
	Type     string
	Name     string
	Focus    string
	Prompt   string
	Result   string
	Metadata Metadata
}

// Update carries a partial replace; nil fields keep their current content.
type Update struct {
	Name     *string
	Focus    *string
	Result   *string
	Metadata *Metadata
}

// Ledger persists versions in each project's SQLite database.
type Ledger struct {
	registry *project.Registry
	logger   log.Logger

	// Injectable for deterministic tests.
	now       func() time.Time
	newSuffix func() string
}

// NewLedger creates a ledger over the given registry.
func NewLedger(registry *project.Registry, logger log.Logger) *Ledger {
	return &Ledger{
		registry:  registry,
		logger:    logger,
		now:       time.Now,
		newSuffix: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
}

// newID builds a version id: "{type}_{unix}_{8-hex}". The timestamp keeps ids
// sortable at second granularity; the random suffix makes two appends of the
// same type in the same second land on distinct ids.
func (l *Ledger) newID(vtype string, created time.Time) string {
	return fmt.Sprintf("%s_%d_%s", vtype, created.Unix(), l.newSuffix())
}

func (l *Ledger) open(projectName string) (*sql.DB, error) {
	dir, err := l.registry.RequireDir(projectName)
	if err != nil {
		return nil, err
	}
	return database.OpenProject(dir)
}

// Append writes one new version record and returns its id.
// Every generation attempt, success or failure, goes through here.
func (l *Ledger) Append(ctx context.Context, projectName string, draft Draft) (string, error) {
	vtype := strings.TrimSpace(draft.Type)
	if vtype == "" || strings.ContainsAny(vtype, " \t\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, draft.Type)
	}

	db, err := l.open(projectName)
	if err != nil {
		return "", err
	}
	defer db.Close()

	created := l.now().UTC()
	id := l.newID(vtype, created)

	metadata, err := json.Marshal(draft.Metadata)
	if err != nil {
		return "", fmt.Errorf("encoding version metadata: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO versions (id, project_id, type, name, focus, created, prompt, result, metadata_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, projectName, vtype, draft.Name, draft.Focus,
		created.Format(time.RFC3339), draft.Prompt, draft.Result, string(metadata))
	if err != nil {
		return "", fmt.Errorf("appending version: %w", err)
	}

	l.logger.Info("version appended",
		"project", projectName, "version", id, "type", vtype,
		"prompt_chars", len(draft.Prompt), "result_chars", len(draft.Result))
	return id, nil
}

// List returns versions of one type, newest first.
func (l *Ledger) List(ctx context.Context, projectName, vtype string) ([]Version, error) {
	db, err := l.open(projectName)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT id, project_id, type, name, focus, created, prompt, result, metadata_json
		 FROM versions WHERE type = ? ORDER BY created DESC, id DESC`, vtype)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		v, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return versions, nil
}

// Get resolves one version by id.
func (l *Ledger) Get(ctx context.Context, projectName, id string) (*Version, error) {
	db, err := l.open(projectName)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	row := db.QueryRowContext(ctx,
		`SELECT id, project_id, type, name, focus, created, prompt, result, metadata_json
		 FROM versions WHERE id = ?`, id)

	v, err := scanVersion(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Update replaces the given fields of one version. This is the explicit
// escape hatch from immutability; prompt and created are never updatable.
func (l *Ledger) Update(ctx context.Context, projectName, id string, update Update) error {
	db, err := l.open(projectName)
	if err != nil {
		return err
	}
	defer db.Close()

	var sets []string
	var args []any
	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Focus != nil {
		sets = append(sets, "focus = ?")
		args = append(args, *update.Focus)
	}
	if update.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, *update.Result)
	}
	if update.Metadata != nil {
		metadata, err := json.Marshal(update.Metadata)
		if err != nil {
			return fmt.Errorf("encoding version metadata: %w", err)
		}
		sets = append(sets, "metadata_json = ?")
		args = append(args, string(metadata))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	result, err := db.ExecContext(ctx,
		"UPDATE versions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating version %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	l.logger.Info("version updated", "project", projectName, "version", id)
	return nil
}

// Delete removes one version. Deleting an absent version is ErrNotFound.
func (l *Ledger) Delete(ctx context.Context, projectName, id string) error {
	db, err := l.open(projectName)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := db.ExecContext(ctx, "DELETE FROM versions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting version %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	l.logger.Info("version deleted", "project", projectName, "version", id)
	return nil
}

// Types returns the distinct version types present in a project, name order.
func (l *Ledger) Types(ctx context.Context, projectName string) ([]string, error) {
	db, err := l.open(projectName)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT DISTINCT type FROM versions ORDER BY type`)
	if err != nil {
		return nil, fmt.Errorf("listing version types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning version type: %w", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing version types: %w", err)
	}
	return types, nil
}

// scanVersion decodes one row from any Scan-shaped source.
func scanVersion(scan func(...any) error) (*Version, error) {
	var v Version
	var created, metadata string
	if err := scan(&v.ID, &v.ProjectID, &v.Type, &v.Name, &v.Focus,
		&created, &v.Prompt, &v.Result, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning version: %w", err)
	}

	t, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return nil, fmt.Errorf("parsing version timestamp %q: %w", created, err)
	}
	v.Created = t

	if err := json.Unmarshal([]byte(metadata), &v.Metadata); err != nil {
		return nil, fmt.Errorf("decoding version metadata: %w", err)
	}
	return &v, nil
}
