package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillworks/quill/internal/academic"
	"github.com/quillworks/quill/internal/assemble"
	"github.com/quillworks/quill/internal/brainstorm"
	"github.com/quillworks/quill/internal/bucket"
	"github.com/quillworks/quill/internal/export"
	"github.com/quillworks/quill/internal/generate"
	"github.com/quillworks/quill/internal/ingest"
	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/project"
	"github.com/quillworks/quill/internal/store"
	"github.com/quillworks/quill/internal/testutil"
	"github.com/quillworks/quill/internal/version"
)

// newTestServer wires a full server over a temp project root, an in-memory
// retrieval engine, and a mock model backend.
func newTestServer(t *testing.T) (http.Handler, *testutil.MemoryEngine) {
	t.Helper()

	logger := log.NewNop()
	registry, err := project.NewRegistry(t.TempDir(), logger)
	require.NoError(t, err)

	st := store.New(registry, logger)
	ledger := version.NewLedger(registry, logger)

	engine := testutil.NewMemoryEngine()
	buckets := bucket.NewGateway(registry, engine, bucket.NewInitCache(), logger)

	ing := ingest.New(st, buckets, logger)
	exporter := export.New(registry, st, ledger, buckets, logger)

	g, _, _ := testutil.SetupMockGenkit(t)
	invoker := generate.NewInvoker(g, "mock/primary", "", nil, 0, logger)
	assembler := assemble.New(ledger, st, buckets, logger)
	pipeline := generate.NewPipeline(assembler, invoker, ledger, logger)

	srv, err := NewServer(ServerConfig{
		Logger:     logger,
		Registry:   registry,
		Store:      st,
		Ledger:     ledger,
		Buckets:    buckets,
		Ingest:     ing,
		Exporter:   exporter,
		Pipeline:   pipeline,
		Brainstorm: brainstorm.New(st, buckets, invoker, ledger, logger),
		Academic:   academic.NewGenerator(pipeline, buckets, st, ledger, logger),
	})
	require.NoError(t, err)

	return srv.Handler(), engine
}

// do runs one request and decodes the response envelope into out (when
// out is non-nil and the body is JSON).
func do(t *testing.T, h http.Handler, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
		contentType = "text/plain"
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
		contentType = "application/json"
	}

	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if out != nil {
		envelope := map[string]json.RawMessage{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope), "body: %s", w.Body.String())
		if data, ok := envelope["data"]; ok {
			require.NoError(t, json.Unmarshal(data, out))
		}
	}
	return w
}

func TestHealthProbes(t *testing.T) {
	t.Parallel()
	h, _ := newTestServer(t)

	var status map[string]string
	w := do(t, h, http.MethodGet, "/health", nil, &status)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", status["status"])

	w = do(t, h, http.MethodGet, "/ready", nil, &status)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unconfigured", status["retrieval"])
}

func TestProjectLifecycle(t *testing.T) {
	t.Parallel()
	h, _ := newTestServer(t)

	var meta project.Metadata
	w := do(t, h, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "novel", Description: "a novel"}, &meta)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "novel", meta.Name)

	// Duplicate create conflicts.
	w = do(t, h, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "novel"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Invalid name rejected before side effects.
	w = do(t, h, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "../escape"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var projects []project.Metadata
	w = do(t, h, http.MethodGet, "/api/v1/projects", nil, &projects)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, projects, 1)

	w = do(t, h, http.MethodGet, "/api/v1/projects/novel", nil, &meta)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodDelete, "/api/v1/projects/novel", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/projects/novel", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProjectFromTemplate(t *testing.T) {
	t.Parallel()
	h, _ := newTestServer(t)

	var meta project.Metadata
	w := do(t, h, http.MethodPost, "/api/v1/projects",
		CreateProjectRequest{Name: "film", Template: "screenplay"}, &meta)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "screenplay", meta.Template)
	assert.Contains(t, meta.Buckets, "character_research")

	var tables struct {
		Tables []string `json:"tables"`
	}
	w = do(t, h, http.MethodGet, "/api/v1/projects/film/tables", nil, &tables)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, tables.Tables, "characters")
	assert.Contains(t, tables.Tables, "scenes")

	// Sample rows provisioned.
	var page store.RowsPage
	w = do(t, h, http.MethodGet, "/api/v1/projects/film/tables/characters/rows", nil, &page)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, page.Total)

	// Unknown template is a 404 without a half-created project.
	w = do(t, h, http.MethodPost, "/api/v1/projects",
		CreateProjectRequest{Name: "ghost", Template: "nope"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, h, http.MethodGet, "/api/v1/projects/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTableAndRowCRUD(t *testing.T) {
	t.Parallel()
	h, _ := newTestServer(t)
	do(t, h, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "proj"}, nil)

	w := do(t, h, http.MethodPost, "/api/v1/projects/proj/tables",
		CreateTableRequest{Name: "scenes", Columns: []string{"title", "pages"}}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Duplicate table conflicts.
	w = do(t, h, http.MethodPost, "/api/v1/projects/proj/tables",
		CreateTableRequest{Name: "scenes", Columns: []string{"title"}}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	var created store.RowWithID
	w = do(t, h, http.MethodPost, "/api/v1/projects/proj/tables/scenes/rows",
		store.Row{"title": "Opening", "pages": "3"}, &created)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotZero(t, created.ID)

	var row store.RowWithID
	w = do(t, h, http.MethodGet, "/api/v1/projects/proj/tables/scenes/rows/1", nil, &row)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Opening", row.Values["title"])

	w = do(t, h, http.MethodPut, "/api/v1/projects/proj/tables/scenes/rows/1",
		store.Row{"title": "Cold Open"}, &row)
	require.Equal(t, http.StatusOK, w.Code)

	var schema store.Schema
	w = do(t, h, http.MethodGet, "/api/v1/projects/proj/tables/scenes", nil, &schema)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "scenes", schema.Table)
	assert.Equal(t, 1, schema.RowCount)

	w = do(t, h, http.MethodDelete, "/api/v1/projects/proj/tables/scenes/rows/1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodGet, "/api/v1/projects/proj/tables/scenes/rows/1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Malformed row id.
	w = do(t, h, http.MethodGet, "/api/v1/projects/proj/tables/scenes/rows/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodDelete, "/api/v1/projects/proj/tables/scenes", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodGet, "/api/v1/projects/proj/tables/scenes", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCSVUpload(t *testing.T) {
	t.Parallel()
	h, _ := newTestServer(t)
	do(t, h, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "proj"}, nil)

	csv := "title,pages\nOpening,3\nFinale,7\n"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj/tables/scenes/csv", strings.NewReader(csv))
	req.Header.Set("Content-Type", "text/csv")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var report ingest.CSVReport
	envelope := struct {
		Data *ingest.CSVReport `json:"data"`
	}{Data: &report}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, 2, report.RowsInserted)

	// Re-upload without replace conflicts.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj/tables/scenes/csv", strings.NewReader(csv))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)

	// With replace the upload drops and recreates.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj/tables/scenes/csv?replace=true", strings.NewReader(csv))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestBucketLifecycle(t *testing.T) {
	t.Parallel()
	h, engine := newTestServer(t)
	do(t, h, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "proj"}, nil)

	w := do(t, h, http.MethodPost, "/api/v1/projects/proj/buckets", CreateBucketRequest{Name: "research"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, "/api/v1/projects/proj/buckets", CreateBucketRequest{Name: "research"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	var ingested map[string]string
	w = do(t, h, http.MethodPost, "/api/v1/projects/proj/buckets/research/documents",
		IngestDocumentRequest{Content: "The moon landing happened in 1969."}, &ingested)
	require.Equal(t, http.StatusCreated, w.Code)
	docID := ingested["document_id"]
	require.NotEmpty(t, docID)

	// Plain-text body goes through the size-limited ingester.
	w = do(t, h, http.MethodPost, "/api/v1/projects/proj/buckets/research/documents",
		"Apollo 11 carried three astronauts.", nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	var docs struct {
		Documents []string `json:"documents"`
		Total     int      `json:"total"`
	}
	w = do(t, h, http.MethodGet, "/api/v1/projects/proj/buckets/research/documents", nil, &docs)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, docs.Total)

	var doc map[string]string
	w = do(t, h, http.MethodGet, "/api/v1/projects/proj/buckets/research/documents/"+docID, nil, &doc)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, doc["content"], "moon landing")

	engine.SetAnswer("It happened in 1969.")
	var answer map[string]string
	w = do(t, h, http.MethodPost, "/api/v1/projects/proj/buckets/research/query",
		QueryRequest{Query: "when did the moon landing happen"}, &answer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "It happened in 1969.", answer["answer"])

	// Empty query rejected.
	w = do(t, h, http.MethodPost, "/api/v1/projects/proj/buckets/research/query",
		QueryRequest{Query: "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodDelete, "/api/v1/projects/proj/buckets/research/documents/"+docID, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodDelete, "/api/v1/projects/proj/buckets/research", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodGet, "/api/v1/projects/proj/buckets/research/documents", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGenerateAndVersions(t *testing.T) {
	t.Parallel()
	h, _ := newTestServer(t)
	do(t, h, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "proj"}, nil)
	do(t, h, http.MethodPost, "/api/v1/projects/proj/tables",
		CreateTableRequest{Name: "scenes", Columns: []string{"title"}}, nil)
	do(t, h, http.MethodPost, "/api/v1/projects/proj/tables/scenes/rows", store.Row{"title": "Opening"}, nil)

	var resp generate.Response
	w := do(t, h, http.MethodPost, "/api/v1/projects/proj/generate", GenerateRequest{
		Name:    "Draft One",
		Focus:   "the opening act",
		Sources: assemble.Selection{Tables: []string{"scenes"}},
	}, &resp)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, resp.VersionID)
	assert.Equal(t, "mock response", resp.Result)

	var list struct {
		Versions []version.Version `json:"versions"`
		Total    int               `json:"total"`
	}
	w = do(t, h, http.MethodGet, "/api/v1/projects/proj/versions?type=write", nil, &list)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, resp.VersionID, list.Versions[0].ID)

	var types struct {
		Types []string `json:"types"`
	}
	w = do(t, h, http.MethodGet, "/api/v1/projects/proj/versions/types", nil, &types)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"write"}, types.Types)

	// Partial update keeps untouched fields.
	name := "Renamed Draft"
	var updated version.Version
	w = do(t, h, http.MethodPatch, "/api/v1/projects/proj/versions/"+resp.VersionID,
		UpdateVersionRequest{Name: &name}, &updated)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Renamed Draft", updated.Name)
	assert.Equal(t, "mock response", updated.Result)

	w = do(t, h, http.MethodDelete, "/api/v1/projects/proj/versions/"+resp.VersionID, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodGet, "/api/v1/projects/proj/versions/"+resp.VersionID, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBrainstormEndpoint(t *testing.T) {
	t.Parallel()
	h, _ := newTestServer(t)
	do(t, h, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "proj"}, nil)
	do(t, h, http.MethodPost, "/api/v1/projects/proj/tables",
		CreateTableRequest{Name: "characters", Columns: []string{"name"}}, nil)
	do(t, h, http.MethodPost, "/api/v1/projects/proj/tables/characters/rows", store.Row{"name": "Alex"}, nil)

	var resp brainstorm.Response
	w := do(t, h, http.MethodPost, "/api/v1/projects/proj/brainstorm", BrainstormRequest{
		Name:     "Character ideas",
		Tables:   []string{"characters"},
		Rows:     brainstorm.RowSelection{"characters": {1}},
		UserNote: "explore backstory",
	}, &resp)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, resp.VersionID)
	assert.Contains(t, resp.Prompt, "Alex")
}

func TestAcademicChapterEndpoint(t *testing.T) {
	t.Parallel()
	h, _ := newTestServer(t)
	do(t, h, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "proj"}, nil)

	plan := academic.ChapterPlan{
		Number: 1,
		Title:  "Origins",
		Sections: []academic.SectionPlan{
			{Title: "Early Days", Argument: "how it began", TargetWords: 500},
			{Title: "Breakthroughs", Argument: "what changed", TargetWords: 500},
		},
	}

	var result academic.ChapterResult
	w := do(t, h, http.MethodPost, "/api/v1/projects/proj/academic/chapters", plan, &result)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 2, result.SectionsOK)
	assert.NotEmpty(t, result.VersionID)
	assert.Contains(t, result.Content, "# Chapter 1: Origins")

	// Plan without sections rejected.
	w = do(t, h, http.MethodPost, "/api/v1/projects/proj/academic/chapters",
		academic.ChapterPlan{Number: 2, Title: "Empty"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportEndpoints(t *testing.T) {
	t.Parallel()
	h, _ := newTestServer(t)
	do(t, h, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "proj"}, nil)
	do(t, h, http.MethodPost, "/api/v1/projects/proj/tables",
		CreateTableRequest{Name: "scenes", Columns: []string{"title"}}, nil)

	var snap export.Snapshot
	w := do(t, h, http.MethodGet, "/api/v1/projects/proj/export", nil, &snap)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "proj", snap.ProjectName)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/proj/export/bundle", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "zip magic bytes")

	w = do(t, h, http.MethodGet, "/api/v1/projects/ghost/export", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorEnvelope(t *testing.T) {
	t.Parallel()
	h, _ := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/v1/projects/ghost", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var envelope struct {
		Error errorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "not_found", envelope.Error.Code)
	assert.NotEmpty(t, envelope.Error.Message)
}

func TestNewServerRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewServer(ServerConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

type failingAppender struct{ err error }

func (f *failingAppender) Append(context.Context, string, version.Draft) (string, error) {
	return "", f.err
}

func TestGeneratePersistFailureKeepsArtifacts(t *testing.T) {
	t.Parallel()

	logger := log.NewNop()
	registry, err := project.NewRegistry(t.TempDir(), logger)
	require.NoError(t, err)

	st := store.New(registry, logger)
	ledger := version.NewLedger(registry, logger)

	engine := testutil.NewMemoryEngine()
	buckets := bucket.NewGateway(registry, engine, bucket.NewInitCache(), logger)

	ing := ingest.New(st, buckets, logger)
	exporter := export.New(registry, st, ledger, buckets, logger)

	g, _, _ := testutil.SetupMockGenkit(t)
	invoker := generate.NewInvoker(g, "mock/primary", "", nil, 0, logger)
	assembler := assemble.New(ledger, st, buckets, logger)

	// The generation pipeline persists through a ledger that always fails.
	pipeline := generate.NewPipeline(assembler, invoker,
		&failingAppender{err: errors.New("disk full")}, logger)

	srv, err := NewServer(ServerConfig{
		Logger:     logger,
		Registry:   registry,
		Store:      st,
		Ledger:     ledger,
		Buckets:    buckets,
		Ingest:     ing,
		Exporter:   exporter,
		Pipeline:   pipeline,
		Brainstorm: brainstorm.New(st, buckets, invoker, ledger, logger),
		Academic:   academic.NewGenerator(pipeline, buckets, st, ledger, logger),
	})
	require.NoError(t, err)
	h := srv.Handler()

	do(t, h, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "proj"}, nil)

	w := do(t, h, http.MethodPost, "/api/v1/projects/proj/generate",
		GenerateRequest{Name: "draft"}, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	// The error envelope still carries the assembled prompt and the
	// generated text as partial artifacts.
	var envelope struct {
		Error errorBody         `json:"error"`
		Data  generate.Response `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope), "body: %s", w.Body.String())

	assert.Equal(t, "internal_error", envelope.Error.Code)
	assert.Contains(t, envelope.Error.Message, "disk full")
	assert.Empty(t, envelope.Data.VersionID)
	assert.Equal(t, generate.StatusError, envelope.Data.Status)
	assert.NotEmpty(t, envelope.Data.Prompt)
	assert.Equal(t, "mock response", envelope.Data.Result)
}
