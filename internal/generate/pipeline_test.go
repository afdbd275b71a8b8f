package generate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillworks/quill/internal/assemble"
	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/prompt"
	"github.com/quillworks/quill/internal/store"
	"github.com/quillworks/quill/internal/testutil"
	"github.com/quillworks/quill/internal/version"
)

type recordingLedger struct {
	drafts  []version.Draft
	nextID  string
	nextErr error
}

func (r *recordingLedger) Append(_ context.Context, _ string, draft version.Draft) (string, error) {
	if r.nextErr != nil {
		return "", r.nextErr
	}
	r.drafts = append(r.drafts, draft)
	return r.nextID, nil
}

type emptyVersions struct{}

func (emptyVersions) Get(_ context.Context, _, id string) (*version.Version, error) {
	return nil, version.ErrNotFound
}

type emptyTables struct{}

func (emptyTables) Schema(context.Context, string, string) (*store.Schema, error) {
	return nil, store.ErrTableNotFound
}

func (emptyTables) ReadTable(context.Context, string, string, string, string) ([]store.Row, error) {
	return nil, store.ErrTableNotFound
}

type fixedBuckets struct{ answer string }

func (f fixedBuckets) Query(context.Context, string, string, string, string, string) (string, error) {
	return f.answer, nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *testutil.MockModel, *recordingLedger) {
	t.Helper()
	g, model, _ := testutil.SetupMockGenkit(t)

	assembler := assemble.New(emptyVersions{}, emptyTables{}, fixedBuckets{answer: "retrieved lore"}, log.NewNop())
	invoker := NewInvoker(g, "mock/primary", "", nil, time.Minute, log.NewNop())
	ledger := &recordingLedger{nextID: "write_1_abcd1234"}

	return NewPipeline(assembler, invoker, ledger, log.NewNop()), model, ledger
}

func TestPipelineRun(t *testing.T) {
	t.Parallel()
	p, model, ledger := newTestPipeline(t)
	model.AddResponse("TONE", "The opening chapter, dramatically.")

	resp, err := p.Run(context.Background(), Request{
		Project:      "proj",
		Name:         "Opening",
		Focus:        "the opening",
		Tone:         "dramatic",
		Instructions: "short sentences",
		Sources:      assemble.Selection{Buckets: []string{"lore"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "write_1_abcd1234", resp.VersionID)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, "The opening chapter, dramatically.", resp.Result)
	assert.Equal(t, []string{"lore"}, resp.Sources.Buckets)
	assert.Contains(t, resp.Prompt, "TONE: ")
	assert.Contains(t, resp.Prompt, "retrieved lore")

	require.Len(t, ledger.drafts, 1)
	draft := ledger.drafts[0]
	assert.Equal(t, version.TypeWrite, draft.Type)
	assert.Equal(t, "Opening", draft.Name)
	assert.Equal(t, "the opening", draft.Focus)
	assert.Equal(t, resp.Prompt, draft.Prompt)
	assert.Equal(t, resp.Result, draft.Result)

	meta := draft.Metadata
	assert.Equal(t, []string{"lore"}, meta.SelectedSources.Buckets)
	assert.Equal(t, "dramatic", meta.Customizations.Tone)
	assert.Equal(t, 1, meta.DataSourcesCount)
	require.NotNil(t, meta.Generation)
	assert.Equal(t, StatusSuccess, meta.Generation.Status)
	assert.Equal(t, "mock/primary", meta.Generation.Backend)
	assert.Equal(t, len(resp.Prompt), meta.Generation.PromptChars)
	assert.Equal(t, len(resp.Result), meta.Generation.ResultChars)
}

func TestPipelineRecordsBackendFailure(t *testing.T) {
	t.Parallel()
	p, model, ledger := newTestPipeline(t)
	model.SetError(errors.New("quota exceeded"))

	resp, err := p.Run(context.Background(), Request{Project: "proj"})
	require.NoError(t, err)

	// The failed attempt is still persisted with an error-describing result.
	assert.Equal(t, "write_1_abcd1234", resp.VersionID)
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Result, "Generation failed")
	require.Len(t, ledger.drafts, 1)
	assert.Contains(t, ledger.drafts[0].Result, "quota exceeded")
}

func TestPipelinePersistFailureReturnsArtifacts(t *testing.T) {
	t.Parallel()
	p, _, ledger := newTestPipeline(t)
	ledger.nextErr = errors.New("disk full")

	resp, err := p.Run(context.Background(), Request{
		Project: "proj",
		Tone:    "casual",
	})
	require.Error(t, err)
	require.NotNil(t, resp)

	assert.Empty(t, resp.VersionID)
	assert.Equal(t, StatusError, resp.Status)
	assert.NotEmpty(t, resp.Prompt)
	assert.NotEmpty(t, resp.Result)
}

func TestPipelineCustomType(t *testing.T) {
	t.Parallel()
	p, _, ledger := newTestPipeline(t)

	_, err := p.Run(context.Background(), Request{
		Project: "proj",
		Type:    version.TypeAcademicSection,
	})
	require.NoError(t, err)
	require.Len(t, ledger.drafts, 1)
	assert.Equal(t, version.TypeAcademicSection, ledger.drafts[0].Type)
}

func TestPipelineRendersDeterministicPrompt(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPipeline(t)

	req := Request{
		Project: "proj",
		Tone:    "neutral",
		Sources: assemble.Selection{Buckets: []string{"lore"}},
	}
	first, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Prompt, second.Prompt)
	assert.Equal(t, prompt.Build(prompt.Input{
		Tone: "neutral",
		Buckets: []prompt.BucketResult{
			{Name: "lore", Content: "retrieved lore"},
		},
	}), first.Prompt)
}
