package bucket

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/project"
)

// fakeEngine records calls and can be scripted to fail per method.
type fakeEngine struct {
	mu          sync.Mutex
	ensureCalls []string
	ingested    map[string]string // namespace/docID -> content
	dropped     []string
	ensureErr   error
	ingestErr   error
	queryErr    error
	answer      string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{ingested: make(map[string]string)}
}

func (f *fakeEngine) EnsureIndex(_ context.Context, ns string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls = append(f.ensureCalls, ns)
	return f.ensureErr
}

func (f *fakeEngine) Ingest(_ context.Context, ns, docID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ingestErr != nil {
		return f.ingestErr
	}
	f.ingested[ns+"/"+docID] = content
	return nil
}

func (f *fakeEngine) Remove(_ context.Context, ns, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ingested, ns+"/"+docID)
	return nil
}

func (f *fakeEngine) Query(_ context.Context, ns, query, mode, aux string) (string, error) {
	if f.queryErr != nil {
		return "", f.queryErr
	}
	return f.answer, nil
}

func (f *fakeEngine) DropIndex(_ context.Context, ns string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, ns)
	return nil
}

func newTestGateway(t *testing.T) (*Gateway, *fakeEngine, string) {
	t.Helper()
	registry, err := project.NewRegistry(t.TempDir(), log.NewNop())
	require.NoError(t, err)
	_, err = registry.Create("proj", "")
	require.NoError(t, err)

	engine := newFakeEngine()
	gw := NewGateway(registry, engine, NewInitCache(), log.NewNop())
	return gw, engine, "proj"
}

func TestGatewayCreateAndList(t *testing.T) {
	t.Parallel()
	gw, engine, proj := newTestGateway(t)
	ctx := context.Background()

	name, err := gw.Create(ctx, proj, "research notes")
	require.NoError(t, err)
	assert.Equal(t, "research_notes", name)

	// Index warmed exactly once despite repeated operations.
	_, err = gw.IngestDocument(ctx, proj, name, "some reference text")
	require.NoError(t, err)
	assert.Equal(t, []string{"proj/research_notes"}, engine.ensureCalls)

	infos, err := gw.List(proj)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "research_notes", infos[0].Name)
	assert.Equal(t, 1, infos[0].DocumentCount)
}

func TestGatewayCreateDuplicate(t *testing.T) {
	t.Parallel()
	gw, _, proj := newTestGateway(t)
	ctx := context.Background()

	_, err := gw.Create(ctx, proj, "lore")
	require.NoError(t, err)
	_, err = gw.Create(ctx, proj, "lore")
	assert.ErrorIs(t, err, ErrBucketExists)
}

func TestGatewayCreateSurvivesEngineFailure(t *testing.T) {
	t.Parallel()
	gw, engine, proj := newTestGateway(t)
	engine.ensureErr = errors.New("pg down")

	// Creation succeeds; the index initializes lazily later.
	name, err := gw.Create(context.Background(), proj, "lore")
	require.NoError(t, err)

	infos, err := gw.List(proj)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, name, infos[0].Name)
}

func TestGatewayIngestReadRemove(t *testing.T) {
	t.Parallel()
	gw, engine, proj := newTestGateway(t)
	ctx := context.Background()

	_, err := gw.Create(ctx, proj, "lore")
	require.NoError(t, err)

	docID, err := gw.IngestDocument(ctx, proj, "lore", "ancient history of the valley")
	require.NoError(t, err)
	require.NotEmpty(t, docID)

	content, err := gw.ReadDocument(proj, "lore", docID)
	require.NoError(t, err)
	assert.Equal(t, "ancient history of the valley", content)
	assert.Equal(t, "ancient history of the valley", engine.ingested["proj/lore/"+docID])

	require.NoError(t, gw.RemoveDocument(ctx, proj, "lore", docID))

	_, err = gw.ReadDocument(proj, "lore", docID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	docs, err := gw.ListDocuments(proj, "lore")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestGatewayIngestRollsBackOnIndexFailure(t *testing.T) {
	t.Parallel()
	gw, engine, proj := newTestGateway(t)
	ctx := context.Background()

	_, err := gw.Create(ctx, proj, "lore")
	require.NoError(t, err)
	engine.ingestErr = errors.New("embedder quota")

	_, err = gw.IngestDocument(ctx, proj, "lore", "content")
	require.ErrorIs(t, err, ErrBucketUnavailable)

	// No orphaned file left behind.
	docs, err := gw.ListDocuments(proj, "lore")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestGatewayIngestRejectsEmptyContent(t *testing.T) {
	t.Parallel()
	gw, _, proj := newTestGateway(t)
	ctx := context.Background()

	_, err := gw.Create(ctx, proj, "lore")
	require.NoError(t, err)

	_, err = gw.IngestDocument(ctx, proj, "lore", "   \n ")
	assert.Error(t, err)
}

func TestGatewayIngestUnknownBucket(t *testing.T) {
	t.Parallel()
	gw, _, proj := newTestGateway(t)

	_, err := gw.IngestDocument(context.Background(), proj, "missing", "content")
	assert.ErrorIs(t, err, ErrBucketNotFound)
}

func TestGatewayQuery(t *testing.T) {
	t.Parallel()
	gw, engine, proj := newTestGateway(t)
	ctx := context.Background()

	_, err := gw.Create(ctx, proj, "lore")
	require.NoError(t, err)
	engine.answer = "The valley was settled in 1830."

	answer, err := gw.Query(ctx, proj, "lore", "when was the valley settled", ModeHybrid, "")
	require.NoError(t, err)
	assert.Equal(t, "The valley was settled in 1830.", answer)
}

func TestGatewayQueryEngineFailure(t *testing.T) {
	t.Parallel()
	gw, engine, proj := newTestGateway(t)
	ctx := context.Background()

	_, err := gw.Create(ctx, proj, "lore")
	require.NoError(t, err)
	engine.queryErr = errors.New("connection refused")

	_, err = gw.Query(ctx, proj, "lore", "anything", "", "")
	assert.ErrorIs(t, err, ErrBucketUnavailable)
}

func TestGatewayDeleteInvalidatesCache(t *testing.T) {
	t.Parallel()
	gw, engine, proj := newTestGateway(t)
	ctx := context.Background()

	_, err := gw.Create(ctx, proj, "lore")
	require.NoError(t, err)
	_, err = gw.IngestDocument(ctx, proj, "lore", "content")
	require.NoError(t, err)

	require.NoError(t, gw.Delete(ctx, proj, "lore"))
	assert.Equal(t, []string{"proj/lore"}, engine.dropped)

	// Recreating reinitializes the index instead of reusing the cached entry.
	_, err = gw.Create(ctx, proj, "lore")
	require.NoError(t, err)
	_, err = gw.IngestDocument(ctx, proj, "lore", "fresh content")
	require.NoError(t, err)
	assert.Len(t, engine.ensureCalls, 2) // once per create; ingests hit the cache

	_, err = gw.Query(ctx, proj, "gone", "q", "", "")
	assert.ErrorIs(t, err, ErrBucketNotFound)
}

func TestInitCacheMemoizesSuccessOnly(t *testing.T) {
	t.Parallel()
	cache := NewInitCache()
	ctx := context.Background()

	calls := 0
	failing := func(context.Context, string) error {
		calls++
		return errors.New("boom")
	}
	require.Error(t, cache.Ensure(ctx, "ns", failing))
	require.Error(t, cache.Ensure(ctx, "ns", failing))
	assert.Equal(t, 2, calls)

	ok := func(context.Context, string) error {
		calls++
		return nil
	}
	require.NoError(t, cache.Ensure(ctx, "ns", ok))
	require.NoError(t, cache.Ensure(ctx, "ns", ok))
	assert.Equal(t, 3, calls)
}

func TestInitCacheNamespacesIndependent(t *testing.T) {
	t.Parallel()
	cache := NewInitCache()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	slowDone := make(chan error, 1)

	// A stuck initialization of one namespace must not block another.
	go func() {
		slowDone <- cache.Ensure(ctx, "slow", func(context.Context, string) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	require.NoError(t, cache.Ensure(ctx, "fast", func(context.Context, string) error {
		return nil
	}))

	close(release)
	require.NoError(t, <-slowDone)
}

func TestSplitChunks(t *testing.T) {
	t.Parallel()

	assert.Nil(t, splitChunks("   "))

	short := "a short document"
	assert.Equal(t, []string{short}, splitChunks(short))

	// Paragraphs group until the budget, then start a new chunk.
	para := strings.Repeat("word ", 100) // ~500 bytes
	doc := strings.TrimSpace(strings.Repeat(para+"\n\n", 6))
	chunks := splitChunks(doc)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), chunkSize)
		assert.NotEmpty(t, strings.TrimSpace(c))
	}

	// A single oversized paragraph is split hard at the budget.
	huge := strings.Repeat("x", chunkSize*2+10)
	chunks = splitChunks(huge)
	require.Len(t, chunks, 3)
	assert.Equal(t, chunkSize, len(chunks[0]))
}

func TestKeywordTerms(t *testing.T) {
	t.Parallel()

	terms := keywordTerms(`Who is "Alex Rivera," and why?`)
	assert.Equal(t, []string{"Alex", "Rivera"}, terms)

	assert.Empty(t, keywordTerms("a an it"))
}

func TestUnavailableEngineDegrades(t *testing.T) {
	t.Parallel()
	registry, err := project.NewRegistry(t.TempDir(), log.NewNop())
	require.NoError(t, err)
	_, err = registry.Create("proj", "")
	require.NoError(t, err)

	gw := NewGateway(registry, UnavailableEngine{}, NewInitCache(), log.NewNop())
	ctx := context.Background()

	// Creation and deletion treat index maintenance as best effort.
	_, err = gw.Create(ctx, "proj", "research")
	require.NoError(t, err)

	_, err = gw.IngestDocument(ctx, "proj", "research", "some content")
	assert.ErrorIs(t, err, ErrBucketUnavailable)

	_, err = gw.Query(ctx, "proj", "research", "anything", "", "")
	assert.ErrorIs(t, err, ErrBucketUnavailable)

	require.NoError(t, gw.Delete(ctx, "proj", "research"))
}
