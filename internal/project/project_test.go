package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillworks/quill/internal/log"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(t.TempDir(), log.NewNop())
	require.NoError(t, err)
	return r
}

func TestRegistry_CreateAndGet(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	meta, err := r.Create("my novel", "a story about trust")
	require.NoError(t, err)
	assert.Equal(t, "my_novel", meta.Name)
	assert.Equal(t, "a story about trust", meta.Description)
	assert.False(t, meta.Created.IsZero())

	// The durable layout: directory + buckets/ + metadata.json.
	dir, err := r.RequireDir("my_novel")
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dir, "buckets"))
	assert.FileExists(t, filepath.Join(dir, "metadata.json"))

	got, err := r.Get("my_novel")
	require.NoError(t, err)
	assert.Equal(t, meta.Name, got.Name)
}

func TestRegistry_CreateDuplicate(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	_, err := r.Create("dup", "")
	require.NoError(t, err)

	_, err = r.Create("dup", "")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRegistry_CreateInvalidName(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	_, err := r.Create("..", "")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestRegistry_CreateFromTemplate(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	tpl, err := LookupTemplate("screenplay")
	require.NoError(t, err)

	meta, err := r.CreateFromTemplate("pilot", "first episode", tpl)
	require.NoError(t, err)
	assert.Equal(t, "screenplay", meta.Template)
	assert.ElementsMatch(t, []string{"character_research", "plot_devices", "dialogue_samples"}, meta.Buckets)
	assert.Contains(t, meta.Tables, "characters")

	// Template buckets get their directories up front.
	dir, err := r.RequireDir("pilot")
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dir, "buckets", "character_research"))
}

func TestRegistry_GetMissing(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_GetWithoutMetadata(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	// Simulate a project created by older tooling: bare directory.
	require.NoError(t, os.MkdirAll(filepath.Join(r.Root(), "legacy"), 0o750))

	meta, err := r.Get("legacy")
	require.NoError(t, err)
	assert.Equal(t, "legacy", meta.Name)
}

func TestRegistry_List(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	_, err := r.Create("beta", "")
	require.NoError(t, err)
	_, err = r.Create("alpha", "")
	require.NoError(t, err)

	projects, err := r.List()
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "alpha", projects[0].Name)
	assert.Equal(t, "beta", projects[1].Name)
}

func TestRegistry_Delete(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	_, err := r.Create("gone", "")
	require.NoError(t, err)
	require.NoError(t, r.Delete("gone"))

	_, err = r.Get("gone")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again distinguishes "already gone" from "gone by my action".
	assert.ErrorIs(t, r.Delete("gone"), ErrNotFound)
}

func TestRegistry_DeclareAndForget(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	_, err := r.Create("p", "")
	require.NoError(t, err)

	require.NoError(t, r.DeclareTable("p", "characters"))
	require.NoError(t, r.DeclareTable("p", "characters")) // idempotent
	require.NoError(t, r.DeclareBucket("p", "research"))

	meta, err := r.Get("p")
	require.NoError(t, err)
	assert.Equal(t, []string{"characters"}, meta.Tables)
	assert.Equal(t, []string{"research"}, meta.Buckets)

	require.NoError(t, r.ForgetTable("p", "characters"))
	require.NoError(t, r.ForgetBucket("p", "research"))

	meta, err = r.Get("p")
	require.NoError(t, err)
	assert.Empty(t, meta.Tables)
	assert.Empty(t, meta.Buckets)
}

func TestRegistry_ConcurrentDeclares(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	_, err := r.Create("p", "")
	require.NoError(t, err)

	// Concurrent read-modify-writes of metadata.json must not lose updates.
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.DeclareTable("p", fmt.Sprintf("table_%d", i)))
		}()
	}
	wg.Wait()

	meta, err := r.Get("p")
	require.NoError(t, err)
	assert.Len(t, meta.Tables, 8)
}
