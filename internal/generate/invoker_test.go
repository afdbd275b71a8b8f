package generate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/testutil"
)

func TestInvokeUnconfigured(t *testing.T) {
	t.Parallel()

	inv := NewInvoker(nil, "", "", nil, 0, log.NewNop())
	got := inv.Invoke(context.Background(), "anything")

	assert.Equal(t, StatusError, got.Status)
	assert.ErrorIs(t, got.Err, ErrBackendUnconfigured)
	assert.True(t, strings.HasPrefix(got.Text, "Generation failed:"), got.Text)
}

func TestInvokePrimarySuccess(t *testing.T) {
	t.Parallel()
	g, model, _ := testutil.SetupMockGenkit(t)
	model.AddResponse("dragon", "A dragon circles the tower.")

	inv := NewInvoker(g, "mock/primary", "", nil, time.Minute, log.NewNop())
	got := inv.Invoke(context.Background(), "Write about the dragon.")

	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, "mock/primary", got.Backend)
	assert.Equal(t, "A dragon circles the tower.", got.Text)
	assert.NoError(t, got.Err)
}

func TestInvokeFallsBackOnce(t *testing.T) {
	t.Parallel()
	g, primary, _ := testutil.SetupMockGenkit(t)
	primary.SetError(errors.New("quota exceeded"))
	fallback := testutil.SetupMockFallback(g)
	fallback.AddResponse("dragon", "Fallback dragon tale.")

	inv := NewInvoker(g, "mock/primary", "mock/fallback", nil, time.Minute, log.NewNop())
	got := inv.Invoke(context.Background(), "Write about the dragon.")

	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, "mock/fallback", got.Backend)
	assert.Equal(t, "Fallback dragon tale.", got.Text)
}

func TestInvokeBothBackendsFail(t *testing.T) {
	t.Parallel()
	g, primary, _ := testutil.SetupMockGenkit(t)
	primary.SetError(errors.New("quota exceeded"))
	fallback := testutil.SetupMockFallback(g)
	fallback.SetError(errors.New("also down"))

	inv := NewInvoker(g, "mock/primary", "mock/fallback", nil, time.Minute, log.NewNop())
	got := inv.Invoke(context.Background(), "prompt")

	assert.Equal(t, StatusError, got.Status)
	assert.ErrorIs(t, got.Err, ErrBackendFailed)
	assert.Contains(t, got.Text, "quota exceeded")
	assert.Contains(t, got.Text, "also down")
}

func TestInvokeEmptyResultFlagged(t *testing.T) {
	t.Parallel()
	g, _, _ := testutil.SetupMockGenkit(t)
	empty := testutil.NewMockModel("")
	empty.Register(g, "mock/empty")

	inv := NewInvoker(g, "mock/empty", "", nil, time.Minute, log.NewNop())
	got := inv.Invoke(context.Background(), "prompt")

	assert.Equal(t, StatusEmpty, got.Status)
	assert.ErrorIs(t, got.Err, ErrEmptyResult)
	assert.NotEmpty(t, got.Text)
}

func TestInvokeRateLimited(t *testing.T) {
	t.Parallel()
	g, _, _ := testutil.SetupMockGenkit(t)

	// Burst of one: the second call has to wait an hour and hits the timeout.
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	inv := NewInvoker(g, "mock/primary", "", limiter, 50*time.Millisecond, log.NewNop())

	first := inv.Invoke(context.Background(), "prompt")
	require.Equal(t, StatusSuccess, first.Status)

	second := inv.Invoke(context.Background(), "prompt")
	assert.Equal(t, StatusError, second.Status)
	assert.ErrorIs(t, second.Err, ErrBackendFailed)
}
