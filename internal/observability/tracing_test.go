package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillworks/quill/internal/config"
	"github.com/quillworks/quill/internal/log"
)

func TestSetupDisabled(t *testing.T) {
	t.Parallel()

	cfg := config.TracingConfig{Enabled: false}

	ctx := context.Background()
	shutdown, err := Setup(ctx, cfg, log.NewNop())

	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(ctx))
}

func TestSetupDefaultEndpoint(t *testing.T) {
	t.Parallel()

	cfg := config.TracingConfig{
		Enabled:     true,
		Endpoint:    "", // empty should use the default
		Environment: "test",
		ServiceName: "test-service",
	}

	ctx := context.Background()
	shutdown, err := Setup(ctx, cfg, log.NewNop())

	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(ctx))
}

func TestSetupCustomEndpoint(t *testing.T) {
	t.Parallel()

	cfg := config.TracingConfig{
		Enabled:     true,
		Endpoint:    "custom-host:4318",
		Environment: "staging",
		ServiceName: "custom-service",
	}

	ctx := context.Background()
	shutdown, err := Setup(ctx, cfg, log.NewNop())

	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(ctx))
}

func TestSetupCollectorUnavailable(t *testing.T) {
	t.Parallel()

	// Exporter creation succeeds even when nothing listens on the
	// endpoint; span export fails silently later.
	cfg := config.TracingConfig{
		Enabled:     true,
		Endpoint:    "localhost:1",
		Environment: "test",
		ServiceName: "graceful-test",
	}

	ctx := context.Background()
	shutdown, err := Setup(ctx, cfg, log.NewNop())

	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(ctx))
}

func TestDefaultEndpointValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "localhost:4318", DefaultEndpoint)
}
