package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillworks/quill/internal/bucket"
	"github.com/quillworks/quill/internal/config"
	"github.com/quillworks/quill/internal/log"
)

func TestCloseOnEmptyApp(t *testing.T) {
	t.Parallel()

	a := &App{Logger: log.NewNop()}
	assert.NoError(t, a.Close())
}

func TestProvideInvokerDefaults(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Provider:  config.ProviderGemini,
		ModelName: "gemini-2.5-flash",
	}

	inv := provideInvoker(cfg, nil, log.NewNop())
	require.NotNil(t, inv)

	// Unconfigured backend fails fast rather than blocking on the limiter.
	result := inv.Invoke(context.Background(), "prompt")
	assert.Equal(t, "error", result.Status)
}

func TestProvideInvokerRateLimit(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Provider:               config.ProviderGemini,
		ModelName:              "gemini-2.5-flash",
		FallbackModel:          "gemini-2.5-flash-lite",
		GenerateRatePerSecond:  2,
		GenerateBurst:          5,
		GenerateTimeoutSeconds: 30,
	}

	inv := provideInvoker(cfg, nil, log.NewNop())
	require.NotNil(t, inv)
}

func TestProvideRetrievalUnreachable(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		PostgresHost:     "127.0.0.1",
		PostgresPort:     1, // nothing listens here
		PostgresUser:     "quill",
		PostgresPassword: "x",
		PostgresDBName:   "quill",
		PostgresSSLMode:  "disable",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, engine := provideRetrieval(ctx, cfg, nil, nil, log.NewNop())
	assert.Nil(t, pool)
	assert.IsType(t, bucket.UnavailableEngine{}, engine)
}
