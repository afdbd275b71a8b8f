package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/quillworks/quill/api"
	"github.com/quillworks/quill/internal/academic"
	"github.com/quillworks/quill/internal/assemble"
	"github.com/quillworks/quill/internal/brainstorm"
	"github.com/quillworks/quill/internal/bucket"
	"github.com/quillworks/quill/internal/config"
	"github.com/quillworks/quill/internal/export"
	"github.com/quillworks/quill/internal/generate"
	"github.com/quillworks/quill/internal/ingest"
	"github.com/quillworks/quill/internal/log"
	"github.com/quillworks/quill/internal/observability"
	"github.com/quillworks/quill/internal/project"
	"github.com/quillworks/quill/internal/store"
	"github.com/quillworks/quill/internal/version"
)

// Setup builds the full application graph. The vector database is
// optional: when the pool cannot be established, buckets run degraded
// behind an unavailable engine and everything else keeps working.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing attaches to Genkit's TracerProvider, so it must run before
	// genkit.Init.
	shutdown, err := observability.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.tracingShutdown = shutdown

	g, embedder, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	registry, err := project.NewRegistry(cfg.ProjectsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening projects root: %w", err)
	}
	a.Registry = registry

	a.Store = store.New(registry, logger)
	a.Ledger = version.NewLedger(registry, logger)

	pool, engine := provideRetrieval(ctx, cfg, g, embedder, logger)
	a.Pool = pool
	a.Buckets = bucket.NewGateway(registry, engine, bucket.NewInitCache(), logger)

	a.Ingest = ingest.New(a.Store, a.Buckets, logger)
	a.Exporter = export.New(registry, a.Store, a.Ledger, a.Buckets, logger)

	invoker := provideInvoker(cfg, g, logger)
	assembler := assemble.New(a.Ledger, a.Store, a.Buckets, logger)
	a.Pipeline = generate.NewPipeline(assembler, invoker, a.Ledger, logger)
	a.Brainstorm = brainstorm.New(a.Store, a.Buckets, invoker, a.Ledger, logger)
	a.Academic = academic.NewGenerator(a.Pipeline, a.Buckets, a.Store, a.Ledger, logger)

	server, err := api.NewServer(api.ServerConfig{
		Logger:      logger,
		Registry:    a.Registry,
		Store:       a.Store,
		Ledger:      a.Ledger,
		Buckets:     a.Buckets,
		Ingest:      a.Ingest,
		Exporter:    a.Exporter,
		Pipeline:    a.Pipeline,
		Brainstorm:  a.Brainstorm,
		Academic:    a.Academic,
		Pool:        pool,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
	})
	if err != nil {
		return nil, fmt.Errorf("building API server: %w", err)
	}
	a.Server = server

	return a, nil
}

// provideGenkit initializes Genkit with the configured model provider and
// returns the embedder used by the retrieval engine.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, ai.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		plugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(plugin))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration.
		plugin.DefineModel(g, ollama.ModelDefinition{Name: cfg.ModelName, Type: "chat"}, nil)
		if cfg.FallbackModel != "" {
			plugin.DefineModel(g, ollama.ModelDefinition{Name: cfg.FallbackModel, Type: "chat"}, nil)
		}
		plugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit", "provider", cfg.Provider, "model", cfg.ModelName, "host", cfg.OllamaHost)
		return g, ollama.Embedder(g, cfg.OllamaHost), nil

	default: // gemini / googleai
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with googleai provider")
		}
		embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
		logger.Info("initialized genkit", "provider", cfg.Provider, "model", cfg.ModelName)
		return g, embedder, nil
	}
}

// provideRetrieval connects the pgvector pool and builds the retrieval
// engine. Connection failures are not fatal: the service starts with an
// unavailable engine and bucket operations report the outage per request.
func provideRetrieval(ctx context.Context, cfg *config.Config, g *genkit.Genkit, embedder ai.Embedder, logger log.Logger) (*pgxpool.Pool, bucket.Engine) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		logger.Warn("invalid postgres configuration, retrieval disabled", "error", err)
		return nil, bucket.UnavailableEngine{}
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Warn("creating postgres pool failed, retrieval disabled", "error", err)
		return nil, bucket.UnavailableEngine{}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		logger.Warn("postgres unreachable, retrieval disabled", "error", err)
		return nil, bucket.UnavailableEngine{}
	}

	engine, err := bucket.NewPGEngine(pool, embedder, g, cfg.FullModelName(cfg.ModelName), cfg.RetrievalTopK, logger)
	if err != nil {
		pool.Close()
		logger.Warn("building retrieval engine failed, retrieval disabled", "error", err)
		return nil, bucket.UnavailableEngine{}
	}

	logger.Info("retrieval engine ready", "top_k", cfg.RetrievalTopK)
	return pool, engine
}

// provideInvoker builds the model invoker with the configured rate limit
// and timeout.
func provideInvoker(cfg *config.Config, g *genkit.Genkit, logger log.Logger) *generate.Invoker {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.GenerateRatePerSecond > 0 {
		burst := cfg.GenerateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.GenerateRatePerSecond), burst)
	}

	fallback := ""
	if cfg.FallbackModel != "" {
		fallback = cfg.FullModelName(cfg.FallbackModel)
	}

	timeout := time.Duration(cfg.GenerateTimeoutSeconds) * time.Second

	return generate.NewInvoker(g, cfg.FullModelName(cfg.ModelName), fallback, limiter, timeout, logger)
}
