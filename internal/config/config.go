// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.quill/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Server: listen address, CORS origins, proxy trust
//   - Projects: root directory holding per-project SQLite stores and buckets
//   - AI: provider, model, fallback model, temperature, max tokens, embedder
//   - Storage: PostgreSQL connection for the retrieval engine (see storage.go)
//   - Tracing: OTLP trace export (see tracing.go)
//
// Security: Sensitive data (passwords) are never logged; config directory uses 0750 permissions.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidProjectsDir indicates the projects directory is invalid.
	ErrInvalidProjectsDir = errors.New("invalid projects directory")

	// ErrInvalidTimeout indicates a timeout value is out of range.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidTopK indicates the retrieval top-k value is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation to 768 via OutputDimensionality (Matryoshka Representation
	// Learning). The pgvector chunk schema uses 768 dimensions.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultGenerateTimeoutSeconds bounds a single generation invocation.
	DefaultGenerateTimeoutSeconds = 60

	// DefaultRetrievalTopK is the default number of chunks per bucket query.
	DefaultRetrievalTopK = 5
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Server configuration (serve mode)
	HTTPAddr    string   `mapstructure:"http_addr" json:"http_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For headers (set true behind reverse proxy)

	// ProjectsDir is the root directory holding one subdirectory per project.
	ProjectsDir string `mapstructure:"projects_dir" json:"projects_dir"`

	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"`             // "gemini" (default), "ollama"
	ModelName     string  `mapstructure:"model_name" json:"model_name"`         // Model identifier (e.g., "gemini-2.5-flash", "llama3.3")
	FallbackModel string  `mapstructure:"fallback_model" json:"fallback_model"` // Secondary model tried once when the primary fails; empty disables
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Generation bounds
	GenerateTimeoutSeconds int     `mapstructure:"generate_timeout_seconds" json:"generate_timeout_seconds"`
	GenerateRatePerSecond  float64 `mapstructure:"generate_rate_per_second" json:"generate_rate_per_second"`
	GenerateBurst          int     `mapstructure:"generate_burst" json:"generate_burst"`

	// Retrieval configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	RetrievalTopK int    `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`

	// Storage configuration for the retrieval engine (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Tracing configuration (see tracing.go for type definition)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.quill/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".quill")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	// Set default values
	setDefaults(configDir)

	// Bind environment variables
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(configDir string) {
	// Server defaults
	viper.SetDefault("http_addr", "localhost:8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)

	// Projects root
	viper.SetDefault("projects_dir", filepath.Join(configDir, "projects"))

	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("fallback_model", "gemini-2.5-flash-lite")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 4096)

	// Ollama defaults
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Generation bounds
	viper.SetDefault("generate_timeout_seconds", DefaultGenerateTimeoutSeconds)
	viper.SetDefault("generate_rate_per_second", 2.0)
	viper.SetDefault("generate_burst", 4)

	// Retrieval defaults
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("retrieval_top_k", DefaultRetrievalTopK)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "quill")
	viper.SetDefault("postgres_password", "quill_dev_password")
	viper.SetDefault("postgres_db_name", "quill")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "quill")
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is read directly by Genkit (not via Viper); its presence is
// checked in cfg.Validate() when the provider requires it.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// Server overrides
	mustBind("http_addr", "QUILL_HTTP_ADDR")
	mustBind("cors_origins", "QUILL_CORS_ORIGINS")
	mustBind("trust_proxy", "QUILL_TRUST_PROXY")

	// Projects root override
	mustBind("projects_dir", "QUILL_PROJECTS_DIR")

	// AI provider and model overrides
	mustBind("provider", "QUILL_PROVIDER")
	mustBind("model_name", "QUILL_MODEL_NAME")
	mustBind("fallback_model", "QUILL_FALLBACK_MODEL")
	mustBind("ollama_host", "QUILL_OLLAMA_HOST")

	// Tracing
	mustBind("tracing.enabled", "QUILL_TRACING_ENABLED")
	mustBind("tracing.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching
// Previous attempts:
// - "****" failed: passwords with "*" leaked
// - "[REDACTED]" failed: passwords with "A", "D", "E", etc. leaked
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
// For longer secrets, shows partial chars with unique separator.
//
// THREAT MODEL: This defends against accidental logging of real secrets.
// It is NOT cryptographically secure - if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	// Fully mask short secrets to prevent substring matching attacks
	// Example attack: input "00***" → output "00******" contains "00***"
	if len(s) <= 8 {
		return maskedValue
	}
	// For longer secrets, show first/last 2 chars for debug utility
	// Example: "my_long_secret_key_123" → "my<████████>23"
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//
// When adding new sensitive fields, update this method or the nested struct's MarshalJSON.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3".
// If name already contains a "/", it is returned as-is.
func (c *Config) FullModelName(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + name
	default:
		return ProviderGoogleAI + "/" + name
	}
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
