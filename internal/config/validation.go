package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	// 0. Check for nil config (defensive programming)
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider validation
	validProviders := []string{ProviderGemini, ProviderGoogleAI, ProviderOllama}
	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidProvider, c.Provider, validProviders)
	}

	// 2. API key validation: Genkit reads GEMINI_API_KEY directly, so check
	// its presence here for Gemini-backed providers (fail-fast at startup
	// instead of on the first generation request).
	if c.Provider == ProviderGemini || c.Provider == ProviderGoogleAI {
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	}

	if c.Provider == ProviderOllama && c.OllamaHost == "" {
		return fmt.Errorf("%w: ollama_host cannot be empty", ErrInvalidOllamaHost)
	}

	// 3. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	// Reference: Gemini API documentation
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	// MaxTokens range: 1 to 2097152 (Gemini 2.5 max context window)
	// Reference: https://ai.google.dev/gemini-api/docs/models
	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// 4. Generation bounds
	if c.GenerateTimeoutSeconds < 1 || c.GenerateTimeoutSeconds > 600 {
		return fmt.Errorf("%w: generate_timeout_seconds must be between 1 and 600, got %d",
			ErrInvalidTimeout, c.GenerateTimeoutSeconds)
	}

	// 5. Projects root
	if c.ProjectsDir == "" {
		return fmt.Errorf("%w: projects_dir cannot be empty", ErrInvalidProjectsDir)
	}

	// 6. Retrieval configuration validation
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	if c.RetrievalTopK <= 0 || c.RetrievalTopK > 20 {
		return fmt.Errorf("%w: must be between 1 and 20, got %d", ErrInvalidTopK, c.RetrievalTopK)
	}

	// 7. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}

	// Warn if using default dev password (but don't block - user might be in dev)
	if c.PostgresPassword == "quill_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Validate password strength (minimum 8 characters)
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// 8. PostgreSQL SSL mode validation
	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}

	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v\n"+
			"Note: 'allow' and 'prefer' modes are deprecated (vulnerable to MITM attacks)",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
