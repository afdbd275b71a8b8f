package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillworks/quill/internal/config"
)

// Version information (injected at build time via ldflags)
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersion()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion() error {
	fmt.Printf("Quill %s\n", AppVersion)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Println("Configuration:")
	fmt.Printf("  Listen address: %s\n", cfg.HTTPAddr)
	fmt.Printf("  Projects directory: %s\n", cfg.ProjectsDir)
	fmt.Printf("  Provider: %s\n", cfg.Provider)
	fmt.Printf("  Model: %s\n", cfg.ModelName)
	if cfg.FallbackModel != "" {
		fmt.Printf("  Fallback model: %s\n", cfg.FallbackModel)
	}

	// Check API key from environment without printing the full value.
	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey != "" && len(geminiKey) > 8 {
		fmt.Printf("  GEMINI_API_KEY: %s...%s (configured)\n",
			geminiKey[:4],
			geminiKey[len(geminiKey)-4:])
	} else if cfg.Provider != config.ProviderOllama {
		fmt.Println("  GEMINI_API_KEY: Not set")
		fmt.Println()
		fmt.Println("Hint: Please set GEMINI_API_KEY environment variable")
		fmt.Println("  export GEMINI_API_KEY=your-api-key")
	}

	return nil
}
