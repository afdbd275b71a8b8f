package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quillworks/quill/internal/app"
	"github.com/quillworks/quill/internal/config"
	"github.com/quillworks/quill/internal/log"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve [addr]",
	Short: "Start the HTTP API server",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (host:port), overrides config")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.HTTPAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	if len(args) > 0 {
		addr = args[0]
	}
	if err := validateAddr(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}

	logger := newLogger()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting quill", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	return a.Server.Run(ctx, addr, logger)
}

// newLogger builds the process logger. The DEBUG environment variable
// switches on debug output.
func newLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	return log.New(cfg)
}

// validateAddr validates a host:port listen address.
func validateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be in host:port format: %w", err)
	}

	if host != "" && host != "localhost" {
		if ip := net.ParseIP(host); ip == nil {
			if strings.ContainsAny(host, " \t\n") {
				return fmt.Errorf("invalid host: %s", host)
			}
		}
	}

	if port == "" {
		return fmt.Errorf("port is required")
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric: %w", err)
	}
	if portNum < 0 || portNum > 65535 {
		return fmt.Errorf("port must be 0-65535 (0 = auto-assign), got %d", portNum)
	}

	return nil
}
