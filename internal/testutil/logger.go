package testutil

import (
	"log/slog"
)

// DiscardLogger returns a slog.Logger that drops all output. Equivalent to
// log.NewNop; kept here so test helpers stay free of internal imports.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
