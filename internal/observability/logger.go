// Package observability holds the process-wide logger constructor, the
// Prometheus metrics and their HTTP exposition endpoint.
package observability

import (
	"log/slog"
	"os"
)

// NewLogger builds the structured JSON logger the whole process shares.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
