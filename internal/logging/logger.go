// Package logging defines a minimal structured-logging interface used across
// the vault engine, plus a slog-backed implementation. The variadic args are
// interpreted as key–value pairs:
//
//	log.Info(ctx, "encrypted form data", "file_id", fileID)
package logging

import "context"

// Logger is a context-aware, structured logger.
type Logger interface {
	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs a warning for unusual but non-fatal conditions, including
	// every fire-and-log failure (blob cleanup, access recording).
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs a failure.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key–value pairs.
	With(args ...any) Logger
}
