//go:build !permdebug

package permissions

import "log/slog"

// precondition records a caller bug. Release builds log it and the
// resolver answers None.
func precondition(msg string, args ...any) {
	slog.Warn("permissions: precondition violated: "+msg, args...)
}
