// ABOUTME: Package logger for clock and time model
// ABOUTME: Disabled by default until the application installs a backend
package sync

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger sets the package logger
func UseLogger(logger slog.Logger) {
	log = logger
}
