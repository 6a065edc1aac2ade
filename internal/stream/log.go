// ABOUTME: Package logger for renderer streams
// ABOUTME: Disabled by default until the application installs a backend
package stream

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger sets the logger used by renderer streams
func UseLogger(logger slog.Logger) {
	log = logger
}
