// ABOUTME: Package logger for file sources
// ABOUTME: Disabled by default until the application installs a backend
package decode

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger sets the logger used by sources
func UseLogger(logger slog.Logger) {
	log = logger
}
