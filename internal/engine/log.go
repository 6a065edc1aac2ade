// ABOUTME: Package logger for the mix engine
// ABOUTME: Disabled by default until the application installs a backend
package engine

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger sets the logger used by the mix engine
func UseLogger(logger slog.Logger) {
	log = logger
}
