// ABOUTME: Package logger for audio sinks
// ABOUTME: Disabled by default until the application installs a backend
package output

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger sets the logger used by sinks
func UseLogger(logger slog.Logger) {
	log = logger
}
