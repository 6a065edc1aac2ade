// ABOUTME: Package logger for the network sink
// ABOUTME: Disabled by default until the application installs a backend
package netsink

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger sets the logger used by the network sink
func UseLogger(logger slog.Logger) {
	log = logger
}
