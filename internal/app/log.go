// ABOUTME: Package logger for the player application
// ABOUTME: Disabled by default until the CLI installs a backend
package app

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger sets the logger used by the player
func UseLogger(logger slog.Logger) {
	log = logger
}
