// ABOUTME: Package logger for stream event publishing
// ABOUTME: Disabled by default until the application installs a backend
package events

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger sets the logger used by the event publisher
func UseLogger(logger slog.Logger) {
	log = logger
}
