// ABOUTME: Package logger for mDNS discovery
// ABOUTME: Disabled by default until the application installs a backend
package discovery

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger sets the logger used by discovery
func UseLogger(logger slog.Logger) {
	log = logger
}
