//go:build windows

package config

// registerSignalHandler does nothing on Windows, which has no SIGHUP.
// Config edits are still picked up by the file watcher.
func (r *Reloader) registerSignalHandler() {
	r.logger.Info("signal-driven config reload unavailable on this platform, relying on the file watcher")
}
