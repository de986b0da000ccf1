package logging

import (
	"io"
	"log/slog"

	"github.com/tropicstracker/stormproxy/internal/config"
)

// EventLogs bundles the proxy's append-only operational logs. Errors holds
// upstream and processing failures (api_errors.log); Security holds probes,
// rate-limit violations, and admin denials (security.log).
type EventLogs struct {
	Errors   *slog.Logger
	Security *slog.Logger

	closers []io.Closer
}

// discardLogs returns EventLogs that drop everything. Used when the log
// directory cannot be created. Logging is best effort, never fatal.
func discardLogs() *EventLogs {
	discard := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return &EventLogs{Errors: discard, Security: discard}
}

// NewEventLogs opens rotating JSON logs in cfg.Dir. Failures degrade to
// discarding loggers rather than returning an error: the proxy must keep
// answering requests with or without its logs.
func NewEventLogs(cfg config.LoggingConfig, fallback *slog.Logger) *EventLogs {
	el := &EventLogs{}

	errW, err := NewRotatingWriter(cfg.Dir+"/api_errors.log", cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	if err != nil {
		fallback.Warn("error log unavailable, discarding", "error", err)
		return discardLogs()
	}
	secW, err := NewRotatingWriter(cfg.Dir+"/security.log", cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	if err != nil {
		fallback.Warn("security log unavailable, discarding", "error", err)
		errW.Close()
		return discardLogs()
	}

	el.Errors = slog.New(slog.NewJSONHandler(errW, nil))
	el.Security = slog.New(slog.NewJSONHandler(secW, nil))
	el.closers = []io.Closer{errW, secW}
	return el
}

// Close flushes and closes the underlying log files.
func (el *EventLogs) Close() {
	for _, c := range el.closers {
		c.Close() //nolint:errcheck
	}
}
