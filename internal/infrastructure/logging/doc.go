// Package logging provides structured logging for Gray Logic Sync.
//
// This package wraps Go's standard log/slog package so every component
// logs the same way:
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("reconcile complete", "new", 1, "obsolete", 0)
//
// Message payloads are opaque user data and must never be logged verbatim.
package logging
