// Package logging provides structured logging for the ACS gateway.
//
// It wraps log/slog so every component logs the same way:
//
//   - JSON output for production, text for development
//   - Default fields (service, version) on all entries
//   - Component-tagged child loggers
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log controller passwords, session tokens or Authorization headers.
package logging
