// Package logging provides structured logging for the farm control core.
//
// It wraps log/slog so every package logs with the same handler, level
// filtering and default fields (service, version).
//
// Configuration lives in the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Domain packages do not import this package. They declare a small Logger
// interface (Debug, Info, Warn, Error) which *Logger satisfies through the
// embedded slog.Logger.
package logging
