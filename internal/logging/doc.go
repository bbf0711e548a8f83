// Package logging assembles structured slog loggers and formatting helpers used
// across keyredeem.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so per-key code automatically
// tags log lines with run IDs, gamekeys, and key names. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
