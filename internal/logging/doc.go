// Package logging assembles structured slog loggers and formatting helpers used
// across ytauto.
//
// It owns the console and JSON handlers, the rotating log file, level
// plumbing, and the context-aware helpers that tag log lines with job IDs,
// lines, stages, and providers. NewNop gives tests and wiring code a logger
// that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits the same field names.
package logging
