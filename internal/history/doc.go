// Package history keeps a SQLite record of finished jobs.
//
// The Store is wired as a result sink: every terminal job snapshot is upserted
// once, and the CLI and HTTP API read it back for job listings and per-line
// statistics. History is observational only; nothing here influences job
// state.
package history
