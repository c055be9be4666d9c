// Package daemon coordinates the long-running ytauto process.
//
// It wraps the orchestrator in a single-instance lifecycle guarded by a flock
// file in the state directory, merges live and archived job listings, runs
// preflight checks for status reports, and sends run summaries through the
// notifier. The HTTP API (chi router, bearer auth under /api, unauthenticated
// /metrics) lives here as well so it can share the daemon's error mapping.
//
// Keep orchestration logic in workflow: the daemon focuses on startup,
// shutdown, and the surfaces clients talk to.
package daemon
