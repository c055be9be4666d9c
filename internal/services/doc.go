// Package services defines shared utilities consumed by the pipeline stages,
// the orchestrator, and provider integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, line IDs, stage and provider names,
//     and correlation identifiers for logging.
//   - The tagged failure type (Error) with its Kind/Class taxonomy and the
//     sentinel markers that let callers branch with errors.Is.
//
// Providers classify their failures here so retry, fallback, and the job
// record all agree on what a failure means.
package services
