// Package preflight provides readiness checks for the filesystem paths and
// providers that ytauto depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll before starting the orchestrator and logs each
//     failure as a warning; jobs that need a broken provider still fail with a
//     classified error.
//   - The CLI "ytauto status" command prints the results, optionally with a
//     live LLM ping.
package preflight
