// Command ytauto is the command-line entry point for the channel automation
// daemon.
//
// Daemon lifecycle commands (start, stop, status) manage a detached process
// over its Unix socket. Job commands (enqueue, run, cancel, jobs, show) talk
// to that daemon; run falls back to an in-process orchestrator when no daemon
// answers so a single job can be produced from a cron entry or a shell.
//
// Output is human-oriented by default. Commands that list records accept
// --json for scripting.
package main
