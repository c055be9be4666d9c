// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Job
// records travel as queue.Record so the CLI renders the same shape the HTTP
// API returns.
package ipc
