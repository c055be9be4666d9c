// Package logs tails the daemon's JSON log file for `ytauto logs`.
//
// It reads with bounded memory, supports negative offsets for "last N lines",
// and polls in follow mode until the caller's context ends. MatchFields narrows
// output to one job or line using the structured attributes the daemon writes.
package logs
