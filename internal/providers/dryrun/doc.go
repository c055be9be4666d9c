// Package dryrun provides the simulator: a provider implementing every
// capability with deterministic placeholder output. It backs the default
// configuration and dry-run mode, where every stage chain is replaced by it.
package dryrun
