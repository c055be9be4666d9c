// Package fallback runs a stage against an ordered list of providers, each
// guarded by its own retry policy, until one succeeds.
package fallback
