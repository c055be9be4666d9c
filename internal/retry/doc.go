// Package retry re-runs a failing operation under an exponential backoff
// policy.
//
// The policy is pure configuration; Execute owns no state beyond a single
// call, so one Policy value can guard any number of concurrent operations.
// Only errors whose services.Kind is listed as retryable are re-attempted.
package retry
