// Package scheduler turns per-line firing rules into enqueue calls.
//
// Rules are either calendar rules (weekday set plus time of day, evaluated in
// a configured timezone) or fixed intervals. The poll loop runs on an injected
// clock so tests drive time explicitly; Tick can also be called directly.
// Each rule fires at most once per poll window, and windows missed while the
// scheduler was stopped are not backfilled.
package scheduler
