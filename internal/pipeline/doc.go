// Package pipeline runs the ordered stages of one content line for a job.
//
// Each StageSpec pairs a fallback chain of providers with an invoke function
// and an optional validation gate. Produce walks the stages in order, moves
// the job through its state machine, and stops at the first irrecoverable
// failure without rolling back earlier artifacts. Provider calls run on a
// context detached from job cancellation; a cancelled job stops waiting and
// drops whatever the provider eventually returns.
package pipeline
