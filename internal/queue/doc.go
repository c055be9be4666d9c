// Package queue holds the job model and the in-memory queue feeding the
// worker pool.
//
// A Job moves Pending -> Running -> {Succeeded, Failed, Cancelled}; a job that
// never started may go straight to Cancelled. Terminal jobs reject every
// transition, and Done() closes exactly once.
//
// Queue orders jobs by priority (higher first) and then by enqueue order. A
// capacity bound either rejects with ErrQueueFull or blocks the caller,
// depending on FullPolicy. Shutdown stops intake; Dequeue returns ErrClosed
// once the remaining jobs are gone.
package queue
