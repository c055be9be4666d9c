// Package workflow runs content-line pipelines against the job queue.
//
// A WorkerPool owns a fixed number of goroutines that dequeue jobs, drive them
// through the line's pipeline, and hand every terminal record to the result
// sinks. The Orchestrator is the process-wide lifecycle object: it creates the
// queue, starts the pool and the scheduler, validates manual and scheduled
// enqueues against the configured lines, and on Stop cancels whatever was
// still queued so no job is left Pending or Running.
//
// Sinks (history, notifications, metrics) receive each terminal record once.
// Sink errors are logged and never change a job's state.
package workflow
