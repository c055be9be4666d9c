package ipc

import (
	"ytauto/internal/daemon"
	"ytauto/internal/queue"
)

// StartRequest starts the orchestrator inside a running daemon process.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the orchestrator. Force cancels in-flight jobs at once;
// otherwise the daemon waits up to GraceSeconds before cancelling them.
// Shutdown additionally asks the daemon process to exit.
type StopRequest struct {
	Force        bool `json:"force"`
	GraceSeconds int  `json:"grace_seconds"`
	Shutdown     bool `json:"shutdown"`
}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse wraps the daemon status snapshot.
type StatusResponse struct {
	daemon.Status
}

// EnqueueRequest adds a manual job for a line.
type EnqueueRequest struct {
	Line string `json:"line"`
}

// EnqueueResponse carries the new job id.
type EnqueueResponse struct {
	ID string `json:"id"`
}

// RunRequest enqueues a job and blocks until it finishes. A zero timeout
// uses the orchestrator default.
type RunRequest struct {
	Line           string `json:"line"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RunResponse carries the job's record when the call returned. TimedOut is
// set when the job was still running at the deadline.
type RunResponse struct {
	Job      queue.Record `json:"job"`
	TimedOut bool         `json:"timed_out"`
}

// RunAllRequest runs one job for every line whose schedule is not paused.
type RunAllRequest struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

// RunAllResponse carries every job's record when the call returned.
type RunAllResponse struct {
	Jobs     []queue.Record `json:"jobs"`
	TimedOut bool           `json:"timed_out"`
}

// CancelRequest cancels a queued or running job.
type CancelRequest struct {
	ID string `json:"id"`
}

// CancelResponse acknowledges the cancellation request.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// JobRequest fetches one job.
type JobRequest struct {
	ID string `json:"id"`
}

// JobResponse contains one job.
type JobResponse struct {
	Job queue.Record `json:"job"`
}

// JobsRequest lists recent jobs, optionally for one line.
type JobsRequest struct {
	Line  string `json:"line"`
	Limit int    `json:"limit"`
}

// JobsResponse contains recent jobs, newest first.
type JobsResponse struct {
	Jobs []queue.Record `json:"jobs"`
}

// ScheduleRequest pauses or resumes a line's schedule.
type ScheduleRequest struct {
	Line    string `json:"line"`
	Enabled bool   `json:"enabled"`
}

// ScheduleResponse acknowledges a schedule change.
type ScheduleResponse struct {
	Line    string `json:"line"`
	Enabled bool   `json:"enabled"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
