package scrape

import "errors"

// Contract errors returned by the job manager and export coordinator. Failures
// intrinsic to a job's own work are recorded on the record instead.
var (
	// ErrJobNotFound reports an unknown job id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal reports a cancel against an already finished job.
	ErrJobTerminal = errors.New("job already finished")
	// ErrJobRunning reports a delete against a job still executing.
	ErrJobRunning = errors.New("job is running")
	// ErrJobNotReady reports an export against a job that has not completed.
	ErrJobNotReady = errors.New("job has not completed")
	// ErrQueueFull reports a submit rejected because the pending queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")
	// ErrUserNotFound reports a scrape against a nonexistent GitHub user.
	ErrUserNotFound = errors.New("user not found")
)
