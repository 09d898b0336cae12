package ledger

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobDone       JobStatus = "DONE"
	JobFailed     JobStatus = "FAILED"
)

// ErrInvalidTransition is returned for any move the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid import job transition")

// Terminal reports whether no further change is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// CanTransitionTo encodes PENDING -> PROCESSING -> {DONE, FAILED}. A pending
// job may also fail directly when the pipeline cannot start.
func (s JobStatus) CanTransitionTo(to JobStatus) bool {
	switch s {
	case JobPending:
		return to == JobProcessing || to == JobFailed
	case JobProcessing:
		return to == JobDone || to == JobFailed
	default:
		return false
	}
}

// Transition moves the job to a new status. The message is only recorded
// for FAILED.
func (j *ImportJob) Transition(to JobStatus, message string, at time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, j.ID, j.Status)
	}
	if !j.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidTransition, j.Status, to, j.ID)
	}
	j.Status = to
	if to == JobFailed {
		j.ErrorMessage = message
	}
	j.UpdatedAt = at
	return nil
}
