package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrNotRetryable = errors.New("job is not in a retryable state")
	ErrCancelled    = errors.New("cancelled by user")
	ErrInterrupted  = errors.New("interrupted by restart")
)

// DuplicateJobError is returned when a job of the same type and target is
// already queued or processing.
type DuplicateJobError struct {
	Type       string
	Target     string
	ExistingID string
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("%s job for %s already active (job_id=%s)", e.Type, e.Target, e.ExistingID)
}

func IsDuplicate(err error) bool {
	var dup *DuplicateJobError
	return errors.As(err, &dup)
}
