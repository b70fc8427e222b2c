package model

import (
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// allowedTransitions is the whole job lifecycle. failed -> queued is the
// explicit retry edge; nothing re-enters queued on its own.
var allowedTransitions = map[string]map[string]bool{
	"": {
		JobStatusQueued: true,
	},
	JobStatusQueued: {
		JobStatusProcessing: true,
	},
	JobStatusProcessing: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	},
	JobStatusCompleted: {},
	JobStatusFailed: {
		JobStatusQueued: true,
	},
}

func IsKnownStatus(status string) bool {
	_, ok := allowedTransitions[status]
	return ok
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func IsActiveStatus(status string) bool {
	return status == JobStatusQueued || status == JobStatusProcessing
}

func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

func TransitionJobStatus(job *Job, toStatus string) error {
	from := job.Status
	if !CanTransition(from, toStatus) {
		return fmt.Errorf("invalid job status transition: %q -> %q (job_id=%s type=%s)", from, toStatus, job.ID, job.Type)
	}
	job.Status = toStatus
	return nil
}

// Start moves a queued job to processing.
func (j *Job) Start(now time.Time) error {
	if err := TransitionJobStatus(j, JobStatusProcessing); err != nil {
		return err
	}
	started := now.UTC()
	j.StartedAt = &started
	j.Progress = 0
	return nil
}

func (j *Job) Complete(now time.Time) error {
	if err := TransitionJobStatus(j, JobStatusCompleted); err != nil {
		return err
	}
	done := now.UTC()
	j.CompletedAt = &done
	j.Progress = 100
	j.ErrorMessage = ""
	return nil
}

func (j *Job) Fail(now time.Time, message string) error {
	if err := TransitionJobStatus(j, JobStatusFailed); err != nil {
		return err
	}
	done := now.UTC()
	j.CompletedAt = &done
	j.ErrorMessage = Truncate(message, MaxErrorMessageLen)
	return nil
}

// ResetForRetry takes a failed job back to queued in place, keeping its id
// and creation time so callers holding the id keep tracking it.
func (j *Job) ResetForRetry() error {
	if err := TransitionJobStatus(j, JobStatusQueued); err != nil {
		return err
	}
	j.Progress = 0
	j.ErrorMessage = ""
	j.StartedAt = nil
	j.CompletedAt = nil
	j.ResultData = nil
	j.VideosFound = 0
	j.VideosProcessed = 0
	return nil
}

const MaxErrorMessageLen = 1200

// Truncate cuts s to at most max bytes on a rune boundary.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
