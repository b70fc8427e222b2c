package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"you-hoard/internal/model"
	"you-hoard/internal/store"
)

type QueueStore interface {
	store.JobStore
	store.VideoStore
}

// Queue is the submission side of the job system. It owns job creation and
// the explicit retry edge; everything after dispatch belongs to Processor.
type Queue struct {
	store  QueueStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	// mu serializes the duplicate check with the insert.
	mu     sync.Mutex
	notify func()
}

func NewQueue(st QueueStore, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:  st,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// SetNotify registers a callback run after every enqueue or retry. The
// processor uses it to dispatch without waiting for the next poll.
func (q *Queue) SetNotify(fn func()) {
	q.mu.Lock()
	q.notify = fn
	q.mu.Unlock()
}

func (q *Queue) EnqueueDownload(ctx context.Context, videoID int64, priority int, quality string) (string, error) {
	v, err := q.store.GetVideo(ctx, videoID)
	if err != nil {
		return "", fmt.Errorf("enqueue download: %w", err)
	}
	id, err := q.enqueue(ctx, model.Job{
		Type:     model.JobTypeDownload,
		VideoID:  videoID,
		Priority: priority,
		Quality:  strings.TrimSpace(quality),
	})
	if err != nil {
		return "", err
	}
	if v.DownloadStatus == model.DownloadStatusFailed {
		v.DownloadStatus = model.DownloadStatusPending
		if err := q.store.UpdateVideo(ctx, v); err != nil {
			q.logger.Warn("reset video status failed", "video_id", videoID, "error", err)
		}
	}
	return id, nil
}

func (q *Queue) EnqueueDiscovery(ctx context.Context, subscriptionID int64, priority int) (string, error) {
	return q.EnqueueDiscoveryForEvent(ctx, subscriptionID, priority, 0)
}

// EnqueueDiscoveryForEvent links the job to a scheduler event so that the
// event is completed when the job reaches a terminal state.
func (q *Queue) EnqueueDiscoveryForEvent(ctx context.Context, subscriptionID int64, priority int, eventID int64) (string, error) {
	return q.enqueue(ctx, model.Job{
		Type:           model.JobTypeDiscovery,
		SubscriptionID: subscriptionID,
		EventID:        eventID,
		Priority:       priority,
	})
}

func (q *Queue) EnqueueMetadata(ctx context.Context, url string, priority int) (string, error) {
	return q.enqueue(ctx, model.Job{
		Type:     model.JobTypeMetadata,
		URL:      strings.TrimSpace(url),
		Priority: priority,
	})
}

func (q *Queue) enqueue(ctx context.Context, job model.Job) (string, error) {
	q.mu.Lock()
	if err := job.ValidateTarget(); err != nil {
		q.mu.Unlock()
		return "", err
	}
	if err := q.checkDuplicateLocked(ctx, job); err != nil {
		q.mu.Unlock()
		return "", err
	}
	job.ID = q.newID()
	job.CreatedAt = q.now().UTC()
	if err := model.TransitionJobStatus(&job, model.JobStatusQueued); err != nil {
		q.mu.Unlock()
		return "", err
	}
	if err := q.store.CreateJob(ctx, &job); err != nil {
		q.mu.Unlock()
		return "", fmt.Errorf("create %s job: %w", job.Type, err)
	}
	notify := q.notify
	q.mu.Unlock()

	q.logger.Info("job queued", "job_id", job.ID, "type", job.Type, "target", job.Target(), "priority", job.Priority)
	if notify != nil {
		notify()
	}
	return job.ID, nil
}

func (q *Queue) checkDuplicateLocked(ctx context.Context, job model.Job) error {
	existing, found, err := q.store.FindActiveJob(ctx, job)
	if err != nil {
		return fmt.Errorf("check active jobs: %w", err)
	}
	if found && existing.ID != job.ID {
		return &DuplicateJobError{Type: job.Type, Target: job.Target(), ExistingID: existing.ID}
	}
	return nil
}

// Retry moves a failed job back to queued, keeping its id. A download's
// video goes back to pending.
func (q *Queue) Retry(ctx context.Context, id string) error {
	q.mu.Lock()
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	if job.Status != model.JobStatusFailed {
		q.mu.Unlock()
		return fmt.Errorf("retry job %s (status %s): %w", id, job.Status, ErrNotRetryable)
	}
	if err := q.checkDuplicateLocked(ctx, job); err != nil {
		q.mu.Unlock()
		return err
	}
	if err := job.ResetForRetry(); err != nil {
		q.mu.Unlock()
		return err
	}
	if err := q.store.UpdateJob(ctx, job); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("retry job %s: %w", id, err)
	}
	notify := q.notify
	q.mu.Unlock()

	if job.Type == model.JobTypeDownload {
		q.resetVideo(ctx, job.VideoID)
	}
	q.logger.Info("job requeued", "job_id", id, "type", job.Type, "target", job.Target())
	if notify != nil {
		notify()
	}
	return nil
}

// RetryFailed retries every failed job of jobType (all types when empty)
// and reports how many were requeued. Jobs whose target is already active
// again are skipped.
func (q *Queue) RetryFailed(ctx context.Context, jobType string) (int, error) {
	filter := store.JobFilter{Statuses: []string{model.JobStatusFailed}}
	if jobType != "" {
		filter.Types = []string{jobType}
	}
	failed, err := q.store.ListJobs(ctx, filter)
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, job := range failed {
		err := q.Retry(ctx, job.ID)
		switch {
		case err == nil:
			n++
		case IsDuplicate(err):
		default:
			errs = append(errs, err)
		}
	}
	return n, errors.Join(errs...)
}

func (q *Queue) resetVideo(ctx context.Context, videoID int64) {
	v, err := q.store.GetVideo(ctx, videoID)
	if err != nil {
		q.logger.Warn("load video for retry failed", "video_id", videoID, "error", err)
		return
	}
	if v.DownloadStatus == model.DownloadStatusPending {
		return
	}
	v.DownloadStatus = model.DownloadStatusPending
	if err := q.store.UpdateVideo(ctx, v); err != nil {
		q.logger.Warn("reset video status failed", "video_id", videoID, "error", err)
	}
}

func (q *Queue) Get(ctx context.Context, id string) (model.Job, error) {
	return q.store.GetJob(ctx, id)
}

func (q *Queue) ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error) {
	return q.store.ListJobs(ctx, filter)
}
