package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"you-hoard/internal/model"
	"you-hoard/internal/store"
)

func now() time.Time {
	return time.Now().UTC()
}

// Jobs

func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now()
	}
	_, err := s.exec(ctx, s.insertJobQuery(*job))
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (model.Job, error) {
	var row jobRow
	if err := s.get(ctx, &row, s.qb.Select(jobColumns).From("jobs").Where(sq.Eq{"id": id})); err != nil {
		return model.Job{}, fmt.Errorf("job %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *Store) UpdateJob(ctx context.Context, job model.Job) error {
	res, err := s.exec(ctx, s.updateJobQuery(job))
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return expectOne(res, "job "+job.ID)
}

func (s *Store) ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error) {
	var rows []jobRow
	if err := s.selectRows(ctx, &rows, s.listJobsQuery(filter)); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]model.Job, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Store) FindActiveJob(ctx context.Context, probe model.Job) (model.Job, bool, error) {
	var row jobRow
	err := s.get(ctx, &row, s.activeJobQuery(probe))
	if errors.Is(err, store.ErrNotFound) {
		return model.Job{}, false, nil
	}
	if err != nil {
		return model.Job{}, false, fmt.Errorf("find active job: %w", err)
	}
	return row.toModel(), true, nil
}

// Subscriptions

func (s *Store) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	ts := now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = ts
	}
	sub.UpdatedAt = ts
	id, err := s.insertReturningID(ctx, s.insertSubscriptionQuery(*sub))
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	sub.ID = id
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, id int64) (model.Subscription, error) {
	var row subscriptionRow
	if err := s.get(ctx, &row, s.qb.Select(subscriptionColumns).From("subscriptions").Where(sq.Eq{"id": id})); err != nil {
		return model.Subscription{}, fmt.Errorf("subscription %d: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub model.Subscription) error {
	sub.UpdatedAt = now()
	res, err := s.exec(ctx, s.updateSubscriptionQuery(sub))
	if err != nil {
		return fmt.Errorf("update subscription %d: %w", sub.ID, err)
	}
	return expectOne(res, fmt.Sprintf("subscription %d", sub.ID))
}

func (s *Store) DeleteSubscription(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, s.qb.Delete("subscriptions").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("delete subscription %d: %w", id, err)
	}
	return expectOne(res, fmt.Sprintf("subscription %d", id))
}

func (s *Store) ListSubscriptions(ctx context.Context, enabledOnly bool) ([]model.Subscription, error) {
	q := s.qb.Select(subscriptionColumns).From("subscriptions").OrderBy("id ASC")
	if enabledOnly {
		q = q.Where(sq.Eq{"enabled": true})
	}
	var rows []subscriptionRow
	if err := s.selectRows(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	out := make([]model.Subscription, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// Channels

func (s *Store) CreateChannel(ctx context.Context, ch *model.Channel) error {
	ts := now()
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = ts
	}
	ch.UpdatedAt = ts
	q := s.qb.Insert("channels").
		Columns("youtube_id", "name", "description", "subscriber_count", "thumbnail_url", "created_at", "updated_at").
		Values(ch.ExternalID, ch.Name, ch.Description, ch.SubscriberCount, ch.ThumbnailURL, ch.CreatedAt, ch.UpdatedAt)
	id, err := s.insertReturningID(ctx, q)
	if err != nil {
		return fmt.Errorf("create channel %s: %w", ch.ExternalID, err)
	}
	ch.ID = id
	return nil
}

func (s *Store) GetChannel(ctx context.Context, id int64) (model.Channel, error) {
	var ch model.Channel
	if err := s.get(ctx, &ch, s.qb.Select(channelColumns).From("channels").Where(sq.Eq{"id": id})); err != nil {
		return model.Channel{}, fmt.Errorf("channel %d: %w", id, err)
	}
	return ch, nil
}

func (s *Store) GetChannelByExternalID(ctx context.Context, externalID string) (model.Channel, error) {
	var ch model.Channel
	if err := s.get(ctx, &ch, s.qb.Select(channelColumns).From("channels").Where(sq.Eq{"youtube_id": externalID})); err != nil {
		return model.Channel{}, fmt.Errorf("channel %s: %w", externalID, err)
	}
	return ch, nil
}

func (s *Store) UpdateChannel(ctx context.Context, ch model.Channel) error {
	q := s.qb.Update("channels").
		Set("name", ch.Name).
		Set("description", ch.Description).
		Set("subscriber_count", ch.SubscriberCount).
		Set("thumbnail_url", ch.ThumbnailURL).
		Set("updated_at", now()).
		Where(sq.Eq{"id": ch.ID})
	res, err := s.exec(ctx, q)
	if err != nil {
		return fmt.Errorf("update channel %d: %w", ch.ID, err)
	}
	return expectOne(res, fmt.Sprintf("channel %d", ch.ID))
}

func (s *Store) CountChannels(ctx context.Context) (int, error) {
	return s.count(ctx, "channels")
}

func (s *Store) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.get(ctx, &n, s.qb.Select("COUNT(*)").From(table)); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Videos

func (s *Store) CreateVideo(ctx context.Context, v *model.Video) error {
	ts := now()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = ts
	}
	v.UpdatedAt = ts
	id, err := s.insertReturningID(ctx, s.insertVideoQuery(*v))
	if err != nil {
		return fmt.Errorf("create video %s: %w", v.ExternalID, err)
	}
	v.ID = id
	return nil
}

func (s *Store) GetVideo(ctx context.Context, id int64) (model.Video, error) {
	var v model.Video
	if err := s.get(ctx, &v, s.qb.Select(videoColumns).From("videos").Where(sq.Eq{"id": id})); err != nil {
		return model.Video{}, fmt.Errorf("video %d: %w", id, err)
	}
	return v, nil
}

func (s *Store) GetVideoByExternalID(ctx context.Context, externalID string) (model.Video, error) {
	var v model.Video
	if err := s.get(ctx, &v, s.qb.Select(videoColumns).From("videos").Where(sq.Eq{"youtube_id": externalID})); err != nil {
		return model.Video{}, fmt.Errorf("video %s: %w", externalID, err)
	}
	return v, nil
}

func (s *Store) VideoExists(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	if err := s.get(ctx, &exists, s.videoExistsQuery(externalID)); err != nil {
		return false, fmt.Errorf("video exists %s: %w", externalID, err)
	}
	return exists, nil
}

func (s *Store) UpdateVideo(ctx context.Context, v model.Video) error {
	v.UpdatedAt = now()
	res, err := s.exec(ctx, s.updateVideoQuery(v))
	if err != nil {
		return fmt.Errorf("update video %d: %w", v.ID, err)
	}
	return expectOne(res, fmt.Sprintf("video %d", v.ID))
}

func (s *Store) ListVideos(ctx context.Context, filter store.VideoFilter) ([]model.Video, error) {
	var out []model.Video
	if err := s.selectRows(ctx, &out, s.listVideosQuery(filter)); err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return out, nil
}

func (s *Store) CountVideos(ctx context.Context) (int, error) {
	return s.count(ctx, "videos")
}

// Scheduler events

func (s *Store) CreateEvent(ctx context.Context, ev *model.SchedulerEvent) error {
	if ev.StartedAt.IsZero() {
		ev.StartedAt = now()
	}
	id, err := s.insertReturningID(ctx, s.insertEventQuery(*ev))
	if err != nil {
		return fmt.Errorf("create scheduler event: %w", err)
	}
	ev.ID = id
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (model.SchedulerEvent, error) {
	var row eventRow
	if err := s.get(ctx, &row, s.qb.Select(eventColumns).From("scheduler_events").Where(sq.Eq{"id": id})); err != nil {
		return model.SchedulerEvent{}, fmt.Errorf("scheduler event %d: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *Store) UpdateEvent(ctx context.Context, ev model.SchedulerEvent) error {
	res, err := s.exec(ctx, s.updateEventQuery(ev))
	if err != nil {
		return fmt.Errorf("update scheduler event %d: %w", ev.ID, err)
	}
	return expectOne(res, fmt.Sprintf("scheduler event %d", ev.ID))
}

func (s *Store) ListEvents(ctx context.Context, subscriptionID int64, limit int) ([]model.SchedulerEvent, error) {
	var rows []eventRow
	if err := s.selectRows(ctx, &rows, s.listEventsQuery(subscriptionID, limit)); err != nil {
		return nil, fmt.Errorf("list scheduler events: %w", err)
	}
	out := make([]model.SchedulerEvent, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}
