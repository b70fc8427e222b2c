package postgres

import (
	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"you-hoard/internal/model"
	"you-hoard/internal/store"
)

const (
	jobColumns          = "id, job_type, video_id, subscription_id, url, scheduler_event_id, priority, status, progress, quality, error_message, result_data, videos_found, videos_processed, created_at, started_at, completed_at"
	subscriptionColumns = "id, channel_id, subscription_type, source_url, enabled, auto_download, quality_preference, content_types, latest_n_videos, check_frequency, last_check, new_videos_count, created_at, updated_at"
	channelColumns      = "id, youtube_id, name, description, subscriber_count, thumbnail_url, created_at, updated_at"
	videoColumns        = "id, youtube_id, channel_id, title, description, duration, upload_date, video_type, download_status, file_path, file_size, quality, thumbnail_path, view_count, like_count, created_at, updated_at"
	eventColumns        = "id, subscription_id, event_type, status, started_at, completed_at, duration_ms, videos_found, videos_added, videos_queued, videos_filtered, error_count, error_message, content_types_processed"

	// dispatchOrder mirrors model.DispatchLess.
	dispatchOrder = "CASE status WHEN 'processing' THEN 0 WHEN 'queued' THEN 1 WHEN 'failed' THEN 2 WHEN 'completed' THEN 3 ELSE 4 END"
)

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

func (s *Store) insertJobQuery(j model.Job) sq.InsertBuilder {
	return s.qb.Insert("jobs").
		Columns("id", "job_type", "video_id", "subscription_id", "url", "scheduler_event_id", "priority", "status",
			"progress", "quality", "error_message", "result_data", "videos_found", "videos_processed",
			"created_at", "started_at", "completed_at").
		Values(j.ID, j.Type, j.VideoID, j.SubscriptionID, j.URL, j.EventID, j.Priority, j.Status,
			j.Progress, j.Quality, j.ErrorMessage, nullableJSON(j.ResultData), j.VideosFound, j.VideosProcessed,
			j.CreatedAt, j.StartedAt, j.CompletedAt)
}

func (s *Store) updateJobQuery(j model.Job) sq.UpdateBuilder {
	return s.qb.Update("jobs").
		Set("priority", j.Priority).
		Set("status", j.Status).
		Set("progress", j.Progress).
		Set("quality", j.Quality).
		Set("error_message", j.ErrorMessage).
		Set("result_data", nullableJSON(j.ResultData)).
		Set("videos_found", j.VideosFound).
		Set("videos_processed", j.VideosProcessed).
		Set("started_at", j.StartedAt).
		Set("completed_at", j.CompletedAt).
		Where(sq.Eq{"id": j.ID})
}

func (s *Store) listJobsQuery(f store.JobFilter) sq.SelectBuilder {
	q := s.qb.Select(jobColumns).From("jobs")
	if len(f.Types) > 0 {
		q = q.Where(sq.Eq{"job_type": f.Types})
	}
	if len(f.Statuses) > 0 {
		q = q.Where(sq.Eq{"status": f.Statuses})
	}
	if f.SubscriptionID != 0 {
		q = q.Where(sq.Eq{"subscription_id": f.SubscriptionID})
	}
	q = q.OrderBy(dispatchOrder, "priority DESC", "created_at ASC", "id ASC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	return q
}

func (s *Store) activeJobQuery(probe model.Job) sq.SelectBuilder {
	q := s.qb.Select(jobColumns).From("jobs").
		Where(sq.Eq{"job_type": probe.Type, "status": []string{model.JobStatusQueued, model.JobStatusProcessing}})
	switch probe.Type {
	case model.JobTypeDownload:
		q = q.Where(sq.Eq{"video_id": probe.VideoID})
	case model.JobTypeDiscovery:
		q = q.Where(sq.Eq{"subscription_id": probe.SubscriptionID})
	default:
		q = q.Where(sq.Eq{"url": probe.URL})
	}
	return q.OrderBy("created_at ASC").Limit(1)
}

func (s *Store) insertSubscriptionQuery(sub model.Subscription) sq.InsertBuilder {
	return s.qb.Insert("subscriptions").
		Columns("channel_id", "subscription_type", "source_url", "enabled", "auto_download", "quality_preference",
			"content_types", "latest_n_videos", "check_frequency", "last_check", "new_videos_count", "created_at", "updated_at").
		Values(sub.ChannelID, sub.Type, sub.SourceURL, sub.Enabled, sub.AutoDownload, sub.QualityPreference,
			pq.StringArray(sub.ContentTypes), sub.LatestN, sub.CheckFrequency, sub.LastCheck, sub.NewVideosCount, sub.CreatedAt, sub.UpdatedAt)
}

func (s *Store) updateSubscriptionQuery(sub model.Subscription) sq.UpdateBuilder {
	return s.qb.Update("subscriptions").
		Set("channel_id", sub.ChannelID).
		Set("subscription_type", sub.Type).
		Set("source_url", sub.SourceURL).
		Set("enabled", sub.Enabled).
		Set("auto_download", sub.AutoDownload).
		Set("quality_preference", sub.QualityPreference).
		Set("content_types", pq.StringArray(sub.ContentTypes)).
		Set("latest_n_videos", sub.LatestN).
		Set("check_frequency", sub.CheckFrequency).
		Set("last_check", sub.LastCheck).
		Set("new_videos_count", sub.NewVideosCount).
		Set("updated_at", sub.UpdatedAt).
		Where(sq.Eq{"id": sub.ID})
}

func (s *Store) insertVideoQuery(v model.Video) sq.InsertBuilder {
	return s.qb.Insert("videos").
		Columns("youtube_id", "channel_id", "title", "description", "duration", "upload_date", "video_type",
			"download_status", "file_path", "file_size", "quality", "thumbnail_path", "view_count", "like_count",
			"created_at", "updated_at").
		Values(v.ExternalID, v.ChannelID, v.Title, v.Description, v.Duration, v.UploadDate, v.VideoType,
			v.DownloadStatus, v.FilePath, v.FileSize, v.Quality, v.ThumbnailPath, v.ViewCount, v.LikeCount,
			v.CreatedAt, v.UpdatedAt)
}

// updateVideoQuery never touches youtube_id.
func (s *Store) updateVideoQuery(v model.Video) sq.UpdateBuilder {
	return s.qb.Update("videos").
		Set("channel_id", v.ChannelID).
		Set("title", v.Title).
		Set("description", v.Description).
		Set("duration", v.Duration).
		Set("upload_date", v.UploadDate).
		Set("video_type", v.VideoType).
		Set("download_status", v.DownloadStatus).
		Set("file_path", v.FilePath).
		Set("file_size", v.FileSize).
		Set("quality", v.Quality).
		Set("thumbnail_path", v.ThumbnailPath).
		Set("view_count", v.ViewCount).
		Set("like_count", v.LikeCount).
		Set("updated_at", v.UpdatedAt).
		Where(sq.Eq{"id": v.ID})
}

func (s *Store) videoExistsQuery(externalID string) sq.SelectBuilder {
	return s.qb.Select().Column(sq.Expr("EXISTS (SELECT 1 FROM videos WHERE youtube_id = ?)", externalID))
}

func (s *Store) listVideosQuery(f store.VideoFilter) sq.SelectBuilder {
	q := s.qb.Select(videoColumns).From("videos")
	if f.ChannelID != 0 {
		q = q.Where(sq.Eq{"channel_id": f.ChannelID})
	}
	if f.DownloadStatus != "" {
		q = q.Where(sq.Eq{"download_status": f.DownloadStatus})
	}
	q = q.OrderBy("id ASC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	return q
}

func (s *Store) insertEventQuery(ev model.SchedulerEvent) sq.InsertBuilder {
	return s.qb.Insert("scheduler_events").
		Columns("subscription_id", "event_type", "status", "started_at", "completed_at", "duration_ms",
			"videos_found", "videos_added", "videos_queued", "videos_filtered", "error_count", "error_message",
			"content_types_processed").
		Values(ev.SubscriptionID, ev.EventType, ev.Status, ev.StartedAt, ev.CompletedAt, ev.DurationMS,
			ev.VideosFound, ev.VideosAdded, ev.VideosQueued, ev.VideosFiltered, ev.ErrorCount, ev.ErrorMessage,
			pq.StringArray(ev.ContentTypesProcessed))
}

func (s *Store) updateEventQuery(ev model.SchedulerEvent) sq.UpdateBuilder {
	return s.qb.Update("scheduler_events").
		Set("event_type", ev.EventType).
		Set("status", ev.Status).
		Set("completed_at", ev.CompletedAt).
		Set("duration_ms", ev.DurationMS).
		Set("videos_found", ev.VideosFound).
		Set("videos_added", ev.VideosAdded).
		Set("videos_queued", ev.VideosQueued).
		Set("videos_filtered", ev.VideosFiltered).
		Set("error_count", ev.ErrorCount).
		Set("error_message", ev.ErrorMessage).
		Set("content_types_processed", pq.StringArray(ev.ContentTypesProcessed)).
		Where(sq.Eq{"id": ev.ID})
}

func (s *Store) listEventsQuery(subscriptionID int64, limit int) sq.SelectBuilder {
	q := s.qb.Select(eventColumns).From("scheduler_events")
	if subscriptionID != 0 {
		q = q.Where(sq.Eq{"subscription_id": subscriptionID})
	}
	q = q.OrderBy("id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q
}
