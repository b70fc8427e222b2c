package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	JobTypeDownload  = "download"
	JobTypeDiscovery = "subscription_discovery"
	JobTypeMetadata  = "video_metadata_extraction"
)

const (
	ContentTypeVideo = "video"
	ContentTypeShort = "short"
	ContentTypeLive  = "live"
)

// AllContentTypes is in the order listings present them.
var AllContentTypes = []string{ContentTypeVideo, ContentTypeShort, ContentTypeLive}

const (
	SubscriptionTypeChannel  = "channel"
	SubscriptionTypePlaylist = "playlist"
)

const (
	DownloadStatusPending   = "pending"
	DownloadStatusCompleted = "completed"
	DownloadStatusFailed    = "failed"
)

// Job is one unit of queued work. Exactly one target field is set, chosen
// by Type: VideoID for downloads, SubscriptionID for discovery, URL for
// metadata extraction.
type Job struct {
	ID              string          `json:"id" db:"id"`
	Type            string          `json:"job_type" db:"job_type"`
	VideoID         int64           `json:"video_id,omitempty" db:"video_id"`
	SubscriptionID  int64           `json:"subscription_id,omitempty" db:"subscription_id"`
	URL             string          `json:"url,omitempty" db:"url"`
	EventID         int64           `json:"scheduler_event_id,omitempty" db:"scheduler_event_id"`
	Priority        int             `json:"priority" db:"priority"`
	Status          string          `json:"status" db:"status"`
	Progress        float64         `json:"progress" db:"progress"`
	Quality         string          `json:"quality,omitempty" db:"quality"`
	ErrorMessage    string          `json:"error_message,omitempty" db:"error_message"`
	ResultData      json.RawMessage `json:"result_data,omitempty" db:"-"`
	VideosFound     int             `json:"videos_found" db:"videos_found"`
	VideosProcessed int             `json:"videos_processed" db:"videos_processed"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

func (j Job) ValidateTarget() error {
	switch j.Type {
	case JobTypeDownload:
		if j.VideoID <= 0 || j.SubscriptionID != 0 || j.URL != "" {
			return fmt.Errorf("download job %s must reference exactly one video", j.ID)
		}
	case JobTypeDiscovery:
		if j.SubscriptionID <= 0 || j.VideoID != 0 || j.URL != "" {
			return fmt.Errorf("discovery job %s must reference exactly one subscription", j.ID)
		}
	case JobTypeMetadata:
		if strings.TrimSpace(j.URL) == "" || j.VideoID != 0 || j.SubscriptionID != 0 {
			return fmt.Errorf("metadata job %s must reference exactly one URL", j.ID)
		}
	default:
		return fmt.Errorf("unknown job type %q", j.Type)
	}
	return nil
}

// Target renders the populated target reference for logs and listings.
func (j Job) Target() string {
	switch j.Type {
	case JobTypeDownload:
		return fmt.Sprintf("video:%d", j.VideoID)
	case JobTypeDiscovery:
		return fmt.Sprintf("subscription:%d", j.SubscriptionID)
	default:
		return j.URL
	}
}

type Subscription struct {
	ID                int64      `json:"id" db:"id"`
	ChannelID         int64      `json:"channel_id" db:"channel_id"`
	Type              string     `json:"subscription_type" db:"subscription_type"`
	SourceURL         string     `json:"source_url" db:"source_url"`
	Enabled           bool       `json:"enabled" db:"enabled"`
	AutoDownload      bool       `json:"auto_download" db:"auto_download"`
	QualityPreference string     `json:"quality_preference,omitempty" db:"quality_preference"`
	ContentTypes      []string   `json:"content_types" db:"-"`
	LatestN           int        `json:"latest_n_videos" db:"latest_n_videos"`
	CheckFrequency    string     `json:"check_frequency" db:"check_frequency"`
	LastCheck         *time.Time `json:"last_check,omitempty" db:"last_check"`
	NewVideosCount    int        `json:"new_videos_count" db:"new_videos_count"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

func (s Subscription) Wants(contentType string) bool {
	for _, ct := range s.ContentTypes {
		if ct == contentType {
			return true
		}
	}
	return false
}

func (s Subscription) WantsAll() bool {
	for _, ct := range AllContentTypes {
		if !s.Wants(ct) {
			return false
		}
	}
	return true
}

type Channel struct {
	ID              int64     `json:"id" db:"id"`
	ExternalID      string    `json:"youtube_id" db:"youtube_id"`
	Name            string    `json:"name" db:"name"`
	Description     string    `json:"description,omitempty" db:"description"`
	SubscriberCount *int64    `json:"subscriber_count,omitempty" db:"subscriber_count"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty" db:"thumbnail_url"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Video is one archived content item.
type Video struct {
	ID             int64      `json:"id" db:"id"`
	ExternalID     string     `json:"youtube_id" db:"youtube_id"`
	ChannelID      int64      `json:"channel_id" db:"channel_id"`
	Title          string     `json:"title" db:"title"`
	Description    string     `json:"description,omitempty" db:"description"`
	Duration       *int       `json:"duration,omitempty" db:"duration"`
	UploadDate     *time.Time `json:"upload_date,omitempty" db:"upload_date"`
	VideoType      string     `json:"video_type,omitempty" db:"video_type"`
	DownloadStatus string     `json:"download_status" db:"download_status"`
	FilePath       string     `json:"file_path,omitempty" db:"file_path"`
	FileSize       *int64     `json:"file_size,omitempty" db:"file_size"`
	Quality        string     `json:"quality,omitempty" db:"quality"`
	ThumbnailPath  string     `json:"thumbnail_path,omitempty" db:"thumbnail_path"`
	ViewCount      *int64     `json:"view_count,omitempty" db:"view_count"`
	LikeCount      *int64     `json:"like_count,omitempty" db:"like_count"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

const (
	EventCheckStarted   = "check_started"
	EventCheckCompleted = "check_completed"
	EventCheckFailed    = "check_failed"
	EventCheckCancelled = "check_cancelled"
)

const (
	EventStatusSuccess        = "success"
	EventStatusPartialSuccess = "partial_success"
	EventStatusFailed         = "failed"
)

// SchedulerEvent is the audit record of one scheduler firing.
type SchedulerEvent struct {
	ID                    int64      `json:"id" db:"id"`
	SubscriptionID        int64      `json:"subscription_id" db:"subscription_id"`
	EventType             string     `json:"event_type" db:"event_type"`
	Status                string     `json:"status,omitempty" db:"status"`
	StartedAt             time.Time  `json:"started_at" db:"started_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	DurationMS            int64      `json:"duration_ms,omitempty" db:"duration_ms"`
	VideosFound           int        `json:"videos_found" db:"videos_found"`
	VideosAdded           int        `json:"videos_added" db:"videos_added"`
	VideosQueued          int        `json:"videos_queued" db:"videos_queued"`
	VideosFiltered        int        `json:"videos_filtered" db:"videos_filtered"`
	ErrorCount            int        `json:"error_count" db:"error_count"`
	ErrorMessage          string     `json:"error_message,omitempty" db:"error_message"`
	ContentTypesProcessed []string   `json:"content_types_processed,omitempty" db:"-"`
}

// Finish stamps completion and duration on the event.
func (e *SchedulerEvent) Finish(now time.Time, eventType, status string) {
	done := now.UTC()
	e.CompletedAt = &done
	e.EventType = eventType
	e.Status = status
	e.DurationMS = done.Sub(e.StartedAt).Milliseconds()
	if e.DurationMS < 0 {
		e.DurationMS = 0
	}
}

// DownloadProgress is the live, in-memory view of one running job.
type DownloadProgress struct {
	JobID     string    `json:"job_id"`
	JobType   string    `json:"job_type"`
	VideoID   int64     `json:"video_id,omitempty"`
	Status    string    `json:"status"`
	Percent   float64   `json:"percent"`
	Speed     string    `json:"speed,omitempty"`
	ETA       string    `json:"eta,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
