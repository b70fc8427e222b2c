// Package store defines the persistence ports the core depends on and a
// file-backed implementation of them.
package store

import (
	"context"
	"errors"

	"you-hoard/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

type JobFilter struct {
	Types          []string
	Statuses       []string
	SubscriptionID int64
	Limit          int
}

// JobStore returns listings in dispatch order (see model.SortJobs).
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (model.Job, error)
	UpdateJob(ctx context.Context, job model.Job) error
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	// FindActiveJob returns a queued or processing job with the same type
	// and target as probe.
	FindActiveJob(ctx context.Context, probe model.Job) (model.Job, bool, error)
}

type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, id int64) (model.Subscription, error)
	UpdateSubscription(ctx context.Context, sub model.Subscription) error
	DeleteSubscription(ctx context.Context, id int64) error
	ListSubscriptions(ctx context.Context, enabledOnly bool) ([]model.Subscription, error)
}

type ChannelStore interface {
	CreateChannel(ctx context.Context, ch *model.Channel) error
	GetChannel(ctx context.Context, id int64) (model.Channel, error)
	GetChannelByExternalID(ctx context.Context, externalID string) (model.Channel, error)
	UpdateChannel(ctx context.Context, ch model.Channel) error
	CountChannels(ctx context.Context) (int, error)
}

type VideoFilter struct {
	ChannelID      int64
	DownloadStatus string
	Limit          int
}

type VideoStore interface {
	// CreateVideo fails with ErrConflict when the external id exists.
	CreateVideo(ctx context.Context, v *model.Video) error
	GetVideo(ctx context.Context, id int64) (model.Video, error)
	GetVideoByExternalID(ctx context.Context, externalID string) (model.Video, error)
	VideoExists(ctx context.Context, externalID string) (bool, error)
	UpdateVideo(ctx context.Context, v model.Video) error
	ListVideos(ctx context.Context, filter VideoFilter) ([]model.Video, error)
	CountVideos(ctx context.Context) (int, error)
}

type EventStore interface {
	CreateEvent(ctx context.Context, ev *model.SchedulerEvent) error
	GetEvent(ctx context.Context, id int64) (model.SchedulerEvent, error)
	UpdateEvent(ctx context.Context, ev model.SchedulerEvent) error
	ListEvents(ctx context.Context, subscriptionID int64, limit int) ([]model.SchedulerEvent, error)
}

type Store interface {
	JobStore
	SubscriptionStore
	ChannelStore
	VideoStore
	EventStore
	Close() error
}
