// Package library is the boundary the CLI and dashboard call into. It
// validates input, then coordinates the store, the job queue and the
// scheduler.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"you-hoard/internal/archive"
	"you-hoard/internal/discovery"
	"you-hoard/internal/metadata"
	"you-hoard/internal/model"
	"you-hoard/internal/runstore"
	"you-hoard/internal/store"
	"you-hoard/internal/ytdlp"
)

type Store interface {
	store.SubscriptionStore
	store.ChannelStore
	store.VideoStore
}

type Extractor interface {
	ExtractInfo(ctx context.Context, url string, opts ytdlp.Options) (*ytdlp.Info, error)
}

type Queue interface {
	EnqueueDiscovery(ctx context.Context, subscriptionID int64, priority int) (string, error)
	EnqueueDownload(ctx context.Context, videoID int64, priority int, quality string) (string, error)
}

type Scheduler interface {
	Add(id int64, expr string) bool
	Update(id int64, expr string) bool
	Remove(id int64)
}

type Options struct {
	Store     Store
	Gateway   Extractor
	Queue     Queue
	Scheduler Scheduler
	Layout    archive.Layout

	DefaultCron    string
	DefaultQuality string
	ManualPriority int
	DirectPriority int

	Logger *slog.Logger
}

type Service struct {
	opts   Options
	logger *slog.Logger
}

func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(opts.DefaultCron) == "" {
		opts.DefaultCron = "0 * * * *"
	}
	return &Service{opts: opts, logger: logger}
}

type NewSubscription struct {
	SourceURL         string
	Type              string
	ContentTypes      []string
	LatestN           int
	CheckFrequency    string
	QualityPreference string
	AutoDownload      bool
	Enabled           bool
}

// SubscriptionPatch holds the fields an update may change; nil leaves a
// field as stored.
type SubscriptionPatch struct {
	ContentTypes      []string
	LatestN           *int
	CheckFrequency    *string
	QualityPreference *string
	AutoDownload      *bool
	Enabled           *bool
}

// CreateSubscription validates the request, resolves the channel through
// the gateway, stores the subscription and schedules it when enabled.
func (s *Service) CreateSubscription(ctx context.Context, in NewSubscription) (model.Subscription, error) {
	sub := model.Subscription{
		SourceURL:         discovery.NormalizeSourceURL(in.SourceURL),
		Type:              strings.TrimSpace(in.Type),
		ContentTypes:      in.ContentTypes,
		LatestN:           in.LatestN,
		CheckFrequency:    strings.TrimSpace(in.CheckFrequency),
		QualityPreference: strings.TrimSpace(in.QualityPreference),
		AutoDownload:      in.AutoDownload,
		Enabled:           in.Enabled,
	}
	if sub.Type == "" {
		sub.Type = discovery.DetectSourceType(sub.SourceURL)
	}
	if sub.ContentTypes == nil {
		sub.ContentTypes = append([]string(nil), model.AllContentTypes...)
	}
	if sub.LatestN == 0 {
		sub.LatestN = DefaultLatestN
	}
	if sub.CheckFrequency == "" {
		sub.CheckFrequency = s.opts.DefaultCron
	}
	if err := validateSubscription(sub); err != nil {
		return model.Subscription{}, err
	}

	info, err := s.opts.Gateway.ExtractInfo(ctx, sub.SourceURL, ytdlp.Options{FlatPlaylist: true, PlaylistEnd: 1})
	if err != nil {
		return model.Subscription{}, fmt.Errorf("resolve source: %w", err)
	}
	ch, err := s.ensureChannel(ctx, sourceChannel(sub.Type, info))
	if err != nil {
		return model.Subscription{}, err
	}
	sub.ChannelID = ch.ID

	existing, err := s.opts.Store.ListSubscriptions(ctx, false)
	if err != nil {
		return model.Subscription{}, err
	}
	for _, e := range existing {
		if e.ChannelID == sub.ChannelID && e.SourceURL == sub.SourceURL {
			return model.Subscription{}, invalid("source_url", "already subscribed (subscription %d)", e.ID)
		}
	}

	if err := s.opts.Store.CreateSubscription(ctx, &sub); err != nil {
		return model.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	if sub.Enabled {
		s.opts.Scheduler.Add(sub.ID, sub.CheckFrequency)
	}
	s.logger.Info("subscription created", "subscription_id", sub.ID, "channel", ch.Name, "source_url", sub.SourceURL)
	return sub, nil
}

// sourceChannel picks the channel identity for a subscription source.
// Playlists without an uploader get a synthetic id.
func sourceChannel(subType string, info *ytdlp.Info) model.Channel {
	ch := model.Channel{
		SubscriberCount: info.ChannelFollowerCount,
		ThumbnailURL:    info.Thumbnail,
	}
	if subType == model.SubscriptionTypePlaylist {
		ch.ExternalID = firstNonEmpty(info.UploaderID, info.ChannelID, "playlist_"+info.ID)
		ch.Name = firstNonEmpty(info.Uploader, info.Channel, info.Title, "Unknown Playlist")
		return ch
	}
	ch.ExternalID = firstNonEmpty(info.ChannelID, info.UploaderID, info.ID)
	ch.Name = firstNonEmpty(info.Channel, info.Uploader, info.Title, "Unknown Channel")
	ch.Description = info.Description
	return ch
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// ensureChannel returns the stored channel, creating it and its
// channel_info.json on first sight.
func (s *Service) ensureChannel(ctx context.Context, ch model.Channel) (model.Channel, error) {
	if ch.ExternalID == "" {
		return model.Channel{}, errors.New("source has no channel id")
	}
	existing, err := s.opts.Store.GetChannelByExternalID(ctx, ch.ExternalID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.Channel{}, err
	}
	if err := s.opts.Store.CreateChannel(ctx, &ch); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return s.opts.Store.GetChannelByExternalID(ctx, ch.ExternalID)
		}
		return model.Channel{}, fmt.Errorf("create channel: %w", err)
	}

	dir := s.opts.Layout.ChannelDir(ch.ExternalID, ch.Name)
	err = runstore.Mkdir(dir)
	if err == nil {
		err = archive.WriteChannelInfo(dir, archive.ChannelInfo{
			ID:              ch.ExternalID,
			Title:           ch.Name,
			Description:     ch.Description,
			SubscriberCount: ch.SubscriberCount,
			Thumbnail:       ch.ThumbnailURL,
		})
	}
	if err != nil {
		s.logger.Warn("write channel info failed", "channel", ch.ExternalID, "error", err)
	}
	return ch, nil
}

// UpdateSubscription validates the merged row before any write, then
// reconciles the scheduler with the new enabled flag and cron expression.
func (s *Service) UpdateSubscription(ctx context.Context, id int64, patch SubscriptionPatch) (model.Subscription, error) {
	sub, err := s.opts.Store.GetSubscription(ctx, id)
	if err != nil {
		return model.Subscription{}, err
	}
	if patch.ContentTypes != nil {
		sub.ContentTypes = patch.ContentTypes
	}
	if patch.LatestN != nil {
		sub.LatestN = *patch.LatestN
	}
	if patch.CheckFrequency != nil {
		sub.CheckFrequency = strings.TrimSpace(*patch.CheckFrequency)
	}
	if patch.QualityPreference != nil {
		sub.QualityPreference = strings.TrimSpace(*patch.QualityPreference)
	}
	if patch.AutoDownload != nil {
		sub.AutoDownload = *patch.AutoDownload
	}
	if patch.Enabled != nil {
		sub.Enabled = *patch.Enabled
	}
	if err := validateSubscription(sub); err != nil {
		return model.Subscription{}, err
	}
	if err := s.opts.Store.UpdateSubscription(ctx, sub); err != nil {
		return model.Subscription{}, fmt.Errorf("update subscription: %w", err)
	}
	if sub.Enabled {
		s.opts.Scheduler.Update(sub.ID, sub.CheckFrequency)
	} else {
		s.opts.Scheduler.Remove(sub.ID)
	}
	s.logger.Info("subscription updated", "subscription_id", sub.ID, "enabled", sub.Enabled, "cron", sub.CheckFrequency)
	return sub, nil
}

// DeleteSubscription unschedules first so no firing can race the delete.
func (s *Service) DeleteSubscription(ctx context.Context, id int64) error {
	if _, err := s.opts.Store.GetSubscription(ctx, id); err != nil {
		return err
	}
	s.opts.Scheduler.Remove(id)
	if err := s.opts.Store.DeleteSubscription(ctx, id); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	s.logger.Info("subscription deleted", "subscription_id", id)
	return nil
}

// CheckNow queues discovery at the manual-check priority and returns the
// job id without waiting for it.
func (s *Service) CheckNow(ctx context.Context, id int64) (string, error) {
	if _, err := s.opts.Store.GetSubscription(ctx, id); err != nil {
		return "", err
	}
	return s.opts.Queue.EnqueueDiscovery(ctx, id, s.opts.ManualPriority)
}

type SubmitResult struct {
	Video    model.Video `json:"video"`
	JobID    string      `json:"job_id,omitempty"`
	Existing bool        `json:"existing"`
}

// SubmitVideo archives a single video by id or URL. A known video is
// returned as is; a new one is created pending and queued at the direct
// priority.
func (s *Service) SubmitVideo(ctx context.Context, input, quality string) (SubmitResult, error) {
	id, err := ParseVideoID(input)
	if err != nil {
		return SubmitResult{}, err
	}
	quality = strings.TrimSpace(quality)
	if quality != "" && !metadata.IsKnownQuality(quality) {
		return SubmitResult{}, invalid("quality", "unknown quality %q", quality)
	}

	if v, err := s.opts.Store.GetVideoByExternalID(ctx, id); err == nil {
		return SubmitResult{Video: v, Existing: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return SubmitResult{}, err
	}

	info, err := s.opts.Gateway.ExtractInfo(ctx, discovery.VideoURL(id, ""), ytdlp.Options{})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("extract %s: %w", id, err)
	}
	ch, err := s.ensureChannel(ctx, model.Channel{
		ExternalID:      firstNonEmpty(info.ChannelID, info.UploaderID),
		Name:            firstNonEmpty(info.Channel, info.Uploader, "Unknown Channel"),
		SubscriberCount: info.ChannelFollowerCount,
	})
	if err != nil {
		return SubmitResult{}, err
	}

	v := model.Video{
		ExternalID:     id,
		ChannelID:      ch.ID,
		Title:          firstNonEmpty(info.Title, "Unknown Title"),
		Description:    info.Description,
		VideoType:      discovery.Classify(*info),
		DownloadStatus: model.DownloadStatusPending,
		UploadDate:     metadata.Video{UploadDate: info.UploadDate}.UploadTime(),
		ViewCount:      info.ViewCount,
		LikeCount:      info.LikeCount,
	}
	if info.Duration > 0 {
		d := int(math.Round(info.Duration))
		v.Duration = &d
	}
	if err := s.opts.Store.CreateVideo(ctx, &v); err != nil {
		if errors.Is(err, store.ErrConflict) {
			existing, gerr := s.opts.Store.GetVideoByExternalID(ctx, id)
			if gerr != nil {
				return SubmitResult{}, gerr
			}
			return SubmitResult{Video: existing, Existing: true}, nil
		}
		return SubmitResult{}, fmt.Errorf("create video: %w", err)
	}

	jobID, err := s.opts.Queue.EnqueueDownload(ctx, v.ID, s.opts.DirectPriority,
		metadata.ResolveQuality(quality, "", s.opts.DefaultQuality))
	if err != nil {
		return SubmitResult{Video: v}, err
	}
	s.logger.Info("video submitted", "video_id", v.ID, "youtube_id", id, "job_id", jobID)
	return SubmitResult{Video: v, JobID: jobID}, nil
}
