package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"you-hoard/internal/metadata"
	"you-hoard/internal/model"
	"you-hoard/internal/store"
	"you-hoard/internal/ytdlp"
)

type Store interface {
	store.SubscriptionStore
	store.VideoStore
}

type Extractor interface {
	ExtractInfo(ctx context.Context, url string, opts ytdlp.Options) (*ytdlp.Info, error)
}

type DownloadEnqueuer interface {
	EnqueueDownload(ctx context.Context, videoID int64, priority int, quality string) (string, error)
}

type Options struct {
	Store    Store
	Gateway  Extractor
	Enqueuer DownloadEnqueuer
	Logger   *slog.Logger

	MaxFetch         int
	OverfetchFactor  int
	FlatPlaylist     bool
	DownloadPriority int
	DefaultQuality   string

	Now func() time.Time
}

// Result summarizes one discovery pass. It is stored as the discovery job's
// result data and copied into the scheduler event.
type Result struct {
	SubscriptionID int64    `json:"subscription_id"`
	FetchLimit     int      `json:"fetch_limit"`
	VideosFound    int      `json:"videos_found"`
	VideosAdded    int      `json:"videos_added"`
	VideosQueued   int      `json:"videos_queued"`
	VideosFiltered int      `json:"videos_filtered"`
	VideosExisting int      `json:"videos_existing"`
	Unavailable    int      `json:"unavailable"`
	ContentTypes   []string `json:"content_types"`
	NewVideoIDs    []int64  `json:"new_video_ids,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

type Engine struct {
	store    Store
	gateway  Extractor
	enqueuer DownloadEnqueuer
	logger   *slog.Logger

	maxFetch       int
	overfetch      int
	flat           bool
	priority       int
	defaultQuality string
	now            func() time.Time
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		store:          opts.Store,
		gateway:        opts.Gateway,
		enqueuer:       opts.Enqueuer,
		logger:         opts.Logger,
		maxFetch:       opts.MaxFetch,
		overfetch:      opts.OverfetchFactor,
		flat:           opts.FlatPlaylist,
		priority:       opts.DownloadPriority,
		defaultQuality: opts.DefaultQuality,
		now:            opts.Now,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.maxFetch < 1 {
		e.maxFetch = 200
	}
	if e.overfetch < 1 {
		e.overfetch = 4
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// FetchLimit bounds how many source entries are examined. Subscriptions
// that filter by content type over-fetch to make up for filtered entries.
func (e *Engine) FetchLimit(sub model.Subscription) int {
	desired := desiredCount(sub)
	if sub.WantsAll() {
		return desired
	}
	return int(math.Min(float64(desired*e.overfetch), float64(e.maxFetch)))
}

func desiredCount(sub model.Subscription) int {
	if sub.LatestN < 1 {
		return 1
	}
	return sub.LatestN
}

// Discover runs one pass for a subscription. A returned error means the
// pass did not complete; the subscription's last_check is then left alone.
// Per-item failures are collected in Result.Errors instead.
func (e *Engine) Discover(ctx context.Context, subscriptionID int64) (Result, error) {
	res := Result{SubscriptionID: subscriptionID}
	sub, err := e.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return res, fmt.Errorf("load subscription: %w", err)
	}
	res.ContentTypes = append([]string(nil), sub.ContentTypes...)
	desired := desiredCount(sub)
	res.FetchLimit = e.FetchLimit(sub)

	info, err := e.gateway.ExtractInfo(ctx, sub.SourceURL, ytdlp.Options{
		FlatPlaylist: e.flat,
		PlaylistEnd:  res.FetchLimit,
	})
	if err != nil {
		return res, err
	}

	entries := info.Flatten()
	if len(entries) > res.FetchLimit {
		entries = entries[:res.FetchLimit]
	}

	matched := make([]ytdlp.Info, 0, desired)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.VideosFound++
		if IsUnavailableTitle(entry.Title) {
			res.Unavailable++
			continue
		}
		if !sub.Wants(Classify(entry)) {
			res.VideosFiltered++
			continue
		}
		if len(matched) >= desired {
			continue
		}
		exists, err := e.store.VideoExists(ctx, entry.ID)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("check %s: %v", entry.ID, err))
			continue
		}
		if exists {
			res.VideosExisting++
			continue
		}
		matched = append(matched, entry)
	}

	quality := metadata.ResolveQuality("", sub.QualityPreference, e.defaultQuality)
	for _, entry := range matched {
		v := videoFromEntry(entry, sub.ChannelID)
		if err := e.store.CreateVideo(ctx, &v); err != nil {
			if errors.Is(err, store.ErrConflict) {
				res.VideosExisting++
				continue
			}
			res.Errors = append(res.Errors, fmt.Sprintf("insert %s: %v", entry.ID, err))
			continue
		}
		res.VideosAdded++
		res.NewVideoIDs = append(res.NewVideoIDs, v.ID)

		if !sub.AutoDownload {
			continue
		}
		if _, err := e.enqueuer.EnqueueDownload(ctx, v.ID, e.priority, quality); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("enqueue %s: %v", entry.ID, err))
			continue
		}
		res.VideosQueued++
	}

	now := e.now().UTC()
	sub.LastCheck = &now
	sub.NewVideosCount = res.VideosAdded
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("update subscription: %v", err))
	}

	e.logger.Info("discovery finished",
		"subscription_id", sub.ID,
		"found", res.VideosFound,
		"added", res.VideosAdded,
		"queued", res.VideosQueued,
		"filtered", res.VideosFiltered,
		"errors", len(res.Errors))
	return res, nil
}

func videoFromEntry(entry ytdlp.Info, channelID int64) model.Video {
	v := model.Video{
		ExternalID:     entry.ID,
		ChannelID:      channelID,
		Title:          entry.Title,
		Description:    entry.Description,
		VideoType:      Classify(entry),
		DownloadStatus: model.DownloadStatusPending,
		ViewCount:      entry.ViewCount,
		LikeCount:      entry.LikeCount,
	}
	if entry.Duration > 0 {
		d := int(math.Round(entry.Duration))
		v.Duration = &d
	}
	v.UploadDate = metadata.Video{UploadDate: entry.UploadDate}.UploadTime()
	return v
}
