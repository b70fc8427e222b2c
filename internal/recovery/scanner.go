// Package recovery rebuilds channel and video rows from the archive tree.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"you-hoard/internal/archive"
	"you-hoard/internal/discovery"
	"you-hoard/internal/metadata"
	"you-hoard/internal/model"
	"you-hoard/internal/store"
)

type Store interface {
	store.ChannelStore
	store.VideoStore
}

// ParseError describes one directory the scan could not use. It is
// collected in the report and never stops the scan.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"path": e.Path, "error": e.Err.Error()})
}

type Report struct {
	ChannelsDiscovered int           `json:"channels_discovered"`
	ChannelsCreated    int           `json:"channels_created"`
	ChannelsUpdated    int           `json:"channels_updated"`
	VideosDiscovered   int           `json:"videos_discovered"`
	VideosCreated      int           `json:"videos_created"`
	VideosUpdated      int           `json:"videos_updated"`
	Errors             []*ParseError `json:"errors,omitempty"`
}

type Scanner struct {
	store  Store
	layout archive.Layout
	logger *slog.Logger
}

func NewScanner(st Store, layout archive.Layout, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{store: st, layout: layout, logger: logger}
}

// IsEmpty reports whether the store holds neither channels nor videos.
func (s *Scanner) IsEmpty(ctx context.Context) (bool, error) {
	channels, err := s.store.CountChannels(ctx)
	if err != nil {
		return false, err
	}
	videos, err := s.store.CountVideos(ctx)
	if err != nil {
		return false, err
	}
	return channels == 0 && videos == 0, nil
}

// RunIfEmpty scans only when the store is empty. ran is false when the
// store already had data.
func (s *Scanner) RunIfEmpty(ctx context.Context) (rep Report, ran bool, err error) {
	empty, err := s.IsEmpty(ctx)
	if err != nil {
		return Report{}, false, fmt.Errorf("check store: %w", err)
	}
	if !empty {
		return Report{}, false, nil
	}
	rep, err = s.Scan(ctx)
	return rep, true, err
}

// Scan walks <root>/channels and upserts by external id. Existing rows only
// have their empty fields filled, so a repeated scan changes nothing.
func (s *Scanner) Scan(ctx context.Context) (Report, error) {
	var rep Report
	root := s.layout.ChannelsDir()
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("archive has no channels directory", "path", root)
			return rep, nil
		}
		return rep, fmt.Errorf("read %s: %w", root, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if !entry.IsDir() {
			continue
		}
		s.scanChannel(ctx, filepath.Join(root, entry.Name()), &rep)
	}
	s.logger.Info("archive recovery finished",
		"channels_created", rep.ChannelsCreated, "channels_updated", rep.ChannelsUpdated,
		"videos_created", rep.VideosCreated, "videos_updated", rep.VideosUpdated,
		"errors", len(rep.Errors))
	return rep, nil
}

func (s *Scanner) fail(rep *Report, path string, err error) {
	pe := &ParseError{Path: path, Err: err}
	rep.Errors = append(rep.Errors, pe)
	s.logger.Warn("recovery skipped directory", "path", path, "error", err)
}

func (s *Scanner) scanChannel(ctx context.Context, dir string, rep *Report) {
	ch, err := resolveChannel(dir)
	if err != nil {
		s.fail(rep, dir, err)
		return
	}
	rep.ChannelsDiscovered++

	channelID, created, updated, err := s.upsertChannel(ctx, ch)
	if err != nil {
		s.fail(rep, dir, err)
		return
	}
	if created {
		rep.ChannelsCreated++
	}
	if updated {
		rep.ChannelsUpdated++
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		s.fail(rep, dir, err)
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		videoDir := filepath.Join(dir, entry.Name())
		v, err := s.resolveVideo(videoDir)
		if err != nil {
			s.fail(rep, videoDir, err)
			continue
		}
		rep.VideosDiscovered++
		v.ChannelID = channelID
		created, updated, err := s.upsertVideo(ctx, v)
		if err != nil {
			s.fail(rep, videoDir, err)
			continue
		}
		if created {
			rep.VideosCreated++
		}
		if updated {
			rep.VideosUpdated++
		}
	}
}

// resolveChannel prefers channel_info.json and falls back to the directory
// name.
func resolveChannel(dir string) (model.Channel, error) {
	info, err := archive.ReadChannelInfo(dir)
	if err == nil && info != nil && info.ID != "" {
		return model.Channel{
			ExternalID:      info.ID,
			Name:            info.Title,
			Description:     info.Description,
			SubscriberCount: info.SubscriberCount,
			ThumbnailURL:    info.Thumbnail,
		}, nil
	}
	id, perr := archive.ParseChannelDirName(filepath.Base(dir))
	if perr != nil {
		if err != nil {
			return model.Channel{}, errors.Join(err, perr)
		}
		return model.Channel{}, perr
	}
	return model.Channel{ExternalID: id.ExternalID, Name: id.Name}, nil
}

// resolveVideo tries the app sidecar, then the yt-dlp info file, then the
// directory name. Fields a tier cannot supply stay empty.
func (s *Scanner) resolveVideo(dir string) (model.Video, error) {
	var v model.Video
	side, err := metadata.Load(dir)
	if err != nil {
		s.logger.Warn("unreadable sidecar, falling back", "path", dir, "error", err)
	}
	switch {
	case side != nil && side.Video.YoutubeID != "":
		v = fromSidecar(side)
	default:
		info, err := metadata.LoadInfoJSON(dir)
		if err != nil {
			s.logger.Warn("unreadable info json, falling back", "path", dir, "error", err)
		}
		if info != nil && info.ID != "" {
			v = model.Video{
				ExternalID:  info.ID,
				Title:       info.Title,
				Description: info.Description,
				VideoType:   discovery.Classify(*info),
				Quality:     metadata.QualityLabel(info.Height, info.FormatNote),
				ViewCount:   info.ViewCount,
				LikeCount:   info.LikeCount,
				UploadDate:  metadata.Video{UploadDate: info.UploadDate}.UploadTime(),
			}
			if info.Duration > 0 {
				d := int(math.Round(info.Duration))
				v.Duration = &d
			}
		} else {
			id, err := archive.ParseVideoDirName(filepath.Base(dir))
			if err != nil {
				return model.Video{}, err
			}
			v = model.Video{ExternalID: id.ExternalID, Title: id.Name}
		}
	}

	if v.FilePath == "" {
		media, err := archive.FindVideoFile(dir)
		if err != nil {
			return model.Video{}, err
		}
		if media != "" {
			v.FilePath = s.layout.Rel(media)
			if size, err := archive.FileSize(media); err == nil {
				v.FileSize = &size
			}
		}
	}
	if v.ThumbnailPath == "" {
		if thumb, err := archive.FindThumbnail(dir); err == nil && thumb != "" {
			v.ThumbnailPath = s.layout.Rel(thumb)
		}
	}
	v.DownloadStatus = model.DownloadStatusPending
	if v.FilePath != "" {
		v.DownloadStatus = model.DownloadStatusCompleted
	}
	return v, nil
}

func fromSidecar(side *metadata.Sidecar) model.Video {
	v := model.Video{
		ExternalID:    side.Video.YoutubeID,
		Title:         side.Video.Title,
		Description:   side.Video.Description,
		UploadDate:    side.Video.UploadTime(),
		ViewCount:     side.Video.ViewCount,
		LikeCount:     side.Video.LikeCount,
		VideoType:     side.Content.VideoType,
		FilePath:      side.App.FilePath,
		FileSize:      side.App.FileSize,
		ThumbnailPath: side.App.ThumbnailPath,
		Quality:       metadata.QualityLabel(side.Technical.Height, side.Technical.FormatNote),
	}
	if v.Quality == "" {
		v.Quality = side.Technical.Resolution
	}
	if side.Video.Duration != nil && *side.Video.Duration > 0 {
		d := int(math.Round(*side.Video.Duration))
		v.Duration = &d
	}
	return v
}

func (s *Scanner) upsertChannel(ctx context.Context, ch model.Channel) (id int64, created, updated bool, err error) {
	existing, err := s.store.GetChannelByExternalID(ctx, ch.ExternalID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if ch.Name == "" {
			ch.Name = "Unknown Channel"
		}
		if err := s.store.CreateChannel(ctx, &ch); err != nil {
			return 0, false, false, err
		}
		return ch.ID, true, false, nil
	case err != nil:
		return 0, false, false, err
	}

	changed := false
	fillString(&existing.Name, ch.Name, &changed)
	fillString(&existing.Description, ch.Description, &changed)
	fillString(&existing.ThumbnailURL, ch.ThumbnailURL, &changed)
	if existing.SubscriberCount == nil && ch.SubscriberCount != nil {
		existing.SubscriberCount = ch.SubscriberCount
		changed = true
	}
	if !changed {
		return existing.ID, false, false, nil
	}
	if err := s.store.UpdateChannel(ctx, existing); err != nil {
		return 0, false, false, err
	}
	return existing.ID, false, true, nil
}

func (s *Scanner) upsertVideo(ctx context.Context, v model.Video) (created, updated bool, err error) {
	existing, err := s.store.GetVideoByExternalID(ctx, v.ExternalID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if v.Title == "" {
			v.Title = "Unknown Title"
		}
		if err := s.store.CreateVideo(ctx, &v); err != nil {
			return false, false, err
		}
		return true, false, nil
	case err != nil:
		return false, false, err
	}

	changed := false
	fillString(&existing.Title, v.Title, &changed)
	fillString(&existing.Description, v.Description, &changed)
	fillString(&existing.VideoType, v.VideoType, &changed)
	fillString(&existing.FilePath, v.FilePath, &changed)
	fillString(&existing.Quality, v.Quality, &changed)
	fillString(&existing.ThumbnailPath, v.ThumbnailPath, &changed)
	if existing.Duration == nil && v.Duration != nil {
		existing.Duration, changed = v.Duration, true
	}
	if existing.UploadDate == nil && v.UploadDate != nil {
		existing.UploadDate, changed = v.UploadDate, true
	}
	if existing.FileSize == nil && v.FileSize != nil {
		existing.FileSize, changed = v.FileSize, true
	}
	if existing.ViewCount == nil && v.ViewCount != nil {
		existing.ViewCount, changed = v.ViewCount, true
	}
	if existing.LikeCount == nil && v.LikeCount != nil {
		existing.LikeCount, changed = v.LikeCount, true
	}
	if existing.DownloadStatus != model.DownloadStatusCompleted && existing.FilePath != "" {
		existing.DownloadStatus, changed = model.DownloadStatusCompleted, true
	}
	if !changed {
		return false, false, nil
	}
	if err := s.store.UpdateVideo(ctx, existing); err != nil {
		return false, false, err
	}
	return false, true, nil
}

func fillString(dst *string, v string, changed *bool) {
	if *dst == "" && v != "" {
		*dst = v
		*changed = true
	}
}
