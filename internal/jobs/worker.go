package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"you-hoard/internal/archive"
	"you-hoard/internal/discovery"
	"you-hoard/internal/metadata"
	"you-hoard/internal/model"
	"you-hoard/internal/ytdlp"
)

type downloadResult struct {
	VideoID       int64  `json:"video_id"`
	YoutubeID     string `json:"youtube_id"`
	FilePath      string `json:"file_path"`
	FileSize      int64  `json:"file_size"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
	Quality       string `json:"quality,omitempty"`
	VideoType     string `json:"video_type,omitempty"`
}

type metadataResult struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Type           string  `json:"type"`
	Channel        string  `json:"channel,omitempty"`
	ChannelID      string  `json:"channel_id,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	EntryCount     int     `json:"entry_count"`
	Classification string  `json:"classification,omitempty"`
}

func (p *Processor) downloadOptions(quality string) ytdlp.Options {
	opts := ytdlp.Options{
		Format:         metadata.FormatSelector(quality, p.download.DefaultQuality),
		OutputTemplate: ytdlp.DefaultOutputTemplate,
		SubtitleLangs:  p.download.SubtitleLangs,
		WriteInfoJSON:  p.download.WriteInfoJSON,
		WriteThumbnail: p.download.WriteThumbnail,
	}
	if p.download.EmbedSubs && len(p.download.SubtitleLangs) > 0 {
		opts.PostProcessors = append(opts.PostProcessors, ytdlp.PostEmbedSubs)
	}
	return opts
}

// runDownload transfers one video into its archive directory and returns
// the updated video row. The loop persists it.
func (p *Processor) runDownload(ctx context.Context, job model.Job, progress func(ytdlp.Progress)) outcome {
	v, err := p.store.GetVideo(ctx, job.VideoID)
	if err != nil {
		return outcome{err: fmt.Errorf("load video %d: %w", job.VideoID, err)}
	}
	ch, err := p.store.GetChannel(ctx, v.ChannelID)
	if err != nil {
		return outcome{err: fmt.Errorf("load channel %d: %w", v.ChannelID, err)}
	}
	dir, err := p.layout.EnsureVideoDir(ch.ExternalID, ch.Name, v.ExternalID, v.Title)
	if err != nil {
		return outcome{err: err}
	}

	url := discovery.VideoURL(v.ExternalID, "")
	if err := p.gateway.Download(ctx, url, dir, progress, p.downloadOptions(job.Quality)); err != nil {
		return outcome{err: err}
	}

	mediaPath, err := archive.FindVideoFile(dir)
	if err != nil {
		return outcome{err: err}
	}
	if mediaPath == "" {
		return outcome{err: fmt.Errorf("download finished but no media file found in %s", dir)}
	}
	size, err := archive.FileSize(mediaPath)
	if err != nil {
		return outcome{err: err}
	}
	thumb, err := archive.FindThumbnail(dir)
	if err != nil {
		p.logger.Warn("thumbnail lookup failed", "job_id", job.ID, "dir", dir, "error", err)
	}

	now := p.now().UTC()
	v.DownloadStatus = model.DownloadStatusCompleted
	v.FilePath = p.layout.Rel(mediaPath)
	v.FileSize = &size
	if thumb != "" {
		v.ThumbnailPath = p.layout.Rel(thumb)
	}

	info, err := metadata.LoadInfoJSON(dir)
	if err != nil {
		p.logger.Warn("read info json failed", "job_id", job.ID, "dir", dir, "error", err)
	}
	if info != nil {
		v.VideoType = discovery.Classify(*info)
		v.Quality = metadata.QualityLabel(info.Height, info.FormatNote)
		applyInfo(&v, info)

		side := metadata.FromInfo(info, v.VideoType, model.DownloadStatusCompleted, now)
		side.App.FilePath = v.FilePath
		side.App.FileSize = v.FileSize
		side.App.ThumbnailPath = v.ThumbnailPath
		if err := metadata.Save(dir, side); err != nil {
			p.logger.Warn("write sidecar failed", "job_id", job.ID, "path", filepath.Join(dir, archive.SidecarFile), "error", err)
		}
	}

	data, err := json.Marshal(downloadResult{
		VideoID:       v.ID,
		YoutubeID:     v.ExternalID,
		FilePath:      v.FilePath,
		FileSize:      size,
		ThumbnailPath: v.ThumbnailPath,
		Quality:       v.Quality,
		VideoType:     v.VideoType,
	})
	if err != nil {
		return outcome{err: err}
	}
	return outcome{video: &v, result: data}
}

// applyInfo fills fields discovery may have left empty.
func applyInfo(v *model.Video, info *ytdlp.Info) {
	if v.Title == "" {
		v.Title = info.Title
	}
	if v.Description == "" {
		v.Description = info.Description
	}
	if v.Duration == nil && info.Duration > 0 {
		d := int(math.Round(info.Duration))
		v.Duration = &d
	}
	if v.UploadDate == nil {
		v.UploadDate = metadata.Video{UploadDate: info.UploadDate}.UploadTime()
	}
	if info.ViewCount != nil {
		v.ViewCount = info.ViewCount
	}
	if info.LikeCount != nil {
		v.LikeCount = info.LikeCount
	}
}

func (p *Processor) runDiscovery(ctx context.Context, job model.Job) outcome {
	if p.discoverer == nil {
		return outcome{err: errors.New("discovery is not configured")}
	}
	res, err := p.discoverer.Discover(ctx, job.SubscriptionID)
	if err != nil {
		return outcome{err: err}
	}
	data, err := json.Marshal(res)
	if err != nil {
		return outcome{err: err}
	}
	return outcome{result: data, discovery: &res}
}

func (p *Processor) runMetadata(ctx context.Context, job model.Job) outcome {
	info, err := p.gateway.ExtractInfo(ctx, job.URL, ytdlp.Options{FlatPlaylist: true})
	if err != nil {
		return outcome{err: err}
	}
	res := metadataResult{
		ID:        info.ID,
		Title:     info.Title,
		Type:      "single",
		Channel:   info.ChannelName(),
		ChannelID: info.ChannelID,
		Duration:  info.Duration,
	}
	if info.IsCollection() {
		res.Type = "collection"
		res.EntryCount = len(info.Flatten())
	} else {
		res.EntryCount = 1
		res.Classification = discovery.Classify(*info)
	}
	data, err := json.Marshal(res)
	if err != nil {
		return outcome{err: err}
	}
	return outcome{result: data}
}
