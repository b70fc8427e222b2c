package metadata

import (
	"fmt"
	"path/filepath"
	"time"

	"you-hoard/internal/archive"
	"you-hoard/internal/runstore"
	"you-hoard/internal/ytdlp"
)

const SidecarVersion = "1.0"

// Sidecar is the app.meta.json document stored next to each archived item.
// Recovery reads it back, so field names are a file-format contract.
type Sidecar struct {
	App       App       `json:"app"`
	Video     Video     `json:"video"`
	Channel   Channel   `json:"channel"`
	Technical Technical `json:"technical"`
	Content   Content   `json:"content"`
}

type App struct {
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	DownloadStatus string    `json:"download_status"`
	FilePath       string    `json:"file_path,omitempty"`
	FileSize       *int64    `json:"file_size,omitempty"`
	ThumbnailPath  string    `json:"thumbnail_path,omitempty"`
	Source         string    `json:"source"`
}

type Video struct {
	YoutubeID      string   `json:"youtube_id"`
	Title          string   `json:"title"`
	FullTitle      string   `json:"fulltitle,omitempty"`
	Description    string   `json:"description,omitempty"`
	Duration       *float64 `json:"duration,omitempty"`
	DurationString string   `json:"duration_string,omitempty"`
	UploadDate     string   `json:"upload_date,omitempty"`
	Timestamp      *float64 `json:"timestamp,omitempty"`
	ViewCount      *int64   `json:"view_count,omitempty"`
	LikeCount      *int64   `json:"like_count,omitempty"`
	CommentCount   *int64   `json:"comment_count,omitempty"`
	WebpageURL     string   `json:"webpage_url,omitempty"`
	DisplayID      string   `json:"display_id,omitempty"`
}

type Channel struct {
	YoutubeID     string `json:"youtube_id"`
	Name          string `json:"name"`
	Uploader      string `json:"uploader,omitempty"`
	UploaderID    string `json:"uploader_id,omitempty"`
	UploaderURL   string `json:"uploader_url,omitempty"`
	ChannelURL    string `json:"channel_url,omitempty"`
	IsVerified    bool   `json:"is_verified"`
	FollowerCount *int64 `json:"follower_count,omitempty"`
}

type Technical struct {
	Format         string   `json:"format,omitempty"`
	FormatID       string   `json:"format_id,omitempty"`
	FormatNote     string   `json:"format_note,omitempty"`
	Resolution     string   `json:"resolution,omitempty"`
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
	FPS            *float64 `json:"fps,omitempty"`
	AspectRatio    *float64 `json:"aspect_ratio,omitempty"`
	VCodec         string   `json:"vcodec,omitempty"`
	ACodec         string   `json:"acodec,omitempty"`
	TBR            *float64 `json:"tbr,omitempty"`
	VBR            *float64 `json:"vbr,omitempty"`
	ABR            *float64 `json:"abr,omitempty"`
	ASR            *int64   `json:"asr,omitempty"`
	AudioChannels  *int     `json:"audio_channels,omitempty"`
	DynamicRange   string   `json:"dynamic_range,omitempty"`
	FilesizeApprox *int64   `json:"filesize_approx,omitempty"`
	Protocol       string   `json:"protocol,omitempty"`
	Language       string   `json:"language,omitempty"`
}

type Content struct {
	Categories        []string `json:"categories,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	Availability      string   `json:"availability,omitempty"`
	AgeLimit          int      `json:"age_limit"`
	IsLive            bool     `json:"is_live"`
	WasLive           bool     `json:"was_live"`
	LiveStatus        string   `json:"live_status,omitempty"`
	MediaType         string   `json:"media_type,omitempty"`
	PlayableInEmbed   *bool    `json:"playable_in_embed,omitempty"`
	Subtitles         []string `json:"subtitles"`
	AutomaticCaptions []string `json:"automatic_captions"`
	VideoType         string   `json:"video_type,omitempty"`
}

// FromInfo builds a sidecar from post-download extraction metadata.
func FromInfo(info *ytdlp.Info, videoType, downloadStatus string, now time.Time) Sidecar {
	s := Sidecar{
		App: App{
			Version:        SidecarVersion,
			CreatedAt:      now,
			UpdatedAt:      now,
			DownloadStatus: downloadStatus,
			Source:         "yt-dlp",
		},
		Video: Video{
			YoutubeID:      info.ID,
			Title:          info.Title,
			FullTitle:      info.FullTitle,
			Description:    info.Description,
			DurationString: info.DurationString,
			UploadDate:     info.UploadDate,
			Timestamp:      info.Timestamp,
			ViewCount:      info.ViewCount,
			LikeCount:      info.LikeCount,
			CommentCount:   info.CommentCount,
			WebpageURL:     info.WebpageURL,
			DisplayID:      info.DisplayID,
		},
		Channel: Channel{
			YoutubeID:     info.ChannelID,
			Name:          info.ChannelName(),
			Uploader:      info.Uploader,
			UploaderID:    info.UploaderID,
			UploaderURL:   info.UploaderURL,
			ChannelURL:    info.ChannelURL,
			IsVerified:    info.ChannelIsVerified,
			FollowerCount: info.ChannelFollowerCount,
		},
		Technical: Technical{
			Format:         info.Ext,
			FormatID:       info.FormatID,
			FormatNote:     info.FormatNote,
			Resolution:     info.Resolution,
			Width:          info.Width,
			Height:         info.Height,
			FPS:            info.FPS,
			AspectRatio:    info.AspectRatio,
			VCodec:         info.VCodec,
			ACodec:         info.ACodec,
			TBR:            info.TBR,
			VBR:            info.VBR,
			ABR:            info.ABR,
			ASR:            info.ASR,
			AudioChannels:  info.AudioChannels,
			DynamicRange:   info.DynamicRange,
			FilesizeApprox: info.FilesizeApprox,
			Protocol:       info.Protocol,
			Language:       info.Language,
		},
		Content: Content{
			Categories:        info.Categories,
			Tags:              info.Tags,
			Availability:      info.Availability,
			AgeLimit:          info.AgeLimit,
			IsLive:            info.IsLive,
			WasLive:           info.WasLive,
			LiveStatus:        info.LiveStatus,
			MediaType:         info.MediaType,
			PlayableInEmbed:   info.PlayableInEmbed,
			Subtitles:         ytdlp.SubtitleLanguages(info.Subtitles),
			AutomaticCaptions: ytdlp.SubtitleLanguages(info.AutomaticCaptions),
			VideoType:         videoType,
		},
	}
	if info.Duration > 0 {
		d := info.Duration
		s.Video.Duration = &d
	}
	return s
}

// UploadTime parses the YYYYMMDD upload date.
func (v Video) UploadTime() *time.Time {
	if len(v.UploadDate) != 8 {
		return nil
	}
	t, err := time.Parse("20060102", v.UploadDate)
	if err != nil {
		return nil
	}
	return &t
}

func Path(videoDir string) string {
	return filepath.Join(videoDir, archive.SidecarFile)
}

func Save(videoDir string, s Sidecar) error {
	if err := runstore.WriteJSON(Path(videoDir), s); err != nil {
		return fmt.Errorf("save sidecar: %w", err)
	}
	return nil
}

// Load reports (nil, nil) when the directory has no sidecar.
func Load(videoDir string) (*Sidecar, error) {
	var s Sidecar
	ok, err := runstore.ReadJSONIfExists(Path(videoDir), &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

// UpdateApp applies fn to the app section of an existing sidecar and bumps
// updated_at.
func UpdateApp(videoDir string, now time.Time, fn func(*App)) error {
	s, err := Load(videoDir)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("no sidecar in %s", videoDir)
	}
	fn(&s.App)
	s.App.UpdatedAt = now
	return Save(videoDir, *s)
}

// LoadInfoJSON reads yt-dlp's own info sidecar from an item directory,
// preferring video.info.json. Reports (nil, nil) when neither exists.
func LoadInfoJSON(videoDir string) (*ytdlp.Info, error) {
	for _, name := range []string{archive.VideoInfoJSONFile, archive.InfoJSONFile} {
		var info ytdlp.Info
		ok, err := runstore.ReadJSONIfExists(filepath.Join(videoDir, name), &info)
		if err != nil {
			return nil, err
		}
		if ok {
			return &info, nil
		}
	}
	return nil, nil
}
