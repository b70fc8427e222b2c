package ytdlp

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Info is the subset of yt-dlp's -J document the service reads. A single
// item and a collection share the type; collections carry Entries.
type Info struct {
	Type           string   `json:"_type"`
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	FullTitle      string   `json:"fulltitle"`
	Description    string   `json:"description"`
	Duration       float64  `json:"duration"`
	DurationString string   `json:"duration_string"`
	UploadDate     string   `json:"upload_date"`
	Timestamp      *float64 `json:"timestamp"`
	ViewCount      *int64   `json:"view_count"`
	LikeCount      *int64   `json:"like_count"`
	CommentCount   *int64   `json:"comment_count"`
	WebpageURL     string   `json:"webpage_url"`
	URL            string   `json:"url"`
	DisplayID      string   `json:"display_id"`
	Thumbnail      string   `json:"thumbnail"`

	Channel              string `json:"channel"`
	ChannelID            string `json:"channel_id"`
	ChannelURL           string `json:"channel_url"`
	ChannelIsVerified    bool   `json:"channel_is_verified"`
	ChannelFollowerCount *int64 `json:"channel_follower_count"`
	Uploader             string `json:"uploader"`
	UploaderID           string `json:"uploader_id"`
	UploaderURL          string `json:"uploader_url"`

	Ext            string   `json:"ext"`
	FormatID       string   `json:"format_id"`
	FormatNote     string   `json:"format_note"`
	Resolution     string   `json:"resolution"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	FPS            *float64 `json:"fps"`
	AspectRatio    *float64 `json:"aspect_ratio"`
	VCodec         string   `json:"vcodec"`
	ACodec         string   `json:"acodec"`
	TBR            *float64 `json:"tbr"`
	VBR            *float64 `json:"vbr"`
	ABR            *float64 `json:"abr"`
	ASR            *int64   `json:"asr"`
	AudioChannels  *int     `json:"audio_channels"`
	DynamicRange   string   `json:"dynamic_range"`
	FilesizeApprox *int64   `json:"filesize_approx"`
	Protocol       string   `json:"protocol"`
	Language       string   `json:"language"`

	Categories        []string                   `json:"categories"`
	Tags              []string                   `json:"tags"`
	Availability      string                     `json:"availability"`
	AgeLimit          int                        `json:"age_limit"`
	IsLive            bool                       `json:"is_live"`
	WasLive           bool                       `json:"was_live"`
	LiveStatus        string                     `json:"live_status"`
	MediaType         string                     `json:"media_type"`
	PlayableInEmbed   *bool                      `json:"playable_in_embed"`
	Subtitles         map[string]json.RawMessage `json:"subtitles"`
	AutomaticCaptions map[string]json.RawMessage `json:"automatic_captions"`

	PlaylistCount int    `json:"playlist_count"`
	Entries       []Info `json:"entries"`
}

func ParseInfo(data []byte) (*Info, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("yt-dlp returned empty output")
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse yt-dlp JSON: %w", err)
	}
	return &info, nil
}

func (i *Info) IsCollection() bool {
	return i.Type == "playlist" || i.Type == "multi_video" || len(i.Entries) > 0
}

// Flatten returns the leaf entries in source order. A single item becomes a
// one-entry list; nested collections (channel tabs) are expanded in place.
func (i *Info) Flatten() []Info {
	if !i.IsCollection() {
		if i.ID == "" {
			return nil
		}
		return []Info{*i}
	}
	out := make([]Info, 0, len(i.Entries))
	for idx := range i.Entries {
		e := &i.Entries[idx]
		if e.IsCollection() {
			out = append(out, e.Flatten()...)
			continue
		}
		if e.ID == "" {
			continue
		}
		out = append(out, *e)
	}
	return out
}

// ChannelName prefers the channel display name over the uploader.
func (i *Info) ChannelName() string {
	if i.Channel != "" {
		return i.Channel
	}
	return i.Uploader
}

func SubtitleLanguages(subs map[string]json.RawMessage) []string {
	out := make([]string, 0, len(subs))
	for lang := range subs {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}
