package discovery

import (
	"you-hoard/internal/model"
	"you-hoard/internal/ytdlp"
)

const shortMaxDuration = 60

// Classify assigns a content type from live flags, dimensions and duration.
// Live status wins over everything else; portrait aspect marks a short,
// with short duration as a fallback signal when dimensions are partial.
func Classify(e ytdlp.Info) string {
	if e.IsLive || e.LiveStatus == "is_live" || e.LiveStatus == "is_upcoming" {
		return model.ContentTypeLive
	}
	if e.Width > 0 && e.Height > 0 && float64(e.Width)/float64(e.Height) < 1.0 {
		return model.ContentTypeShort
	}
	if e.Duration > 0 && e.Duration <= shortMaxDuration && e.Width < e.Height {
		return model.ContentTypeShort
	}
	return model.ContentTypeVideo
}
