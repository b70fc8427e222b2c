package metadata

import (
	"fmt"
	"strings"
)

const (
	QualityBest  = "best"
	QualityWorst = "worst"
)

var heightSelectors = map[string]int{
	"1080p": 1080,
	"720p":  720,
	"480p":  480,
	"360p":  360,
}

func IsKnownQuality(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == QualityBest || q == QualityWorst {
		return true
	}
	_, ok := heightSelectors[q]
	return ok
}

// FormatSelector maps a quality label to a yt-dlp -f expression. Unknown
// labels fall back to fallback's selector, then to best.
func FormatSelector(quality, fallback string) string {
	q := strings.ToLower(strings.TrimSpace(quality))
	switch q {
	case QualityBest:
		return "best"
	case QualityWorst:
		return "worst"
	}
	if h, ok := heightSelectors[q]; ok {
		return fmt.Sprintf("bestvideo[height<=?%d]+bestaudio/best", h)
	}
	if fallback != "" && !strings.EqualFold(fallback, quality) {
		return FormatSelector(fallback, "")
	}
	return "best"
}

// QualityLabel describes what was actually downloaded.
func QualityLabel(height int, formatNote string) string {
	switch {
	case height >= 1080:
		return "1080p"
	case height >= 720:
		return "720p"
	case height >= 480:
		return "480p"
	case height >= 360:
		return "360p"
	case height > 0:
		return fmt.Sprintf("%dp", height)
	}
	return strings.TrimSpace(formatNote)
}

// ResolveQuality picks the first non-empty preference.
func ResolveQuality(requested, subscription, fallback string) string {
	for _, q := range []string{requested, subscription, fallback} {
		if q = strings.TrimSpace(q); q != "" {
			return q
		}
	}
	return QualityBest
}
