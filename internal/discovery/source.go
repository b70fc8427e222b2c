package discovery

import (
	"net/url"
	"strings"
)

const watchURLPrefix = "https://www.youtube.com/watch?v="

// IsUnavailableTitle matches the placeholder titles flat listings use for
// entries that can no longer be fetched.
func IsUnavailableTitle(title string) bool {
	t := strings.TrimSpace(title)
	return t == "[Private video]" || t == "[Deleted video]"
}

// VideoURL builds a canonical watch URL from an id or a partial URL.
func VideoURL(videoID, maybeURL string) string {
	u := strings.TrimSpace(maybeURL)
	if u != "" {
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			return u
		}
		if strings.HasPrefix(u, "watch?") || strings.HasPrefix(u, "/watch?") {
			return "https://www.youtube.com/" + strings.TrimPrefix(u, "/")
		}
		if len(u) == 11 {
			return watchURLPrefix + u
		}
	}
	if strings.TrimSpace(videoID) != "" {
		return watchURLPrefix + strings.TrimSpace(videoID)
	}
	return ""
}

// DetectSourceType guesses channel or playlist from a source URL. It
// returns "" when the URL is neither.
func DetectSourceType(sourceURL string) string {
	u, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil {
		return ""
	}
	if u.Query().Get("list") != "" || strings.HasPrefix(strings.ToLower(u.Path), "/playlist") {
		return "playlist"
	}
	path := strings.ToLower(strings.TrimSpace(u.Path))
	switch {
	case strings.HasPrefix(path, "/channel/"),
		strings.HasPrefix(path, "/@"),
		strings.HasPrefix(path, "/user/"),
		strings.HasPrefix(path, "/c/"):
		return "channel"
	default:
		return ""
	}
}

// NormalizeSourceURL drops fragments and trailing slashes so the same
// source compares equal.
func NormalizeSourceURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	u.Fragment = ""
	if strings.HasSuffix(u.Path, "/") && u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}
