package library

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"you-hoard/internal/metadata"
	"you-hoard/internal/model"
	"you-hoard/internal/scheduler"
)

const (
	DefaultLatestN = 10
	MaxLatestN     = 200
)

var reVideoID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ValidationError rejects input at the boundary, before any state changes.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func validateSourceURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("source_url", "%q is not an http(s) URL", raw)
	}
	return nil
}

func validateContentTypes(types []string) error {
	if len(types) == 0 {
		return invalid("content_types", "at least one of %s is required", strings.Join(model.AllContentTypes, ", "))
	}
	seen := map[string]bool{}
	for _, ct := range types {
		known := false
		for _, k := range model.AllContentTypes {
			if ct == k {
				known = true
				break
			}
		}
		if !known {
			return invalid("content_types", "unknown content type %q", ct)
		}
		if seen[ct] {
			return invalid("content_types", "duplicate content type %q", ct)
		}
		seen[ct] = true
	}
	return nil
}

// validateSubscription checks a complete row. Create and update both run
// it on the merged value before writing.
func validateSubscription(sub model.Subscription) error {
	if err := validateSourceURL(sub.SourceURL); err != nil {
		return err
	}
	if sub.Type != model.SubscriptionTypeChannel && sub.Type != model.SubscriptionTypePlaylist {
		return invalid("subscription_type", "must be channel or playlist, got %q", sub.Type)
	}
	if err := validateContentTypes(sub.ContentTypes); err != nil {
		return err
	}
	if sub.LatestN < 1 || sub.LatestN > MaxLatestN {
		return invalid("latest_n_videos", "must be between 1 and %d, got %d", MaxLatestN, sub.LatestN)
	}
	if _, err := scheduler.ParseCron(sub.CheckFrequency); err != nil {
		return invalid("check_frequency", "%v", err)
	}
	if sub.QualityPreference != "" && !metadata.IsKnownQuality(sub.QualityPreference) {
		return invalid("quality_preference", "unknown quality %q", sub.QualityPreference)
	}
	return nil
}

// ParseVideoID accepts a bare 11-character id or a watch, short, live or
// youtu.be URL.
func ParseVideoID(input string) (string, error) {
	s := strings.TrimSpace(input)
	if reVideoID.MatchString(s) {
		return s, nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", invalid("video", "%q is neither a video id nor a URL", input)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")
	var id string
	switch {
	case host == "youtu.be":
		id = strings.Trim(u.Path, "/")
	case u.Query().Get("v") != "":
		id = u.Query().Get("v")
	default:
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 && (parts[0] == "shorts" || parts[0] == "live" || parts[0] == "embed") {
			id = parts[1]
		}
	}
	if !reVideoID.MatchString(id) {
		return "", invalid("video", "no 11-character video id in %q", input)
	}
	return id, nil
}
