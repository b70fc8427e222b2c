package store

import "you-hoard/internal/model"

func (f JobFilter) Match(j model.Job) bool {
	if len(f.Types) > 0 && !contains(f.Types, j.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, j.Status) {
		return false
	}
	if f.SubscriptionID != 0 && j.SubscriptionID != f.SubscriptionID {
		return false
	}
	return true
}

func (f VideoFilter) Match(v model.Video) bool {
	if f.ChannelID != 0 && v.ChannelID != f.ChannelID {
		return false
	}
	if f.DownloadStatus != "" && v.DownloadStatus != f.DownloadStatus {
		return false
	}
	return true
}

// SameTarget reports whether two jobs are of one type and point at the same
// target.
func SameTarget(a, b model.Job) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case model.JobTypeDownload:
		return a.VideoID == b.VideoID
	case model.JobTypeDiscovery:
		return a.SubscriptionID == b.SubscriptionID
	default:
		return a.URL == b.URL
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
