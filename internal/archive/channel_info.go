package archive

import (
	"path/filepath"

	"you-hoard/internal/runstore"
)

const (
	ChannelInfoFile   = "channel_info.json"
	SidecarFile       = "app.meta.json"
	InfoJSONFile      = "info.json"
	VideoInfoJSONFile = "video.info.json"
)

// ChannelInfo is the channel sidecar written when a channel is first
// archived.
type ChannelInfo struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	SubscriberCount *int64 `json:"subscriber_count,omitempty"`
	Thumbnail       string `json:"thumbnail,omitempty"`
}

func WriteChannelInfo(channelDir string, info ChannelInfo) error {
	return runstore.WriteJSON(filepath.Join(channelDir, ChannelInfoFile), info)
}

// ReadChannelInfo reports (nil, nil) when the directory has no sidecar.
func ReadChannelInfo(channelDir string) (*ChannelInfo, error) {
	var info ChannelInfo
	ok, err := runstore.ReadJSONIfExists(filepath.Join(channelDir, ChannelInfoFile), &info)
	if err != nil || !ok {
		return nil, err
	}
	return &info, nil
}
