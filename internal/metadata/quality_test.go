package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSelector(t *testing.T) {
	assert.Equal(t, "best", FormatSelector("best", "1080p"))
	assert.Equal(t, "worst", FormatSelector("WORST", "1080p"))
	assert.Equal(t, "bestvideo[height<=?720]+bestaudio/best", FormatSelector("720p", "1080p"))
	assert.Equal(t, "bestvideo[height<=?1080]+bestaudio/best", FormatSelector("4k", "1080p"))
	assert.Equal(t, "best", FormatSelector("bogus", "also-bogus"))
}

func TestQualityLabel(t *testing.T) {
	cases := []struct {
		height int
		note   string
		want   string
	}{
		{2160, "", "1080p"},
		{1080, "", "1080p"},
		{800, "", "720p"},
		{480, "", "480p"},
		{360, "", "360p"},
		{240, "", "240p"},
		{0, "audio only", "audio only"},
		{0, "", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, QualityLabel(tc.height, tc.note), "height=%d note=%q", tc.height, tc.note)
	}
}

func TestResolveQuality(t *testing.T) {
	assert.Equal(t, "720p", ResolveQuality("720p", "480p", "1080p"))
	assert.Equal(t, "480p", ResolveQuality(" ", "480p", "1080p"))
	assert.Equal(t, "1080p", ResolveQuality("", "", "1080p"))
	assert.Equal(t, "best", ResolveQuality("", "", ""))
	assert.True(t, IsKnownQuality("720P"))
	assert.False(t, IsKnownQuality("8k"))
}
