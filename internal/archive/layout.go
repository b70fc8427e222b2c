package archive

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"you-hoard/internal/runstore"
)

const (
	channelsDirName = "channels"

	maxChannelNameLen = 50
	maxTitleLen       = 100
)

// Layout maps records onto the archive tree:
//
//	<root>/channels/<channel_id>_<name>/<video_id>_<title>/
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: filepath.Clean(strings.TrimSpace(root))}
}

func (l Layout) ChannelsDir() string {
	return filepath.Join(l.Root, channelsDirName)
}

func (l Layout) ChannelDir(channelID, channelName string) string {
	return filepath.Join(l.ChannelsDir(), channelID+"_"+Sanitize(channelName, maxChannelNameLen))
}

func (l Layout) VideoDir(channelID, channelName, videoID, title string) string {
	return filepath.Join(l.ChannelDir(channelID, channelName), videoID+"_"+Sanitize(title, maxTitleLen))
}

// EnsureVideoDir creates the item directory and its parents.
func (l Layout) EnsureVideoDir(channelID, channelName, videoID, title string) (string, error) {
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(videoID) == "" {
		return "", fmt.Errorf("channel id and video id are required for archive path")
	}
	dir := l.VideoDir(channelID, channelName, videoID, title)
	if err := runstore.Mkdir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// Rel returns path relative to the archive root, using forward slashes.
// Paths outside the root are returned unchanged.
func (l Layout) Rel(path string) string {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

// Abs resolves a root-relative path produced by Rel.
func (l Layout) Abs(rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}

// Sanitize keeps letters, digits, space, '-' and '_', turns spaces into
// underscores and truncates to max runes.
func Sanitize(name string, max int) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	out = strings.ReplaceAll(out, " ", "_")
	if max > 0 {
		if runes := []rune(out); len(runes) > max {
			out = string(runes[:max])
		}
	}
	if out == "" {
		return "untitled"
	}
	return out
}
