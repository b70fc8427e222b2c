package ytdlp

import (
	"fmt"
	"strconv"
	"strings"
)

type PostProcessor string

const (
	PostEmbedSubs      PostProcessor = "embed-subs"
	PostEmbedThumbnail PostProcessor = "embed-thumbnail"
	PostEmbedMetadata  PostProcessor = "embed-metadata"
)

// Options are the per-call overrides a caller may request. Identity,
// cookies and proxy are owned by the gateway and cannot be overridden.
type Options struct {
	Format         string
	OutputTemplate string
	SubtitleLangs  []string
	PostProcessors []PostProcessor
	WriteInfoJSON  bool
	WriteThumbnail bool
	FlatPlaylist   bool
	PlaylistEnd    int
}

const DefaultOutputTemplate = "video.%(ext)s"

func (o Options) extractArgs() []string {
	args := []string{"-J", "--no-warnings"}
	if o.FlatPlaylist {
		args = append(args, "--flat-playlist")
	}
	if o.PlaylistEnd > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(o.PlaylistEnd))
	}
	return args
}

func (o Options) downloadArgs(outputDir string) ([]string, error) {
	template := strings.TrimSpace(o.OutputTemplate)
	if template == "" {
		template = DefaultOutputTemplate
	}
	args := []string{
		"--no-playlist",
		"--newline",
		"--no-colors",
		"-P", outputDir,
		"-o", template,
	}
	if f := strings.TrimSpace(o.Format); f != "" {
		args = append(args, "-f", f)
	}
	if o.WriteInfoJSON {
		args = append(args, "--write-info-json")
	}
	if o.WriteThumbnail {
		args = append(args, "--write-thumbnail")
	}
	if langs := normalizeSubLangs(o.SubtitleLangs); langs != "" {
		args = append(args, "--write-subs", "--write-auto-subs", "--sub-langs", langs)
	}
	for _, pp := range o.PostProcessors {
		switch pp {
		case PostEmbedSubs:
			args = append(args, "--embed-subs")
		case PostEmbedThumbnail:
			args = append(args, "--embed-thumbnail")
		case PostEmbedMetadata:
			args = append(args, "--embed-metadata")
		default:
			return nil, fmt.Errorf("unknown post-processor %q", pp)
		}
	}
	return args, nil
}

// normalizeSubLangs maps the "auto" pseudo-language onto yt-dlp's
// automatic-caption selection and drops live chat.
func normalizeSubLangs(langs []string) string {
	out := []string{}
	for _, l := range langs {
		l = strings.TrimSpace(l)
		switch strings.ToLower(l) {
		case "":
			continue
		case "auto":
			out = append(out, ".*-orig")
		case "en", "english":
			out = append(out, "en.*", "en")
		default:
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(append(out, "-live_chat"), ",")
}
