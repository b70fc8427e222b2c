package ytdlp

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	rePct   = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	reSpeed = regexp.MustCompile(`\bat\s+([^\s]+)`)
	reETA   = regexp.MustCompile(`\bETA\s+([0-9:]+|Unknown)`)
	reOf    = regexp.MustCompile(`\bof\s+~?\s*([^\s]+)`)
)

const (
	PhaseMetadata    = "metadata"
	PhasePreparing   = "preparing"
	PhaseDownloading = "downloading"
	PhasePostProcess = "post_processing"
	PhaseFinished    = "finished"
)

type Progress struct {
	Phase     string
	Percent   float64
	Speed     string
	ETA       string
	TotalSize string
}

// progressParser folds yt-dlp --newline output into Progress snapshots.
type progressParser struct {
	cur Progress
}

// Handle consumes one line and reports whether the snapshot changed.
func (p *progressParser) Handle(_ OutputStream, line string) (Progress, bool) {
	l := strings.TrimSpace(line)
	if l == "" {
		return p.cur, false
	}
	before := p.cur

	switch {
	case strings.HasPrefix(l, "[youtube]") || strings.HasPrefix(l, "[youtube:tab]"):
		if p.cur.Phase == "" {
			p.cur.Phase = PhaseMetadata
		}
	case strings.HasPrefix(l, "[info]"):
		if p.cur.Phase == "" || p.cur.Phase == PhaseMetadata {
			p.cur.Phase = PhasePreparing
		}
	case strings.HasPrefix(l, "[download]"):
		p.handleDownload(l)
	case strings.HasPrefix(l, "[Merger]"), strings.HasPrefix(l, "[EmbedSubtitle]"),
		strings.HasPrefix(l, "[EmbedThumbnail]"), strings.HasPrefix(l, "[Metadata]"),
		strings.HasPrefix(l, "[ExtractAudio]"), strings.HasPrefix(l, "[VideoConvertor]"):
		p.cur.Phase = PhasePostProcess
	}
	return p.cur, p.cur != before
}

func (p *progressParser) handleDownload(l string) {
	if strings.Contains(l, "has already been downloaded") {
		p.cur.Phase = PhaseFinished
		p.cur.Percent = 100
		return
	}
	if strings.Contains(l, "Destination:") {
		p.cur.Phase = PhaseDownloading
		return
	}
	m := rePct.FindStringSubmatch(l)
	if len(m) < 2 {
		return
	}
	p.cur.Phase = PhaseDownloading
	if v, err := strconv.ParseFloat(m[1], 64); err == nil {
		if v > 100 {
			v = 100
		}
		p.cur.Percent = v
	}
	if m := reSpeed.FindStringSubmatch(l); len(m) > 1 {
		p.cur.Speed = m[1]
	}
	if m := reETA.FindStringSubmatch(l); len(m) > 1 {
		p.cur.ETA = m[1]
	}
	if m := reOf.FindStringSubmatch(l); len(m) > 1 {
		p.cur.TotalSize = m[1]
	}
}
