package archive

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var (
	mediaExt = map[string]struct{}{
		".mp4": {}, ".mkv": {}, ".webm": {}, ".avi": {},
		".mov": {}, ".flv": {}, ".m4v": {},
	}
	thumbnailExt = map[string]struct{}{
		".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {},
	}
)

func isPartial(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".part") || strings.HasSuffix(lower, ".ytdl") || strings.HasSuffix(lower, ".tmp")
}

// FindVideoFile returns the first finished media file in dir, or "" when
// none exists. In-progress fragments are ignored.
func FindVideoFile(dir string) (string, error) {
	return findByExt(dir, mediaExt)
}

func FindThumbnail(dir string) (string, error) {
	return findByExt(dir, thumbnailExt)
}

func findByExt(dir string, exts map[string]struct{}) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || isPartial(e.Name()) {
			continue
		}
		if _, ok := exts[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}

func FileSize(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// FormatBytes renders n with binary units, e.g. "1.5 GiB".
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for q := n / unit; q >= unit; q /= unit {
		div *= unit
		exp++
	}
	value := float64(n) / float64(div)
	return strconv.FormatFloat(value, 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
