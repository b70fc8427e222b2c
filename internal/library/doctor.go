package library

import (
	"context"
	"os"
	"strings"

	"you-hoard/internal/runstore"
	"you-hoard/internal/ytdlp"
)

type DoctorOptions struct {
	YTDLPBinary string
	StoragePath string
	// DataDir is checked only for the file store backend.
	DataDir string
	// Store, when set, is probed with a cheap count query.
	Store interface {
		CountChannels(ctx context.Context) (int, error)
	}
}

type DoctorResult struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func Doctor(ctx context.Context, opts DoctorOptions) DoctorResult {
	checks := make([]DoctorCheck, 0, 5)
	dep := ytdlp.DependencyStatus(opts.YTDLPBinary)
	checks = append(checks, DoctorCheck{
		Name:    "dependency:yt-dlp",
		OK:      dep.YTDLPFound,
		Message: dependencyMessage(dep.YTDLPFound, dep.YTDLPPath, "yt-dlp"),
	})
	checks = append(checks, DoctorCheck{
		Name:    "dependency:ffmpeg",
		OK:      dep.FFmpegFound,
		Message: dependencyMessage(dep.FFmpegFound, dep.FFmpegPath, "ffmpeg"),
	})

	ok, msg := ensureWritableDir(opts.StoragePath)
	checks = append(checks, DoctorCheck{Name: "directory:storage", OK: ok, Message: msg})

	if strings.TrimSpace(opts.DataDir) != "" {
		ok, msg := ensureWritableDir(opts.DataDir)
		checks = append(checks, DoctorCheck{Name: "directory:data", OK: ok, Message: msg})
	}

	if opts.Store != nil {
		check := DoctorCheck{Name: "store", OK: true, Message: "reachable"}
		if _, err := opts.Store.CountChannels(ctx); err != nil {
			check.OK = false
			check.Message = err.Error()
		}
		checks = append(checks, check)
	}

	all := true
	for _, c := range checks {
		if !c.OK {
			all = false
			break
		}
	}
	return DoctorResult{OK: all, Checks: checks}
}

func dependencyMessage(ok bool, path, name string) string {
	if ok {
		return name + " found at " + path
	}
	return name + " not found on PATH"
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "you-hoard-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}
