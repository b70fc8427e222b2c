package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"you-hoard/internal/model"
	"you-hoard/internal/store"
	"you-hoard/internal/ytdlp"
)

func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	quality := fs.String("quality", "", "quality preset: best|1080p|720p|480p|360p|worst (default: DEFAULT_QUALITY)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one video URL or id")
	}

	ctx := context.Background()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.library.SubmitVideo(ctx, fs.Arg(0), *quality)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(res)
	}
	if res.Existing {
		fmt.Printf("%s is already in the library (video %d, %s)\n", res.Video.ExternalID, res.Video.ID, res.Video.DownloadStatus)
		return nil
	}
	fmt.Printf("queued %q (video %d, job %s)\n", res.Video.Title, res.Video.ID, res.JobID)
	return nil
}

// runExtract either prints metadata right away or queues a metadata job
// whose result is stored on the job row.
func runExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	queue := fs.Bool("queue", false, "queue a metadata job instead of extracting now")
	flat := fs.Bool("flat", false, "list collection entries without resolving each one")
	limit := fs.Int("limit", 0, "max collection entries to read (0 = all)")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one URL")
	}
	url := strings.TrimSpace(fs.Arg(0))

	ctx := context.Background()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if *queue {
		id, err := a.queue.EnqueueMetadata(ctx, url, a.cfg.Priority.Default)
		if err != nil {
			return err
		}
		fmt.Printf("metadata job %s queued\n", id)
		return nil
	}
	info, err := a.gateway.ExtractInfo(ctx, url, ytdlp.Options{FlatPlaylist: *flat, PlaylistEnd: *limit})
	if err != nil {
		return err
	}
	return printJSON(info)
}

func runVideos(args []string) error {
	fs := flag.NewFlagSet("videos", flag.ContinueOnError)
	status := fs.String("status", "", "filter by download status: pending|completed|failed")
	channel := fs.Int64("channel", 0, "filter by channel id")
	limit := fs.Int("limit", 50, "max rows")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	videos, err := a.store.ListVideos(ctx, store.VideoFilter{
		ChannelID:      *channel,
		DownloadStatus: strings.TrimSpace(*status),
		Limit:          *limit,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(videos)
	}
	if len(videos) == 0 {
		fmt.Println("no videos")
		return nil
	}
	for _, v := range videos {
		size := ""
		if v.FileSize != nil {
			size = formatBytesIEC(*v.FileSize)
		}
		fmt.Printf("%-6d %s  %-9s %-5s %-6s %9s  %s\n", v.ID, v.ExternalID, v.DownloadStatus,
			defaultIfEmpty(v.VideoType, model.ContentTypeVideo), defaultIfEmpty(v.Quality, "-"), size, v.Title)
	}
	return nil
}
