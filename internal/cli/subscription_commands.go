package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"you-hoard/internal/library"
	"you-hoard/internal/model"
)

func runSubscribe(args []string) error {
	fs := flag.NewFlagSet("subscribe", flag.ContinueOnError)
	source := fs.String("source", "", "channel or playlist URL")
	subType := fs.String("type", "", "channel|playlist (default: detect from URL)")
	types := fs.String("content-types", strings.Join(model.AllContentTypes, ","), "comma-separated content types: video,short,live")
	latest := fs.Int("latest", library.DefaultLatestN, "number of newest items to keep checking (1-200)")
	cron := fs.String("cron", "", "check schedule as a 5-field cron expression (default: DEFAULT_CHECK_CRON)")
	quality := fs.String("quality", "", "quality preference: best|1080p|720p|480p|360p|worst")
	autoDownload := fs.Bool("auto-download", true, "queue downloads for newly discovered items")
	enabled := fs.Bool("enabled", true, "schedule checks for this subscription")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	src := strings.TrimSpace(*source)
	if src == "" && fs.NArg() > 0 {
		src = strings.TrimSpace(fs.Arg(0))
	}
	if src == "" {
		var err error
		if src, err = promptRequired("Source URL"); err != nil {
			return err
		}
	}

	ctx := context.Background()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	sub, err := a.library.CreateSubscription(ctx, library.NewSubscription{
		SourceURL:         src,
		Type:              strings.TrimSpace(*subType),
		ContentTypes:      splitList(*types),
		LatestN:           *latest,
		CheckFrequency:    strings.TrimSpace(*cron),
		QualityPreference: strings.TrimSpace(*quality),
		AutoDownload:      *autoDownload,
		Enabled:           *enabled,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(sub)
	}
	fmt.Printf("subscribed #%d %s (%s, latest %d, %s)\n", sub.ID, sub.SourceURL, strings.Join(sub.ContentTypes, ","), sub.LatestN, sub.CheckFrequency)
	return nil
}

func runUnsubscribe(args []string) error {
	fs := flag.NewFlagSet("unsubscribe", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "skip confirmation prompt")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := subscriptionIDArg(fs)
	if err != nil {
		return err
	}
	if !*yes {
		ok, err := promptConfirm(fmt.Sprintf("Delete subscription %d? Archived files are kept. [y/N]: ", id))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("unsubscribe cancelled")
			return nil
		}
	}

	ctx := context.Background()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.library.DeleteSubscription(ctx, id); err != nil {
		return err
	}
	fmt.Printf("deleted subscription %d\n", id)
	return nil
}

type subscriptionListItem struct {
	model.Subscription
	ChannelName string `json:"channel_name"`
}

func runSubscriptions(args []string) error {
	fs := flag.NewFlagSet("subscriptions", flag.ContinueOnError)
	enabledOnly := fs.Bool("enabled-only", false, "only list enabled subscriptions")
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

	subs, err := a.store.ListSubscriptions(ctx, *enabledOnly)
	if err != nil {
		return err
	}
	items := make([]subscriptionListItem, 0, len(subs))
	for _, s := range subs {
		item := subscriptionListItem{Subscription: s}
		if ch, err := a.store.GetChannel(ctx, s.ChannelID); err == nil {
			item.ChannelName = ch.Name
		}
		items = append(items, item)
	}
	if *jsonOut {
		return printJSON(items)
	}
	if len(items) == 0 {
		fmt.Println("no subscriptions")
		return nil
	}
	for _, it := range items {
		state := "enabled"
		if !it.Enabled {
			state = "paused"
		}
		last := "never"
		if it.LastCheck != nil {
			last = it.LastCheck.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("#%d  %s  [%s]  %s\n", it.ID, defaultIfEmpty(it.ChannelName, "?"), state, it.SourceURL)
		fmt.Printf("     types=%s latest=%d cron=%q auto_download=%s last_check=%s new=%d\n",
			strings.Join(it.ContentTypes, ","), it.LatestN, it.CheckFrequency, yesNo(it.AutoDownload), last, it.NewVideosCount)
	}
	return nil
}

func runSetEnabled(name string, enabled bool) func([]string) error {
	return func(args []string) error {
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		fs.SetOutput(flag.CommandLine.Output())
		if err := fs.Parse(args); err != nil {
			return err
		}
		id, err := subscriptionIDArg(fs)
		if err != nil {
			return err
		}
		ctx := context.Background()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		if _, err := a.library.UpdateSubscription(ctx, id, library.SubscriptionPatch{Enabled: ptr(enabled)}); err != nil {
			return err
		}
		if enabled {
			fmt.Printf("resumed subscription %d\n", id)
		} else {
			fmt.Printf("paused subscription %d\n", id)
		}
		return nil
	}
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := subscriptionIDArg(fs)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	jobID, err := a.library.CheckNow(ctx, id)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(map[string]any{"subscription_id": id, "job_id": jobID})
	}
	fmt.Printf("check queued for subscription %d (job %s)\n", id, jobID)
	return nil
}

func subscriptionIDArg(fs *flag.FlagSet) (int64, error) {
	if fs.NArg() != 1 {
		return 0, errors.New("expected exactly one subscription id")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(fs.Arg(0)), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid subscription id %q", fs.Arg(0))
	}
	return id, nil
}

func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
