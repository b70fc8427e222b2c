package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"you-hoard/internal/store"
)

func runJobs(args []string) error {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	status := fs.String("status", "", "comma-separated statuses: queued,processing,completed,failed")
	jobType := fs.String("type", "", "comma-separated job types")
	subscription := fs.Int64("subscription", 0, "only jobs for this subscription")
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

	list, err := a.queue.ListJobs(ctx, store.JobFilter{
		Statuses:       splitList(*status),
		Types:          splitList(*jobType),
		SubscriptionID: *subscription,
		Limit:          *limit,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("no jobs")
		return nil
	}
	for _, j := range list {
		line := fmt.Sprintf("%s  %-10s p%-2d %-26s %-18s %5.1f%%", j.ID, j.Status, j.Priority, j.Type, j.Target(), j.Progress)
		if j.ErrorMessage != "" {
			line += "  " + truncateRunes(j.ErrorMessage, 80)
		}
		fmt.Println(line)
	}
	return nil
}

func runRetry(args []string) error {
	fs := flag.NewFlagSet("retry", flag.ContinueOnError)
	allFailed := fs.Bool("all-failed", false, "requeue every failed job")
	jobType := fs.String("type", "", "with --all-failed, only this job type")
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

	if *allFailed {
		n, err := a.queue.RetryFailed(ctx, strings.TrimSpace(*jobType))
		if err != nil {
			return err
		}
		fmt.Printf("requeued %d failed job(s)\n", n)
		return nil
	}
	if fs.NArg() != 1 {
		return errors.New("expected a job id or --all-failed")
	}
	id := strings.TrimSpace(fs.Arg(0))
	if err := a.queue.Retry(ctx, id); err != nil {
		return err
	}
	fmt.Printf("requeued job %s\n", id)
	return nil
}

func runEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	subscription := fs.Int64("subscription", 0, "only events for this subscription")
	limit := fs.Int("limit", 20, "max rows")
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

	events, err := a.store.ListEvents(ctx, *subscription, *limit)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(events)
	}
	if len(events) == 0 {
		fmt.Println("no scheduler events")
		return nil
	}
	for _, ev := range events {
		fmt.Printf("%-5d sub=%-4d %s  %-16s %-15s found=%d added=%d queued=%d filtered=%d %dms",
			ev.ID, ev.SubscriptionID, ev.StartedAt.Local().Format("2006-01-02 15:04:05"), ev.EventType,
			defaultIfEmpty(ev.Status, "-"), ev.VideosFound, ev.VideosAdded, ev.VideosQueued, ev.VideosFiltered, ev.DurationMS)
		if ev.ErrorMessage != "" {
			fmt.Printf("  %s", truncateRunes(ev.ErrorMessage, 80))
		}
		fmt.Println()
	}
	return nil
}
