package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "subscribe":
		return runSubscribe(args[1:])
	case "unsubscribe":
		return runUnsubscribe(args[1:])
	case "subscriptions":
		return runSubscriptions(args[1:])
	case "pause":
		return runSetEnabled("pause", false)(args[1:])
	case "resume":
		return runSetEnabled("resume", true)(args[1:])
	case "check":
		return runCheck(args[1:])
	case "add":
		return runAdd(args[1:])
	case "extract":
		return runExtract(args[1:])
	case "videos":
		return runVideos(args[1:])
	case "jobs":
		return runJobs(args[1:])
	case "retry":
		return runRetry(args[1:])
	case "events":
		return runEvents(args[1:])
	case "recover":
		return runRecover(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "unlock":
		return runUnlock(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("you-hoard: self-hosted channel and playlist archiver")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  you-hoard doctor")
	fmt.Println("  you-hoard subscribe --source <channel-or-playlist-url>")
	fmt.Println("  you-hoard serve --dashboard")
	fmt.Println()
	fmt.Println("Service:")
	fmt.Println("  serve          run the job processor, scheduler and metrics endpoint")
	fmt.Println("  doctor         run dependency, directory and store checks")
	fmt.Println("  recover        rebuild the library from files under STORAGE_PATH")
	fmt.Println("  unlock         clear a stale file store lock after a crash")
	fmt.Println()
	fmt.Println("Subscriptions:")
	fmt.Println("  subscribe      add a channel or playlist subscription")
	fmt.Println("  subscriptions  list subscriptions")
	fmt.Println("  pause/resume   stop or restart scheduled checks for a subscription")
	fmt.Println("  check          queue an immediate check for a subscription")
	fmt.Println("  unsubscribe    delete a subscription (files are kept)")
	fmt.Println("  events         show scheduler check history")
	fmt.Println()
	fmt.Println("Items and Jobs:")
	fmt.Println("  add            archive a single video by URL or id")
	fmt.Println("  extract        print (or queue) yt-dlp metadata for a URL")
	fmt.Println("  videos         list library items")
	fmt.Println("  jobs           list queued, running and finished jobs")
	fmt.Println("  retry          requeue a failed job (or --all-failed)")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Settings come from the environment and an optional .env file")
	fmt.Println("  - Use --json on listing commands for machine-readable output")
	fmt.Println("  - With STORE_BACKEND=file only one process may open the data dir at a time")
}
