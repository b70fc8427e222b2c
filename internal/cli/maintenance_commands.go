package cli

import (
	"context"
	"flag"
	"fmt"

	"you-hoard/internal/config"
	"you-hoard/internal/library"
	"you-hoard/internal/recovery"
	"you-hoard/internal/runstore"
)

func runRecover(args []string) error {
	fs := flag.NewFlagSet("recover", flag.ContinueOnError)
	force := fs.Bool("force", false, "scan even when the store already has channels")
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

	scanner := recovery.NewScanner(a.store, a.layout, a.logger)
	var rep recovery.Report
	if *force {
		rep, err = scanner.Scan(ctx)
	} else {
		var ran bool
		rep, ran, err = scanner.RunIfEmpty(ctx)
		if err == nil && !ran {
			fmt.Println("store already has channels; rerun with --force to scan anyway")
			return nil
		}
	}
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(rep)
	}
	fmt.Printf("channels: %d found, %d created, %d updated\n", rep.ChannelsDiscovered, rep.ChannelsCreated, rep.ChannelsUpdated)
	fmt.Printf("videos:   %d found, %d created, %d updated\n", rep.VideosDiscovered, rep.VideosCreated, rep.VideosUpdated)
	for _, e := range rep.Errors {
		fmt.Printf("  skipped %s\n", e.Error())
	}
	return nil
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	opts := library.DoctorOptions{
		YTDLPBinary: cfg.YTDLP.Binary,
		StoragePath: cfg.StoragePath,
	}
	ctx := context.Background()
	if cfg.Store.Backend == config.BackendFile {
		opts.DataDir = cfg.DataDir
	} else if st, err := openStore(ctx, cfg, nil); err != nil {
		return printDoctor(library.DoctorResult{Checks: []library.DoctorCheck{{Name: "store", Message: err.Error()}}}, *jsonOut)
	} else {
		defer st.Close()
		opts.Store = st
	}
	return printDoctor(library.Doctor(ctx, opts), *jsonOut)
}

func printDoctor(res library.DoctorResult, jsonOut bool) error {
	if jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		for _, c := range res.Checks {
			mark := "ok"
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Printf("[%-4s] %-20s %s\n", mark, c.Name, c.Message)
		}
	}
	if !res.OK {
		return fmt.Errorf("doctor found failing checks")
	}
	return nil
}

// runUnlock clears the file store lock left by a process that died
// without releasing it.
func runUnlock(args []string) error {
	fs := flag.NewFlagSet("unlock", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "skip confirmation prompt")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Store.Backend != config.BackendFile {
		return fmt.Errorf("unlock only applies to the file store (STORE_BACKEND=%s)", cfg.Store.Backend)
	}
	if !*yes {
		ok, err := promptConfirm(fmt.Sprintf("Remove the lock on %s? Only do this when no server is running. [y/N]: ", cfg.DataDir))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("unlock cancelled")
			return nil
		}
	}
	if err := runstore.BreakDataLock(cfg.DataDir); err != nil {
		return err
	}
	fmt.Printf("unlocked %s\n", cfg.DataDir)
	return nil
}
