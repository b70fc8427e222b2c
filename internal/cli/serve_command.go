package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"you-hoard/internal/cache"
	"you-hoard/internal/config"
	"you-hoard/internal/discovery"
	"you-hoard/internal/jobs"
	"you-hoard/internal/metrics"
	"you-hoard/internal/recovery"
	"you-hoard/internal/scheduler"
	"you-hoard/internal/ytdlp"
)

// server is the long-running half of the service.
type server struct {
	*app
	processor *jobs.Processor
	discovery *discovery.Engine
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	sink      *cache.ProgressSink
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	dashboard := fs.Bool("dashboard", false, "show the interactive dashboard while serving")
	skipRecovery := fs.Bool("skip-recovery", false, "do not scan the archive when the store is empty")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *dashboard && !stdinIsTTY() {
		return errors.New("dashboard requires an interactive terminal (TTY)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var logWriter io.Writer = os.Stderr
	if *dashboard {
		// Log lines would tear the alt screen.
		f, err := openDashboardLog(cfg.Log.File)
		if err != nil {
			return err
		}
		defer f.Close()
		logWriter = f
	}

	srv, err := newServer(ctx, cfg, logWriter)
	if err != nil {
		return err
	}
	defer srv.Close()

	if err := ytdlp.CheckDependencies(srv.cfg.YTDLP.Binary); err != nil {
		srv.logger.Warn("dependency check failed", "error", err)
	}

	if !*skipRecovery {
		scanner := recovery.NewScanner(srv.store, srv.layout, srv.logger)
		rep, ran, err := scanner.RunIfEmpty(ctx)
		switch {
		case err != nil:
			srv.logger.Error("archive recovery failed", "error", err)
		case ran:
			srv.logger.Info("archive recovery finished",
				"channels_created", rep.ChannelsCreated, "videos_created", rep.VideosCreated, "errors", len(rep.Errors))
		}
	}

	n, err := srv.scheduler.Load(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	srv.logger.Info("schedules loaded", "count", n)

	if *dashboard {
		return srv.runWithDashboard(ctx, stop)
	}
	return srv.run(ctx)
}

func newServer(ctx context.Context, cfg *config.Config, logWriter io.Writer) (*server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a, err := openApp(ctx, appOptions{cfg: cfg, observer: m, logWriter: logWriter})
	if err != nil {
		return nil, err
	}
	srv := &server{app: a, metrics: m, registry: reg}

	if addr := a.cfg.Redis.Addr; addr != "" {
		client, err := cache.NewClient(ctx, cache.RedisOptions{Addr: addr, Password: a.cfg.Redis.Password, DB: a.cfg.Redis.DB})
		if err != nil {
			a.logger.Warn("progress mirror disabled", "error", err)
		} else {
			srv.sink = cache.NewProgressSink(client, a.cfg.Redis.ProgressTTL)
		}
	}

	srv.discovery = discovery.NewEngine(discovery.Options{
		Store:            a.store,
		Gateway:          a.gateway,
		Enqueuer:         a.queue,
		Logger:           a.logger,
		MaxFetch:         a.cfg.Discovery.MaxFetch,
		OverfetchFactor:  a.cfg.Discovery.OverfetchFactor,
		FlatPlaylist:     a.cfg.Discovery.FlatPlaylist,
		DownloadPriority: a.cfg.Priority.Scheduled,
		DefaultQuality:   a.cfg.Download.DefaultQuality,
	})

	srv.scheduler = scheduler.New(scheduler.Options{
		Store:        a.store,
		Queue:        a.queue,
		Priority:     a.cfg.Priority.Scheduled,
		MisfireGrace: a.cfg.Scheduler.MisfireGrace,
		Observer:     m,
		Logger:       a.logger,
	})
	a.sched = srv.scheduler

	procOpts := jobs.ProcessorOptions{
		Store:      a.store,
		Gateway:    a.gateway,
		Discoverer: srv.discovery,
		Layout:     a.layout,
		Download: jobs.DownloadOptions{
			DefaultQuality: a.cfg.Download.DefaultQuality,
			SubtitleLangs:  a.cfg.Download.SubtitleLanguages,
			EmbedSubs:      a.cfg.Download.EmbedSubs,
			WriteInfoJSON:  a.cfg.Download.WriteInfoJSON,
			WriteThumbnail: a.cfg.Download.WriteThumbnail,
		},
		MaxConcurrentDownloads:  a.cfg.Queue.MaxConcurrentDownloads,
		PollInterval:            a.cfg.Queue.PollInterval,
		ProgressPersistInterval: a.cfg.Queue.ProgressPersistInterval,
		RequeueInterrupted:      a.cfg.Queue.RequeueInterrupted,
		Observer:                m,
		Hook:                    srv.scheduler,
		Logger:                  a.logger,
	}
	if srv.sink != nil {
		procOpts.Sink = srv.sink
	}
	srv.processor = jobs.NewProcessor(procOpts)
	a.queue.SetNotify(srv.processor.Wake)
	return srv, nil
}

// run blocks until ctx is cancelled and every component has stopped.
func (s *server) run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	start("processor", s.processor.Run)
	start("scheduler", s.scheduler.Run)
	if addr := s.cfg.Metrics.Addr; addr != "" {
		start("metrics", func(ctx context.Context) error {
			return metrics.Serve(ctx, addr, metrics.Handler(s.registry, s.gateway.Status), s.logger)
		})
	}
	s.logger.Info("you-hoard serving", "storage", s.cfg.StoragePath, "store", s.cfg.Store.Backend)

	wg.Wait()
	close(errs)
	var all []error
	for err := range errs {
		all = append(all, err)
	}
	s.logger.Info("you-hoard stopped")
	return errors.Join(all...)
}

func (s *server) runWithDashboard(ctx context.Context, stop context.CancelFunc) error {
	done := make(chan error, 1)
	go func() { done <- s.run(ctx) }()

	p := tea.NewProgram(newDashboardModel(serverBackend{s}), tea.WithAltScreen(), tea.WithContext(ctx))
	_, uiErr := p.Run()
	stop()
	runErr := <-done
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return errors.Join(uiErr, runErr)
	}
	return runErr
}

// openDashboardLog opens the log file used while the dashboard owns the
// terminal.
func openDashboardLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dashboard log: %w", err)
	}
	return f, nil
}
