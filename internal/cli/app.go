package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"you-hoard/internal/archive"
	"you-hoard/internal/config"
	"you-hoard/internal/jobs"
	"you-hoard/internal/library"
	"you-hoard/internal/logging"
	"you-hoard/internal/runstore"
	"you-hoard/internal/store"
	"you-hoard/internal/store/postgres"
	"you-hoard/internal/ytdlp"
)

// app is the wiring shared by every command. Long-running pieces
// (processor, scheduler, metrics) are added by serve on top of it.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	layout  archive.Layout
	gateway *ytdlp.Gateway
	queue   *jobs.Queue
	library *library.Service
	sched   library.Scheduler
}

type appOptions struct {
	// cfg is loaded from the environment when nil.
	cfg *config.Config
	// observer receives gateway telemetry; nil outside serve.
	observer ytdlp.Observer
	// logWriter defaults to stderr.
	logWriter io.Writer
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg := opts.cfg
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	w := opts.logWriter
	if w == nil {
		w = os.Stderr
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, w)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gateway := ytdlp.NewGateway(ytdlp.GatewayOptions{
		Retry: ytdlp.RetryPolicy{
			MaxAttempts: cfg.YTDLP.MaxRetries,
			MinBackoff:  cfg.YTDLP.MinBackoff,
			MaxBackoff:  cfg.YTDLP.MaxBackoff,
			Factor:      cfg.YTDLP.BackoffFactor,
		},
		UserAgent:          cfg.YTDLP.UserAgent,
		CookiesFile:        cfg.YTDLP.CookiesFile,
		CookiesFromBrowser: browserCookies(cfg.YTDLP),
		ProxyURL:           cfg.YTDLP.ProxyURL,
		Limiter:            ytdlp.NewRateLimiter(cfg.YTDLP.MinRequestInterval),
		Runner:             ytdlp.ExecRunner{Binary: cfg.YTDLP.Binary, Logger: logger},
		Logger:             logger,
		Observer:           opts.observer,
	})

	layout := archive.NewLayout(cfg.StoragePath)
	queue := jobs.NewQueue(st, logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		layout:  layout,
		gateway: gateway,
		queue:   queue,
		sched:   noopScheduler{},
	}
	a.library = library.NewService(library.Options{
		Store:          st,
		Gateway:        gateway,
		Queue:          queue,
		Scheduler:      a,
		Layout:         layout,
		DefaultCron:    cfg.Scheduler.DefaultCron,
		DefaultQuality: cfg.Download.DefaultQuality,
		ManualPriority: cfg.Priority.ManualCheck,
		DirectPriority: cfg.Priority.Direct,
		Logger:         logger,
	})
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// The app forwards schedule changes to whichever scheduler is current, so
// serve can attach the live one after the library is built.
func (a *app) Add(id int64, expr string) bool    { return a.sched.Add(id, expr) }
func (a *app) Update(id int64, expr string) bool { return a.sched.Update(id, expr) }
func (a *app) Remove(id int64)                   { a.sched.Remove(id) }

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		return postgres.Open(ctx, postgres.Options{
			DSN:          cfg.Store.DatabaseURL,
			MaxOpenConns: cfg.Store.MaxOpenConns,
			MaxIdleConns: cfg.Store.MaxIdleConns,
			Logger:       logger,
		})
	case config.BackendFile:
		st, err := store.OpenFile(cfg.DataDir)
		if errors.Is(err, runstore.ErrLocked) {
			return nil, fmt.Errorf("%w (stop the running server, or run `you-hoard unlock` if it crashed)", err)
		}
		if err != nil {
			return nil, fmt.Errorf("open file store %s: %w", cfg.DataDir, err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func browserCookies(c config.YTDLPConfig) string {
	if !c.UseBrowserCookies {
		return ""
	}
	return c.CookiesBrowser
}

// noopScheduler stands in for one-shot commands; the server picks up
// schedule changes from the store when it next starts.
type noopScheduler struct{}

func (noopScheduler) Add(int64, string) bool    { return true }
func (noopScheduler) Update(int64, string) bool { return true }
func (noopScheduler) Remove(int64)              {}
