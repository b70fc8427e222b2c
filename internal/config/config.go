package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

type Config struct {
	DataDir     string
	StoragePath string

	Store     StoreConfig
	Redis     RedisConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Queue     QueueConfig
	YTDLP     YTDLPConfig
	Download  DownloadConfig
	Discovery DiscoveryConfig
	Scheduler SchedulerConfig
	Priority  PriorityScale
}

type StoreConfig struct {
	Backend      string
	DatabaseURL  string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	ProgressTTL time.Duration
}

type LogConfig struct {
	Level  string
	Format string
	// File receives log output while serve --dashboard owns the terminal.
	File string
}

type MetricsConfig struct {
	Addr string
}

type QueueConfig struct {
	MaxConcurrentDownloads  int
	PollInterval            time.Duration
	ProgressPersistInterval time.Duration
	RequeueInterrupted      bool
}

type YTDLPConfig struct {
	Binary             string
	MinRequestInterval time.Duration
	MaxRetries         int
	MinBackoff         time.Duration
	MaxBackoff         time.Duration
	BackoffFactor      float64
	UserAgent          string
	UseBrowserCookies  bool
	CookiesBrowser     string
	CookiesFile        string
	ProxyURL           string
}

type DownloadConfig struct {
	DefaultQuality    string
	SubtitleLanguages []string
	EmbedSubs         bool
	WriteInfoJSON     bool
	WriteThumbnail    bool
}

type DiscoveryConfig struct {
	MaxFetch        int
	OverfetchFactor int
	FlatPlaylist    bool
}

type SchedulerConfig struct {
	DefaultCron  string
	MisfireGrace time.Duration
}

// PriorityScale is the single definition of job priorities. Higher values
// are dispatched sooner.
type PriorityScale struct {
	Default     int
	Scheduled   int
	ManualCheck int
	Direct      int
}

func DefaultPriorityScale() PriorityScale {
	return PriorityScale{Default: 0, Scheduled: 1, ManualCheck: 3, Direct: 5}
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function; tests pass a map-backed one.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	p := parser{lookup: lookup}
	prio := DefaultPriorityScale()

	cfg := &Config{
		DataDir:     p.getString("YOUHOARD_DATA_DIR", "./data"),
		StoragePath: p.getString("STORAGE_PATH", "./storage"),
		Store: StoreConfig{
			Backend:      strings.ToLower(p.getString("STORE_BACKEND", BackendFile)),
			DatabaseURL:  p.getString("DATABASE_URL", ""),
			MaxOpenConns: p.getInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: p.getInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:        p.getString("REDIS_ADDR", ""),
			Password:    p.getString("REDIS_PASSWORD", ""),
			DB:          p.getInt("REDIS_DB", 0),
			ProgressTTL: p.getDuration("PROGRESS_TTL", 10*time.Minute),
		},
		Log: LogConfig{
			Level:  p.getString("LOG_LEVEL", "info"),
			Format: p.getString("LOG_FORMAT", "text"),
			File:   p.getString("YOUHOARD_LOG_FILE", "you-hoard.log"),
		},
		Metrics: MetricsConfig{
			Addr: p.getString("METRICS_ADDR", ""),
		},
		Queue: QueueConfig{
			MaxConcurrentDownloads:  p.getInt("MAX_CONCURRENT_DOWNLOADS", 2),
			PollInterval:            p.getDuration("QUEUE_POLL_INTERVAL", 2*time.Second),
			ProgressPersistInterval: p.getDuration("PROGRESS_PERSIST_INTERVAL", time.Second),
			RequeueInterrupted:      p.getBool("REQUEUE_INTERRUPTED", true),
		},
		YTDLP: YTDLPConfig{
			Binary:             p.getString("YTDLP_BINARY", "yt-dlp"),
			MinRequestInterval: p.getDuration("YTDLP_MIN_REQUEST_INTERVAL", 3*time.Second),
			MaxRetries:         p.getInt("YTDLP_MAX_RETRIES", 5),
			MinBackoff:         p.getDuration("YTDLP_MIN_BACKOFF", 2*time.Second),
			MaxBackoff:         p.getDuration("YTDLP_MAX_BACKOFF", 60*time.Second),
			BackoffFactor:      p.getFloat("YTDLP_BACKOFF_FACTOR", 2),
			UserAgent:          p.getString("YTDLP_USER_AGENT", ""),
			UseBrowserCookies:  p.getBool("YTDLP_USE_BROWSER_COOKIES", false),
			CookiesBrowser:     p.getString("YTDLP_COOKIES_BROWSER", "chrome"),
			CookiesFile:        p.getString("YTDLP_COOKIES_FILE", ""),
			ProxyURL:           p.getString("YTDLP_PROXY_URL", ""),
		},
		Download: DownloadConfig{
			DefaultQuality:    p.getString("DEFAULT_QUALITY", "1080p"),
			SubtitleLanguages: p.getList("SUBTITLE_LANGUAGES", []string{"en", "auto"}),
			EmbedSubs:         p.getBool("EMBED_SUBS", true),
			WriteInfoJSON:     p.getBool("WRITE_INFO_JSON", true),
			WriteThumbnail:    p.getBool("WRITE_THUMBNAIL", true),
		},
		Discovery: DiscoveryConfig{
			MaxFetch:        p.getInt("DISCOVERY_MAX_FETCH", 200),
			OverfetchFactor: p.getInt("DISCOVERY_OVERFETCH_FACTOR", 4),
			FlatPlaylist:    p.getBool("DISCOVERY_FLAT_PLAYLIST", false),
		},
		Scheduler: SchedulerConfig{
			DefaultCron:  p.getString("DEFAULT_CHECK_CRON", "0 * * * *"),
			MisfireGrace: p.getDuration("SCHEDULER_MISFIRE_GRACE", 5*time.Minute),
		},
		Priority: PriorityScale{
			Default:     p.getInt("PRIORITY_DEFAULT", prio.Default),
			Scheduled:   p.getInt("PRIORITY_SCHEDULED", prio.Scheduled),
			ManualCheck: p.getInt("PRIORITY_MANUAL_CHECK", prio.ManualCheck),
			Direct:      p.getInt("PRIORITY_DIRECT", prio.Direct),
		},
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StoragePath) == "" {
		errs = append(errs, errors.New("STORAGE_PATH is required"))
	}
	switch c.Store.Backend {
	case BackendFile:
		if strings.TrimSpace(c.DataDir) == "" {
			errs = append(errs, errors.New("YOUHOARD_DATA_DIR is required for the file store"))
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Store.DatabaseURL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q (expected file or postgres)", c.Store.Backend))
	}
	if c.Queue.MaxConcurrentDownloads < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_DOWNLOADS must be at least 1, got %d", c.Queue.MaxConcurrentDownloads))
	}
	if c.Queue.PollInterval <= 0 {
		errs = append(errs, errors.New("QUEUE_POLL_INTERVAL must be positive"))
	}
	if c.Queue.ProgressPersistInterval < 0 {
		errs = append(errs, errors.New("PROGRESS_PERSIST_INTERVAL must not be negative"))
	}
	if c.YTDLP.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("YTDLP_MAX_RETRIES must be at least 1, got %d", c.YTDLP.MaxRetries))
	}
	if c.YTDLP.MinRequestInterval < 0 || c.YTDLP.MinBackoff < 0 || c.YTDLP.MaxBackoff < 0 {
		errs = append(errs, errors.New("yt-dlp intervals must not be negative"))
	}
	if c.YTDLP.MinBackoff > c.YTDLP.MaxBackoff {
		errs = append(errs, fmt.Errorf("YTDLP_MIN_BACKOFF (%s) exceeds YTDLP_MAX_BACKOFF (%s)", c.YTDLP.MinBackoff, c.YTDLP.MaxBackoff))
	}
	if c.YTDLP.BackoffFactor < 1 {
		errs = append(errs, fmt.Errorf("YTDLP_BACKOFF_FACTOR must be at least 1, got %g", c.YTDLP.BackoffFactor))
	}
	if c.Discovery.MaxFetch < 1 || c.Discovery.OverfetchFactor < 1 {
		errs = append(errs, errors.New("DISCOVERY_MAX_FETCH and DISCOVERY_OVERFETCH_FACTOR must be at least 1"))
	}
	if err := validateCron(c.Scheduler.DefaultCron); err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_CHECK_CRON %q: %w", c.Scheduler.DefaultCron, err))
	}
	if c.Scheduler.MisfireGrace < 0 {
		errs = append(errs, errors.New("SCHEDULER_MISFIRE_GRACE must not be negative"))
	}
	if !(c.Priority.Scheduled < c.Priority.ManualCheck && c.Priority.ManualCheck < c.Priority.Direct) {
		errs = append(errs, fmt.Errorf("priority scale must satisfy scheduled < manual_check < direct, got %d/%d/%d",
			c.Priority.Scheduled, c.Priority.ManualCheck, c.Priority.Direct))
	}
	return errors.Join(errs...)
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) raw(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *parser) getString(key, fallback string) string {
	if v, ok := p.raw(key); ok {
		return v
	}
	return fallback
}

func (p *parser) getInt(key string, fallback int) int {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return fallback
	}
	return n
}

func (p *parser) getFloat(key string, fallback float64) float64 {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return fallback
	}
	return f
}

func (p *parser) getBool(key string, fallback bool) bool {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return fallback
	}
	return b
}

// getDuration accepts Go durations ("90s") or bare seconds ("3").
func (p *parser) getDuration(key string, fallback time.Duration) time.Duration {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return fallback
	}
	return d
}

func (p *parser) getList(key string, fallback []string) []string {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

var cronFields = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func validateCron(expr string) error {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return errors.New("timezone prefixes are not supported")
	}
	_, err := cronFields.Parse(expr)
	return err
}
