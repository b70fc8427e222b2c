package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// DefaultUserAgents is the identity pool rotated across calls.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/92.0.4515.107 Safari/537.36",
}

const (
	OpExtract  = "extract_info"
	OpDownload = "download"
)

type RetryPolicy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	Factor      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, MinBackoff: 2 * time.Second, MaxBackoff: 60 * time.Second, Factor: 2}
}

// Backoff returns min(MinBackoff * Factor^(attempt-1), MaxBackoff).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.MinBackoff) * math.Pow(factor, float64(attempt-1))
	if d > float64(p.MaxBackoff) || math.IsInf(d, 1) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// Observer receives gateway telemetry; the metrics package implements it.
type Observer interface {
	ObserveGatewayCall(op, outcome string)
	ObserveGatewayBackoff(d time.Duration)
}

type Status struct {
	FailureCount    int     `json:"failure_count"`
	IsBackingOff    bool    `json:"is_backing_off"`
	NextAvailableIn float64 `json:"next_available_in"`
	TotalCalls      int64   `json:"total_calls"`
	LastError       string  `json:"last_error,omitempty"`
}

type GatewayOptions struct {
	Retry              RetryPolicy
	UserAgent          string
	CookiesFile        string
	CookiesFromBrowser string
	ProxyURL           string

	Limiter  *RateLimiter
	Runner   Runner
	Logger   *slog.Logger
	Observer Observer

	// Sleep and Rand are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
}

// Gateway is the only path to the upstream source. All callers share its
// rate limiter, retry policy and failure state.
type Gateway struct {
	retry      RetryPolicy
	userAgents []string
	cookies    []string
	cookiesErr error
	proxy      string

	limiter  *RateLimiter
	runner   Runner
	logger   *slog.Logger
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error

	randMu sync.Mutex
	rand   func() float64

	mu           sync.Mutex
	failureCount int
	totalCalls   int64
	backoffUntil time.Time
	lastError    string
	now          func() time.Time
}

func NewGateway(opts GatewayOptions) *Gateway {
	g := &Gateway{
		retry:    opts.Retry,
		proxy:    strings.TrimSpace(opts.ProxyURL),
		limiter:  opts.Limiter,
		runner:   opts.Runner,
		logger:   opts.Logger,
		observer: opts.Observer,
		sleep:    opts.Sleep,
		rand:     opts.Rand,
		now:      time.Now,
	}
	if g.retry.MaxAttempts < 1 {
		g.retry = DefaultRetryPolicy()
	}
	if g.limiter == nil {
		g.limiter = NewRateLimiter(3 * time.Second)
	}
	if g.runner == nil {
		g.runner = ExecRunner{Logger: opts.Logger}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.sleep == nil {
		g.sleep = sleepContext
	}
	if g.rand == nil {
		src := rand.New(rand.NewSource(time.Now().UnixNano()))
		g.rand = src.Float64
	}

	g.userAgents = append([]string{}, DefaultUserAgents...)
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		g.userAgents = append(g.userAgents, ua)
	}

	switch {
	case strings.TrimSpace(opts.CookiesFile) != "":
		path, err := resolveCookiesPath(opts.CookiesFile)
		if err != nil {
			g.cookiesErr = err
		} else {
			g.cookies = []string{"--cookies", path}
		}
	case strings.TrimSpace(opts.CookiesFromBrowser) != "":
		g.cookies = []string{"--cookies-from-browser", strings.TrimSpace(opts.CookiesFromBrowser)}
	}
	return g
}

// ExtractInfo fetches metadata for a single item or a collection.
func (g *Gateway) ExtractInfo(ctx context.Context, url string, opts Options) (*Info, error) {
	if strings.TrimSpace(url) == "" {
		return nil, &ExtractionError{Kind: KindPermanent, Op: OpExtract, URL: url, Attempts: 0, Err: errors.New("source URL is required")}
	}
	var info *Info
	err := g.call(ctx, OpExtract, url, func(ctx context.Context, identity []string) error {
		args := append(identity, opts.extractArgs()...)
		args = append(args, url)
		res, err := g.runner.Run(ctx, Invocation{Args: args, CaptureStdout: true})
		if err != nil {
			return err
		}
		parsed, err := ParseInfo(res.Stdout)
		if err != nil {
			return err
		}
		info = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Download transfers one item into outputDir, reporting progress snapshots
// to progress (which may be nil). progress is called from the reader
// goroutine of the subprocess.
func (g *Gateway) Download(ctx context.Context, url, outputDir string, progress func(Progress), opts Options) error {
	if strings.TrimSpace(url) == "" {
		return &ExtractionError{Kind: KindPermanent, Op: OpDownload, URL: url, Err: errors.New("video URL is required")}
	}
	if strings.TrimSpace(outputDir) == "" {
		return fmt.Errorf("output directory is required")
	}
	dlArgs, err := opts.downloadArgs(outputDir)
	if err != nil {
		return err
	}
	return g.call(ctx, OpDownload, url, func(ctx context.Context, identity []string) error {
		args := append(identity, dlArgs...)
		args = append(args, url)
		parser := &progressParser{}
		_, err := g.runner.Run(ctx, Invocation{
			Args: args,
			OnLine: func(stream OutputStream, line string) {
				if snap, changed := parser.Handle(stream, line); changed && progress != nil {
					progress(snap)
				}
			},
		})
		return err
	})
}

func (g *Gateway) Status() Status {
	g.mu.Lock()
	now := g.now()
	st := Status{
		FailureCount: g.failureCount,
		TotalCalls:   g.totalCalls,
		LastError:    g.lastError,
	}
	var backoffLeft time.Duration
	if g.backoffUntil.After(now) {
		st.IsBackingOff = true
		backoffLeft = g.backoffUntil.Sub(now)
	}
	g.mu.Unlock()

	wait := g.limiter.NextAvailableIn()
	if backoffLeft > wait {
		wait = backoffLeft
	}
	st.NextAvailableIn = wait.Seconds()
	return st
}

func (g *Gateway) call(ctx context.Context, op, url string, run func(ctx context.Context, identity []string) error) error {
	if g.cookiesErr != nil {
		return fmt.Errorf("%s %s: %w", op, url, g.cookiesErr)
	}
	var lastErr error
	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			g.observe(op, "cancelled")
			return fmt.Errorf("%s %s: %w", op, url, err)
		}
		g.mu.Lock()
		g.totalCalls++
		g.mu.Unlock()

		err := run(ctx, g.identityArgs())
		if err == nil {
			g.recordSuccess()
			g.observe(op, "success")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			g.observe(op, "cancelled")
			return fmt.Errorf("%s %s: %w", op, url, ctxErr)
		}
		g.recordFailure(err)

		msg := upstreamMessage(err)
		if IsPermanentMessage(msg) {
			g.observe(op, "permanent")
			g.logger.Warn("extraction failed permanently", "op", op, "url", url, "attempt", attempt, "error", firstLine(err))
			return &ExtractionError{Kind: KindPermanent, Op: op, URL: url, Attempts: attempt, Err: err}
		}
		lastErr = err
		if attempt == g.retry.MaxAttempts {
			break
		}

		delay := g.retry.Backoff(attempt)
		if IsBlockedMessage(msg) {
			delay = time.Duration(float64(delay) * g.blockMultiplier())
		}
		g.observe(op, "retry")
		if g.observer != nil {
			g.observer.ObserveGatewayBackoff(delay)
		}
		g.logger.Warn("extraction failed, backing off",
			"op", op, "url", url, "attempt", attempt, "max_attempts", g.retry.MaxAttempts,
			"backoff", delay.String(), "error", firstLine(err))

		g.setBackoff(delay)
		sleepErr := g.sleep(ctx, delay)
		g.setBackoff(0)
		if sleepErr != nil {
			g.observe(op, "cancelled")
			return fmt.Errorf("%s %s: %w", op, url, sleepErr)
		}
	}
	g.observe(op, "exhausted")
	return &ExtractionError{Kind: KindTransient, Op: op, URL: url, Attempts: g.retry.MaxAttempts, Err: lastErr}
}

// identityArgs picks a user agent for this call and appends cookie/proxy
// settings.
func (g *Gateway) identityArgs() []string {
	g.randMu.Lock()
	idx := int(g.rand() * float64(len(g.userAgents)))
	g.randMu.Unlock()
	if idx >= len(g.userAgents) {
		idx = len(g.userAgents) - 1
	}
	args := []string{"--user-agent", g.userAgents[idx]}
	args = append(args, g.cookies...)
	if g.proxy != "" {
		args = append(args, "--proxy", g.proxy)
	}
	return args
}

// blockMultiplier is uniform in [5, 10).
func (g *Gateway) blockMultiplier() float64 {
	g.randMu.Lock()
	defer g.randMu.Unlock()
	return 5 + 5*g.rand()
}

func (g *Gateway) recordSuccess() {
	g.mu.Lock()
	g.failureCount = 0
	g.mu.Unlock()
}

func (g *Gateway) recordFailure(err error) {
	g.mu.Lock()
	g.failureCount++
	g.lastError = firstLine(err)
	g.mu.Unlock()
}

func (g *Gateway) setBackoff(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d <= 0 {
		if !g.backoffUntil.After(g.now()) {
			g.backoffUntil = time.Time{}
		}
		return
	}
	until := g.now().Add(d)
	if until.After(g.backoffUntil) {
		g.backoffUntil = until
	}
}

func (g *Gateway) observe(op, outcome string) {
	if g.observer != nil {
		g.observer.ObserveGatewayCall(op, outcome)
	}
}

func firstLine(err error) string {
	msg := strings.TrimSpace(err.Error())
	for _, line := range strings.Split(msg, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ERROR:") {
			return line
		}
	}
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
