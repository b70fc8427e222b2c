package ytdlp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type scriptedRunner struct {
	mu    sync.Mutex
	calls [][]string
	steps []func(inv Invocation) (Result, error)
}

func (r *scriptedRunner) Run(_ context.Context, inv Invocation) (Result, error) {
	r.mu.Lock()
	idx := len(r.calls)
	r.calls = append(r.calls, inv.Args)
	r.mu.Unlock()
	if idx >= len(r.steps) {
		idx = len(r.steps) - 1
	}
	return r.steps[idx](inv)
}

func fail(stderr string) func(Invocation) (Result, error) {
	return func(Invocation) (Result, error) {
		return Result{}, &CommandError{Err: errors.New("exit status 1"), Stderr: stderr}
	}
}

func succeedJSON(doc string) func(Invocation) (Result, error) {
	return func(Invocation) (Result, error) {
		return Result{Stdout: []byte(doc)}, nil
	}
}

func newTestGateway(runner Runner, sleeper *recordingSleeper, attempts int) *Gateway {
	return NewGateway(GatewayOptions{
		Retry:   RetryPolicy{MaxAttempts: attempts, MinBackoff: 2 * time.Second, MaxBackoff: 60 * time.Second, Factor: 2},
		Limiter: NewRateLimiter(0),
		Runner:  runner,
		Sleep:   sleeper.Sleep,
		Rand:    func() float64 { return 0.5 },
	})
}

func TestGateway_PermanentErrorShortCircuits(t *testing.T) {
	runner := &scriptedRunner{steps: []func(Invocation) (Result, error){
		fail("ERROR: [youtube] dQw4w9WgXcQ: This video has been removed by the uploader"),
	}}
	sleeper := &recordingSleeper{}
	g := newTestGateway(runner, sleeper, 5)

	_, err := g.ExtractInfo(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ", Options{})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	var xerr *ExtractionError
	if !errors.As(err, &xerr) || xerr.Attempts != 1 {
		t.Fatalf("expected exactly one attempt, got %+v", xerr)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(runner.calls))
	}
	if len(sleeper.delays) != 0 {
		t.Fatalf("expected no backoff sleep, got %v", sleeper.delays)
	}
	if st := g.Status(); st.FailureCount != 1 {
		t.Fatalf("expected failure_count=1, got %d", st.FailureCount)
	}
}

func TestGateway_RetriesTransientThenSucceeds(t *testing.T) {
	runner := &scriptedRunner{steps: []func(Invocation) (Result, error){
		fail("ERROR: HTTP Error 500: Internal Server Error"),
		fail("ERROR: Read timed out"),
		succeedJSON(`{"id":"abc123def45","title":"ok","duration":12.5}`),
	}}
	sleeper := &recordingSleeper{}
	g := newTestGateway(runner, sleeper, 5)

	info, err := g.ExtractInfo(context.Background(), "https://www.youtube.com/watch?v=abc123def45", Options{})
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if info.ID != "abc123def45" || info.Duration != 12.5 {
		t.Fatalf("unexpected info: %+v", info)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("expected %d backoff sleeps, got %v", len(want), sleeper.delays)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Fatalf("backoff %d: got %s want %s", i, sleeper.delays[i], want[i])
		}
	}
	if st := g.Status(); st.FailureCount != 0 || st.TotalCalls != 3 {
		t.Fatalf("expected failure count reset and 3 calls, got %+v", st)
	}
}

func TestGateway_ExhaustedRetriesAreTransient(t *testing.T) {
	runner := &scriptedRunner{steps: []func(Invocation) (Result, error){
		fail("ERROR: Unable to download webpage: timed out"),
	}}
	sleeper := &recordingSleeper{}
	g := newTestGateway(runner, sleeper, 3)

	_, err := g.ExtractInfo(context.Background(), "https://www.youtube.com/@someone", Options{})
	if !errors.Is(err, ErrTransient) || IsPermanent(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if len(runner.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(runner.calls))
	}
	if len(sleeper.delays) != 2 {
		t.Fatalf("expected 2 sleeps between 3 attempts, got %v", sleeper.delays)
	}
}

func TestGateway_BlockedResponsesBackOffHarder(t *testing.T) {
	runner := &scriptedRunner{steps: []func(Invocation) (Result, error){
		fail("ERROR: unable to download video data: HTTP Error 429: Too Many Requests"),
		succeedJSON(`{"id":"x"}`),
	}}
	sleeper := &recordingSleeper{}
	g := newTestGateway(runner, sleeper, 5)

	if _, err := g.ExtractInfo(context.Background(), "https://example.com/v", Options{}); err != nil {
		t.Fatal(err)
	}
	// rand=0.5 gives a 7.5x multiplier on the 2s base.
	if len(sleeper.delays) != 1 || sleeper.delays[0] != 15*time.Second {
		t.Fatalf("expected one 15s backoff, got %v", sleeper.delays)
	}
}

func failWithOutput(stderr, stdout string) func(Invocation) (Result, error) {
	return func(Invocation) (Result, error) {
		return Result{}, &CommandError{Err: errors.New("exit status 1"), Stderr: stderr, Stdout: stdout}
	}
}

func TestGateway_StdoutTitleDoesNotMakeFailurePermanent(t *testing.T) {
	runner := &scriptedRunner{steps: []func(Invocation) (Result, error){
		failWithOutput(
			"ERROR: unable to download video data: timed out",
			"[download] Destination: /archive/channels/UCx_Chan/dQw4w9WgXcQ_Copyright_Explained_Private_Video_Tour/video.mp4",
		),
	}}
	sleeper := &recordingSleeper{}
	g := newTestGateway(runner, sleeper, 3)

	err := g.Download(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ", t.TempDir(), nil, Options{})
	if IsPermanent(err) || !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if len(runner.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(runner.calls))
	}
}

func TestGateway_StdoutProgressDoesNotTriggerBlockedBackoff(t *testing.T) {
	runner := &scriptedRunner{steps: []func(Invocation) (Result, error){
		failWithOutput(
			"ERROR: unable to download video data: timed out",
			"[download]  10.0% of 429.31MiB at 403.00KiB/s ETA 17:20",
		),
		func(Invocation) (Result, error) { return Result{}, nil },
	}}
	sleeper := &recordingSleeper{}
	g := newTestGateway(runner, sleeper, 3)

	if err := g.Download(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ", t.TempDir(), nil, Options{}); err != nil {
		t.Fatal(err)
	}
	if len(sleeper.delays) != 1 || sleeper.delays[0] != 2*time.Second {
		t.Fatalf("expected one plain 2s backoff, got %v", sleeper.delays)
	}
}

func TestUpstreamMessage_UsesStderrErrorLines(t *testing.T) {
	err := &CommandError{
		Err:    errors.New("exit status 1"),
		Stderr: "WARNING: [youtube] private video fallback\nERROR: HTTP Error 429: Too Many Requests",
		Stdout: "Copyright",
	}
	if got := upstreamMessage(err); got != "ERROR: HTTP Error 429: Too Many Requests" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := upstreamMessage(&CommandError{Err: errors.New("exit status 2"), Stdout: "private video"}); got != "exit status 2" {
		t.Fatalf("expected exit status without stderr, got %q", got)
	}
	if got := upstreamMessage(errors.New("ERROR: Video unavailable")); got != "ERROR: Video unavailable" {
		t.Fatalf("plain errors should classify on their text, got %q", got)
	}
}

func TestGateway_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &scriptedRunner{steps: []func(Invocation) (Result, error){
		func(Invocation) (Result, error) {
			cancel()
			return Result{}, errors.New("signal: killed")
		},
	}}
	sleeper := &recordingSleeper{}
	g := newTestGateway(runner, sleeper, 5)

	err := g.Download(ctx, "https://example.com/v", t.TempDir(), nil, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(runner.calls) != 1 || len(sleeper.delays) != 0 {
		t.Fatalf("expected no retry after cancel, calls=%d sleeps=%v", len(runner.calls), sleeper.delays)
	}
}

func TestRetryPolicy_BackoffIsMonotonicAndCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 20, MinBackoff: 2 * time.Second, MaxBackoff: 60 * time.Second, Factor: 2}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := p.Backoff(attempt)
		if d < prev {
			t.Fatalf("attempt %d: backoff %s decreased from %s", attempt, d, prev)
		}
		if d > p.MaxBackoff {
			t.Fatalf("attempt %d: backoff %s exceeds cap", attempt, d)
		}
		prev = d
	}
	if prev != p.MaxBackoff {
		t.Fatalf("expected backoff to reach the cap, got %s", prev)
	}
}

func TestGateway_IdentityArgsRotateAndCarryCookies(t *testing.T) {
	runner := &scriptedRunner{steps: []func(Invocation) (Result, error){succeedJSON(`{"id":"x"}`)}}
	g := NewGateway(GatewayOptions{
		Limiter:            NewRateLimiter(0),
		Runner:             runner,
		CookiesFromBrowser: "firefox",
		ProxyURL:           "socks5://127.0.0.1:1080",
		UserAgent:          "custom-agent/1.0",
		Rand:               func() float64 { return 0.99 },
	})
	if _, err := g.ExtractInfo(context.Background(), "https://example.com/v", Options{FlatPlaylist: true, PlaylistEnd: 8}); err != nil {
		t.Fatal(err)
	}
	args := strings.Join(runner.calls[0], " ")
	for _, want := range []string{
		"--user-agent custom-agent/1.0",
		"--cookies-from-browser firefox",
		"--proxy socks5://127.0.0.1:1080",
		"-J",
		"--flat-playlist",
		"--playlist-end 8",
	} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in args: %s", want, args)
		}
	}
	if !strings.HasSuffix(args, "https://example.com/v") {
		t.Fatalf("expected URL last: %s", args)
	}
}

func TestGateway_MissingCookiesFileFailsCalls(t *testing.T) {
	g := NewGateway(GatewayOptions{
		Limiter:     NewRateLimiter(0),
		Runner:      &scriptedRunner{steps: []func(Invocation) (Result, error){succeedJSON(`{}`)}},
		CookiesFile: "/does/not/exist/cookies.txt",
	})
	if _, err := g.ExtractInfo(context.Background(), "https://example.com/v", Options{}); err == nil {
		t.Fatalf("expected missing cookies file to fail")
	}
}

func TestGateway_DownloadReportsProgress(t *testing.T) {
	runner := RunnerFunc(func(_ context.Context, inv Invocation) (Result, error) {
		for _, line := range []string{
			"[youtube] abc: Downloading webpage",
			"[info] abc: Downloading 1 format(s): 137+140",
			"[download] Destination: video.f137.mp4",
			"[download]  42.0% of ~ 10.00MiB at  1.50MiB/s ETA 00:04",
			"[download] 100% of   10.00MiB in 00:00:06 at 1.60MiB/s",
			"[Merger] Merging formats into \"video.mp4\"",
		} {
			inv.OnLine(StreamStdout, line)
		}
		return Result{}, nil
	})
	g := NewGateway(GatewayOptions{Limiter: NewRateLimiter(0), Runner: runner})

	var snaps []Progress
	err := g.Download(context.Background(), "https://example.com/v", t.TempDir(), func(p Progress) {
		snaps = append(snaps, p)
	}, Options{Format: "best"})
	if err != nil {
		t.Fatal(err)
	}
	var sawPartial bool
	for _, s := range snaps {
		if s.Percent == 42 && s.Speed == "1.50MiB/s" && s.ETA == "00:04" {
			sawPartial = true
		}
	}
	if !sawPartial {
		t.Fatalf("expected a 42%% snapshot with speed and ETA, got %+v", snaps)
	}
	last := snaps[len(snaps)-1]
	if last.Phase != PhasePostProcess || last.Percent != 100 {
		t.Fatalf("expected final post-processing snapshot at 100%%, got %+v", last)
	}
}

func TestRateLimiter_SpacesDispatches(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var waits []time.Duration
	rl := NewRateLimiter(3 * time.Second)
	rl.now = func() time.Time { return base }
	rl.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	for i := 0; i < 3; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	want := []time.Duration{3 * time.Second, 6 * time.Second}
	if len(waits) != 2 || waits[0] != want[0] || waits[1] != want[1] {
		t.Fatalf("expected waits %v, got %v", want, waits)
	}
	if got := rl.NextAvailableIn(); got != 9*time.Second {
		t.Fatalf("expected next slot in 9s, got %s", got)
	}
}

func TestClassification(t *testing.T) {
	permanent := []string{
		"ERROR: [youtube] abc: Video unavailable. This video is private",
		"ERROR: This account has been terminated for a violation of YouTube's Terms of Service",
		"ERROR: The uploader has not made this video available in your country",
		"ERROR: Sign in to confirm your age",
		"ERROR: [youtube:tab] This playlist does not exist",
		"ERROR: This video is no longer available due to a copyright claim",
		"ERROR: 'not-a-url' is not a valid URL",
		"ERROR: Unsupported URL: https://example.com",
	}
	for _, msg := range permanent {
		if !IsPermanentMessage(msg) {
			t.Fatalf("expected permanent: %s", msg)
		}
	}
	transient := []string{
		"ERROR: HTTP Error 429: Too Many Requests",
		"ERROR: Unable to download webpage: <urlopen error timed out>",
		"ERROR: HTTP Error 503: Service Unavailable",
	}
	for _, msg := range transient {
		if IsPermanentMessage(msg) {
			t.Fatalf("expected transient: %s", msg)
		}
	}
	if !IsBlockedMessage("HTTP Error 403: Forbidden") || IsBlockedMessage("video id ab4031cd") {
		t.Fatalf("unexpected blocked classification")
	}
}

func TestInfoFlatten(t *testing.T) {
	doc := `{"_type":"playlist","id":"UCxyz","entries":[
		{"_type":"playlist","id":"tab-videos","entries":[{"id":"a"},{"id":"b"}]},
		{"id":""},
		{"id":"c","width":1080,"height":1920}
	]}`
	info, err := ParseInfo([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	entries := info.Flatten()
	if len(entries) != 3 || entries[0].ID != "a" || entries[2].ID != "c" || entries[2].Height != 1920 {
		t.Fatalf("unexpected flatten result: %+v", entries)
	}

	single, _ := ParseInfo([]byte(`{"id":"solo","title":"one"}`))
	if got := single.Flatten(); len(got) != 1 || got[0].ID != "solo" {
		t.Fatalf("expected single item as one entry, got %+v", got)
	}
}

func TestDownloadArgs_RejectsUnknownPostProcessor(t *testing.T) {
	if _, err := (Options{PostProcessors: []PostProcessor{"transcode"}}).downloadArgs("/tmp/x"); err == nil {
		t.Fatalf("expected unknown post-processor to be rejected")
	}
	args, err := Options{
		Format:         "bestvideo[height<=?720]+bestaudio/best",
		SubtitleLangs:  []string{"en", "auto"},
		PostProcessors: []PostProcessor{PostEmbedSubs},
		WriteInfoJSON:  true,
	}.downloadArgs("/tmp/x")
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{"-P /tmp/x", "-o video.%(ext)s", "--write-info-json", "--embed-subs", "--sub-langs en.*,en,.*-orig,-live_chat"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in %s", want, joined)
		}
	}
}
