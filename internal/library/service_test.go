package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"you-hoard/internal/archive"
	"you-hoard/internal/jobs"
	"you-hoard/internal/model"
	"you-hoard/internal/store"
	"you-hoard/internal/ytdlp"
)

type fakeExtractor struct {
	mu    sync.Mutex
	info  map[string]*ytdlp.Info
	err   error
	calls []string
}

func (f *fakeExtractor) ExtractInfo(_ context.Context, url string, _ ytdlp.Options) (*ytdlp.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.err != nil {
		return nil, f.err
	}
	if info, ok := f.info[url]; ok {
		return info, nil
	}
	return nil, &ytdlp.ExtractionError{Kind: ytdlp.KindPermanent, Op: ytdlp.OpExtract, URL: url, Err: errors.New("ERROR: Video unavailable")}
}

type fakeScheduler struct {
	crons map[int64]string
}

func (f *fakeScheduler) Add(id int64, expr string) bool {
	f.crons[id] = expr
	return true
}

func (f *fakeScheduler) Update(id int64, expr string) bool { return f.Add(id, expr) }

func (f *fakeScheduler) Remove(id int64) { delete(f.crons, id) }

type fixture struct {
	svc   *Service
	st    *store.FileStore
	ext   *fakeExtractor
	sched *fakeScheduler
	queue *jobs.Queue
	root  string
}

const channelURL = "https://www.youtube.com/@example/videos"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	ext := &fakeExtractor{info: map[string]*ytdlp.Info{
		channelURL: {Type: "playlist", ID: "UCexample", Title: "Example - Videos", ChannelID: "UCexample", Channel: "Example"},
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ": {
			ID: "dQw4w9WgXcQ", Title: "Single", ChannelID: "UCother", Channel: "Other",
			Duration: 212.4, UploadDate: "20240102", WebpageURL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		},
	}}
	sched := &fakeScheduler{crons: map[int64]string{}}
	queue := jobs.NewQueue(st, nil)
	root := t.TempDir()
	svc := NewService(Options{
		Store:          st,
		Gateway:        ext,
		Queue:          queue,
		Scheduler:      sched,
		Layout:         archive.NewLayout(root),
		DefaultCron:    "0 * * * *",
		DefaultQuality: "1080p",
		ManualPriority: 3,
		DirectPriority: 5,
	})
	return &fixture{svc: svc, st: st, ext: ext, sched: sched, queue: queue, root: root}
}

func TestCreateSubscriptionResolvesChannelAndSchedules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.CreateSubscription(ctx, NewSubscription{SourceURL: channelURL, Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionTypeChannel, sub.Type)
	assert.Equal(t, model.AllContentTypes, sub.ContentTypes)
	assert.Equal(t, DefaultLatestN, sub.LatestN)
	assert.Equal(t, "0 * * * *", f.sched.crons[sub.ID])

	ch, err := f.st.GetChannel(ctx, sub.ChannelID)
	require.NoError(t, err)
	assert.Equal(t, "UCexample", ch.ExternalID)
	assert.Equal(t, "Example", ch.Name)

	info, err := archive.ReadChannelInfo(archive.NewLayout(f.root).ChannelDir("UCexample", "Example"))
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "UCexample", info.ID)
}

func TestCreateSubscriptionRejectsInvalidInputBeforeSideEffects(t *testing.T) {
	cases := []struct {
		name  string
		in    NewSubscription
		field string
	}{
		{"bad url", NewSubscription{SourceURL: "ftp://example.com/x"}, "source_url"},
		{"empty content types", NewSubscription{SourceURL: channelURL, ContentTypes: []string{}}, "content_types"},
		{"unknown content type", NewSubscription{SourceURL: channelURL, ContentTypes: []string{"podcast"}}, "content_types"},
		{"latest n too large", NewSubscription{SourceURL: channelURL, LatestN: 500}, "latest_n_videos"},
		{"bad cron", NewSubscription{SourceURL: channelURL, CheckFrequency: "every hour"}, "check_frequency"},
		{"unknown quality", NewSubscription{SourceURL: channelURL, QualityPreference: "8k"}, "quality_preference"},
		{"bad type", NewSubscription{SourceURL: channelURL, Type: "user"}, "subscription_type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreateSubscription(context.Background(), tc.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.Empty(t, f.ext.calls)

			subs, err := f.st.ListSubscriptions(context.Background(), false)
			require.NoError(t, err)
			assert.Empty(t, subs)
		})
	}
}

func TestCreateSubscriptionRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateSubscription(ctx, NewSubscription{SourceURL: channelURL, Enabled: true})
	require.NoError(t, err)

	_, err = f.svc.CreateSubscription(ctx, NewSubscription{SourceURL: channelURL, Enabled: true})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "source_url", verr.Field)

	subs, err := f.st.ListSubscriptions(ctx, false)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestCreateSubscriptionDisabledIsNotScheduled(t *testing.T) {
	f := newFixture(t)
	sub, err := f.svc.CreateSubscription(context.Background(), NewSubscription{SourceURL: channelURL})
	require.NoError(t, err)
	assert.NotContains(t, f.sched.crons, sub.ID)
}

func TestUpdateSubscriptionValidatesBeforeWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, err := f.svc.CreateSubscription(ctx, NewSubscription{SourceURL: channelURL, Enabled: true})
	require.NoError(t, err)

	_, err = f.svc.UpdateSubscription(ctx, sub.ID, SubscriptionPatch{ContentTypes: []string{}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	stored, err := f.st.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AllContentTypes, stored.ContentTypes)
}

func TestUpdateSubscriptionReconcilesSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, err := f.svc.CreateSubscription(ctx, NewSubscription{SourceURL: channelURL, Enabled: true})
	require.NoError(t, err)

	cron := "*/15 * * * *"
	_, err = f.svc.UpdateSubscription(ctx, sub.ID, SubscriptionPatch{CheckFrequency: &cron})
	require.NoError(t, err)
	assert.Equal(t, cron, f.sched.crons[sub.ID])

	off := false
	updated, err := f.svc.UpdateSubscription(ctx, sub.ID, SubscriptionPatch{Enabled: &off})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.NotContains(t, f.sched.crons, sub.ID)

	on := true
	_, err = f.svc.UpdateSubscription(ctx, sub.ID, SubscriptionPatch{Enabled: &on})
	require.NoError(t, err)
	assert.Equal(t, cron, f.sched.crons[sub.ID])
}

func TestDeleteSubscriptionRemovesSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, err := f.svc.CreateSubscription(ctx, NewSubscription{SourceURL: channelURL, Enabled: true})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteSubscription(ctx, sub.ID))
	assert.NotContains(t, f.sched.crons, sub.ID)
	_, err = f.st.GetSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, f.svc.DeleteSubscription(ctx, sub.ID), store.ErrNotFound)
}

func TestCheckNowQueuesManualDiscovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, err := f.svc.CreateSubscription(ctx, NewSubscription{SourceURL: channelURL, Enabled: true})
	require.NoError(t, err)

	id, err := f.svc.CheckNow(ctx, sub.ID)
	require.NoError(t, err)
	job, err := f.queue.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobTypeDiscovery, job.Type)
	assert.Equal(t, 3, job.Priority)

	_, err = f.svc.CheckNow(ctx, sub.ID)
	assert.True(t, jobs.IsDuplicate(err))

	_, err = f.svc.CheckNow(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubmitVideoCreatesPendingItemAndJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.SubmitVideo(ctx, "https://youtu.be/dQw4w9WgXcQ", "")
	require.NoError(t, err)
	assert.False(t, res.Existing)
	assert.Equal(t, model.DownloadStatusPending, res.Video.DownloadStatus)
	assert.Equal(t, model.ContentTypeVideo, res.Video.VideoType)
	require.NotNil(t, res.Video.Duration)
	assert.Equal(t, 212, *res.Video.Duration)
	require.NotNil(t, res.Video.UploadDate)

	job, err := f.queue.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, 5, job.Priority)
	assert.Equal(t, "1080p", job.Quality)
	assert.Equal(t, res.Video.ID, job.VideoID)

	ch, err := f.st.GetChannelByExternalID(ctx, "UCother")
	require.NoError(t, err)
	assert.Equal(t, ch.ID, res.Video.ChannelID)

	again, err := f.svc.SubmitVideo(ctx, "dQw4w9WgXcQ", "720p")
	require.NoError(t, err)
	assert.True(t, again.Existing)
	assert.Empty(t, again.JobID)
	assert.Equal(t, res.Video.ID, again.Video.ID)
}

func TestSubmitVideoRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitVideo(ctx, "not-a-video", "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "video", verr.Field)

	_, err = f.svc.SubmitVideo(ctx, "dQw4w9WgXcQ", "potato")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "quality", verr.Field)
	assert.Empty(t, f.ext.calls)
}

func TestSubmitVideoExtractionFailureCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitVideo(ctx, "aaaaaaaaaaa", "")
	assert.True(t, ytdlp.IsPermanent(err))
	n, err := f.st.CountVideos(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestParseVideoID(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=10", "dQw4w9WgXcQ", true},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/shorts/abcdefghijk", "abcdefghijk", true},
		{"https://www.youtube.com/live/abcdefghijk", "abcdefghijk", true},
		{"https://www.youtube.com/@channel", "", false},
		{"dQw4w9WgXc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseVideoID(tc.in)
		if !tc.ok {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

type failingCounter struct{}

func (failingCounter) CountChannels(context.Context) (int, error) {
	return 0, errors.New("connection refused")
}

func TestDoctorReportsChecks(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	res := Doctor(context.Background(), DoctorOptions{
		YTDLPBinary: "definitely-not-a-real-yt-dlp-binary",
		StoragePath: filepath.Join(dir, "storage"),
		DataDir:     filepath.Join(blocker, "data"),
		Store:       failingCounter{},
	})
	assert.False(t, res.OK)

	byName := map[string]DoctorCheck{}
	for _, c := range res.Checks {
		byName[c.Name] = c
	}
	assert.False(t, byName["dependency:yt-dlp"].OK)
	assert.True(t, byName["directory:storage"].OK)
	assert.False(t, byName["directory:data"].OK)
	assert.False(t, byName["store"].OK)
	assert.Equal(t, "connection refused", byName["store"].Message)
}
