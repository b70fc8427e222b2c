package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"you-hoard/internal/model"
	"you-hoard/internal/store"
	"you-hoard/internal/ytdlp"
)

type fakeExtractor struct {
	info  *ytdlp.Info
	err   error
	calls []ytdlp.Options
}

func (f *fakeExtractor) ExtractInfo(_ context.Context, _ string, opts ytdlp.Options) (*ytdlp.Info, error) {
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

type fakeEnqueuer struct {
	videoIDs  []int64
	qualities []string
	err       error
}

func (f *fakeEnqueuer) EnqueueDownload(_ context.Context, videoID int64, _ int, quality string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.videoIDs = append(f.videoIDs, videoID)
	f.qualities = append(f.qualities, quality)
	return fmt.Sprintf("job-%d", videoID), nil
}

func shortEntry(id string) ytdlp.Info {
	return ytdlp.Info{ID: id, Title: "short " + id, Width: 1080, Height: 1920, Duration: 30}
}

func videoEntry(id string) ytdlp.Info {
	return ytdlp.Info{ID: id, Title: "video " + id, Width: 1920, Height: 1080, Duration: 600}
}

func playlist(entries ...ytdlp.Info) *ytdlp.Info {
	return &ytdlp.Info{Type: "playlist", ID: "UCchan", Entries: entries}
}

type engineFixture struct {
	store     *store.FileStore
	extractor *fakeExtractor
	enqueuer  *fakeEnqueuer
	engine    *Engine
	now       time.Time
}

func newFixture(t *testing.T, info *ytdlp.Info) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:     store.NewMemory(),
		extractor: &fakeExtractor{info: info},
		enqueuer:  &fakeEnqueuer{},
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(Options{
		Store:            f.store,
		Gateway:          f.extractor,
		Enqueuer:         f.enqueuer,
		DownloadPriority: 1,
		DefaultQuality:   "1080p",
		Now:              func() time.Time { return f.now },
	})
	return f
}

func (f *engineFixture) subscribe(t *testing.T, sub model.Subscription) model.Subscription {
	t.Helper()
	ch := model.Channel{ExternalID: "UCchan", Name: "Chan"}
	require.NoError(t, f.store.CreateChannel(context.Background(), &ch))
	sub.ChannelID = ch.ID
	if sub.SourceURL == "" {
		sub.SourceURL = "https://www.youtube.com/channel/UCchan"
	}
	sub.Type = model.SubscriptionTypeChannel
	sub.Enabled = true
	require.NoError(t, f.store.CreateSubscription(context.Background(), &sub))
	return sub
}

func TestDiscoverFiltersAndStopsAtDesiredCount(t *testing.T) {
	f := newFixture(t, playlist(
		shortEntry("s0"), videoEntry("v1"),
		shortEntry("s2"), videoEntry("v3"),
		shortEntry("s4"), videoEntry("v5"),
	))
	sub := f.subscribe(t, model.Subscription{ContentTypes: []string{model.ContentTypeVideo}, LatestN: 2})

	res, err := f.engine.Discover(context.Background(), sub.ID)
	require.NoError(t, err)

	assert.Equal(t, 6, res.VideosFound)
	assert.Equal(t, 2, res.VideosAdded)
	assert.Equal(t, 3, res.VideosFiltered)
	assert.Equal(t, 0, res.VideosQueued)
	assert.Empty(t, res.Errors)

	for _, id := range []string{"v1", "v3"} {
		v, err := f.store.GetVideoByExternalID(context.Background(), id)
		require.NoError(t, err, id)
		assert.Equal(t, model.DownloadStatusPending, v.DownloadStatus)
		assert.Equal(t, model.ContentTypeVideo, v.VideoType)
		assert.Equal(t, sub.ChannelID, v.ChannelID)
	}
	exists, err := f.store.VideoExists(context.Background(), "v5")
	require.NoError(t, err)
	assert.False(t, exists)

	got, err := f.store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.NewVideosCount)
	require.NotNil(t, got.LastCheck)
	assert.True(t, got.LastCheck.Equal(f.now))

	require.Len(t, f.extractor.calls, 1)
	assert.Equal(t, 8, f.extractor.calls[0].PlaylistEnd)
}

func TestDiscoverSkipsExistingItems(t *testing.T) {
	f := newFixture(t, playlist(videoEntry("v1"), videoEntry("v2"), videoEntry("v3")))
	sub := f.subscribe(t, model.Subscription{ContentTypes: model.AllContentTypes, LatestN: 3})
	existing := model.Video{ExternalID: "v2", ChannelID: sub.ChannelID, DownloadStatus: model.DownloadStatusCompleted}
	require.NoError(t, f.store.CreateVideo(context.Background(), &existing))

	res, err := f.engine.Discover(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.VideosAdded)
	assert.Equal(t, 1, res.VideosExisting)

	v, err := f.store.GetVideoByExternalID(context.Background(), "v2")
	require.NoError(t, err)
	assert.Equal(t, model.DownloadStatusCompleted, v.DownloadStatus)
}

func TestDiscoverAutoDownloadEnqueuesNewItems(t *testing.T) {
	f := newFixture(t, playlist(videoEntry("v1"), videoEntry("v2")))
	sub := f.subscribe(t, model.Subscription{
		ContentTypes:      model.AllContentTypes,
		LatestN:           5,
		AutoDownload:      true,
		QualityPreference: "720p",
	})

	res, err := f.engine.Discover(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.VideosQueued)
	assert.ElementsMatch(t, res.NewVideoIDs, f.enqueuer.videoIDs)
	assert.Equal(t, []string{"720p", "720p"}, f.enqueuer.qualities)
}

func TestDiscoverEnqueueFailureIsCollected(t *testing.T) {
	f := newFixture(t, playlist(videoEntry("v1")))
	f.enqueuer.err = errors.New("queue closed")
	sub := f.subscribe(t, model.Subscription{ContentTypes: model.AllContentTypes, LatestN: 1, AutoDownload: true})

	res, err := f.engine.Discover(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.VideosAdded)
	assert.Equal(t, 0, res.VideosQueued)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "queue closed")
}

func TestDiscoverExtractionFailureLeavesLastCheck(t *testing.T) {
	f := newFixture(t, nil)
	f.extractor.err = &ytdlp.ExtractionError{Kind: ytdlp.KindPermanent, Op: ytdlp.OpExtract, Err: errors.New("ERROR: Private video")}
	sub := f.subscribe(t, model.Subscription{ContentTypes: model.AllContentTypes, LatestN: 5})

	_, err := f.engine.Discover(context.Background(), sub.ID)
	require.Error(t, err)
	assert.True(t, ytdlp.IsPermanent(err))

	got, err := f.store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastCheck)
}

func TestDiscoverCountsUnavailableEntries(t *testing.T) {
	f := newFixture(t, playlist(
		ytdlp.Info{ID: "gone", Title: "[Private video]"},
		videoEntry("v1"),
	))
	sub := f.subscribe(t, model.Subscription{ContentTypes: model.AllContentTypes, LatestN: 5})

	res, err := f.engine.Discover(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unavailable)
	assert.Equal(t, 1, res.VideosAdded)
}

func TestFetchLimit(t *testing.T) {
	e := NewEngine(Options{})
	cases := []struct {
		types []string
		n     int
		want  int
	}{
		{model.AllContentTypes, 10, 10},
		{[]string{model.ContentTypeVideo}, 10, 40},
		{[]string{model.ContentTypeVideo, model.ContentTypeShort}, 100, 200},
		{[]string{model.ContentTypeShort}, 0, 4},
	}
	for _, tc := range cases {
		got := e.FetchLimit(model.Subscription{ContentTypes: tc.types, LatestN: tc.n})
		assert.Equal(t, tc.want, got, "types=%v n=%d", tc.types, tc.n)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		info ytdlp.Info
		want string
	}{
		{"portrait", ytdlp.Info{Width: 1080, Height: 1920, Duration: 45}, model.ContentTypeShort},
		{"landscape", ytdlp.Info{Width: 1920, Height: 1080, Duration: 600}, model.ContentTypeVideo},
		{"live flag wins", ytdlp.Info{IsLive: true, Width: 1080, Height: 1920}, model.ContentTypeLive},
		{"upcoming", ytdlp.Info{LiveStatus: "is_upcoming"}, model.ContentTypeLive},
		{"short duration without width", ytdlp.Info{Height: 1920, Duration: 40}, model.ContentTypeShort},
		{"short duration landscape", ytdlp.Info{Width: 1920, Height: 1080, Duration: 40}, model.ContentTypeVideo},
		{"no dimensions", ytdlp.Info{Duration: 30}, model.ContentTypeVideo},
		{"was live", ytdlp.Info{WasLive: true, LiveStatus: "was_live", Width: 1920, Height: 1080}, model.ContentTypeVideo},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.info), tc.name)
	}
}
