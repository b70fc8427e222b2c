package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"you-hoard/internal/archive"
	"you-hoard/internal/logging"
	"you-hoard/internal/metadata"
	"you-hoard/internal/model"
	"you-hoard/internal/store"
	"you-hoard/internal/ytdlp"
)

const alphaID = "UCaaaaaaaaaaaaaaaaaaaaaa"

func mkdir(t *testing.T, parts ...string) string {
	t.Helper()
	dir := filepath.Join(parts...)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func touch(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// buildArchive lays out one directory per metadata tier plus two that
// cannot be parsed.
func buildArchive(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	channels := mkdir(t, root, "channels")

	alpha := mkdir(t, channels, alphaID+"_Alpha")
	require.NoError(t, archive.WriteChannelInfo(alpha, archive.ChannelInfo{ID: alphaID, Title: "Alpha Official"}))

	first := mkdir(t, alpha, "aaaaaaaaaaa_First")
	side := metadata.FromInfo(&ytdlp.Info{ID: "aaaaaaaaaaa", Title: "First", Height: 1080, Duration: 120.4},
		model.ContentTypeVideo, model.DownloadStatusCompleted, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, metadata.Save(first, side))
	touch(t, filepath.Join(first, "video.mp4"), "0123456789")

	second := mkdir(t, alpha, "bbbbbbbbbbb_Second")
	touch(t, filepath.Join(second, archive.VideoInfoJSONFile),
		`{"id":"bbbbbbbbbbb","title":"Second","width":1080,"height":1920,"duration":30,"upload_date":"20250102"}`)
	touch(t, filepath.Join(second, "video.webm"), "x")

	mkdir(t, alpha, "ccccccccccc_Third_Title")
	mkdir(t, alpha, "junk")

	beta := mkdir(t, channels, "@handle_Beta")
	touch(t, filepath.Join(mkdir(t, beta, "ddddddddddd_Clip"), "video.mkv"), "y")

	mkdir(t, channels, "short_name")
	return root
}

func TestScanRebuildsFromAllTiers(t *testing.T) {
	ctx := context.Background()
	root := buildArchive(t)
	st := store.NewMemory()
	sc := NewScanner(st, archive.NewLayout(root), logging.Discard())

	rep, ran, err := sc.RunIfEmpty(ctx)
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, 2, rep.ChannelsDiscovered)
	assert.Equal(t, 2, rep.ChannelsCreated)
	assert.Equal(t, 4, rep.VideosDiscovered)
	assert.Equal(t, 4, rep.VideosCreated)
	assert.Len(t, rep.Errors, 2)

	alpha, err := st.GetChannelByExternalID(ctx, alphaID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha Official", alpha.Name)
	beta, err := st.GetChannelByExternalID(ctx, "@handle")
	require.NoError(t, err)
	assert.Equal(t, "Beta", beta.Name)

	first, err := st.GetVideoByExternalID(ctx, "aaaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, model.DownloadStatusCompleted, first.DownloadStatus)
	assert.Equal(t, "1080p", first.Quality)
	assert.Equal(t, alpha.ID, first.ChannelID)
	require.NotNil(t, first.FileSize)
	assert.Equal(t, int64(10), *first.FileSize)
	require.NotNil(t, first.Duration)
	assert.Equal(t, 120, *first.Duration)

	second, err := st.GetVideoByExternalID(ctx, "bbbbbbbbbbb")
	require.NoError(t, err)
	assert.Equal(t, model.ContentTypeShort, second.VideoType)
	require.NotNil(t, second.UploadDate)
	assert.Equal(t, 2025, second.UploadDate.Year())

	third, err := st.GetVideoByExternalID(ctx, "ccccccccccc")
	require.NoError(t, err)
	assert.Equal(t, "Third Title", third.Title)
	assert.Equal(t, model.DownloadStatusPending, third.DownloadStatus)
	assert.Nil(t, third.Duration)
	assert.Empty(t, third.FilePath)
}

func TestScanIsIdempotent(t *testing.T) {
	ctx := context.Background()
	root := buildArchive(t)
	st := store.NewMemory()
	sc := NewScanner(st, archive.NewLayout(root), logging.Discard())

	_, err := sc.Scan(ctx)
	require.NoError(t, err)

	rep, err := sc.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.ChannelsCreated)
	assert.Zero(t, rep.ChannelsUpdated)
	assert.Zero(t, rep.VideosCreated)
	assert.Zero(t, rep.VideosUpdated)

	_, ran, err := sc.RunIfEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestScanFillsGapsInExistingRows(t *testing.T) {
	ctx := context.Background()
	root := buildArchive(t)
	st := store.NewMemory()

	ch := model.Channel{ExternalID: alphaID, Name: "Alpha Official"}
	require.NoError(t, st.CreateChannel(ctx, &ch))
	v := model.Video{ExternalID: "bbbbbbbbbbb", ChannelID: ch.ID, Title: "Kept Title", DownloadStatus: model.DownloadStatusPending}
	require.NoError(t, st.CreateVideo(ctx, &v))

	rep, err := NewScanner(st, archive.NewLayout(root), logging.Discard()).Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ChannelsCreated)
	assert.Equal(t, 3, rep.VideosCreated)
	assert.Equal(t, 1, rep.VideosUpdated)

	got, err := st.GetVideoByExternalID(ctx, "bbbbbbbbbbb")
	require.NoError(t, err)
	assert.Equal(t, "Kept Title", got.Title)
	assert.Equal(t, model.DownloadStatusCompleted, got.DownloadStatus)
	assert.NotEmpty(t, got.FilePath)
}

func TestScanWithoutChannelsDir(t *testing.T) {
	rep, err := NewScanner(store.NewMemory(), archive.NewLayout(t.TempDir()), logging.Discard()).Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.ChannelsDiscovered)
}
