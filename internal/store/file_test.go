package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"you-hoard/internal/model"
	"you-hoard/internal/runstore"
)

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenFile(dir)
	require.NoError(t, err)

	ch := model.Channel{ExternalID: "UCabcdefghijklmnopqrstuv", Name: "Chan"}
	require.NoError(t, s.CreateChannel(ctx, &ch))
	sub := model.Subscription{ChannelID: ch.ID, Type: model.SubscriptionTypeChannel, SourceURL: "https://www.youtube.com/@chan",
		Enabled: true, ContentTypes: []string{"video"}, LatestN: 5, CheckFrequency: "0 * * * *"}
	require.NoError(t, s.CreateSubscription(ctx, &sub))
	v := model.Video{ExternalID: "dQw4w9WgXcQ", ChannelID: ch.ID, Title: "t", DownloadStatus: model.DownloadStatusPending}
	require.NoError(t, s.CreateVideo(ctx, &v))
	job := model.Job{ID: "job-1", Type: model.JobTypeDownload, VideoID: v.ID, Status: model.JobStatusQueued, ResultData: []byte(`{"a":1}`)}
	require.NoError(t, s.CreateJob(ctx, &job))
	ev := model.SchedulerEvent{SubscriptionID: sub.ID, EventType: model.EventCheckStarted}
	require.NoError(t, s.CreateEvent(ctx, &ev))

	_, err = OpenFile(dir)
	require.True(t, errors.Is(err, runstore.ErrLocked), "second open must be refused while locked: %v", err)
	require.NoError(t, s.Close())

	reopened, err := OpenFile(dir)
	require.NoError(t, err)
	defer reopened.Close()

	gotJob, err := reopened.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(gotJob.ResultData))
	gotSub, err := reopened.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"video"}, gotSub.ContentTypes)
	exists, err := reopened.VideoExists(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.True(t, exists)

	next := model.Channel{ExternalID: "UCzzzzzzzzzzzzzzzzzzzzzz", Name: "Other"}
	require.NoError(t, reopened.CreateChannel(ctx, &next))
	assert.Equal(t, ch.ID+1, next.ID, "sequences survive reopen")
}

func TestFileStore_VideoExternalIDIsUnique(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	a := model.Video{ExternalID: "abcdefghijk"}
	require.NoError(t, s.CreateVideo(ctx, &a))
	b := model.Video{ExternalID: "abcdefghijk"}
	err := s.CreateVideo(ctx, &b)
	assert.ErrorIs(t, err, ErrConflict)
	n, _ := s.CountVideos(ctx)
	assert.Equal(t, 1, n)

	a.ExternalID = "changed0000"
	assert.Error(t, s.UpdateVideo(ctx, a))
}

func TestFileStore_FindActiveJobMatchesTypeAndTarget(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateJob(ctx, &model.Job{ID: "d1", Type: model.JobTypeDownload, VideoID: 7, Status: model.JobStatusProcessing}))
	require.NoError(t, s.CreateJob(ctx, &model.Job{ID: "d2", Type: model.JobTypeDownload, VideoID: 8, Status: model.JobStatusFailed}))
	require.NoError(t, s.CreateJob(ctx, &model.Job{ID: "s1", Type: model.JobTypeDiscovery, SubscriptionID: 7, Status: model.JobStatusQueued}))

	found, ok, err := s.FindActiveJob(ctx, model.Job{Type: model.JobTypeDownload, VideoID: 7})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "d1", found.ID)

	_, ok, _ = s.FindActiveJob(ctx, model.Job{Type: model.JobTypeDownload, VideoID: 8})
	assert.False(t, ok, "failed jobs are not active")

	found, ok, _ = s.FindActiveJob(ctx, model.Job{Type: model.JobTypeDiscovery, SubscriptionID: 7})
	assert.True(t, ok)
	assert.Equal(t, "s1", found.ID)
}

func TestFileStore_ListJobsUsesDispatchOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	jobs := []model.Job{
		{ID: "old-low", Type: model.JobTypeMetadata, URL: "u1", Status: model.JobStatusQueued, Priority: 0, CreatedAt: base},
		{ID: "failed", Type: model.JobTypeMetadata, URL: "u2", Status: model.JobStatusFailed, Priority: 9, CreatedAt: base},
		{ID: "high", Type: model.JobTypeMetadata, URL: "u3", Status: model.JobStatusQueued, Priority: 5, CreatedAt: base.Add(time.Hour)},
		{ID: "running", Type: model.JobTypeMetadata, URL: "u4", Status: model.JobStatusProcessing, Priority: 0, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "new-low", Type: model.JobTypeMetadata, URL: "u5", Status: model.JobStatusQueued, Priority: 0, CreatedAt: base.Add(3 * time.Hour)},
	}
	for i := range jobs {
		require.NoError(t, s.CreateJob(ctx, &jobs[i]))
	}

	got, err := s.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, j := range got {
		ids[i] = j.ID
	}
	assert.Equal(t, []string{"running", "high", "old-low", "new-low", "failed"}, ids)

	queued, err := s.ListJobs(ctx, JobFilter{Statuses: []string{model.JobStatusQueued}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, "high", queued[0].ID)
}

func TestFileStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	sub := model.Subscription{ContentTypes: []string{"video", "short"}}
	require.NoError(t, s.CreateSubscription(ctx, &sub))
	got, _ := s.GetSubscription(ctx, sub.ID)
	got.ContentTypes[0] = "live"
	again, _ := s.GetSubscription(ctx, sub.ID)
	assert.Equal(t, "video", again.ContentTypes[0])
}

func TestFileStore_EventsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateEvent(ctx, &model.SchedulerEvent{SubscriptionID: int64(1 + i%2)}))
	}
	all, _ := s.ListEvents(ctx, 0, 0)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ID)
	one, _ := s.ListEvents(ctx, 1, 1)
	require.Len(t, one, 1)
	assert.Equal(t, int64(3), one[0].ID)

	_, err := s.GetEvent(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_FailedCheckpointLeavesMemoryUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := OpenFile(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ch := model.Channel{ExternalID: "UCabcdefghijklmnopqrstuv", Name: "Chan"}
	require.NoError(t, s.CreateChannel(ctx, &ch))
	job := model.Job{ID: "job-1", Type: model.JobTypeDiscovery, SubscriptionID: 1, Status: model.JobStatusQueued}
	require.NoError(t, s.CreateJob(ctx, &job))

	// A regular file in place of the parent directory makes every checkpoint fail.
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	s.path = filepath.Join(blocker, stateFileName)

	v := model.Video{ExternalID: "dQw4w9WgXcQ", ChannelID: ch.ID, DownloadStatus: model.DownloadStatusPending}
	assert.Error(t, s.CreateVideo(ctx, &v))
	exists, err := s.VideoExists(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.False(t, exists)

	updated := job
	updated.Status = model.JobStatusProcessing
	assert.Error(t, s.UpdateJob(ctx, updated))
	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, got.Status)

	renamed := ch
	renamed.Name = "Renamed"
	assert.Error(t, s.UpdateChannel(ctx, renamed))
	gotCh, err := s.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "Chan", gotCh.Name)

	s.path = filepath.Join(dir, stateFileName)
	again := model.Video{ExternalID: "dQw4w9WgXcQ", ChannelID: ch.ID, DownloadStatus: model.DownloadStatusPending}
	require.NoError(t, s.CreateVideo(ctx, &again))
	assert.Equal(t, int64(1), again.ID, "ids of undone writes are reused")
}
