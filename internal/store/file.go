package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"you-hoard/internal/model"
	"you-hoard/internal/runstore"
)

const (
	stateFileName      = "state.json"
	stateSchemaVersion = 1
)

type sequences struct {
	Subscription int64 `json:"subscription"`
	Channel      int64 `json:"channel"`
	Video        int64 `json:"video"`
	Event        int64 `json:"event"`
}

type snapshot struct {
	SchemaVersion int                    `json:"schema_version"`
	Seq           sequences              `json:"seq"`
	Jobs          []model.Job            `json:"jobs"`
	Subscriptions []model.Subscription   `json:"subscriptions"`
	Channels      []model.Channel        `json:"channels"`
	Videos        []model.Video          `json:"videos"`
	Events        []model.SchedulerEvent `json:"events"`
}

// FileStore keeps every table in memory and checkpoints the whole state to
// <dir>/state.json after each write. Each write is atomic on its own; there
// are no multi-record transactions. A write whose checkpoint fails is undone
// in memory, so memory never runs ahead of disk. Every checkpoint rewrites
// and syncs the full snapshot; callers throttle high-frequency writes such
// as progress.
type FileStore struct {
	mu   sync.Mutex
	path string
	lock *runstore.DataLock
	now  func() time.Time

	seq        sequences
	jobs       map[string]model.Job
	subs       map[int64]model.Subscription
	channels   map[int64]model.Channel
	videos     map[int64]model.Video
	videoByExt map[string]int64
	events     map[int64]model.SchedulerEvent
}

// NewMemory returns a FileStore that never touches disk.
func NewMemory() *FileStore {
	return &FileStore{
		now:        time.Now,
		jobs:       map[string]model.Job{},
		subs:       map[int64]model.Subscription{},
		channels:   map[int64]model.Channel{},
		videos:     map[int64]model.Video{},
		videoByExt: map[string]int64{},
		events:     map[int64]model.SchedulerEvent{},
	}
}

// OpenFile locks dir for this process and loads any existing state.
func OpenFile(dir string) (*FileStore, error) {
	lock, err := runstore.AcquireDataLock(dir)
	if err != nil {
		return nil, err
	}
	s := NewMemory()
	s.path = filepath.Join(dir, stateFileName)
	s.lock = &lock

	var snap snapshot
	ok, err := runstore.ReadJSONIfExists(s.path, &snap)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	if ok {
		if snap.SchemaVersion != stateSchemaVersion {
			_ = lock.Release()
			return nil, fmt.Errorf("state file %s has schema version %d, expected %d", s.path, snap.SchemaVersion, stateSchemaVersion)
		}
		s.restore(snap)
	}
	return s, nil
}

func (s *FileStore) restore(snap snapshot) {
	s.seq = snap.Seq
	for _, j := range snap.Jobs {
		s.jobs[j.ID] = j
	}
	for _, sub := range snap.Subscriptions {
		s.subs[sub.ID] = sub
	}
	for _, ch := range snap.Channels {
		s.channels[ch.ID] = ch
	}
	for _, v := range snap.Videos {
		s.videos[v.ID] = v
		s.videoByExt[v.ExternalID] = v.ID
	}
	for _, ev := range snap.Events {
		s.events[ev.ID] = ev
	}
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return nil
	}
	err := s.lock.Release()
	s.lock = nil
	return err
}

// commitLocked checkpoints the state and runs undo when that fails.
func (s *FileStore) commitLocked(undo func()) error {
	if err := s.persistLocked(); err != nil {
		undo()
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

func (s *FileStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	snap := snapshot{
		SchemaVersion: stateSchemaVersion,
		Seq:           s.seq,
		Jobs:          make([]model.Job, 0, len(s.jobs)),
		Subscriptions: make([]model.Subscription, 0, len(s.subs)),
		Channels:      make([]model.Channel, 0, len(s.channels)),
		Videos:        make([]model.Video, 0, len(s.videos)),
		Events:        make([]model.SchedulerEvent, 0, len(s.events)),
	}
	for _, j := range s.jobs {
		snap.Jobs = append(snap.Jobs, j)
	}
	sort.Slice(snap.Jobs, func(a, b int) bool { return snap.Jobs[a].CreatedAt.Before(snap.Jobs[b].CreatedAt) })
	for _, id := range sortedIDs(s.subs) {
		snap.Subscriptions = append(snap.Subscriptions, s.subs[id])
	}
	for _, id := range sortedIDs(s.channels) {
		snap.Channels = append(snap.Channels, s.channels[id])
	}
	for _, id := range sortedIDs(s.videos) {
		snap.Videos = append(snap.Videos, s.videos[id])
	}
	for _, id := range sortedIDs(s.events) {
		snap.Events = append(snap.Events, s.events[id])
	}
	return runstore.WriteJSON(s.path, snap)
}

func sortedIDs[T any](m map[int64]T) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

func cloneJob(j model.Job) model.Job {
	if j.ResultData != nil {
		j.ResultData = append([]byte(nil), j.ResultData...)
	}
	return j
}

func cloneSub(sub model.Subscription) model.Subscription {
	sub.ContentTypes = append([]string(nil), sub.ContentTypes...)
	return sub
}

func cloneEvent(ev model.SchedulerEvent) model.SchedulerEvent {
	ev.ContentTypesProcessed = append([]string(nil), ev.ContentTypesProcessed...)
	return ev
}

// Jobs

func (s *FileStore) CreateJob(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, ErrConflict)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now().UTC()
	}
	s.jobs[job.ID] = cloneJob(*job)
	return s.commitLocked(func() { delete(s.jobs, job.ID) })
}

func (s *FileStore) GetJob(_ context.Context, id string) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return model.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return cloneJob(j), nil
}

func (s *FileStore) UpdateJob(_ context.Context, job model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}
	s.jobs[job.ID] = cloneJob(job)
	return s.commitLocked(func() { s.jobs[job.ID] = prev })
}

func (s *FileStore) ListJobs(_ context.Context, filter JobFilter) ([]model.Job, error) {
	s.mu.Lock()
	out := make([]model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.Match(j) {
			out = append(out, cloneJob(j))
		}
	}
	s.mu.Unlock()

	model.SortJobs(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *FileStore) FindActiveJob(_ context.Context, probe model.Job) (model.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if model.IsActiveStatus(j.Status) && SameTarget(j, probe) {
			return cloneJob(j), true, nil
		}
	}
	return model.Job{}, false, nil
}

// Subscriptions

func (s *FileStore) CreateSubscription(_ context.Context, sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq.Subscription++
	sub.ID = s.seq.Subscription
	now := s.now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	s.subs[sub.ID] = cloneSub(*sub)
	return s.commitLocked(func() {
		delete(s.subs, sub.ID)
		s.seq.Subscription--
	})
}

func (s *FileStore) GetSubscription(_ context.Context, id int64) (model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return model.Subscription{}, fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	return cloneSub(sub), nil
}

func (s *FileStore) UpdateSubscription(_ context.Context, sub model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.subs[sub.ID]
	if !ok {
		return fmt.Errorf("subscription %d: %w", sub.ID, ErrNotFound)
	}
	sub.UpdatedAt = s.now().UTC()
	s.subs[sub.ID] = cloneSub(sub)
	return s.commitLocked(func() { s.subs[sub.ID] = prev })
}

func (s *FileStore) DeleteSubscription(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.subs[id]
	if !ok {
		return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	delete(s.subs, id)
	return s.commitLocked(func() { s.subs[id] = prev })
}

func (s *FileStore) ListSubscriptions(_ context.Context, enabledOnly bool) ([]model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Subscription, 0, len(s.subs))
	for _, id := range sortedIDs(s.subs) {
		sub := s.subs[id]
		if enabledOnly && !sub.Enabled {
			continue
		}
		out = append(out, cloneSub(sub))
	}
	return out, nil
}

// Channels

func (s *FileStore) CreateChannel(_ context.Context, ch *model.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.channels {
		if existing.ExternalID == ch.ExternalID {
			return fmt.Errorf("channel %s: %w", ch.ExternalID, ErrConflict)
		}
	}
	s.seq.Channel++
	ch.ID = s.seq.Channel
	now := s.now().UTC()
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = now
	}
	ch.UpdatedAt = now
	s.channels[ch.ID] = *ch
	return s.commitLocked(func() {
		delete(s.channels, ch.ID)
		s.seq.Channel--
	})
}

func (s *FileStore) GetChannel(_ context.Context, id int64) (model.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return model.Channel{}, fmt.Errorf("channel %d: %w", id, ErrNotFound)
	}
	return ch, nil
}

func (s *FileStore) GetChannelByExternalID(_ context.Context, externalID string) (model.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		if ch.ExternalID == externalID {
			return ch, nil
		}
	}
	return model.Channel{}, fmt.Errorf("channel %s: %w", externalID, ErrNotFound)
}

func (s *FileStore) UpdateChannel(_ context.Context, ch model.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.channels[ch.ID]
	if !ok {
		return fmt.Errorf("channel %d: %w", ch.ID, ErrNotFound)
	}
	ch.UpdatedAt = s.now().UTC()
	s.channels[ch.ID] = ch
	return s.commitLocked(func() { s.channels[ch.ID] = prev })
}

func (s *FileStore) CountChannels(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels), nil
}

// Videos

func (s *FileStore) CreateVideo(_ context.Context, v *model.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.videoByExt[v.ExternalID]; exists {
		return fmt.Errorf("video %s: %w", v.ExternalID, ErrConflict)
	}
	s.seq.Video++
	v.ID = s.seq.Video
	now := s.now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	s.videos[v.ID] = *v
	s.videoByExt[v.ExternalID] = v.ID
	return s.commitLocked(func() {
		delete(s.videos, v.ID)
		delete(s.videoByExt, v.ExternalID)
		s.seq.Video--
	})
}

func (s *FileStore) GetVideo(_ context.Context, id int64) (model.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return model.Video{}, fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	return v, nil
}

func (s *FileStore) GetVideoByExternalID(_ context.Context, externalID string) (model.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.videoByExt[externalID]
	if !ok {
		return model.Video{}, fmt.Errorf("video %s: %w", externalID, ErrNotFound)
	}
	return s.videos[id], nil
}

func (s *FileStore) VideoExists(_ context.Context, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.videoByExt[externalID]
	return ok, nil
}

func (s *FileStore) UpdateVideo(_ context.Context, v model.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.videos[v.ID]
	if !ok {
		return fmt.Errorf("video %d: %w", v.ID, ErrNotFound)
	}
	if prev.ExternalID != v.ExternalID {
		return fmt.Errorf("video %d: external id is immutable", v.ID)
	}
	v.UpdatedAt = s.now().UTC()
	s.videos[v.ID] = v
	return s.commitLocked(func() { s.videos[v.ID] = prev })
}

func (s *FileStore) ListVideos(_ context.Context, filter VideoFilter) ([]model.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Video, 0)
	for _, id := range sortedIDs(s.videos) {
		v := s.videos[id]
		if !filter.Match(v) {
			continue
		}
		out = append(out, v)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *FileStore) CountVideos(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.videos), nil
}

// Scheduler events

func (s *FileStore) CreateEvent(_ context.Context, ev *model.SchedulerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq.Event++
	ev.ID = s.seq.Event
	if ev.StartedAt.IsZero() {
		ev.StartedAt = s.now().UTC()
	}
	s.events[ev.ID] = cloneEvent(*ev)
	return s.commitLocked(func() {
		delete(s.events, ev.ID)
		s.seq.Event--
	})
}

func (s *FileStore) GetEvent(_ context.Context, id int64) (model.SchedulerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return model.SchedulerEvent{}, fmt.Errorf("scheduler event %d: %w", id, ErrNotFound)
	}
	return cloneEvent(ev), nil
}

func (s *FileStore) UpdateEvent(_ context.Context, ev model.SchedulerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.events[ev.ID]
	if !ok {
		return fmt.Errorf("scheduler event %d: %w", ev.ID, ErrNotFound)
	}
	s.events[ev.ID] = cloneEvent(ev)
	return s.commitLocked(func() { s.events[ev.ID] = prev })
}

// ListEvents returns newest first. subscriptionID 0 lists all.
func (s *FileStore) ListEvents(_ context.Context, subscriptionID int64, limit int) ([]model.SchedulerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := sortedIDs(s.events)
	out := make([]model.SchedulerEvent, 0)
	for i := len(ids) - 1; i >= 0; i-- {
		ev := s.events[ids[i]]
		if subscriptionID != 0 && ev.SubscriptionID != subscriptionID {
			continue
		}
		out = append(out, cloneEvent(ev))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var _ Store = (*FileStore)(nil)
