// Package scheduler owns one cron trigger per enabled subscription. A firing
// enqueues a discovery job and records a scheduler event; the event is
// completed when the job finishes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"you-hoard/internal/discovery"
	"you-hoard/internal/jobs"
	"you-hoard/internal/model"
	"you-hoard/internal/store"
)

const (
	OutcomeEnqueued   = "enqueued"
	OutcomeSuppressed = "suppressed"
	OutcomeFailed     = "failed"
)

type Store interface {
	store.SubscriptionStore
	store.EventStore
}

type Enqueuer interface {
	EnqueueDiscoveryForEvent(ctx context.Context, subscriptionID int64, priority int, eventID int64) (string, error)
}

type Observer interface {
	SchedulerFiring(outcome string)
}

type Options struct {
	Store        Store
	Queue        Enqueuer
	Priority     int
	MisfireGrace time.Duration
	Observer     Observer
	Logger       *slog.Logger
	Now          func() time.Time
}

type Entry struct {
	SubscriptionID int64     `json:"subscription_id"`
	Cron           string    `json:"cron"`
	Next           time.Time `json:"next"`
}

type trigger struct {
	id     int64
	expr   string
	sched  cron.Schedule
	next   time.Time
	cancel context.CancelFunc
}

type Scheduler struct {
	store    Store
	queue    Enqueuer
	priority int
	grace    time.Duration
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	ctx      context.Context
	triggers map[int64]*trigger
	wg       sync.WaitGroup
}

func New(opts Options) *Scheduler {
	s := &Scheduler{
		store:    opts.Store,
		queue:    opts.Queue,
		priority: opts.Priority,
		grace:    opts.MisfireGrace,
		observer: opts.Observer,
		logger:   opts.Logger,
		now:      opts.Now,
		triggers: map[int64]*trigger{},
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// fiveField accepts minute hour day-of-month month day-of-week only; no
// descriptors, no seconds.
var fiveField = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a 5-field cron expression evaluated in local time.
// Timezone prefixes are rejected.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, fmt.Errorf("invalid cron expression %q: timezone prefixes are not supported", expr)
	}
	sched, err := fiveField.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Add registers or replaces the trigger for a subscription. A bad
// expression is logged and leaves the subscription unscheduled; it never
// affects other triggers.
func (s *Scheduler) Add(id int64, expr string) bool {
	sched, err := ParseCron(expr)
	if err != nil {
		s.logger.Error("schedule rejected", "subscription_id", id, "error", err)
		s.Remove(id)
		return false
	}
	t := &trigger{id: id, expr: strings.TrimSpace(expr), sched: sched, next: sched.Next(s.now())}

	s.mu.Lock()
	if old, ok := s.triggers[id]; ok && old.cancel != nil {
		old.cancel()
	}
	s.triggers[id] = t
	if s.ctx != nil {
		s.startLocked(t)
	}
	s.mu.Unlock()

	s.logger.Info("subscription scheduled", "subscription_id", id, "cron", t.expr, "next", t.next)
	return true
}

// Remove is idempotent.
func (s *Scheduler) Remove(id int64) {
	s.mu.Lock()
	t, ok := s.triggers[id]
	if ok {
		delete(s.triggers, id)
		if t.cancel != nil {
			t.cancel()
		}
	}
	s.mu.Unlock()
	if ok {
		s.logger.Info("subscription unscheduled", "subscription_id", id)
	}
}

func (s *Scheduler) Update(id int64, expr string) bool {
	s.Remove(id)
	return s.Add(id, expr)
}

// Load registers every enabled subscription.
func (s *Scheduler) Load(ctx context.Context) (int, error) {
	subs, err := s.store.ListSubscriptions(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("load subscriptions: %w", err)
	}
	n := 0
	for _, sub := range subs {
		if s.Add(sub.ID, sub.CheckFrequency) {
			n++
		}
	}
	return n, nil
}

func (s *Scheduler) Scheduled() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, Entry{SubscriptionID: t.id, Cron: t.expr, Next: t.next})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriptionID < out[j].SubscriptionID })
	return out
}

// Run starts every registered trigger and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	for _, t := range s.triggers {
		s.startLocked(t)
	}
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	for _, t := range s.triggers {
		if t.cancel != nil {
			t.cancel()
		}
	}
	s.ctx = nil
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Scheduler) startLocked(t *trigger) {
	tctx, cancel := context.WithCancel(s.ctx)
	t.cancel = cancel
	s.wg.Add(1)
	go s.loop(tctx, t)
}

func (s *Scheduler) loop(ctx context.Context, t *trigger) {
	defer s.wg.Done()
	due := t.sched.Next(s.now())
	for {
		s.setNext(t, due)
		timer := time.NewTimer(due.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		now := s.now()
		fire, next := Coalesce(t.sched, due, now, s.grace)
		if fire {
			s.Fire(ctx, t.id)
		} else if !now.Before(due) {
			s.logger.Warn("missed firing outside grace window", "subscription_id", t.id, "due", due, "late", now.Sub(due).String())
		}
		due = next
	}
}

func (s *Scheduler) setNext(t *trigger, next time.Time) {
	s.mu.Lock()
	t.next = next
	s.mu.Unlock()
}

// Fire records a check_started event and enqueues the discovery job for
// it. Every path writes the event, including a vanished subscription and a
// suppressed overlap.
func (s *Scheduler) Fire(ctx context.Context, subscriptionID int64) (model.SchedulerEvent, error) {
	ev := model.SchedulerEvent{
		SubscriptionID: subscriptionID,
		EventType:      model.EventCheckStarted,
		StartedAt:      s.now().UTC(),
	}
	if err := s.store.CreateEvent(ctx, &ev); err != nil {
		s.observe(OutcomeFailed)
		s.logger.Error("record scheduler event failed", "subscription_id", subscriptionID, "error", err)
		return ev, fmt.Errorf("create scheduler event: %w", err)
	}

	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.Remove(subscriptionID)
		return s.closeEvent(ctx, ev, model.EventCheckFailed, "subscription no longer exists", OutcomeFailed)
	case err != nil:
		return s.closeEvent(ctx, ev, model.EventCheckFailed, err.Error(), OutcomeFailed)
	case !sub.Enabled:
		return s.closeEvent(ctx, ev, model.EventCheckCancelled, "subscription is disabled", OutcomeSuppressed)
	}
	ev.ContentTypesProcessed = append([]string(nil), sub.ContentTypes...)

	jobID, err := s.queue.EnqueueDiscoveryForEvent(ctx, subscriptionID, s.priority, ev.ID)
	if err != nil {
		var dup *jobs.DuplicateJobError
		if errors.As(err, &dup) {
			return s.closeEvent(ctx, ev, model.EventCheckCancelled,
				fmt.Sprintf("previous check still running (job_id=%s)", dup.ExistingID), OutcomeSuppressed)
		}
		return s.closeEvent(ctx, ev, model.EventCheckFailed, err.Error(), OutcomeFailed)
	}

	if err := s.store.UpdateEvent(ctx, ev); err != nil {
		s.logger.Warn("update scheduler event failed", "event_id", ev.ID, "error", err)
	}
	s.observe(OutcomeEnqueued)
	s.logger.Info("scheduled check fired", "subscription_id", subscriptionID, "event_id", ev.ID, "job_id", jobID)
	return ev, nil
}

func (s *Scheduler) closeEvent(ctx context.Context, ev model.SchedulerEvent, eventType, reason, outcome string) (model.SchedulerEvent, error) {
	ev.ErrorMessage = model.Truncate(reason, model.MaxErrorMessageLen)
	ev.ErrorCount = 1
	ev.Finish(s.now(), eventType, model.EventStatusFailed)
	if err := s.store.UpdateEvent(ctx, ev); err != nil {
		s.logger.Error("update scheduler event failed", "event_id", ev.ID, "error", err)
	}
	s.observe(outcome)
	s.logger.Warn("scheduled check not run", "subscription_id", ev.SubscriptionID, "event_id", ev.ID, "event_type", eventType, "reason", reason)
	return ev, nil
}

// OnDiscoveryFinished completes the event a discovery job was fired for.
func (s *Scheduler) OnDiscoveryFinished(ctx context.Context, job model.Job, res *discovery.Result, jobErr error) {
	ev, err := s.store.GetEvent(ctx, job.EventID)
	if err != nil {
		s.logger.Warn("load scheduler event failed", "event_id", job.EventID, "job_id", job.ID, "error", err)
		return
	}
	now := s.now()
	switch {
	case jobErr != nil:
		ev.ErrorCount = 1
		ev.ErrorMessage = model.Truncate(jobErr.Error(), model.MaxErrorMessageLen)
		eventType := model.EventCheckFailed
		if errors.Is(jobErr, jobs.ErrCancelled) {
			eventType = model.EventCheckCancelled
		}
		ev.Finish(now, eventType, model.EventStatusFailed)
	case res != nil:
		ev.VideosFound = res.VideosFound
		ev.VideosAdded = res.VideosAdded
		ev.VideosQueued = res.VideosQueued
		ev.VideosFiltered = res.VideosFiltered
		ev.ErrorCount = len(res.Errors)
		if len(res.ContentTypes) > 0 {
			ev.ContentTypesProcessed = res.ContentTypes
		}
		status := model.EventStatusSuccess
		if len(res.Errors) > 0 {
			status = model.EventStatusPartialSuccess
			ev.ErrorMessage = model.Truncate(strings.Join(res.Errors, "; "), model.MaxErrorMessageLen)
		}
		ev.Finish(now, model.EventCheckCompleted, status)
	default:
		ev.Finish(now, model.EventCheckCompleted, model.EventStatusSuccess)
	}
	if err := s.store.UpdateEvent(ctx, ev); err != nil {
		s.logger.Error("complete scheduler event failed", "event_id", ev.ID, "error", err)
		return
	}
	s.logger.Info("scheduled check finished", "subscription_id", ev.SubscriptionID, "event_id", ev.ID,
		"status", ev.Status, "added", ev.VideosAdded, "duration_ms", ev.DurationMS)
}

func (s *Scheduler) observe(outcome string) {
	if s.observer != nil {
		s.observer.SchedulerFiring(outcome)
	}
}

var _ jobs.DiscoveryHook = (*Scheduler)(nil)
