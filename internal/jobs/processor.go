package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"you-hoard/internal/archive"
	"you-hoard/internal/discovery"
	"you-hoard/internal/model"
	"you-hoard/internal/store"
	"you-hoard/internal/ytdlp"
)

const sideEffectTimeout = 2 * time.Second

type ProcessorStore interface {
	store.JobStore
	store.VideoStore
	store.ChannelStore
}

// Gateway is the slice of ytdlp.Gateway the workers use.
type Gateway interface {
	ExtractInfo(ctx context.Context, url string, opts ytdlp.Options) (*ytdlp.Info, error)
	Download(ctx context.Context, url, outputDir string, progress func(ytdlp.Progress), opts ytdlp.Options) error
}

type Discoverer interface {
	Discover(ctx context.Context, subscriptionID int64) (discovery.Result, error)
}

// ProgressSink mirrors live progress outside the process.
type ProgressSink interface {
	Publish(ctx context.Context, p model.DownloadProgress) error
	Remove(ctx context.Context, jobID string) error
}

type Observer interface {
	JobStarted(jobType string)
	JobFinished(jobType, status string, d time.Duration)
	DownloadPermits(inUse int)
}

// DiscoveryHook is told about terminal discovery jobs that carry a
// scheduler event id. res is nil when the job failed.
type DiscoveryHook interface {
	OnDiscoveryFinished(ctx context.Context, job model.Job, res *discovery.Result, err error)
}

type DownloadOptions struct {
	DefaultQuality string
	SubtitleLangs  []string
	EmbedSubs      bool
	WriteInfoJSON  bool
	WriteThumbnail bool
}

type ProcessorOptions struct {
	Store      ProcessorStore
	Gateway    Gateway
	Discoverer Discoverer
	Layout     archive.Layout
	Download   DownloadOptions

	MaxConcurrentDownloads  int
	PollInterval            time.Duration
	ProgressPersistInterval time.Duration
	RequeueInterrupted      bool

	Sink     ProgressSink
	Observer Observer
	Hook     DiscoveryHook
	Logger   *slog.Logger
	Now      func() time.Time
}

type eventKind int

const (
	eventProgress eventKind = iota
	eventDone
)

type workerEvent struct {
	kind     eventKind
	jobID    string
	progress ytdlp.Progress
	outcome  outcome
}

// outcome is what a worker hands back to the loop. The loop applies it.
type outcome struct {
	err       error
	video     *model.Video
	result    json.RawMessage
	discovery *discovery.Result
}

type cancelRequest struct {
	id    string
	reply chan bool
}

// Processor runs queued jobs. A single loop goroutine owns every job-row
// write; workers only report progress and outcomes over p.events.
type Processor struct {
	store      ProcessorStore
	gateway    Gateway
	discoverer Discoverer
	layout     archive.Layout
	download   DownloadOptions

	pollInterval    time.Duration
	persistInterval time.Duration
	requeue         bool

	sink     ProgressSink
	observer Observer
	hookMu   sync.RWMutex
	hook     DiscoveryHook
	logger   *slog.Logger
	now      func() time.Time

	registry *registry
	permits  *permits

	events  chan workerEvent
	cancels chan cancelRequest
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewProcessor(opts ProcessorOptions) *Processor {
	p := &Processor{
		store:           opts.Store,
		gateway:         opts.Gateway,
		discoverer:      opts.Discoverer,
		layout:          opts.Layout,
		download:        opts.Download,
		pollInterval:    opts.PollInterval,
		persistInterval: opts.ProgressPersistInterval,
		requeue:         opts.RequeueInterrupted,
		sink:            opts.Sink,
		observer:        opts.Observer,
		hook:            opts.Hook,
		logger:          opts.Logger,
		now:             opts.Now,
		registry:        newRegistry(),
		permits:         newPermits(opts.MaxConcurrentDownloads),
		events:          make(chan workerEvent, 64),
		cancels:         make(chan cancelRequest),
		wake:            make(chan struct{}, 1),
		done:            make(chan struct{}),
	}
	if p.pollInterval <= 0 {
		p.pollInterval = 2 * time.Second
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// SetDiscoveryHook must be called before Run.
func (p *Processor) SetDiscoveryHook(h DiscoveryHook) {
	p.hookMu.Lock()
	p.hook = h
	p.hookMu.Unlock()
}

// Wake asks the loop to dispatch now. It never blocks.
func (p *Processor) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// GetActive returns a snapshot of every running job's progress.
func (p *Processor) GetActive() map[string]model.DownloadProgress {
	return p.registry.snapshot()
}

// Cancel asks the loop to stop a running job. It returns false when the job
// is not running (including queued jobs, which cannot be cancelled).
func (p *Processor) Cancel(ctx context.Context, id string) bool {
	req := cancelRequest{id: id, reply: make(chan bool, 1)}
	select {
	case p.cancels <- req:
	case <-ctx.Done():
		return false
	case <-p.done:
		return false
	}
	select {
	case ok := <-req.reply:
		return ok
	case <-ctx.Done():
		return false
	}
}

// Run sweeps jobs left processing by a previous process, then dispatches
// until ctx is cancelled. In-flight work is cancelled on return and its rows
// are left for the next boot's sweep.
func (p *Processor) Run(ctx context.Context) error {
	if _, err := p.RecoverStuck(ctx); err != nil {
		p.logger.Error("stuck job sweep failed", "error", err)
	}
	defer p.shutdown()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.dispatch(ctx)
		case <-p.wake:
			p.dispatch(ctx)
		case ev := <-p.events:
			p.handleEvent(ctx, ev)
		case req := <-p.cancels:
			req.reply <- p.cancelRunning(ctx, req.id)
		}
	}
}

func (p *Processor) shutdown() {
	close(p.done)
	for _, e := range p.registry.drain() {
		e.cancel()
		e.release()
	}
	p.wg.Wait()
	p.logger.Info("job processor stopped")
}

func (p *Processor) dispatch(ctx context.Context) {
	queued, err := p.store.ListJobs(ctx, store.JobFilter{Statuses: []string{model.JobStatusQueued}})
	if err != nil {
		p.logger.Error("list queued jobs failed", "error", err)
		return
	}
	for _, job := range queued {
		if p.registry.has(job.ID) {
			continue
		}
		release := func() {}
		if job.Type == model.JobTypeDownload {
			r, ok := p.permits.tryAcquire()
			if !ok {
				continue
			}
			release = r
		}
		p.start(ctx, job, release)
	}
}

func (p *Processor) start(ctx context.Context, job model.Job, release func()) {
	now := p.now()
	if err := job.Start(now); err != nil {
		release()
		p.logger.Error("start job failed", "job_id", job.ID, "error", err)
		return
	}
	if err := p.store.UpdateJob(ctx, job); err != nil {
		release()
		p.logger.Error("persist job start failed", "job_id", job.ID, "error", err)
		return
	}

	jctx, cancel := context.WithCancel(ctx)
	p.registry.add(job.ID, &entry{
		job:         job,
		cancel:      cancel,
		release:     release,
		started:     now,
		lastPersist: now,
		progress: model.DownloadProgress{
			JobID:     job.ID,
			JobType:   job.Type,
			VideoID:   job.VideoID,
			Status:    model.JobStatusProcessing,
			StartedAt: now.UTC(),
			UpdatedAt: now.UTC(),
		},
	})
	if p.observer != nil {
		p.observer.JobStarted(job.Type)
		p.observer.DownloadPermits(p.permits.inUse())
	}
	p.logger.Info("job started", "job_id", job.ID, "type", job.Type, "target", job.Target())

	p.wg.Add(1)
	go p.execute(jctx, job)
}

func (p *Processor) execute(ctx context.Context, job model.Job) {
	defer p.wg.Done()
	var out outcome
	switch job.Type {
	case model.JobTypeDownload:
		out = p.runDownload(ctx, job, func(pr ytdlp.Progress) {
			select {
			case p.events <- workerEvent{kind: eventProgress, jobID: job.ID, progress: pr}:
			default:
			}
		})
	case model.JobTypeDiscovery:
		out = p.runDiscovery(ctx, job)
	case model.JobTypeMetadata:
		out = p.runMetadata(ctx, job)
	default:
		out = outcome{err: fmt.Errorf("unknown job type %q", job.Type)}
	}
	select {
	case p.events <- workerEvent{kind: eventDone, jobID: job.ID, outcome: out}:
	case <-p.done:
	}
}

func (p *Processor) handleEvent(ctx context.Context, ev workerEvent) {
	switch ev.kind {
	case eventProgress:
		p.applyProgress(ctx, ev.jobID, ev.progress)
	case eventDone:
		p.finish(ctx, ev.jobID, ev.outcome)
	}
}

func (p *Processor) applyProgress(ctx context.Context, id string, pr ytdlp.Progress) {
	e, ok := p.registry.get(id)
	if !ok {
		return
	}
	now := p.now()
	snap, _ := p.registry.updateProgress(id, func(dp *model.DownloadProgress) {
		if pr.Phase != "" {
			dp.Status = pr.Phase
		}
		dp.Percent = pr.Percent
		dp.Speed = pr.Speed
		dp.ETA = pr.ETA
		dp.UpdatedAt = now.UTC()
	})

	if p.sink != nil {
		sctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
		if err := p.sink.Publish(sctx, snap); err != nil {
			p.logger.Debug("publish progress failed", "job_id", id, "error", err)
		}
		cancel()
	}

	if now.Sub(e.lastPersist) < p.persistInterval {
		return
	}
	e.lastPersist = now
	e.job.Progress = pr.Percent
	if err := p.store.UpdateJob(ctx, e.job); err != nil {
		p.logger.Warn("persist job progress failed", "job_id", id, "error", err)
	}
}

func (p *Processor) finish(ctx context.Context, id string, out outcome) {
	e, ok := p.registry.remove(id)
	if !ok {
		// Cancelled while the worker was finishing.
		return
	}
	e.release()
	e.cancel()

	job := e.job
	now := p.now()
	if out.err == nil && out.video != nil {
		if err := p.store.UpdateVideo(ctx, *out.video); err != nil {
			out.err = fmt.Errorf("record download: %w", err)
		}
	}

	if out.err == nil {
		if err := job.Complete(now); err != nil {
			p.logger.Error("complete job failed", "job_id", id, "error", err)
		}
		job.ResultData = out.result
		if out.discovery != nil {
			job.VideosFound = out.discovery.VideosFound
			job.VideosProcessed = out.discovery.VideosAdded
		}
		p.logger.Info("job completed", "job_id", id, "type", job.Type, "target", job.Target(),
			"duration", now.Sub(e.started).Round(time.Millisecond).String())
	} else {
		if err := job.Fail(now, out.err.Error()); err != nil {
			p.logger.Error("fail job failed", "job_id", id, "error", err)
		}
		if job.Type == model.JobTypeDownload {
			p.setVideoStatus(ctx, job.VideoID, model.DownloadStatusFailed)
		}
		p.logger.Warn("job failed", "job_id", id, "type", job.Type, "target", job.Target(), "error", job.ErrorMessage)
	}

	if err := p.store.UpdateJob(ctx, job); err != nil {
		p.logger.Error("persist job result failed", "job_id", id, "error", err)
	}
	p.afterTerminal(ctx, job, e.started, now)

	if job.Type == model.JobTypeDiscovery && job.EventID != 0 {
		var res *discovery.Result
		if out.err == nil {
			res = out.discovery
		}
		p.notifyHook(ctx, job, res, out.err)
	}
	p.Wake()
}

func (p *Processor) cancelRunning(ctx context.Context, id string) bool {
	e, ok := p.registry.remove(id)
	if !ok {
		return false
	}
	e.cancel()
	e.release()

	job := e.job
	now := p.now()
	if err := job.Fail(now, ErrCancelled.Error()); err != nil {
		p.logger.Error("cancel job failed", "job_id", id, "error", err)
	}
	if err := p.store.UpdateJob(ctx, job); err != nil {
		p.logger.Error("persist job cancel failed", "job_id", id, "error", err)
	}
	if job.Type == model.JobTypeDownload {
		p.setVideoStatus(ctx, job.VideoID, model.DownloadStatusPending)
	}
	p.afterTerminal(ctx, job, e.started, now)
	if job.Type == model.JobTypeDiscovery && job.EventID != 0 {
		p.notifyHook(ctx, job, nil, ErrCancelled)
	}
	p.logger.Info("job cancelled", "job_id", id, "type", job.Type, "target", job.Target())
	p.Wake()
	return true
}

func (p *Processor) afterTerminal(ctx context.Context, job model.Job, started, now time.Time) {
	if p.sink != nil {
		sctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
		if err := p.sink.Remove(sctx, job.ID); err != nil {
			p.logger.Debug("remove progress failed", "job_id", job.ID, "error", err)
		}
		cancel()
	}
	if p.observer != nil {
		p.observer.JobFinished(job.Type, job.Status, now.Sub(started))
		p.observer.DownloadPermits(p.permits.inUse())
	}
}

func (p *Processor) notifyHook(ctx context.Context, job model.Job, res *discovery.Result, err error) {
	p.hookMu.RLock()
	h := p.hook
	p.hookMu.RUnlock()
	if h != nil {
		h.OnDiscoveryFinished(ctx, job, res, err)
	}
}

func (p *Processor) setVideoStatus(ctx context.Context, videoID int64, status string) {
	v, err := p.store.GetVideo(ctx, videoID)
	if err != nil {
		p.logger.Warn("load video failed", "video_id", videoID, "error", err)
		return
	}
	if v.DownloadStatus == status {
		return
	}
	v.DownloadStatus = status
	if err := p.store.UpdateVideo(ctx, v); err != nil {
		p.logger.Warn("update video status failed", "video_id", videoID, "status", status, "error", err)
	}
}

// RecoverStuck fails every job left processing with no live executor.
// Interrupted downloads are requeued through the retry edge when
// configured to. It must run before the first dispatch.
func (p *Processor) RecoverStuck(ctx context.Context) (int, error) {
	stuck, err := p.store.ListJobs(ctx, store.JobFilter{Statuses: []string{model.JobStatusProcessing}})
	if err != nil {
		return 0, fmt.Errorf("list processing jobs: %w", err)
	}
	var errs []error
	n := 0
	for _, job := range stuck {
		if p.registry.has(job.ID) {
			continue
		}
		if err := job.Fail(p.now(), ErrInterrupted.Error()); err != nil {
			errs = append(errs, err)
			continue
		}
		requeued := false
		if job.Type == model.JobTypeDownload && p.requeue {
			if err := job.ResetForRetry(); err != nil {
				errs = append(errs, err)
				continue
			}
			requeued = true
		}
		if err := p.store.UpdateJob(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("sweep job %s: %w", job.ID, err))
			continue
		}
		n++
		switch {
		case job.Type == model.JobTypeDownload && requeued:
			p.setVideoStatus(ctx, job.VideoID, model.DownloadStatusPending)
		case job.Type == model.JobTypeDownload:
			p.setVideoStatus(ctx, job.VideoID, model.DownloadStatusFailed)
		case job.Type == model.JobTypeDiscovery && job.EventID != 0:
			p.notifyHook(ctx, job, nil, ErrInterrupted)
		}
		p.logger.Warn("recovered interrupted job", "job_id", job.ID, "type", job.Type, "requeued", requeued)
	}
	return n, errors.Join(errs...)
}
