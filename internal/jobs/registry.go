package jobs

import (
	"context"
	"sync"
	"time"

	"you-hoard/internal/model"
)

// entry is the in-memory record of one running job. job and lastPersist are
// touched only by the processor loop; progress is read by GetActive.
type entry struct {
	job         model.Job
	cancel      context.CancelFunc
	release     func()
	started     time.Time
	lastPersist time.Time
	progress    model.DownloadProgress
}

// registry maps job ids to running entries. Entries are inserted when a job
// starts and removed exactly once, on completion or cancellation.
type registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func newRegistry() *registry {
	return &registry{entries: map[string]*entry{}}
}

func (r *registry) add(id string, e *entry) {
	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()
}

func (r *registry) get(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *registry) has(id string) bool {
	_, ok := r.get(id)
	return ok
}

func (r *registry) remove(id string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	return e, ok
}

func (r *registry) updateProgress(id string, fn func(*model.DownloadProgress)) (model.DownloadProgress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return model.DownloadProgress{}, false
	}
	fn(&e.progress)
	return e.progress, true
}

func (r *registry) snapshot() map[string]model.DownloadProgress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]model.DownloadProgress, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.progress
	}
	return out
}

func (r *registry) drain() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entry, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, e)
		delete(r.entries, id)
	}
	return out
}

// permits is the download concurrency ceiling.
type permits struct {
	slots chan struct{}
}

func newPermits(n int) *permits {
	if n < 1 {
		n = 1
	}
	return &permits{slots: make(chan struct{}, n)}
}

// tryAcquire returns a release func that is safe to call more than once.
func (p *permits) tryAcquire() (func(), bool) {
	select {
	case p.slots <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-p.slots }) }, true
	default:
		return nil, false
	}
}

func (p *permits) inUse() int {
	return len(p.slots)
}
