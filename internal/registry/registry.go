// Package registry is the single source of truth for every job in the session.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/localclipper/clipper/internal/domain"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
	ErrTerminal    = errors.New("job is in a terminal state")
	ErrTransition  = errors.New("invalid status transition")
)

// Change is one registry mutation as seen by subscribers
type Change struct {
	Seq   uint64
	JobID string
	Job   domain.Job
}

// Entry is a registered job along with when it was created
type Entry struct {
	Job       domain.Job
	CreatedAt time.Time
}

// record is the stored state of one job. notifyMu serializes the
// notifications of that job only, so a slow listener never delays
// writes to other jobs.
type record struct {
	entry    Entry
	notifyMu sync.Mutex
}

// Registry stores the latest known state per job.
// Writes come from the orchestrator; any number of views read.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*record
	order []string
	seq   uint64

	subMu     sync.RWMutex
	nextSubID int
	listeners map[int]func(Change)
	channels  map[int]chan Change
}

func New() *Registry {
	return &Registry{
		jobs:      make(map[string]*record),
		listeners: make(map[int]func(Change)),
		channels:  make(map[int]chan Change),
	}
}

// Create registers a fresh queued job with no steps
func (r *Registry) Create(id string) (domain.Job, error) {
	r.mu.Lock()
	if _, ok := r.jobs[id]; ok {
		r.mu.Unlock()
		return domain.Job{}, fmt.Errorf("%w: %s", ErrJobExists, id)
	}
	job := domain.NewJob(id)
	rec := &record{entry: Entry{Job: job, CreatedAt: time.Now()}}
	// unpublished until r.mu is released, so this never blocks
	rec.notifyMu.Lock()
	defer rec.notifyMu.Unlock()
	r.jobs[id] = rec
	r.order = append(r.order, id)
	r.seq++
	change := Change{Seq: r.seq, JobID: id, Job: job.Clone()}
	r.mu.Unlock()

	r.notify(change)
	return job.Clone(), nil
}

// Update fully replaces the stored job with the latest observation.
// Notifications of one job are delivered in Seq order; jobs do not wait
// for each other.
func (r *Registry) Update(id string, job domain.Job) error {
	r.mu.RLock()
	rec, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	rec.notifyMu.Lock()
	defer rec.notifyMu.Unlock()

	r.mu.Lock()
	current := rec.entry.Job
	if current.IsTerminal() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, current.Status)
	}
	if !current.Status.CanTransition(job.Status) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrTransition, current.Status, job.Status)
	}

	next := job.Clone()
	next.ID = id
	if next.Steps == nil {
		next.Steps = []domain.Step{}
	}
	if next.Status != domain.StatusError {
		next.Error = ""
	}
	rec.entry.Job = next
	r.seq++
	change := Change{Seq: r.seq, JobID: id, Job: next.Clone()}
	r.mu.Unlock()

	r.notify(change)
	return nil
}

// Get returns a copy of the job
func (r *Registry) Get(id string) (domain.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return rec.entry.Job.Clone(), true
}

// All returns every job in creation order
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		e := r.jobs[id].entry
		out = append(out, Entry{Job: e.Job.Clone(), CreatedAt: e.CreatedAt})
	}
	return out
}

// Len returns the number of registered jobs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Subscribe registers fn for every change. fn runs on the writing goroutine
// after the registry lock is released, so it may call back into the registry.
// Changes of different jobs may be delivered concurrently, so fn must be
// safe for concurrent use.
func (r *Registry) Subscribe(fn func(Change)) (unsubscribe func()) {
	r.subMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.listeners[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.listeners, id)
			r.subMu.Unlock()
		})
	}
}

// Watch returns a buffered channel of changes. A subscriber that falls
// behind by more than buffer changes misses the overflow; Seq exposes gaps.
func (r *Registry) Watch(buffer int) (<-chan Change, func()) {
	ch := make(chan Change, buffer)

	r.subMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.channels[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.channels, id)
			r.subMu.Unlock()
			close(ch)
		})
	}
}

func (r *Registry) notify(c Change) {
	r.subMu.RLock()
	listeners := make([]func(Change), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	for _, ch := range r.channels {
		select {
		case ch <- c:
		default:
		}
	}
	r.subMu.RUnlock()

	for _, fn := range listeners {
		fn(c)
	}
}
