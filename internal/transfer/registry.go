package transfer

import (
	"sort"
	"sync"
	"time"
)

// Registry is the concurrency-safe store of JobState by batch id. Every
// accessor returns copies; mutation happens only through its methods.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*JobState
	now  func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock overrides the time source.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		jobs: make(map[string]*JobState),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a pending job with zeroed counters.
func (r *Registry) Create(id string, total int) (JobState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[id]; exists {
		return JobState{}, ErrDuplicateBatch
	}
	job := &JobState{
		ID:        id,
		Status:    StatusPending,
		Progress:  Progress{Total: total},
		Errors:    []ItemError{},
		CreatedAt: r.now(),
	}
	r.jobs[id] = job
	return job.clone(), nil
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (JobState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return JobState{}, ErrBatchNotFound
	}
	return job.clone(), nil
}

// Exists reports whether id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[id]
	return ok
}

// RequestCancel flags the job for cancellation and, when it has not reached a
// terminal state, marks it cancelled right away. The orchestrator still
// finishes the item in flight. Cancelling a finished job is acknowledged
// without changes.
func (r *Registry) RequestCancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrBatchNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	job.CancelRequested = true
	job.Status = StatusCancelled
	return nil
}

// List returns snapshots of every job, newest first.
func (r *Registry) List() []JobState {
	r.mu.Lock()
	out := make([]JobState, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.clone())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Prune drops terminal jobs finished more than retention ago and returns how
// many were removed.
func (r *Registry) Prune(retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-retention)
	removed := 0
	for id, job := range r.jobs {
		if !job.Finished() {
			continue
		}
		if job.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// Active counts batches whose orchestrator has not finished, including
// cancelled ones still completing their in-flight item.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, job := range r.jobs {
		if !job.Finished() {
			n++
		}
	}
	return n
}

// markRunning moves a pending job to running. It returns false when the job
// was cancelled or otherwise left pending first.
func (r *Registry) markRunning(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != StatusPending || job.CancelRequested {
		return false
	}
	job.Status = StatusRunning
	job.StartedAt = r.now()
	return true
}

// beginItem checks the cancellation flag and advances Current in one step.
func (r *Registry) beginItem(id string) (Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Progress{}, false
	}
	if job.CancelRequested {
		return job.Progress, false
	}
	job.Progress.Current++
	return job.Progress, true
}

func (r *Registry) recordSuccess(id string) (Progress, Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Progress{}, ""
	}
	job.Progress.Completed++
	return job.Progress, job.Status
}

func (r *Registry) recordFailure(id string, entry ItemError) (Progress, Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Progress{}, ""
	}
	job.Progress.Failed++
	job.Errors = append(job.Errors, entry)
	return job.Progress, job.Status
}

func (r *Registry) appendError(id string, entry ItemError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.Errors = append(job.Errors, entry)
	}
}

// finish applies the final status unless the job is already terminal and
// stamps FinishedAt. The resulting snapshot is returned.
func (r *Registry) finish(id string, status Status, message string) JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return JobState{}
	}
	if !job.Status.Terminal() {
		job.Status = status
	}
	if message != "" && job.Message == "" {
		job.Message = message
	}
	if job.FinishedAt.IsZero() {
		job.FinishedAt = r.now()
	}
	return job.clone()
}
