// Package jobs is the in-memory registry behind the async submit/poll
// contract. Jobs move monotonically through their lifecycle and terminal
// jobs are swept after a TTL.
package jobs

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var (
	ErrNotFound    = errors.New("job not found")
	ErrNotTerminal = errors.New("job is not in a terminal state")
	ErrTransition  = errors.New("invalid status transition")
)

// statusRank orders states so transitions only move forward. Terminal
// states are absorbing.
var statusRank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusCompleted:  2,
	StatusFailed:     2,
	StatusCancelled:  2,
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return statusRank[s] >= 2
}

// Result is the artifact payload of a completed job.
type Result struct {
	ArtifactCode string `json:"artifact_code"`
	ArtifactName string `json:"artifact_name"`
	ChartType    string `json:"chart_type"`
}

// Job is one unit of async work. Copies handed out by the registry are
// snapshots; mutation goes through registry methods.
type Job struct {
	ID           string     `json:"job_id"`
	Prompt       string     `json:"prompt"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	Result       *Result    `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	cancelRequested bool
}

// Summary is the list-endpoint projection of a job.
type Summary struct {
	ID        string    `json:"job_id"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

const summaryPromptLen = 50

// Registry holds jobs in memory under a single lock and sweeps terminal
// entries past their TTL.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// NewRegistry creates the registry and starts its sweep loop. Call Close to
// stop it.
func NewRegistry(ttl time.Duration, logger *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	r := &Registry{
		jobs:   make(map[string]*Job),
		ttl:    ttl,
		logger: logger.Named("jobs"),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.sweepLoop()
	return r
}

// Close stops the sweep loop and waits for it to exit.
func (r *Registry) Close() {
	close(r.done)
	r.wg.Wait()
}

// Create registers a new pending job for the prompt.
func (r *Registry) Create(prompt string) Job {
	job := &Job{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Status:    StatusPending,
		CreatedAt: r.now(),
	}
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()
	return *job
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

// SetStatus advances a job's state. Backward transitions and transitions
// out of a terminal state fail with ErrTransition.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() || statusRank[status] < statusRank[job.Status] {
		return ErrTransition
	}
	job.Status = status
	if status.Terminal() {
		now := r.now()
		job.CompletedAt = &now
		if status == StatusCompleted {
			job.Progress = 100
		}
	}
	return nil
}

// SetProgress raises a job's progress. Progress never decreases and is
// clamped to [0,100].
func (r *Registry) SetProgress(id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	return nil
}

// Complete stores the result and moves the job to completed.
func (r *Registry) Complete(id string, result Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrTransition
	}
	now := r.now()
	job.Status = StatusCompleted
	job.Progress = 100
	job.Result = &result
	job.CompletedAt = &now
	return nil
}

// Fail moves the job to failed with an error message.
func (r *Registry) Fail(id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrTransition
	}
	now := r.now()
	job.Status = StatusFailed
	job.ErrorMessage = message
	job.CompletedAt = &now
	return nil
}

// Cancel requests cancellation. Pending jobs cancel immediately; processing
// jobs get a flag the worker observes between stages. Terminal jobs are
// unchanged.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrTransition
	}
	job.cancelRequested = true
	if job.Status == StatusPending {
		now := r.now()
		job.Status = StatusCancelled
		job.CompletedAt = &now
	}
	return nil
}

// CancelRequested reports whether cancellation has been asked for.
func (r *Registry) CancelRequested(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return ok && job.cancelRequested
}

// MarkCancelled finalizes a cooperative cancel from the worker side.
func (r *Registry) MarkCancelled(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrTransition
	}
	now := r.now()
	job.Status = StatusCancelled
	job.CompletedAt = &now
	return nil
}

// List returns summaries of all jobs in creation order, prompts truncated
// for display.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, Summary{
			ID:        job.ID,
			Status:    job.Status,
			Progress:  job.Progress,
			Prompt:    truncate(job.Prompt, summaryPromptLen),
			CreatedAt: job.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Delete removes a terminal job. In-flight jobs are rejected.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !job.Status.Terminal() {
		return ErrNotTerminal
	}
	delete(r.jobs, id)
	return nil
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep evicts terminal jobs whose completion is older than the TTL.
func (r *Registry) sweep() {
	cutoff := r.now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, job := range r.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(r.jobs, id)
			r.logger.Debug("swept expired job", zap.String("job_id", id))
		}
	}
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n]) + "..."
}
