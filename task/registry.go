package task

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskExists   = errors.New("task already exists")
)

// Registry is the in-memory table of tasks. The lock is held only for map
// edits; callers always receive copies.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
}

// Create adds a queued task under id.
func (r *Registry) Create(id string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; ok {
		return Task{}, ErrTaskExists
	}
	now := r.now()
	t := &Task{
		ID:        id,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.tasks[id] = t
	return *t, nil
}

func (r *Registry) Get(id string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return *t, nil
}

// Update applies mutate to the task under the lock. UpdatedAt is refreshed
// on every call and FinishedAt is stamped the first time the task reaches
// a terminal status. mutate must not block.
func (r *Registry) Update(id string, mutate func(*Task)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	mutate(t)
	t.UpdatedAt = r.now()
	if t.Status.Finished() && t.FinishedAt.IsZero() {
		t.FinishedAt = t.UpdatedAt
	}
	return nil
}

// Snapshot returns a point-in-time copy of every task.
func (r *Registry) Snapshot() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	return out
}

// Evict removes the given tasks and returns how many were present.
func (r *Registry) Evict(ids ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, ok := r.tasks[id]; ok {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

func (r *Registry) Counts() Counts {
	var c Counts
	for _, t := range r.Snapshot() {
		switch t.Status {
		case StatusQueued:
			c.Queued++
		case StatusInProgress:
			c.InProgress++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
		c.Total++
	}
	return c
}
