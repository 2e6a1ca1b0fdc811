package task

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Registry owns the canonical Task records. Tasks live in the active
// partition until they reach a terminal status, then move to the completed
// partition and never change again.
type Registry struct {
	mu        sync.Mutex
	active    map[string]*Task
	completed map[string]*Task
	order     []string // completion order
	seq       uint64
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active:    make(map[string]*Task),
		completed: make(map[string]*Task),
		now:       time.Now,
	}
}

// NewID returns a unique id of the form <prefix>_<unix-ms>_<seq>.
// The sequence number alone guarantees uniqueness within a registry.
func (r *Registry) NewID(prefix string) string {
	n := atomic.AddUint64(&r.seq, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, r.now().UnixMilli(), n)
}

// Add inserts a new task. The task must not be terminal.
func (r *Registry) Add(t Task) error {
	if t.ID == "" {
		return fmt.Errorf("add task: empty id")
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Status.Terminal() {
		return fmt.Errorf("add task %s: %w", t.ID, ErrTerminal)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[t.ID]; ok {
		return fmt.Errorf("add task %s: %w", t.ID, ErrDuplicate)
	}
	if _, ok := r.completed[t.ID]; ok {
		return fmt.Errorf("add task %s: %w", t.ID, ErrDuplicate)
	}
	c := t.clone()
	r.active[t.ID] = &c
	return nil
}

// Get returns a copy of the task from either partition.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.active[id]; ok {
		return t.clone(), true
	}
	if t, ok := r.completed[id]; ok {
		return t.clone(), true
	}
	return Task{}, false
}

// IsTerminal reports whether id is in the completed partition.
func (r *Registry) IsTerminal(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.completed[id]
	return ok
}

// Start moves an active task from pending to running.
func (r *Registry) Start(id string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.activeLocked(id)
	if err != nil {
		return Task{}, err
	}
	if !CanTransition(t.Status, StatusRunning) {
		return Task{}, fmt.Errorf("start %s: %s -> %s: %w", id, t.Status, StatusRunning, ErrInvalidTransition)
	}
	t.Status = StatusRunning
	return t.clone(), nil
}

// Finish applies fn to an active task, which must leave it in a terminal
// status, and moves it to the completed partition.
func (r *Registry) Finish(id string, fn func(*Task)) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.activeLocked(id)
	if err != nil {
		return Task{}, err
	}
	next := t.clone()
	fn(&next)
	if !next.Status.Terminal() || !CanTransition(t.Status, next.Status) {
		return Task{}, fmt.Errorf("finish %s: %s -> %s: %w", id, t.Status, next.Status, ErrInvalidTransition)
	}
	next.ID = id
	delete(r.active, id)
	r.completed[id] = &next
	r.order = append(r.order, id)
	return next.clone(), nil
}

func (r *Registry) activeLocked(id string) (*Task, error) {
	if t, ok := r.active[id]; ok {
		return t, nil
	}
	if _, ok := r.completed[id]; ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrTerminal)
	}
	return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
}

// Active returns copies of all non-terminal tasks.
func (r *Registry) Active() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Task, 0, len(r.active))
	for _, t := range r.active {
		out = append(out, t.clone())
	}
	return out
}

// Completed returns copies of terminal tasks in completion order.
func (r *Registry) Completed() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.completed[id].clone())
	}
	return out
}

// Remove evicts tasks from both partitions. Unknown ids are ignored.
// This is the only way a task leaves the registry.
func (r *Registry) Remove(ids ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	removed := 0
	for _, id := range ids {
		if _, ok := r.active[id]; ok {
			delete(r.active, id)
			removed++
		}
		if _, ok := r.completed[id]; ok {
			delete(r.completed, id)
			drop[id] = true
			removed++
		}
	}
	if len(drop) > 0 {
		kept := r.order[:0]
		for _, id := range r.order {
			if !drop[id] {
				kept = append(kept, id)
			}
		}
		r.order = kept
	}
	return removed
}

// Len returns the number of active and completed tasks.
func (r *Registry) Len() (active, completed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active), len(r.completed)
}
