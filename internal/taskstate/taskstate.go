package taskstate

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// State is the lifecycle phase of a task.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

// Task is the externally visible record of one pipeline run.
type Task struct {
	ID        string            `json:"id"`
	State     State             `json:"state"`
	Progress  int               `json:"progress"`
	Message   string            `json:"message"`
	Artifacts map[string]string `json:"artifacts"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (t *Task) clone() Task {
	c := *t
	c.Artifacts = make(map[string]string, len(t.Artifacts))
	for k, v := range t.Artifacts {
		c.Artifacts[k] = v
	}
	return c
}

// Update is an atomic merge applied to a task entry. Nil fields are left
// untouched. Progress never moves backwards within one run.
type Update struct {
	State     *State
	Progress  *int
	Message   *string
	Artifacts map[string]string
}

// Registry is the process-wide task store. Distinct task ids may be
// updated concurrently; the same id must have a single writer.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Create registers a new pending task. Re-creating an existing id resets
// it for a restart, which is the one case where progress may drop.
func (r *Registry) Create(id string) Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	t := &Task{
		ID:        id,
		State:     StatePending,
		Artifacts: make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.tasks[id] = t
	return t.clone()
}

// Get returns a snapshot copy of the task entry.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// Apply merges the update into the task entry atomically.
func (r *Registry) Apply(id string, u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return errors.Errorf("task %s not found", id)
	}
	if u.State != nil {
		t.State = *u.State
	}
	if u.Progress != nil && *u.Progress > t.Progress {
		p := *u.Progress
		if p > 100 {
			p = 100
		}
		t.Progress = p
	}
	if u.Message != nil {
		t.Message = *u.Message
	}
	for k, v := range u.Artifacts {
		t.Artifacts[k] = v
	}
	t.UpdatedAt = time.Now()
	return nil
}

// SetProgress advances the progress of a processing task.
func (r *Registry) SetProgress(id string, progress int) {
	st := StateProcessing
	_ = r.Apply(id, Update{State: &st, Progress: &progress})
}

// SetArtifact records one named artifact.
func (r *Registry) SetArtifact(id, name, value string) {
	_ = r.Apply(id, Update{Artifacts: map[string]string{name: value}})
}

// Complete marks the task finished with full progress.
func (r *Registry) Complete(id string) {
	st := StateComplete
	p := 100
	_ = r.Apply(id, Update{State: &st, Progress: &p})
}

// Fail marks the task failed; message names the failing stage.
func (r *Registry) Fail(id, message string) {
	st := StateFailed
	_ = r.Apply(id, Update{State: &st, Message: &message})
}
