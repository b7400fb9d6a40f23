package download

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Tracker is the arena of live tasks, keyed by task ID.
type Tracker struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{tasks: make(map[string]*Task)}
}

// Add registers a new Pending task.
func (tr *Tracker) Add(id, resourceID, fileName string, cancel context.CancelFunc) *Task {
	t := &Task{
		ID:         id,
		ResourceID: resourceID,
		CreatedAt:  time.Now(),
		fileName:   fileName,
		status:     StatusPending,
		cancel:     cancel,
	}
	tr.mu.Lock()
	tr.tasks[id] = t
	tr.mu.Unlock()
	return t
}

// Get returns the task or nil.
func (tr *Tracker) Get(id string) *Task {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.tasks[id]
}

// List returns snapshots of all tasks in creation order.
func (tr *Tracker) List() []View {
	tr.mu.RLock()
	tasks := make([]*Task, 0, len(tr.tasks))
	for _, t := range tr.tasks {
		tasks = append(tasks, t)
	}
	tr.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	views := make([]View, len(tasks))
	for i, t := range tasks {
		views[i] = t.Snapshot()
	}
	return views
}

// AggregatePercent returns the arithmetic mean of all task percentages.
// A task that has not progressed contributes 0; no tasks means 0.
func (tr *Tracker) AggregatePercent() float64 {
	views := tr.List()
	if len(views) == 0 {
		return 0
	}
	var sum float64
	for _, v := range views {
		sum += v.Percent
	}
	return sum / float64(len(views))
}

// Cancel aborts a running task. Returns false for unknown IDs.
func (tr *Tracker) Cancel(id string) bool {
	t := tr.Get(id)
	if t == nil {
		return false
	}
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.markCancelled()
	return true
}

// RemoveTerminal drops completed, failed and cancelled tasks, returning
// how many were removed.
func (tr *Tracker) RemoveTerminal() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	n := 0
	for id, t := range tr.tasks {
		if t.Snapshot().Status.Terminal() {
			delete(tr.tasks, id)
			n++
		}
	}
	return n
}
