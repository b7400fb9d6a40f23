// Package download orchestrates content downloads: task tracking,
// progress and speed measurement, bounded retry, and folder batches.
package download

import (
	"context"
	"sync"
	"time"

	"github.com/drivebridge/drivebridge/internal/errs"
)

// Status is the lifecycle state of one download task.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is one tracked download. All fields behind mu; readers take a
// View snapshot.
type Task struct {
	ID         string
	ResourceID string
	CreatedAt  time.Time

	mu       sync.Mutex
	fileName string
	status   Status
	percent  float64
	speed    int64
	received int64
	total    int64
	lastErr  error
	cancel   context.CancelFunc
}

// View is an immutable snapshot of a task.
type View struct {
	ID         string
	ResourceID string
	FileName   string
	Status     Status
	Percent    float64
	Speed      int64
	Received   int64
	Total      int64
	Err        error
}

// Snapshot returns a consistent view of the task.
func (t *Task) Snapshot() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return View{
		ID:         t.ID,
		ResourceID: t.ResourceID,
		FileName:   t.fileName,
		Status:     t.status,
		Percent:    t.percent,
		Speed:      t.speed,
		Received:   t.received,
		Total:      t.total,
		Err:        t.lastErr,
	}
}

func (t *Task) setInProgress() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.status.Terminal() {
		t.status = StatusInProgress
	}
}

// setProgress records bytes received. Percent never decreases while a
// task is in progress, even if an attempt restarts from zero.
func (t *Task) setProgress(received, total int64, speed int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.received = received
	if total > 0 {
		t.total = total
		if p := float64(received) / float64(total) * 100; p > t.percent {
			if p > 100 {
				p = 100
			}
			t.percent = p
		}
	}
	t.speed = speed
}

func (t *Task) setFileName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if name != "" {
		t.fileName = name
	}
}

func (t *Task) complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = StatusCompleted
	t.percent = 100
	t.lastErr = nil
}

// fail marks the task Failed, preserving the progress reached so far.
func (t *Task) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = StatusFailed
	if errs.KindOf(err) == errs.KindUnknown {
		err = errs.Wrap(errs.KindDownloadFailed, err)
	}
	t.lastErr = err
}

func (t *Task) markCancelled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = StatusCancelled
	t.speed = 0
}
