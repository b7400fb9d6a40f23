package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/drivebridge/drivebridge/internal/drive"
	"github.com/drivebridge/drivebridge/internal/driveurl"
	"github.com/drivebridge/drivebridge/internal/errs"
	"github.com/drivebridge/drivebridge/internal/events"
	"github.com/drivebridge/drivebridge/internal/logging"
	"github.com/drivebridge/drivebridge/internal/metrics"
	"github.com/drivebridge/drivebridge/internal/retry"
)

// Result is a completed fetch: the buffered content and its resolved
// descriptor.
type Result struct {
	Content    *bytes.Buffer
	Descriptor drive.FileDescriptor
}

// Gateway is the slice of the Drive gateway the orchestrator needs.
type Gateway interface {
	OpenContentStream(ctx context.Context, id string, known *drive.KnownMetadata, token string) (*drive.Stream, error)
	FolderMetadata(ctx context.Context, id, token string) (*drive.FolderDescriptor, error)
}

// Orchestrator runs downloads under the retry policy and keeps the
// task tracker and event stream updated.
type Orchestrator struct {
	gateway Gateway
	retrier *retry.Controller
	tracker *Tracker
	events  *events.Broadcaster
	timeout time.Duration

	seq atomic.Uint64
}

// NewOrchestrator wires the orchestrator to its collaborators. timeout
// bounds one Fetch end to end; 0 means no limit.
func NewOrchestrator(gateway Gateway, retrier *retry.Controller, tracker *Tracker, broadcaster *events.Broadcaster, timeout time.Duration) *Orchestrator {
	return &Orchestrator{
		gateway: gateway,
		retrier: retrier,
		tracker: tracker,
		events:  broadcaster,
		timeout: timeout,
	}
}

// Tracker exposes the task arena for read endpoints.
func (o *Orchestrator) Tracker() *Tracker { return o.tracker }

func (o *Orchestrator) nextTaskID() string {
	return fmt.Sprintf("task-%d", o.seq.Add(1))
}

// Fetch downloads a single file into memory under the retry budget of
// the given operation ID. Each attempt reopens the stream and resets
// the buffer, so a mid-stream transport failure retries from the
// start. The onProgress callback may be nil.
func (o *Orchestrator) Fetch(ctx context.Context, opID, fileID string, known *drive.KnownMetadata, token string, onProgress func(received, total, speed int64)) (*Result, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var buf bytes.Buffer
	var desc drive.FileDescriptor
	meter := newSpeedMeter()
	attempts := 0

	res := o.retrier.Do(ctx, opID, func() error {
		attempts++
		if attempts > 1 {
			metrics.RecordRetry()
		}
		buf.Reset()
		meter.reset()

		stream, err := o.gateway.OpenContentStream(ctx, fileID, known, token)
		if err != nil {
			return err
		}
		defer stream.Body.Close()
		desc = stream.Descriptor

		pw := &progressWriter{
			dst:    &buf,
			meter:  meter,
			total:  desc.Size,
			report: onProgress,
		}
		if _, err := io.Copy(pw, stream.Body); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return errs.Wrap(errs.KindNetworkError, err)
		}
		return nil
	})
	if !res.OK {
		return nil, res.Err
	}
	// Size may have been unknown up front; the buffer is authoritative.
	if desc.Size == 0 {
		desc.Size = int64(buf.Len())
	}
	desc.Name = drive.EnsureExtension(desc.Name, desc.MimeType)
	return &Result{Content: &buf, Descriptor: desc}, nil
}

// StartFile creates a tracked task for one file and runs it in the
// background. The returned task is Pending until the first attempt
// opens the stream.
func (o *Orchestrator) StartFile(ref *driveurl.Ref, known *drive.KnownMetadata, token string) *Task {
	taskCtx, cancel := context.WithCancel(context.Background())
	name := ""
	if known != nil {
		name = known.Name
	}
	task := o.tracker.Add(o.nextTaskID(), ref.ID, name, cancel)
	go o.run(taskCtx, task, known, token)
	return task
}

// StartFolder lists the folder and downloads every member
// sequentially in listing order. One member's failure or cancellation
// does not abort the rest: each member runs under its own cancel
// context. All member tasks are registered before the first byte
// moves, so aggregate progress counts not-yet-started members as 0.
func (o *Orchestrator) StartFolder(ctx context.Context, ref *driveurl.Ref, token string) ([]*Task, error) {
	folder, err := o.gateway.FolderMetadata(ctx, ref.ID, token)
	if err != nil {
		return nil, err
	}

	tasks := make([]*Task, len(folder.Files))
	ctxs := make([]context.Context, len(folder.Files))
	for i, f := range folder.Files {
		memberCtx, cancel := context.WithCancel(context.Background())
		ctxs[i] = memberCtx
		tasks[i] = o.tracker.Add(o.nextTaskID(), f.ID, f.Name, cancel)
	}

	go func() {
		members := folder.Files
		for i, task := range tasks {
			// Cancelled while still queued: skip without touching the
			// retry budget or the siblings.
			if ctxs[i].Err() != nil {
				task.markCancelled()
				o.publishTerminal(task)
				continue
			}
			known := &drive.KnownMetadata{
				Name:     members[i].Name,
				MimeType: members[i].MimeType,
				Size:     members[i].Size,
			}
			o.run(ctxs[i], task, known, token)
		}
	}()
	return tasks, nil
}

// run executes one task to a terminal state.
func (o *Orchestrator) run(ctx context.Context, task *Task, known *drive.KnownMetadata, token string) {
	task.setInProgress()
	opID := "download-" + task.ID

	onProgress := func(received, total, speed int64) {
		task.setProgress(received, total, speed)
		o.publishProgress(task)
	}

	result, err := o.Fetch(ctx, opID, task.ResourceID, known, token, onProgress)
	switch {
	case err == nil:
		task.setFileName(result.Descriptor.Name)
		task.complete()
		metrics.RecordDownload("completed", int64(result.Content.Len()))
		logging.Info("download completed",
			zap.String("task", task.ID),
			zap.String("file", result.Descriptor.Name),
			zap.Int("bytes", result.Content.Len()))
	case errors.Is(err, context.Canceled):
		// Cancellation is not a failure and spends no retry budget.
		task.markCancelled()
		o.retrier.Reset(opID)
		metrics.RecordDownload("cancelled", 0)
	default:
		task.fail(err)
		metrics.RecordDownload("failed", 0)
		logging.Warn("download failed",
			zap.String("task", task.ID),
			zap.String("resource", task.ResourceID),
			zap.Error(err))
	}
	o.publishTerminal(task)
}

func (o *Orchestrator) publishProgress(task *Task) {
	v := task.Snapshot()
	o.events.Publish(events.Event{
		Type:     events.EventProgress,
		TaskID:   v.ID,
		Percent:  v.Percent,
		Speed:    v.Speed,
		Received: v.Received,
		Total:    v.Total,
	})
}

func (o *Orchestrator) publishTerminal(task *Task) {
	v := task.Snapshot()
	ev := events.Event{
		TaskID:   v.ID,
		Percent:  v.Percent,
		Received: v.Received,
		Total:    v.Total,
	}
	switch v.Status {
	case StatusCompleted:
		ev.Type = events.EventCompleted
	case StatusCancelled:
		ev.Type = events.EventCancelled
	default:
		ev.Type = events.EventFailed
		ev.ErrorCode = errs.KindOf(v.Err).Code()
	}
	o.events.Publish(ev)
}
