package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"faceattend/internal/attendance"
	"faceattend/internal/clock"
	"faceattend/internal/queue"
	"faceattend/internal/spool"
)

// CheckInTask is the body of a queue.TypeCheckIn message.
type CheckInTask struct {
	JobID    string               `json:"job_id"`
	ProbeKey string               `json:"probe_key"`
	Type     attendance.EventType `json:"type"`
	DeviceID string               `json:"device_id,omitempty"`
}

// Dispatcher accepts check-ins for asynchronous processing.
type Dispatcher struct {
	spool spool.Spool
	queue queue.Queue
	jobs  Jobs
	clock clock.Clock
}

// NewDispatcher builds a dispatcher.
func NewDispatcher(sp spool.Spool, q queue.Queue, jobs Jobs, clk clock.Clock) *Dispatcher {
	if clk == nil {
		clk = clock.Real()
	}
	return &Dispatcher{spool: sp, queue: q, jobs: jobs, clock: clk}
}

// Submit spools the probe, records a pending job and enqueues it.
func (d *Dispatcher) Submit(ctx context.Context, probe []byte, et attendance.EventType, deviceID string) (Job, error) {
	key, err := d.spool.Put(ctx, probe)
	if err != nil {
		return Job{}, err
	}

	job := Job{
		ID:        uuid.NewString(),
		State:     JobPending,
		Type:      et,
		DeviceID:  deviceID,
		CreatedAt: d.clock.Now().UTC(),
	}
	if err := d.jobs.Put(ctx, job); err != nil {
		d.spool.Delete(ctx, key)
		return Job{}, fmt.Errorf("store job: %w", err)
	}

	msg, err := queue.NewMessage(queue.TypeCheckIn, CheckInTask{JobID: job.ID, ProbeKey: key, Type: et, DeviceID: deviceID})
	if err != nil {
		d.spool.Delete(ctx, key)
		return Job{}, err
	}
	if err := d.queue.Publish(ctx, msg); err != nil {
		d.spool.Delete(ctx, key)
		return Job{}, fmt.Errorf("enqueue check-in: %w", err)
	}
	return job, nil
}

// Worker consumes check-in tasks and stores their results.
type Worker struct {
	service     *Service
	spool       spool.Spool
	jobs        Jobs
	queue       queue.Queue
	concurrency int
}

// NewWorker builds a worker running concurrency handlers.
func NewWorker(svc *Service, sp spool.Spool, jobs Jobs, q queue.Queue, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{service: svc, spool: sp, jobs: jobs, queue: q, concurrency: concurrency}
}

// Run consumes until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.queue.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}

	slog.Info("worker started", "concurrency", w.concurrency)
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for msg := range messages {
				if err := w.Handle(ctx, msg); err != nil {
					slog.Error("handle message", "worker", workerID, "type", msg.Type, "error", err)
				}
			}
		}(i)
	}
	wg.Wait()
	slog.Info("worker stopped")
	return nil
}

// Handle processes one message.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	switch msg.Type {
	case queue.TypeCheckIn:
		var task CheckInTask
		if err := msg.Decode(&task); err != nil {
			return err
		}
		return w.process(ctx, task)
	case queue.TypeAttendanceRecorded:
		var n RecordedNotification
		if err := msg.Decode(&n); err != nil {
			return err
		}
		slog.Info("attendance recorded",
			"name", n.Name,
			"service", n.Service,
			"type", n.Type,
			"date", n.Date,
			"time", n.Time,
			"status", n.Status,
		)
		return nil
	default:
		slog.Warn("ignoring message", "type", msg.Type)
		return nil
	}
}

func (w *Worker) process(ctx context.Context, task CheckInTask) error {
	job, err := w.jobs.Get(ctx, task.JobID)
	if errors.Is(err, ErrJobNotFound) {
		job = Job{ID: task.JobID, Type: task.Type, DeviceID: task.DeviceID}
	} else if err != nil {
		return err
	}

	var result Result
	probe, err := w.spool.Get(ctx, task.ProbeKey)
	if err != nil {
		slog.Warn("spooled probe unavailable", "job", task.JobID, "error", err)
		result = Result{Code: CodeProbeError, Message: MsgProbeError}
	} else {
		result = w.service.CheckIn(ctx, probe, task.Type)
	}

	if err := w.spool.Delete(ctx, task.ProbeKey); err != nil {
		slog.Warn("delete spooled probe", "job", task.JobID, "error", err)
	}

	job.State = JobDone
	job.Result = &result
	if err := w.jobs.Put(ctx, job); err != nil {
		return fmt.Errorf("store job %s result: %w", job.ID, err)
	}
	slog.Info("check-in job processed", "job", job.ID, "code", result.Code)
	return nil
}
