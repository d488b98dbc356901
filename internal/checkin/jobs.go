package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"faceattend/internal/attendance"
	"faceattend/internal/clock"
)

// ErrJobNotFound means the job id is unknown or its result has expired.
var ErrJobNotFound = errors.New("job not found")

// Job states.
const (
	JobPending = "pending"
	JobDone    = "done"
)

// Job tracks an asynchronous check-in.
type Job struct {
	ID        string               `json:"id"`
	State     string               `json:"state"`
	Type      attendance.EventType `json:"type"`
	DeviceID  string               `json:"device_id,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	Result    *Result              `json:"result,omitempty"`
}

// Jobs stores job state for a limited time.
type Jobs interface {
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
}

// RedisJobs keeps jobs as JSON strings with a TTL.
type RedisJobs struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisJobs builds a Redis job store.
func NewRedisJobs(client *redis.Client, ttl time.Duration) *RedisJobs {
	return &RedisJobs{client: client, prefix: "faceattend:job:", ttl: ttl}
}

// Put stores or replaces a job.
func (j *RedisJobs) Put(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return j.client.Set(ctx, j.prefix+job.ID, data, j.ttl).Err()
}

// Get loads a job.
func (j *RedisJobs) Get(ctx context.Context, id string) (Job, error) {
	data, err := j.client.Get(ctx, j.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

// MemoryJobs keeps jobs in process, for the in-memory queue backend.
type MemoryJobs struct {
	clock clock.Clock
	ttl   time.Duration

	mu   sync.Mutex
	jobs map[string]memoryJob
}

type memoryJob struct {
	job     Job
	expires time.Time
}

// NewMemoryJobs builds an in-process job store.
func NewMemoryJobs(clk clock.Clock, ttl time.Duration) *MemoryJobs {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryJobs{clock: clk, ttl: ttl, jobs: make(map[string]memoryJob)}
}

// Put stores or replaces a job and drops expired ones.
func (j *MemoryJobs) Put(_ context.Context, job Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.clock.Now()
	for id, mj := range j.jobs {
		if now.After(mj.expires) {
			delete(j.jobs, id)
		}
	}
	j.jobs[job.ID] = memoryJob{job: job, expires: now.Add(j.ttl)}
	return nil
}

// Get loads a job.
func (j *MemoryJobs) Get(_ context.Context, id string) (Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	mj, ok := j.jobs[id]
	if !ok || j.clock.Now().After(mj.expires) {
		return Job{}, ErrJobNotFound
	}
	return mj.job, nil
}
