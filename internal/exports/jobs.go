package exports

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status is the lifecycle state of an export job.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// ErrJobNotFound is returned for unknown or expired job ids.
var ErrJobNotFound = errors.New("export job not found")

// Job is an asynchronous attendance export. Data holds the CSV when no
// upload target is configured.
type Job struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	URL       string    `json:"url,omitempty"`
	Rows      int       `json:"rows"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Data      []byte    `json:"-"`
}

// JobStore keeps export job state between the API and the worker.
type JobStore interface {
	Save(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
}

// RedisJobs stores jobs as Redis hashes that expire after ttl.
type RedisJobs struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisJobs creates a Redis-backed job store.
func NewRedisJobs(client *redis.Client, prefix string, ttl time.Duration) *RedisJobs {
	if prefix == "" {
		prefix = "studio:export:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisJobs{client: client, prefix: prefix, ttl: ttl}
}

// Save implements JobStore.
func (s *RedisJobs) Save(ctx context.Context, job Job) error {
	key := s.prefix + job.ID
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, map[string]any{
			"status":     string(job.Status),
			"url":        job.URL,
			"rows":       job.Rows,
			"error":      job.Error,
			"created_at": job.CreatedAt.UTC().Format(time.RFC3339Nano),
			"updated_at": job.UpdatedAt.UTC().Format(time.RFC3339Nano),
			"data":       job.Data,
		})
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}

// Get implements JobStore.
func (s *RedisJobs) Get(ctx context.Context, id string) (Job, error) {
	vals, err := s.client.HGetAll(ctx, s.prefix+id).Result()
	if err != nil {
		return Job{}, err
	}
	if len(vals) == 0 {
		return Job{}, ErrJobNotFound
	}
	job := Job{
		ID:     id,
		Status: Status(vals["status"]),
		URL:    vals["url"],
		Error:  vals["error"],
	}
	if v := vals["rows"]; v != "" {
		if job.Rows, err = strconv.Atoi(v); err != nil {
			return Job{}, fmt.Errorf("export job %s: bad rows %q", id, v)
		}
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, vals["created_at"])
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, vals["updated_at"])
	if v := vals["data"]; v != "" {
		job.Data = []byte(v)
	}
	return job, nil
}

// MemoryJobs is an in-process JobStore.
type MemoryJobs struct {
	mu   sync.Mutex
	jobs map[string]Job
}

// NewMemoryJobs creates an empty in-process job store.
func NewMemoryJobs() *MemoryJobs {
	return &MemoryJobs{jobs: make(map[string]Job)}
}

// Save implements JobStore.
func (s *MemoryJobs) Save(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Data = append([]byte(nil), job.Data...)
	s.jobs[job.ID] = job
	return nil
}

// Get implements JobStore.
func (s *MemoryJobs) Get(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}
