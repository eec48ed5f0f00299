package exports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"studio/internal/cloudinary"
	"studio/internal/metrics"
	"studio/internal/queue"
)

// Exporter renders the attendance CSV.
type Exporter interface {
	ExportCSV(ctx context.Context, w io.Writer) (int, error)
}

// Uploader stores a finished export and returns where it can be fetched.
type Uploader interface {
	UploadRaw(ctx context.Context, data []byte, publicID string) (*cloudinary.UploadResult, error)
}

// Runner enqueues export jobs and processes them.
type Runner struct {
	exporter Exporter
	jobs     JobStore
	uploader Uploader
	queue    queue.Queue
	now      func() time.Time
}

// NewRunner wires an export runner. uploader may be nil, in which case the
// CSV is kept with the job.
func NewRunner(exporter Exporter, jobs JobStore, uploader Uploader, q queue.Queue) *Runner {
	return &Runner{exporter: exporter, jobs: jobs, uploader: uploader, queue: q, now: time.Now}
}

// Enqueue records a pending job and publishes it for a worker.
func (r *Runner) Enqueue(ctx context.Context) (Job, error) {
	now := r.now().UTC()
	job := Job{ID: uuid.NewString(), Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	if err := r.jobs.Save(ctx, job); err != nil {
		return Job{}, fmt.Errorf("save export job: %w", err)
	}
	if err := r.queue.Publish(ctx, queue.Message{Type: queue.TypeExport, Body: []byte(job.ID)}); err != nil {
		job.Status = StatusFailed
		job.Error = "could not queue export"
		job.UpdatedAt = r.now().UTC()
		_ = r.jobs.Save(ctx, job)
		return Job{}, fmt.Errorf("publish export job: %w", err)
	}
	return job, nil
}

// Get returns the current state of a job.
func (r *Runner) Get(ctx context.Context, id string) (Job, error) {
	return r.jobs.Get(ctx, id)
}

// Process renders and stores the export for job id. A failed export is
// recorded on the job and also returned.
func (r *Runner) Process(ctx context.Context, id string) (Job, error) {
	job, err := r.jobs.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if job.Status != StatusPending {
		return job, nil
	}

	var buf bytes.Buffer
	rows, err := r.exporter.ExportCSV(ctx, &buf)
	if err == nil {
		job.Rows = rows
		if r.uploader != nil {
			var res *cloudinary.UploadResult
			res, err = r.uploader.UploadRaw(ctx, buf.Bytes(), "attendance-"+job.ID+".csv")
			if err == nil {
				job.URL = res.SecureURL
			}
		} else {
			job.Data = buf.Bytes()
		}
	}

	job.UpdatedAt = r.now().UTC()
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		metrics.Exports.WithLabelValues(string(StatusFailed)).Inc()
	} else {
		job.Status = StatusDone
		metrics.Exports.WithLabelValues(string(StatusDone)).Inc()
		metrics.ExportRows.Observe(float64(rows))
	}
	if saveErr := r.jobs.Save(ctx, job); saveErr != nil {
		return job, errors.Join(err, fmt.Errorf("save export job: %w", saveErr))
	}
	return job, err
}

// Run consumes export messages until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	messages, err := r.queue.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != queue.TypeExport {
			continue
		}
		id := string(msg.Body)
		job, err := r.Process(ctx, id)
		if err != nil {
			log.Printf("export %s failed: %v", id, err)
			continue
		}
		log.Printf("export %s %s (%d rows)", id, job.Status, job.Rows)
	}
	return nil
}
