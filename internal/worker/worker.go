package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/witcon/backend/internal/metrics"
	"github.com/witcon/backend/pkg/queue"
)

// Deleter removes stored objects.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// JobSource is the queue the processor consumes.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// BlobCleanup deletes uploads that no attendee references any more: files replaced by
// an update, left behind by a failed create, or owned by a deleted attendee.
type BlobCleanup struct {
	blobs   Deleter
	queue   JobSource
	logger  *zap.Logger
	backoff time.Duration
}

// NewBlobCleanup creates a blob cleanup processor.
func NewBlobCleanup(blobs Deleter, q JobSource, logger *zap.Logger) *BlobCleanup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobCleanup{blobs: blobs, queue: q, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one cleanup job. Every key is attempted; the job fails if any delete failed.
func (p *BlobCleanup) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeBlobDelete {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.BlobDeletePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	var errs []error
	for _, key := range payload.Keys {
		if err := p.blobs.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		p.logger.Debug("blob deleted", zap.String("key", key), zap.String("reason", payload.Reason))
	}
	return errors.Join(errs...)
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *BlobCleanup) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("blob cleanup worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			metrics.BlobJobs.WithLabelValues("failed").Inc()
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			// the job is already popped; a shutdown must not drop it
			if reErr := p.queue.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
			continue
		}
		metrics.BlobJobs.WithLabelValues("done").Inc()
	}
}

func (p *BlobCleanup) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
