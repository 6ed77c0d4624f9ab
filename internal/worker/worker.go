package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mariantrack/backend/pkg/queue"
)

// JobSource is the queue the processor drains.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// FanoutHandler writes the notifications of one fanout job.
type FanoutHandler interface {
	ProcessFanout(ctx context.Context, p queue.FanoutPayload) error
}

// FanoutProcessor processes notification fanout jobs: resolve recipients, insert notifications, push them live.
type FanoutProcessor struct {
	jobs    JobSource
	handler FanoutHandler
	backoff time.Duration
	logger  *zap.Logger
}

// NewFanoutProcessor creates a notification fanout processor.
func NewFanoutProcessor(jobs JobSource, handler FanoutHandler, logger *zap.Logger) *FanoutProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FanoutProcessor{jobs: jobs, handler: handler, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one fanout job.
func (p *FanoutProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodeFanout(job)
	if err != nil {
		return err
	}
	if err := p.handler.ProcessFanout(ctx, payload); err != nil {
		return fmt.Errorf("fanout: %w", err)
	}
	p.logger.Info("fanout completed", zap.String("job_id", job.ID), zap.String("audience", string(payload.Audience)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *FanoutProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("fanout worker stopping")
			return
		default:
		}

		job, err := p.jobs.Dequeue(ctx)
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
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *FanoutProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
