package cli

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/loanbook/jobs"
)

// JobsAPI is the queue surface used by the jobs commands.
type JobsAPI interface {
	EnqueueIntegrity(ctx context.Context, bookID uuid.UUID) error
	EnqueueSweep(ctx context.Context) (*asynq.TaskInfo, error)
	Stats() (jobs.QueueStats, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

var _ JobsAPI = (*JobsCLI)(nil)

// NewJobsCLI initialises the CLI helpers for the given Redis connection.
func NewJobsCLI(opts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: jobs.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// EnqueueIntegrity schedules an integrity audit of one book.
func (c *JobsCLI) EnqueueIntegrity(ctx context.Context, bookID uuid.UUID) error {
	if c == nil || c.client == nil {
		return errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueIntegrity(ctx, bookID)
}

// EnqueueSweep schedules an audit of every active book.
func (c *JobsCLI) EnqueueSweep(ctx context.Context) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueSweep(ctx)
}

// Stats reports the default queue counters.
func (c *JobsCLI) Stats() (jobs.QueueStats, error) {
	if c == nil || c.inspector == nil {
		return jobs.QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	return jobs.Stats(c.inspector)
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}
