// Package queue is C7 from spec.md §4.7: a durable, at-least-once request
// queue realized via riverqueue/river's own job lifecycle, the
// concurrency substitution sanctioned by spec.md §9 Design Notes. river's
// state machine maps onto the abstract queue model as:
//
//	enqueue            -> river.Client.Insert
//	receive+dispatch   -> river's internal fetch loop handing a job to Work
//	ack (success)      -> Work returning nil
//	nack (retry)       -> Work returning a non-nil error (job -> retryable)
//	visibilityTimeout  -> Worker.Timeout(job)
//	maxReceiveCount    -> MaxAttempts in InsertOpts
//	dead-letter queue  -> job reaching the "discarded" state
//
// Grounded on the teacher's internal/rvtools/jobs/client.go river.Client
// construction.
package queue

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/nexuscompliance/mapping-engine/internal/config"
)

const (
	DefaultQueue = "mapping"
)

// RequestQueue is the enqueue side of C7: Intake's only interaction with
// the queue.
type RequestQueue interface {
	Enqueue(ctx context.Context, jobID string, visibilityTimeoutSec, maxReceiveCount int) error
}

type Client struct {
	*river.Client[pgx.Tx]
}

var _ RequestQueue = (*Client)(nil)

// NewClient builds the river client over the caller-supplied workers: the
// worker process passes a set with the mapping Worker registered, the API
// process an empty set, using the *Client to enqueue (Intake).
func NewClient(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config, workers *river.Workers) (*Client, error) {
	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			DefaultQueue: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, err
	}

	return &Client{Client: riverClient}, nil
}

// Enqueue durably commits one MappingRequestArgs message. maxReceiveCount
// becomes the job's MaxAttempts; visibilityTimeoutSec is not passed through
// river.InsertOpts — it is surfaced instead via the registered Worker's
// Timeout method, which returns the visibility duration passed to NewWorker.
func (c *Client) Enqueue(ctx context.Context, jobID string, visibilityTimeoutSec, maxReceiveCount int) error {
	_, err := c.Insert(ctx, MappingRequestArgs{JobID: jobID}, &river.InsertOpts{
		Queue:       DefaultQueue,
		MaxAttempts: maxReceiveCount,
	})
	return err
}
