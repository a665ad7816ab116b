package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/internal/store/model"
	"github.com/nexuscompliance/mapping-engine/internal/telemetry"
)

// Orchestrator is the narrow dependency Worker needs from C10 — just
// enough to run one job's workflow to completion. Kept local to this
// package (rather than importing internal/orchestrator) so the two
// packages compose without a dependency cycle.
type Orchestrator interface {
	Run(ctx context.Context, jobID uuid.UUID) error
}

// Worker is C9: the queue consumer that performs the PENDING->RUNNING
// transition and hands the job to the Orchestrator, grounded on the
// teacher's internal/rvtools/jobs/worker.go river.Worker shape.
type Worker struct {
	river.WorkerDefaults[MappingRequestArgs]

	jobs         store.Job
	orchestrator Orchestrator
	visibility   time.Duration
	tracer       *telemetry.Tracer
}

func NewWorker(jobs store.Job, orchestrator Orchestrator, visibility time.Duration) *Worker {
	return &Worker{
		jobs:         jobs,
		orchestrator: orchestrator,
		visibility:   visibility,
		tracer:       telemetry.NewTracer("queue.worker"),
	}
}

// Timeout is the Worker's visibilityTimeout: if the workflow has not
// returned within this window, river marks the delivery invisible again
// and, after maxReceiveCount deliveries, discards the job (the DLQ path).
func (w *Worker) Timeout(job *river.Job[MappingRequestArgs]) time.Duration {
	return w.visibility
}

func (w *Worker) Work(ctx context.Context, job *river.Job[MappingRequestArgs]) error {
	op := w.tracer.WithContext(ctx).Operation("Work").WithParam("jobId", job.Args.JobID).Build()

	jobID, err := uuid.Parse(job.Args.JobID)
	if err != nil {
		op.Error(err).Log()
		return nil // malformed message id: nothing a redelivery would fix, ack and drop
	}

	// executionHandle must be fresh per attempt, not derived from message
	// identity, so two overlapping deliveries of the same job are
	// distinguishable as concurrent rather than mistaken for one retry.
	status, err := w.jobs.MarkRunning(ctx, jobID, uuid.New().String())
	if err != nil {
		if errors.Is(err, store.ErrConflict) && isTerminal(status) {
			// Another delivery already finished this job; ack and exit.
			op.Step("already-terminal").WithString("status", string(status)).Log()
			return nil
		}
		if errors.Is(err, store.ErrRecordNotFound) {
			op.Step("job-vanished").Log()
			return nil
		}
		op.Error(err).Log()
		return err // let river redeliver
	}

	if err := w.orchestrator.Run(ctx, jobID); err != nil {
		op.Error(err).Log()
		return err
	}

	op.Success().Log()
	return nil
}

func isTerminal(status model.JobStatus) bool {
	return status == model.JobStatusCompleted || status == model.JobStatusFailed
}
