package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/nexuscompliance/mapping-engine/internal/queue"
	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/internal/store/model"
)

func TestQueue(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Queue Suite")
}

type fakeJobStore struct {
	store.Job
	markRunningStatus model.JobStatus
	markRunningErr    error
	markRunningCalls  int
}

func (f *fakeJobStore) MarkRunning(ctx context.Context, jobID uuid.UUID, executionHandle string) (model.JobStatus, error) {
	f.markRunningCalls++
	return f.markRunningStatus, f.markRunningErr
}

type fakeOrchestrator struct {
	err        error
	runCalls   int
	lastJobID  uuid.UUID
}

func (f *fakeOrchestrator) Run(ctx context.Context, jobID uuid.UUID) error {
	f.runCalls++
	f.lastJobID = jobID
	return f.err
}

func riverJob(jobID string) *river.Job[queue.MappingRequestArgs] {
	return &river.Job[queue.MappingRequestArgs]{
		JobRow: &rivertype.JobRow{Kind: queue.JobKind},
		Args:   queue.MappingRequestArgs{JobID: jobID},
	}
}

var _ = Describe("Worker", func() {
	It("runs the orchestrator once the job transitions to RUNNING", func() {
		jobID := uuid.New()
		jobs := &fakeJobStore{markRunningStatus: model.JobStatusRunning}
		orch := &fakeOrchestrator{}
		w := queue.NewWorker(jobs, orch, 360*time.Second)

		err := w.Work(context.Background(), riverJob(jobID.String()))
		Expect(err).To(BeNil())
		Expect(jobs.markRunningCalls).To(Equal(1))
		Expect(orch.runCalls).To(Equal(1))
		Expect(orch.lastJobID).To(Equal(jobID))
	})

	It("reclaims a stale RUNNING job and still runs the orchestrator (E5 crash recovery)", func() {
		jobID := uuid.New()
		// MarkRunning succeeds outright: the store re-stamped a RUNNING row
		// left by a dead prior attempt with this delivery's fresh handle.
		jobs := &fakeJobStore{markRunningStatus: model.JobStatusRunning}
		orch := &fakeOrchestrator{}
		w := queue.NewWorker(jobs, orch, 360*time.Second)

		err := w.Work(context.Background(), riverJob(jobID.String()))
		Expect(err).To(BeNil())
		Expect(orch.runCalls).To(Equal(1))
	})

	It("acks without running the orchestrator when the job is already terminal", func() {
		jobID := uuid.New()
		jobs := &fakeJobStore{markRunningStatus: model.JobStatusCompleted, markRunningErr: store.ErrConflict}
		orch := &fakeOrchestrator{}
		w := queue.NewWorker(jobs, orch, 360*time.Second)

		err := w.Work(context.Background(), riverJob(jobID.String()))
		Expect(err).To(BeNil())
		Expect(orch.runCalls).To(Equal(0))
	})

	It("returns the error so river redelivers on an unexpected store failure", func() {
		jobID := uuid.New()
		jobs := &fakeJobStore{markRunningErr: context.DeadlineExceeded}
		orch := &fakeOrchestrator{}
		w := queue.NewWorker(jobs, orch, 360*time.Second)

		err := w.Work(context.Background(), riverJob(jobID.String()))
		Expect(err).ToNot(BeNil())
		Expect(orch.runCalls).To(Equal(0))
	})

	It("acks a malformed jobId without invoking the orchestrator", func() {
		jobs := &fakeJobStore{}
		orch := &fakeOrchestrator{}
		w := queue.NewWorker(jobs, orch, 360*time.Second)

		err := w.Work(context.Background(), riverJob("not-a-uuid"))
		Expect(err).To(BeNil())
		Expect(jobs.markRunningCalls).To(Equal(0))
		Expect(orch.runCalls).To(Equal(0))
	})
})
