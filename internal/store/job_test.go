package store_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/nexuscompliance/mapping-engine/internal/config"
	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/internal/store/model"
)

var _ = Describe("job store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		cfg, err := config.New()
		Expect(err).To(BeNil())
		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())

		s = store.NewStore(db, nil)
		gormdb = db
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM jobs;")
	})

	newPendingJob := func() model.Job {
		return model.Job{
			ID:                 uuid.New(),
			Status:             model.JobStatusPending,
			SourceControlKey:   "NIST-SP-800-53#R5#AC-1",
			TargetFrameworkKey: "AWS.EC2#1.0",
			TTL:                time.Now().Add(168 * time.Hour).Unix(),
		}
	}

	Context("create", func() {
		It("creates a pending job", func() {
			job := newPendingJob()

			created, err := s.Job().Create(context.TODO(), job)
			Expect(err).To(BeNil())
			Expect(created.ID).To(Equal(job.ID))
			Expect(created.Status).To(Equal(model.JobStatusPending))
			Expect(created.TerminalAt).To(BeNil())
		})

		It("rejects a duplicate jobId", func() {
			job := newPendingJob()

			_, err := s.Job().Create(context.TODO(), job)
			Expect(err).To(BeNil())

			_, err = s.Job().Create(context.TODO(), job)
			Expect(err).To(Equal(store.ErrDuplicateJob))
		})
	})

	Context("markRunning", func() {
		It("transitions PENDING to RUNNING", func() {
			job := newPendingJob()
			_, err := s.Job().Create(context.TODO(), job)
			Expect(err).To(BeNil())

			status, err := s.Job().MarkRunning(context.TODO(), job.ID, "handle-1")
			Expect(err).To(BeNil())
			Expect(status).To(Equal(model.JobStatusRunning))

			fetched, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(fetched.ExecutionHandle).To(Equal("handle-1"))
		})

		It("is idempotent for the same executionHandle", func() {
			job := newPendingJob()
			_, err := s.Job().Create(context.TODO(), job)
			Expect(err).To(BeNil())

			_, err = s.Job().MarkRunning(context.TODO(), job.ID, "handle-1")
			Expect(err).To(BeNil())

			status, err := s.Job().MarkRunning(context.TODO(), job.ID, "handle-1")
			Expect(err).To(BeNil())
			Expect(status).To(Equal(model.JobStatusRunning))
		})

		It("reclaims a stale RUNNING job for a fresh executionHandle (E5 crash recovery)", func() {
			job := newPendingJob()
			_, err := s.Job().Create(context.TODO(), job)
			Expect(err).To(BeNil())

			_, err = s.Job().MarkRunning(context.TODO(), job.ID, "handle-1")
			Expect(err).To(BeNil())

			// A redelivery after the first Worker died mid-run always carries
			// a brand new handle; it must still be able to take over rather
			// than wedge the job in RUNNING forever.
			status, err := s.Job().MarkRunning(context.TODO(), job.ID, "handle-2")
			Expect(err).To(BeNil())
			Expect(status).To(Equal(model.JobStatusRunning))

			fetched, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(fetched.ExecutionHandle).To(Equal("handle-2"))
		})

		It("reports conflict once the job has reached a terminal status", func() {
			job := newPendingJob()
			_, err := s.Job().Create(context.TODO(), job)
			Expect(err).To(BeNil())

			_, err = s.Job().MarkRunning(context.TODO(), job.ID, "handle-1")
			Expect(err).To(BeNil())
			Expect(s.Job().MarkCompleted(context.TODO(), job.ID, nil)).To(BeNil())

			status, err := s.Job().MarkRunning(context.TODO(), job.ID, "handle-2")
			Expect(err).To(Equal(store.ErrConflict))
			Expect(status).To(Equal(model.JobStatusCompleted))
		})
	})

	Context("markCompleted", func() {
		It("terminates a RUNNING job with its mappings", func() {
			job := newPendingJob()
			_, err := s.Job().Create(context.TODO(), job)
			Expect(err).To(BeNil())
			_, err = s.Job().MarkRunning(context.TODO(), job.ID, "handle-1")
			Expect(err).To(BeNil())

			mappings := []model.Candidate{
				{TargetControlKey: "AWS.EC2#1.0#PR.1", TargetControlID: "PR.1", SimilarityScore: 0.9, RerankScore: 0.8},
			}
			err = s.Job().MarkCompleted(context.TODO(), job.ID, mappings)
			Expect(err).To(BeNil())

			fetched, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(fetched.Status).To(Equal(model.JobStatusCompleted))
			Expect(fetched.TerminalAt).ToNot(BeNil())

			got, err := fetched.Mappings()
			Expect(err).To(BeNil())
			Expect(got).To(Equal(mappings))
		})

		It("is idempotent when retried with identical mappings", func() {
			job := newPendingJob()
			_, err := s.Job().Create(context.TODO(), job)
			Expect(err).To(BeNil())
			_, err = s.Job().MarkRunning(context.TODO(), job.ID, "handle-1")
			Expect(err).To(BeNil())

			mappings := []model.Candidate{{TargetControlKey: "AWS.EC2#1.0#PR.1", TargetControlID: "PR.1"}}
			Expect(s.Job().MarkCompleted(context.TODO(), job.ID, mappings)).To(BeNil())
			Expect(s.Job().MarkCompleted(context.TODO(), job.ID, mappings)).To(BeNil())
		})

		It("never overwrites an existing COMPLETED result with different mappings", func() {
			job := newPendingJob()
			_, err := s.Job().Create(context.TODO(), job)
			Expect(err).To(BeNil())
			_, err = s.Job().MarkRunning(context.TODO(), job.ID, "handle-1")
			Expect(err).To(BeNil())

			first := []model.Candidate{{TargetControlKey: "AWS.EC2#1.0#PR.1", TargetControlID: "PR.1"}}
			Expect(s.Job().MarkCompleted(context.TODO(), job.ID, first)).To(BeNil())

			second := []model.Candidate{{TargetControlKey: "AWS.EC2#1.0#PR.2", TargetControlID: "PR.2"}}
			err = s.Job().MarkCompleted(context.TODO(), job.ID, second)
			Expect(err).To(Equal(store.ErrConflict))

			fetched, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			got, err := fetched.Mappings()
			Expect(err).To(BeNil())
			Expect(got).To(Equal(first))
		})
	})

	Context("markFailed", func() {
		It("terminates a RUNNING job with an error message", func() {
			job := newPendingJob()
			_, err := s.Job().Create(context.TODO(), job)
			Expect(err).To(BeNil())
			_, err = s.Job().MarkRunning(context.TODO(), job.ID, "handle-1")
			Expect(err).To(BeNil())

			err = s.Job().MarkFailed(context.TODO(), job.ID, "science service unavailable")
			Expect(err).To(BeNil())

			fetched, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(fetched.Status).To(Equal(model.JobStatusFailed))
			Expect(*fetched.ResultErrorMessage).To(Equal("science service unavailable"))
			Expect(fetched.TerminalAt).ToNot(BeNil())
		})

		It("silently absorbs a late failure after a COMPLETED result", func() {
			job := newPendingJob()
			_, err := s.Job().Create(context.TODO(), job)
			Expect(err).To(BeNil())
			_, err = s.Job().MarkRunning(context.TODO(), job.ID, "handle-1")
			Expect(err).To(BeNil())

			mappings := []model.Candidate{{TargetControlKey: "AWS.EC2#1.0#PR.1", TargetControlID: "PR.1"}}
			Expect(s.Job().MarkCompleted(context.TODO(), job.ID, mappings)).To(BeNil())

			err = s.Job().MarkFailed(context.TODO(), job.ID, "too late")
			Expect(err).To(BeNil())

			fetched, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(fetched.Status).To(Equal(model.JobStatusCompleted))
		})
	})

	Context("get", func() {
		It("returns ErrRecordNotFound for an unknown jobId", func() {
			_, err := s.Job().Get(context.TODO(), uuid.New())
			Expect(err).To(Equal(store.ErrRecordNotFound))
		})
	})

	Context("list and count", func() {
		It("filters by status and sourceControlKey", func() {
			a := newPendingJob()
			b := newPendingJob()
			b.SourceControlKey = "NIST-SP-800-53#R5#AC-2"
			_, err := s.Job().Create(context.TODO(), a)
			Expect(err).To(BeNil())
			_, err = s.Job().Create(context.TODO(), b)
			Expect(err).To(BeNil())
			_, err = s.Job().MarkRunning(context.TODO(), b.ID, "handle-1")
			Expect(err).To(BeNil())

			pending, err := s.Job().List(context.TODO(), model.JobStatusPending, "")
			Expect(err).To(BeNil())
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].ID).To(Equal(a.ID))

			bySource, err := s.Job().List(context.TODO(), "", "NIST-SP-800-53#R5#AC-2")
			Expect(err).To(BeNil())
			Expect(bySource).To(HaveLen(1))
			Expect(bySource[0].ID).To(Equal(b.ID))
		})

		It("counts jobs grouped by status", func() {
			a := newPendingJob()
			b := newPendingJob()
			_, err := s.Job().Create(context.TODO(), a)
			Expect(err).To(BeNil())
			_, err = s.Job().Create(context.TODO(), b)
			Expect(err).To(BeNil())
			_, err = s.Job().MarkRunning(context.TODO(), b.ID, "handle-1")
			Expect(err).To(BeNil())

			counts, err := s.Job().CountByStatus(context.TODO())
			Expect(err).To(BeNil())
			Expect(counts[model.JobStatusPending]).To(Equal(int64(1)))
			Expect(counts[model.JobStatusRunning]).To(Equal(int64(1)))
		})
	})
})
