package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nexuscompliance/mapping-engine/internal/config"
	"github.com/nexuscompliance/mapping-engine/internal/controlstore"
	"github.com/nexuscompliance/mapping-engine/internal/handlers"
	"github.com/nexuscompliance/mapping-engine/internal/intake"
	"github.com/nexuscompliance/mapping-engine/internal/statusquery"
	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/internal/store/model"
)

func TestHandlers(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Handlers Suite")
}

type fakeControlStore struct {
	controls   map[string]*controlstore.Control
	frameworks map[string]*controlstore.Framework
}

func (f *fakeControlStore) GetControl(ctx context.Context, controlKey string) (*controlstore.Control, error) {
	if c, ok := f.controls[controlKey]; ok {
		return c, nil
	}
	return nil, controlstore.ErrNotFound
}

func (f *fakeControlStore) GetFramework(ctx context.Context, frameworkKey string) (*controlstore.Framework, error) {
	if fw, ok := f.frameworks[frameworkKey]; ok {
		return fw, nil
	}
	return nil, controlstore.ErrNotFound
}

func (f *fakeControlStore) ListControlIDs(ctx context.Context, frameworkKey string) ([]string, error) {
	return nil, nil
}

type fakeJobStore struct {
	store.Job
	jobs map[string]model.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]model.Job{}}
}

func (f *fakeJobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	f.jobs[job.ID.String()] = job
	return &job, nil
}

func (f *fakeJobStore) Get(ctx context.Context, jobID uuid.UUID) (*model.Job, error) {
	job, ok := f.jobs[jobID.String()]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	return &job, nil
}

type fakeQueue struct{}

func (f *fakeQueue) Enqueue(ctx context.Context, jobID string, visibilityTimeoutSec, maxReceiveCount int) error {
	return nil
}

func testConfig() *config.PipelineConfig {
	return &config.PipelineConfig{SuggestionCount: 10, JobTTL: 168 * time.Hour, VisibilityTimeout: 360 * time.Second, MaxReceiveCount: 3}
}

var _ = Describe("mapping handlers", func() {
	var (
		router *chi.Mux
		jobs   *fakeJobStore
	)

	BeforeEach(func() {
		cs := &fakeControlStore{
			controls:   map[string]*controlstore.Control{"NIST-SP-800-53#R5#AC-1": {ControlKey: "NIST-SP-800-53#R5#AC-1"}},
			frameworks: map[string]*controlstore.Framework{"AWS.EC2#1.0": {FrameworkKey: "AWS.EC2#1.0"}},
		}
		jobs = newFakeJobStore()
		intakeSvc := intake.NewService(cs, jobs, &fakeQueue{}, testConfig())
		statusSvc := statusquery.NewService(jobs)

		router = chi.NewRouter()
		handlers.NewServiceHandler(intakeSvc, statusSvc, jobs, nil, nil).Register(router)
	})

	It("accepts a well-formed POST /mappings and returns 202", func() {
		body := `{"sourceControlKey":"NIST-SP-800-53#R5#AC-1","targetFrameworkKey":"AWS.EC2#1.0"}`
		req := httptest.NewRequest(http.MethodPost, "/mappings", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusAccepted))

		var accepted intake.Accepted
		Expect(json.Unmarshal(rec.Body.Bytes(), &accepted)).To(Succeed())
		Expect(accepted.Status).To(Equal(string(model.JobStatusPending)))
	})

	It("returns 404 for an unknown mappingId", func() {
		req := httptest.NewRequest(http.MethodGet, "/mappings/00000000-0000-0000-0000-000000000000", nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("shapes a 404 for an unknown sourceControlKey as {error, suggestions}", func() {
		body := `{"sourceControlKey":"NIST-SP-800-53#R5#DOES-NOT-EXIST","targetFrameworkKey":"AWS.EC2#1.0"}`
		req := httptest.NewRequest(http.MethodPost, "/mappings", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusNotFound))

		var decoded struct {
			Error       string        `json:"error"`
			Suggestions []interface{} `json:"suggestions"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &decoded)).To(Succeed())
		Expect(decoded.Error).ToNot(BeEmpty())
		Expect(decoded.Suggestions).ToNot(BeNil())
	})

	It("round-trips a created job through GET /mappings/{mappingId}", func() {
		body := `{"sourceControlKey":"NIST-SP-800-53#R5#AC-1","targetFrameworkKey":"AWS.EC2#1.0"}`
		postReq := httptest.NewRequest(http.MethodPost, "/mappings", bytes.NewBufferString(body))
		postRec := httptest.NewRecorder()
		router.ServeHTTP(postRec, postReq)

		var accepted intake.Accepted
		Expect(json.Unmarshal(postRec.Body.Bytes(), &accepted)).To(Succeed())

		getReq := httptest.NewRequest(http.MethodGet, "/mappings/"+accepted.MappingID, nil)
		getRec := httptest.NewRecorder()
		router.ServeHTTP(getRec, getReq)

		Expect(getRec.Code).To(Equal(http.StatusOK))
	})
})

type fakeHealthChecker struct{ healthy bool }

func (f *fakeHealthChecker) Healthy(ctx context.Context) bool { return f.healthy }

var _ = Describe("GET /health", func() {
	var (
		cs   *fakeControlStore
		jobs *fakeJobStore
	)

	BeforeEach(func() {
		cs = &fakeControlStore{
			controls:   map[string]*controlstore.Control{"NIST-SP-800-53#R5#AC-1": {ControlKey: "NIST-SP-800-53#R5#AC-1"}},
			frameworks: map[string]*controlstore.Framework{"AWS.EC2#1.0": {FrameworkKey: "AWS.EC2#1.0"}},
		}
		jobs = newFakeJobStore()
	})

	buildRouter := func(science, agent *fakeHealthChecker) *chi.Mux {
		intakeSvc := intake.NewService(cs, jobs, &fakeQueue{}, testConfig())
		statusSvc := statusquery.NewService(jobs)
		router := chi.NewRouter()
		handlers.NewServiceHandler(intakeSvc, statusSvc, jobs, science, agent).Register(router)
		return router
	}

	It("reports ok when both collaborators are healthy", func() {
		router := buildRouter(&fakeHealthChecker{healthy: true}, &fakeHealthChecker{healthy: true})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var body map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body["status"]).To(Equal("ok"))
	})

	It("reports degraded when a collaborator's last RPC failed", func() {
		router := buildRouter(&fakeHealthChecker{healthy: true}, &fakeHealthChecker{healthy: false})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var body map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body["status"]).To(Equal("degraded"))
		Expect(body["agent"]).To(Equal(false))
	})
})
