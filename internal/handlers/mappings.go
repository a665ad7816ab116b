// Package handlers wires the plain net/http surface for the mapping
// pipeline's two client-visible operations, Intake and StatusQuery, plus an
// operator job-list read. Grounded on the teacher's internal/handlers/v1alpha1
// ServiceHandler shape, generalized from its generated oapi-codegen request/
// response objects (no OpenAPI spec is vendored for this domain) to
// hand-decoded JSON bodies and chi URL params.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nexuscompliance/mapping-engine/internal/intake"
	"github.com/nexuscompliance/mapping-engine/internal/pipelineerr"
	"github.com/nexuscompliance/mapping-engine/internal/statusquery"
	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/internal/store/model"
	"github.com/nexuscompliance/mapping-engine/pkg/metrics"
	"github.com/nexuscompliance/mapping-engine/pkg/requestid"
)

type errorResponse struct {
	Message   string  `json:"message"`
	RequestID *string `json:"requestId,omitempty"`
}

// HealthChecker reports whether a downstream collaborator's most recent RPC
// succeeded (SPEC_FULL.md §3 supplement 5). Satisfied by
// scienceclient.HTTPClient and agentclient.HTTPClient.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// ServiceHandler is the HTTP entry point over Intake and StatusQuery.
type ServiceHandler struct {
	intake  *intake.Service
	status  *statusquery.Service
	jobs    store.Job
	science HealthChecker
	agent   HealthChecker
}

func NewServiceHandler(intakeSvc *intake.Service, statusSvc *statusquery.Service, jobs store.Job, science, agent HealthChecker) *ServiceHandler {
	return &ServiceHandler{intake: intakeSvc, status: statusSvc, jobs: jobs, science: science, agent: agent}
}

// Register mounts the handler's routes on router.
func (h *ServiceHandler) Register(router chi.Router) {
	router.Post("/mappings", h.CreateMapping)
	router.Get("/mappings/{mappingId}", h.GetMapping)
	router.Get("/internal/jobs", h.ListJobs)
	router.Get("/health", h.Health)
}

type healthResponse struct {
	Status  string `json:"status"`
	Science bool   `json:"science"`
	Agent   bool   `json:"agent"`
}

// Health aggregates ScienceClient's and AgentClient's most recent RPC
// outcomes. It is observability only: nothing in the workflow consults it,
// and a degraded result never fails the request.
func (h *ServiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Science: true, Agent: true}
	if h.science != nil {
		resp.Science = h.science.Healthy(r.Context())
	}
	if h.agent != nil {
		resp.Agent = h.agent.Healthy(r.Context())
	}
	if !resp.Science || !resp.Agent {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ServiceHandler) CreateMapping(w http.ResponseWriter, r *http.Request) {
	var req intake.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err), r)
		return
	}

	statusURL := func(mappingID string) string {
		return fmt.Sprintf("%s://%s/mappings/%s", scheme(r), r.Host, mappingID)
	}

	accepted, err := h.intake.Submit(r.Context(), req, statusURL)
	if err != nil {
		h.writeIntakeError(w, r, err)
		return
	}

	metrics.IncreaseJobsCreatedTotalMetric()
	writeJSON(w, http.StatusAccepted, accepted)
}

func (h *ServiceHandler) GetMapping(w http.ResponseWriter, r *http.Request) {
	mappingID := chi.URLParam(r, "mappingId")

	projection, err := h.status.Get(r.Context(), mappingID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "mapping not found", r)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read mapping status", r)
		return
	}

	writeJSON(w, http.StatusOK, projection)
}

// ListJobs is the operator read surface, filtered by status and/or
// sourceControlKey query parameters.
func (h *ServiceHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := model.JobStatus(r.URL.Query().Get("status"))
	sourceControlKey := r.URL.Query().Get("sourceControlKey")

	jobs, err := h.jobs.List(r.Context(), status, sourceControlKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs", r)
		return
	}

	writeJSON(w, http.StatusOK, jobs)
}

func (h *ServiceHandler) writeIntakeError(w http.ResponseWriter, r *http.Request, err error) {
	var tagged *pipelineerr.Error
	if !errors.As(err, &tagged) {
		writeError(w, http.StatusInternalServerError, err.Error(), r)
		return
	}

	switch tagged.Kind {
	case pipelineerr.KindMalformedKey:
		writeError(w, http.StatusBadRequest, tagged.Error(), r)
	case pipelineerr.KindSourceMissing, pipelineerr.KindFrameworkMissing:
		if nf, ok := tagged.Err.(*intake.NotFound); ok {
			writeJSON(w, http.StatusNotFound, nf)
			return
		}
		writeError(w, http.StatusNotFound, tagged.Error(), r)
	case pipelineerr.KindQueueUnavailable:
		writeError(w, http.StatusServiceUnavailable, "queue unavailable", r)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, r *http.Request) {
	writeJSON(w, status, errorResponse{Message: message, RequestID: requestid.FromContextPtr(r.Context())})
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
