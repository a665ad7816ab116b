// Package intake is C8: the entry point for a client's POST, validating
// composite keys, checking source/target existence against the control
// catalog, and durably registering a new job before handing it to the
// queue. Grounded on the teacher's internal/service request-validate-
// persist pattern (internal/service/source.go), generalized from its
// go-playground/validator/v10 struct-tag idiom rather than the teacher's
// internal/handlers/validator.Validator wrapper: that wrapper composes
// several custom rule sets across many endpoint shapes, a concern this
// package's single small request shape doesn't need.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/nexuscompliance/mapping-engine/internal/actor"
	"github.com/nexuscompliance/mapping-engine/internal/config"
	"github.com/nexuscompliance/mapping-engine/internal/controlstore"
	"github.com/nexuscompliance/mapping-engine/internal/keycodec"
	"github.com/nexuscompliance/mapping-engine/internal/pipelineerr"
	"github.com/nexuscompliance/mapping-engine/internal/queue"
	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/internal/store/model"
	"github.com/nexuscompliance/mapping-engine/internal/telemetry"
)

// Request is the client-supplied payload of a POST /mappings.
type Request struct {
	SourceControlKey   string   `json:"sourceControlKey" validate:"required"`
	TargetFrameworkKey string   `json:"targetFrameworkKey" validate:"required"`
	TargetControlIDs   []string `json:"targetControlIds,omitempty"`
	// ClientRequestID is the optional idempotency token (SPEC_FULL.md §3).
	ClientRequestID string `json:"clientRequestId,omitempty"`
}

// Accepted is the 202 response body.
type Accepted struct {
	MappingID          string `json:"mappingId"`
	Status             string `json:"status"`
	StatusURL          string `json:"statusUrl"`
	ControlKey         string `json:"controlKey"`
	TargetFrameworkKey string `json:"targetFrameworkKey"`
}

var validate = validator.New()

// Service implements the Intake algorithm of spec.md §4.8.
type Service struct {
	controlStore controlstore.Client
	jobs         store.Job
	requestQueue queue.RequestQueue
	cfg          *config.PipelineConfig
	tracer       *telemetry.Tracer
}

func NewService(cs controlstore.Client, jobs store.Job, rq queue.RequestQueue, cfg *config.PipelineConfig) *Service {
	return &Service{controlStore: cs, jobs: jobs, requestQueue: rq, cfg: cfg, tracer: telemetry.NewTracer("intake")}
}

// Suggestion is one candidate returned alongside a 404 on a missing key.
type Suggestion struct {
	ControlID string `json:"controlId"`
	Distance  int    `json:"distance"`
}

// NotFound is returned when sourceControlKey or targetFrameworkKey doesn't
// resolve against the control catalog; Suggestions is ranked per spec.md §4.8.
type NotFound struct {
	Field       string
	Suggestions []Suggestion
}

func (e *NotFound) Error() string { return e.Field + " not found" }

// MarshalJSON renders the client-visible 404 body as {error, suggestions},
// matching spec.md §6 rather than exposing the internal Field name verbatim.
func (e *NotFound) MarshalJSON() ([]byte, error) {
	suggestions := e.Suggestions
	if suggestions == nil {
		suggestions = []Suggestion{}
	}
	return json.Marshal(struct {
		Error       string       `json:"error"`
		Suggestions []Suggestion `json:"suggestions"`
	}{Error: e.Error(), Suggestions: suggestions})
}

// StatusURLFunc builds the client-visible status URL for a jobId.
type StatusURLFunc func(jobID string) string

// Submit validates req, verifies its keys against the control catalog,
// durably creates a PENDING job and enqueues it for the Worker.
func (s *Service) Submit(ctx context.Context, req Request, statusURL StatusURLFunc) (*Accepted, error) {
	op := s.tracer.WithContext(ctx).Operation("Submit").Build()

	if err := validate.Struct(req); err != nil {
		return nil, pipelineerr.New(pipelineerr.KindMalformedKey, err)
	}

	if req.ClientRequestID != "" {
		existing, err := s.jobs.GetByClientRequestID(ctx, req.ClientRequestID)
		if err == nil {
			op.Step("idempotent-replay").WithUUID("jobId", existing.ID).Log()
			return s.accepted(existing, statusURL), nil
		}
		if !errors.Is(err, store.ErrRecordNotFound) {
			op.Error(err).Log()
			return nil, pipelineerr.New(pipelineerr.KindInternal, err)
		}
	}

	sourceKey, err := keycodec.ParseControlKey(req.SourceControlKey)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindMalformedKey, err)
	}
	targetFramework, err := keycodec.ParseFrameworkKey(req.TargetFrameworkKey)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindMalformedKey, err)
	}
	for _, id := range req.TargetControlIDs {
		if _, err := keycodec.BuildControlKey(targetFramework, id); err != nil {
			return nil, pipelineerr.New(pipelineerr.KindMalformedKey, err)
		}
	}

	if _, err := s.controlStore.GetControl(ctx, sourceKey.String()); err != nil {
		if errors.Is(err, controlstore.ErrNotFound) {
			suggestions := s.suggest(ctx, sourceKey.Framework.String(), sourceKey.ControlID)
			return nil, pipelineerr.New(pipelineerr.KindSourceMissing, &NotFound{Field: "sourceControlKey", Suggestions: suggestions})
		}
		op.Error(err).Log()
		return nil, pipelineerr.New(pipelineerr.KindInternal, err)
	}

	if _, err := s.controlStore.GetFramework(ctx, targetFramework.String()); err != nil {
		if errors.Is(err, controlstore.ErrNotFound) {
			return nil, pipelineerr.New(pipelineerr.KindFrameworkMissing, &NotFound{Field: "targetFrameworkKey"})
		}
		op.Error(err).Log()
		return nil, pipelineerr.New(pipelineerr.KindInternal, err)
	}

	job, err := s.createWithRetry(ctx, req, sourceKey.String(), targetFramework.String())
	if err != nil {
		op.Error(err).Log()
		return nil, err
	}

	if err := s.requestQueue.Enqueue(ctx, job.ID.String(), int(s.cfg.VisibilityTimeout.Seconds()), s.cfg.MaxReceiveCount); err != nil {
		// The job record is already durable and PENDING; don't fail the
		// request. No river job exists for it, so the redrive sweep (which
		// retries only discarded river jobs) does not pick it up either.
		op.Step("enqueue-failed-job-left-pending").WithUUID("jobId", job.ID).Log()
	}

	op.Success().WithUUID("jobId", job.ID).Log()
	return s.accepted(job, statusURL), nil
}

// accepted builds the 202 response body from a Job record, used both for a
// freshly minted job and for an idempotent clientRequestId replay.
func (s *Service) accepted(job *model.Job, statusURL StatusURLFunc) *Accepted {
	return &Accepted{
		MappingID:          job.ID.String(),
		Status:             string(job.Status),
		StatusURL:          statusURL(job.ID.String()),
		ControlKey:         job.SourceControlKey,
		TargetFrameworkKey: job.TargetFrameworkKey,
	}
}

// createWithRetry generates a fresh jobId and creates the Job row, retrying
// once with a new id on a uuid collision (store.ErrDuplicateJob).
func (s *Service) createWithRetry(ctx context.Context, req Request, sourceControlKey, targetFrameworkKey string) (*model.Job, error) {
	for attempt := 0; attempt < 2; attempt++ {
		job := model.Job{
			ID:                 uuid.New(),
			Status:             model.JobStatusPending,
			SourceControlKey:   sourceControlKey,
			TargetFrameworkKey: targetFrameworkKey,
			Actor:              actor.FromContext(ctx),
			TTL:                time.Now().Add(s.cfg.JobTTL).Unix(),
		}
		if req.ClientRequestID != "" {
			job.ClientRequestID = &req.ClientRequestID
		}
		if err := job.SetTargetControlIDs(req.TargetControlIDs); err != nil {
			return nil, pipelineerr.New(pipelineerr.KindInternal, err)
		}

		created, err := s.jobs.Create(ctx, job)
		if err == nil {
			return created, nil
		}
		if errors.Is(err, store.ErrDuplicateJob) {
			continue
		}
		return nil, pipelineerr.New(pipelineerr.KindInternal, err)
	}
	return nil, pipelineerr.New(pipelineerr.KindInternal, errors.New("job id collision persisted across retry"))
}

// suggest ranks up to SuggestionCount control ids by Levenshtein distance
// to target, ascending distance then lexicographic, per spec.md §4.8.
func (s *Service) suggest(ctx context.Context, frameworkKey, target string) []Suggestion {
	ids, err := s.controlStore.ListControlIDs(ctx, frameworkKey)
	if err != nil {
		return nil
	}

	suggestions := make([]Suggestion, 0, len(ids))
	for _, id := range ids {
		suggestions = append(suggestions, Suggestion{ControlID: id, Distance: levenshtein.ComputeDistance(target, id)})
	}
	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Distance != suggestions[j].Distance {
			return suggestions[i].Distance < suggestions[j].Distance
		}
		return suggestions[i].ControlID < suggestions[j].ControlID
	})

	n := s.cfg.SuggestionCount
	if n <= 0 || n > len(suggestions) {
		n = len(suggestions)
	}
	return suggestions[:n]
}
