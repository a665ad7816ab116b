// Package statusquery is C11: the read-only projection exposed at
// GET /mappings/{mappingId}, grounded on the teacher's internal/store
// Get-returns-NotFound idiom generalized across services rather than
// exposed directly — callers never see internal identifiers such as
// execution handles.
package statusquery

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nexuscompliance/mapping-engine/internal/pipelineerr"
	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/internal/store/model"
)

// Result is one ranked candidate in a COMPLETED projection.
type Result struct {
	TargetControlKey string  `json:"targetControlKey"`
	TargetControlID  string  `json:"targetControlId"`
	SimilarityScore  float64 `json:"similarityScore"`
	RerankScore      float64 `json:"rerankScore"`
	Reasoning        string  `json:"reasoning"`
}

// ResultSet wraps the ordered mappings of a COMPLETED job.
type ResultSet struct {
	Mappings []Result `json:"mappings"`
}

// Error carries the fixed client-visible message of a FAILED job, never the
// internal error detail (spec.md §7 — clients see only the taxonomy name).
type Error struct {
	Message string `json:"message"`
}

// Projection is the client-visible shape of one job, spec.md §4.11.
type Projection struct {
	MappingID          string     `json:"mappingId"`
	Status             string     `json:"status"`
	SourceControlKey   string     `json:"sourceControlKey"`
	TargetFrameworkKey string     `json:"targetFrameworkKey"`
	CreatedAt          string     `json:"createdAt"`
	UpdatedAt          string     `json:"updatedAt"`
	TerminalAt         *string    `json:"terminalAt,omitempty"`
	Result             *ResultSet `json:"result,omitempty"`
	Error              *Error     `json:"error,omitempty"`
}

// Service answers GET /mappings/{mappingId}.
type Service struct {
	jobs store.Job
}

func NewService(jobs store.Job) *Service {
	return &Service{jobs: jobs}
}

// Get projects the stored Job, or returns store.ErrRecordNotFound untouched
// so callers can map it to a 404 the way the teacher's handlers do.
func (s *Service) Get(ctx context.Context, mappingID string) (*Projection, error) {
	jobID, err := uuid.Parse(mappingID)
	if err != nil {
		return nil, store.ErrRecordNotFound
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, store.ErrRecordNotFound
		}
		return nil, pipelineerr.New(pipelineerr.KindInternal, err)
	}

	return toProjection(job)
}

func toProjection(job *model.Job) (*Projection, error) {
	p := &Projection{
		MappingID:          job.ID.String(),
		Status:             string(job.Status),
		SourceControlKey:   job.SourceControlKey,
		TargetFrameworkKey: job.TargetFrameworkKey,
		CreatedAt:          job.CreatedAt.Format(timeLayout),
		UpdatedAt:          job.UpdatedAt.Format(timeLayout),
	}
	if job.TerminalAt != nil {
		s := job.TerminalAt.Format(timeLayout)
		p.TerminalAt = &s
	}

	switch job.Status {
	case model.JobStatusCompleted:
		mappings, err := job.Mappings()
		if err != nil {
			return nil, pipelineerr.New(pipelineerr.KindInternal, err)
		}
		results := make([]Result, 0, len(mappings))
		for _, m := range mappings {
			results = append(results, Result{
				TargetControlKey: m.TargetControlKey,
				TargetControlID:  m.TargetControlID,
				SimilarityScore:  m.SimilarityScore,
				RerankScore:      m.RerankScore,
				Reasoning:        m.Reasoning,
			})
		}
		p.Result = &ResultSet{Mappings: results}
	case model.JobStatusFailed:
		message := "InternalError"
		if job.ResultErrorMessage != nil {
			message = *job.ResultErrorMessage
		}
		p.Error = &Error{Message: message}
	}

	return p, nil
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
