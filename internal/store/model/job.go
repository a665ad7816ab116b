package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the Job state machine from spec.md §3/§4.2 (I1).
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Candidate is one ranked target control returned inside a COMPLETED job's
// result.mappings, ordered per spec.md §3 (P4).
type Candidate struct {
	TargetControlKey string  `json:"targetControlKey"`
	TargetControlID  string  `json:"targetControlId"`
	SimilarityScore  float64 `json:"similarityScore"`
	RerankScore      float64 `json:"rerankScore"`
	Reasoning        string  `json:"reasoning"`
}

// Job is the client-visible record of one async mapping request (spec.md §3).
type Job struct {
	ID                 uuid.UUID `gorm:"primaryKey;column:id;type:uuid"`
	Status             JobStatus `gorm:"column:status;type:VARCHAR(16);not null;index:jobs_status_idx"`
	SourceControlKey   string    `gorm:"column:source_control_key;type:TEXT;not null;index:jobs_source_control_key_idx"`
	TargetFrameworkKey string    `gorm:"column:target_framework_key;type:TEXT;not null"`
	// TargetControlIDsJSON is a JSON-encoded []string, nil when unset (no filter).
	TargetControlIDsJSON []byte `gorm:"column:target_control_ids;type:jsonb"`

	CreatedAt  time.Time  `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;not null;default:now()"`
	TerminalAt *time.Time `gorm:"column:terminal_at"`

	ExecutionHandle string `gorm:"column:execution_handle;type:TEXT"`

	// ClientRequestID is the optional client-supplied idempotency token
	// (SPEC_FULL.md §3 supplemental feature), distinct from the queue
	// message identity (which is always the jobId).
	ClientRequestID *string `gorm:"column:client_request_id;type:TEXT;uniqueIndex:jobs_client_request_id_idx"`

	// Actor is the caller identity recorded on the job (spec.md §1
	// Non-goals: "multi-tenant isolation beyond the actor field stored on
	// records" — the field is carried, but no isolation logic reads it).
	Actor string `gorm:"column:actor;type:TEXT;not null;default:''"`

	// ResultMappingsJSON is a JSON-encoded []Candidate, non-nil iff COMPLETED (I3).
	ResultMappingsJSON []byte `gorm:"column:result_mappings;type:jsonb"`
	// ResultErrorMessage is non-nil iff FAILED (I4).
	ResultErrorMessage *string `gorm:"column:result_error_message;type:TEXT"`

	TTL int64 `gorm:"column:ttl;not null"`
}

func (Job) TableName() string {
	return "jobs"
}

func (j *Job) TargetControlIDs() ([]string, error) {
	if len(j.TargetControlIDsJSON) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(j.TargetControlIDsJSON, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (j *Job) SetTargetControlIDs(ids []string) error {
	if len(ids) == 0 {
		j.TargetControlIDsJSON = nil
		return nil
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	j.TargetControlIDsJSON = raw
	return nil
}

func (j *Job) Mappings() ([]Candidate, error) {
	if len(j.ResultMappingsJSON) == 0 {
		return nil, nil
	}
	var mappings []Candidate
	if err := json.Unmarshal(j.ResultMappingsJSON, &mappings); err != nil {
		return nil, err
	}
	return mappings, nil
}

func (j *Job) SetMappings(mappings []Candidate) error {
	if mappings == nil {
		mappings = []Candidate{}
	}
	raw, err := json.Marshal(mappings)
	if err != nil {
		return err
	}
	j.ResultMappingsJSON = raw
	return nil
}
