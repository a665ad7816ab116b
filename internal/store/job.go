package store

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nexuscompliance/mapping-engine/internal/store/model"
)

// JobStore is C2 from spec.md §4.2: the durable record of each job's
// lifecycle state and terminal result. All writes are conditional updates
// keyed on the job's current status, modeled on the teacher's
// internal/store/assessment.go "check-then-conditionally-update" idiom.
type Job interface {
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	// MarkRunning transitions a non-terminal job (PENDING or already-RUNNING)
	// to RUNNING under the given executionHandle. Re-stamping a RUNNING row
	// lets a fresh delivery reclaim a job a dead Worker left stuck mid-run
	// (E5): Worker.Work mints a brand new handle per delivery, so requiring
	// the old one to match would wedge the job in RUNNING forever. Only a
	// terminal current status (COMPLETED/FAILED) is rejected, returned as
	// ErrConflict along with that status so the caller (Worker) can ack and
	// exit instead of redoing finished work.
	MarkRunning(ctx context.Context, jobID uuid.UUID, executionHandle string) (model.JobStatus, error)
	// MarkCompleted is the single success-path terminal write (Orchestrator
	// S6). No-op if already COMPLETED with byte-identical mappings.
	MarkCompleted(ctx context.Context, jobID uuid.UUID, mappings []model.Candidate) error
	// MarkFailed is the error-path terminal write. Never overwrites an
	// existing COMPLETED result (a late failure never overwrites success).
	MarkFailed(ctx context.Context, jobID uuid.UUID, errorMessage string) error
	Get(ctx context.Context, jobID uuid.UUID) (*model.Job, error)
	// GetByClientRequestID looks up the job already registered under an
	// idempotency token (SPEC_FULL.md §3 supplement 2), ErrRecordNotFound
	// if no job carries it.
	GetByClientRequestID(ctx context.Context, clientRequestID string) (*model.Job, error)
	// List is the operator job-list read, filtered by status and/or
	// sourceControlKey when non-empty, newest first.
	List(ctx context.Context, status model.JobStatus, sourceControlKey string) ([]model.Job, error)
	// CountByStatus backs the job-lifecycle Prometheus gauge, grouping every
	// row by its current status.
	CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error)
}

type JobStore struct {
	db *gorm.DB
}

var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}

	result := s.getDB(ctx).Clauses(clause.Returning{}).Create(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateJob
		}
		return nil, result.Error
	}
	return &job, nil
}

func (s *JobStore) MarkRunning(ctx context.Context, jobID uuid.UUID, executionHandle string) (model.JobStatus, error) {
	db := s.getDB(ctx)

	result := db.Model(&model.Job{}).
		Where("id = ? AND status IN ?", jobID, []model.JobStatus{model.JobStatusPending, model.JobStatusRunning}).
		Updates(map[string]any{
			"status":           model.JobStatusRunning,
			"execution_handle": executionHandle,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 1 {
		return model.JobStatusRunning, nil
	}

	// Nothing to transition: the row is already terminal (or gone).
	var current model.Job
	if err := db.First(&current, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrRecordNotFound
		}
		return "", err
	}

	return current.Status, ErrConflict
}

func (s *JobStore) MarkCompleted(ctx context.Context, jobID uuid.UUID, mappings []model.Candidate) error {
	db := s.getDB(ctx)

	staging := model.Job{}
	if err := staging.SetMappings(mappings); err != nil {
		return err
	}

	now := time.Now()
	result := db.Model(&model.Job{}).
		Where("id = ? AND status IN ?", jobID, []model.JobStatus{model.JobStatusPending, model.JobStatusRunning}).
		Updates(map[string]any{
			"status":          model.JobStatusCompleted,
			"result_mappings": staging.ResultMappingsJSON,
			"terminal_at":     now,
			"updated_at":      now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var current model.Job
	if err := db.First(&current, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return err
	}

	if current.Status == model.JobStatusCompleted {
		currentMappings, err := current.Mappings()
		if err != nil {
			return err
		}
		if reflect.DeepEqual(currentMappings, mappings) || (len(currentMappings) == 0 && len(mappings) == 0) {
			return nil // idempotent retry (L2, E5)
		}
	}

	return ErrConflict
}

func (s *JobStore) MarkFailed(ctx context.Context, jobID uuid.UUID, errorMessage string) error {
	db := s.getDB(ctx)

	now := time.Now()
	result := db.Model(&model.Job{}).
		Where("id = ? AND status IN ?", jobID, []model.JobStatus{model.JobStatusPending, model.JobStatusRunning}).
		Updates(map[string]any{
			"status":               model.JobStatusFailed,
			"result_error_message": errorMessage,
			"terminal_at":          now,
			"updated_at":           now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var current model.Job
	if err := db.First(&current, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return err
	}

	switch current.Status {
	case model.JobStatusCompleted:
		// A late failure never overwrites success: absorb silently.
		return nil
	case model.JobStatusFailed:
		if current.ResultErrorMessage != nil && *current.ResultErrorMessage == errorMessage {
			return nil
		}
		return ErrConflict
	default:
		return ErrConflict
	}
}

func (s *JobStore) Get(ctx context.Context, jobID uuid.UUID) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).First(&job, "id = ?", jobID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

func (s *JobStore) GetByClientRequestID(ctx context.Context, clientRequestID string) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).First(&job, "client_request_id = ?", clientRequestID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

func (s *JobStore) List(ctx context.Context, status model.JobStatus, sourceControlKey string) ([]model.Job, error) {
	db := s.getDB(ctx).Model(&model.Job{}).Order("created_at DESC")
	if status != "" {
		db = db.Where("status = ?", status)
	}
	if sourceControlKey != "" {
		db = db.Where("source_control_key = ?", sourceControlKey)
	}

	var jobs []model.Job
	if err := db.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error) {
	type row struct {
		Status model.JobStatus
		Count  int64
	}
	var rows []row
	if err := s.getDB(ctx).Model(&model.Job{}).Select("status, count(*) as count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[model.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}
