// Package redrive is C12: the dead-letter sweep over jobs river discarded
// after exhausting maxReceiveCount deliveries, grounded on the teacher's
// internal/store/river_job.go direct river_job table query pattern.
package redrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"gorm.io/gorm"

	"github.com/nexuscompliance/mapping-engine/internal/queue"
	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/internal/store/model"
)

// MaxMessagesCap is the hard ceiling on maxMessages (spec.md §4.12: "maxMessages: int ≤ 1000").
const MaxMessagesCap = 1000

// Candidate is one discarded river_job row eligible for redrive.
type Candidate struct {
	RiverJobID int64
	JobID      string
}

// Report summarizes one Sweep invocation, shaped per spec.md §6's operator
// output contract.
type Report struct {
	StatusCode            int    `json:"statusCode"`
	MessagesRedriven      int    `json:"messages_redriven"`
	DLQMessageCountBefore int    `json:"dlq_message_count_before"`
	Message               string `json:"message"`

	DryRun  bool    `json:"-"`
	Skipped []int64 `json:"-"`
}

type Sweeper struct {
	db          *gorm.DB
	riverClient *river.Client[pgx.Tx]
	jobs        store.Job
}

func NewSweeper(db *gorm.DB, riverClient *river.Client[pgx.Tx], jobs store.Job) *Sweeper {
	return &Sweeper{db: db, riverClient: riverClient, jobs: jobs}
}

// Candidates lists discarded jobs of the mapping_request kind, newest first.
func (s *Sweeper) Candidates(ctx context.Context) ([]Candidate, error) {
	type row struct {
		ID   int64
		Args []byte
	}
	var rows []row

	err := s.db.WithContext(ctx).
		Table("river_job").
		Select("id, args").
		Where("kind = ?", queue.JobKind).
		Where("state = ?", "discarded").
		Order("id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(rows))
	for _, r := range rows {
		var args queue.MappingRequestArgs
		if err := unmarshalArgs(r.Args, &args); err != nil {
			continue
		}
		candidates = append(candidates, Candidate{RiverJobID: r.ID, JobID: args.JobID})
	}
	return candidates, nil
}

// Sweep re-enqueues up to maxMessages of the discarded jobs found by
// Candidates, newest first. maxMessages is clamped to MaxMessagesCap; a
// value <= 0 defaults to MaxMessagesCap. A job whose JobStore record is
// already terminal is skipped — redriving it would only relitigate a
// decision JobStore has already made durable.
func (s *Sweeper) Sweep(ctx context.Context, dryRun bool, maxMessages int) (Report, error) {
	if maxMessages <= 0 || maxMessages > MaxMessagesCap {
		maxMessages = MaxMessagesCap
	}

	candidates, err := s.Candidates(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{DLQMessageCountBefore: len(candidates), DryRun: dryRun, StatusCode: 200}
	if len(candidates) > maxMessages {
		candidates = candidates[:maxMessages]
	}

	if dryRun {
		report.Message = fmt.Sprintf("dry run: %d of %d discarded jobs would be redriven", len(candidates), report.DLQMessageCountBefore)
		return report, nil
	}

	for _, c := range candidates {
		if s.alreadyTerminal(ctx, c.JobID) {
			report.Skipped = append(report.Skipped, c.RiverJobID)
			continue
		}
		if _, err := s.riverClient.JobRetry(ctx, c.RiverJobID); err != nil {
			report.Skipped = append(report.Skipped, c.RiverJobID)
			continue
		}
		report.MessagesRedriven++
	}
	report.Message = fmt.Sprintf("redriven %d of %d discarded jobs", report.MessagesRedriven, report.DLQMessageCountBefore)
	return report, nil
}

func (s *Sweeper) alreadyTerminal(ctx context.Context, rawJobID string) bool {
	jobID, err := uuid.Parse(rawJobID)
	if err != nil {
		return false
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return true // no JobStore record left to redrive toward
		}
		return false
	}
	return job.Status == model.JobStatusCompleted || job.Status == model.JobStatusFailed
}

func unmarshalArgs(raw []byte, out *queue.MappingRequestArgs) error {
	return json.Unmarshal(raw, out)
}
