package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nexuscompliance/mapping-engine/internal/store/model"
)

// EnrichmentCache is C3 from spec.md §4.3: a content-addressed cache of
// enriched control text, consulted before calling out to the Agent's
// enrich operation and refreshed whenever enrichmentVersion advances.
type EnrichmentCache interface {
	Get(ctx context.Context, controlKey string) (*model.EnrichmentEntry, error)
	Put(ctx context.Context, entry model.EnrichmentEntry) error
}

type EnrichmentCacheStore struct {
	db *gorm.DB
}

var _ EnrichmentCache = (*EnrichmentCacheStore)(nil)

func NewEnrichmentCacheStore(db *gorm.DB) EnrichmentCache {
	return &EnrichmentCacheStore{db: db}
}

func (s *EnrichmentCacheStore) Get(ctx context.Context, controlKey string) (*model.EnrichmentEntry, error) {
	var entry model.EnrichmentEntry
	result := s.getDB(ctx).First(&entry, "control_key = ?", controlKey)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &entry, nil
}

// Put is a last-writer-wins upsert: a re-enrichment under a newer
// enrichmentVersion simply replaces the cached text for that controlKey.
func (s *EnrichmentCacheStore) Put(ctx context.Context, entry model.EnrichmentEntry) error {
	result := s.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "control_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"enriched_text", "enrichment_version", "created_at"}),
	}).Create(&entry)
	return result.Error
}

func (s *EnrichmentCacheStore) getDB(ctx context.Context) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}
