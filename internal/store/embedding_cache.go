package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nexuscompliance/mapping-engine/internal/store/model"
)

// EmbeddingCache is C4 from spec.md §4.4: a KV store of (controlKey,
// modelVersion) -> vector, consulted before calling the Science embed
// operation and invalidated implicitly whenever modelVersion advances
// (a new modelVersion is simply a cache miss, never a migration).
type EmbeddingCache interface {
	Get(ctx context.Context, controlKey, modelVersion string) (*model.EmbeddingEntry, error)
	Put(ctx context.Context, entry model.EmbeddingEntry) error
}

type EmbeddingCacheStore struct {
	db *gorm.DB
}

var _ EmbeddingCache = (*EmbeddingCacheStore)(nil)

func NewEmbeddingCacheStore(db *gorm.DB) EmbeddingCache {
	return &EmbeddingCacheStore{db: db}
}

func (s *EmbeddingCacheStore) Get(ctx context.Context, controlKey, modelVersion string) (*model.EmbeddingEntry, error) {
	var entry model.EmbeddingEntry
	result := s.getDB(ctx).First(&entry, "control_key = ? AND model_version = ?", controlKey, modelVersion)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &entry, nil
}

func (s *EmbeddingCacheStore) Put(ctx context.Context, entry model.EmbeddingEntry) error {
	result := s.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "control_key"}, {Name: "model_version"}},
		DoUpdates: clause.AssignmentColumns([]string{"vector", "created_at"}),
	}).Create(&entry)
	return result.Error
}

func (s *EmbeddingCacheStore) getDB(ctx context.Context) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}
