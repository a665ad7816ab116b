package store

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Store bundles the three persisted collections from spec.md §6 behind one
// handle, the way the teacher's DataStore bundles its per-entity stores.
type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	EnrichmentCache() EnrichmentCache
	EmbeddingCache() EmbeddingCache
	Close() error
}

type DataStore struct {
	db              *gorm.DB
	log             logrus.FieldLogger
	job             Job
	enrichmentCache EnrichmentCache
	embeddingCache  EmbeddingCache
}

func NewStore(db *gorm.DB, log logrus.FieldLogger) Store {
	return &DataStore{
		db:              db,
		log:             log,
		job:             NewJobStore(db),
		enrichmentCache: NewEnrichmentCacheStore(db),
		embeddingCache:  NewEmbeddingCacheStore(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db, s.log)
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) EnrichmentCache() EnrichmentCache {
	return s.enrichmentCache
}

func (s *DataStore) EmbeddingCache() EmbeddingCache {
	return s.embeddingCache
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
