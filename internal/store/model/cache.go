package model

import "time"

// EnrichmentEntry is the EnrichmentCache entry from spec.md §4.3: a
// content-addressed store of enriched control text keyed by control key.
type EnrichmentEntry struct {
	ControlKey        string    `gorm:"primaryKey;column:control_key;type:TEXT"`
	EnrichedText      string    `gorm:"column:enriched_text;type:TEXT;not null"`
	EnrichmentVersion string    `gorm:"column:enrichment_version;type:VARCHAR(32);not null"`
	CreatedAt         time.Time `gorm:"column:created_at;not null;default:now()"`
}

func (EnrichmentEntry) TableName() string {
	return "enrichment_cache"
}

// EmbeddingEntry is the EmbeddingCache entry from spec.md §4.4: a KV store
// of (controlKey, modelVersion) -> vector.
type EmbeddingEntry struct {
	ControlKey   string    `gorm:"primaryKey;column:control_key;type:TEXT"`
	ModelVersion string    `gorm:"primaryKey;column:model_version;type:VARCHAR(32)"`
	Vector       []float64 `gorm:"column:vector;type:jsonb;serializer:json"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;default:now()"`
}

func (EmbeddingEntry) TableName() string {
	return "embedding_cache"
}
