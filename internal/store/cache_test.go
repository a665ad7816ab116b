package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/nexuscompliance/mapping-engine/internal/config"
	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/internal/store/model"
)

var _ = Describe("enrichment and embedding caches", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		cfg, err := config.New()
		Expect(err).To(BeNil())
		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())

		s = store.NewStore(db, nil)
		gormdb = db
	})

	AfterAll(func() {
		s.Close()
	})

	Context("enrichment cache", func() {
		AfterEach(func() {
			gormdb.Exec("DELETE FROM enrichment_cache;")
		})

		It("misses on an unseen controlKey", func() {
			_, err := s.EnrichmentCache().Get(context.TODO(), "NIST-SP-800-53#R5#AC-1")
			Expect(err).To(Equal(store.ErrRecordNotFound))
		})

		It("stores and retrieves an enrichment entry", func() {
			entry := model.EnrichmentEntry{
				ControlKey:        "NIST-SP-800-53#R5#AC-1",
				EnrichedText:      "Account management controls restrict system access to authorized users.",
				EnrichmentVersion: "v1",
			}
			Expect(s.EnrichmentCache().Put(context.TODO(), entry)).To(BeNil())

			fetched, err := s.EnrichmentCache().Get(context.TODO(), entry.ControlKey)
			Expect(err).To(BeNil())
			Expect(fetched.EnrichedText).To(Equal(entry.EnrichedText))
			Expect(fetched.EnrichmentVersion).To(Equal("v1"))
		})

		It("overwrites the cached text on a newer enrichmentVersion", func() {
			controlKey := "NIST-SP-800-53#R5#AC-2"
			Expect(s.EnrichmentCache().Put(context.TODO(), model.EnrichmentEntry{
				ControlKey:        controlKey,
				EnrichedText:      "first pass text",
				EnrichmentVersion: "v1",
			})).To(BeNil())

			Expect(s.EnrichmentCache().Put(context.TODO(), model.EnrichmentEntry{
				ControlKey:        controlKey,
				EnrichedText:      "re-enriched text",
				EnrichmentVersion: "v2",
			})).To(BeNil())

			fetched, err := s.EnrichmentCache().Get(context.TODO(), controlKey)
			Expect(err).To(BeNil())
			Expect(fetched.EnrichedText).To(Equal("re-enriched text"))
			Expect(fetched.EnrichmentVersion).To(Equal("v2"))
		})
	})

	Context("embedding cache", func() {
		AfterEach(func() {
			gormdb.Exec("DELETE FROM embedding_cache;")
		})

		It("misses on an unseen (controlKey, modelVersion) pair", func() {
			_, err := s.EmbeddingCache().Get(context.TODO(), "NIST-SP-800-53#R5#AC-1", "v1")
			Expect(err).To(Equal(store.ErrRecordNotFound))
		})

		It("stores and retrieves a vector keyed by modelVersion", func() {
			entry := model.EmbeddingEntry{
				ControlKey:   "NIST-SP-800-53#R5#AC-1",
				ModelVersion: "v1",
				Vector:       []float64{0.1, 0.2, 0.3},
			}
			Expect(s.EmbeddingCache().Put(context.TODO(), entry)).To(BeNil())

			fetched, err := s.EmbeddingCache().Get(context.TODO(), entry.ControlKey, "v1")
			Expect(err).To(BeNil())
			Expect(fetched.Vector).To(Equal(entry.Vector))
		})

		It("treats a new modelVersion as a distinct cache miss rather than an overwrite", func() {
			controlKey := "NIST-SP-800-53#R5#AC-1"
			Expect(s.EmbeddingCache().Put(context.TODO(), model.EmbeddingEntry{
				ControlKey:   controlKey,
				ModelVersion: "v1",
				Vector:       []float64{0.1, 0.2},
			})).To(BeNil())

			_, err := s.EmbeddingCache().Get(context.TODO(), controlKey, "v2")
			Expect(err).To(Equal(store.ErrRecordNotFound))

			stillV1, err := s.EmbeddingCache().Get(context.TODO(), controlKey, "v1")
			Expect(err).To(BeNil())
			Expect(stillV1.Vector).To(Equal([]float64{0.1, 0.2}))
		})
	})
})
