package migrations_test

import (
	"context"
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/nexuscompliance/mapping-engine/internal/config"
	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/pkg/migrations"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMigrations(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Migrations Suite")
}

var _ = Describe("migrations", Ordered, func() {
	var (
		s       store.Store
		gormdb  *gorm.DB
		pgxPool *pgxpool.Pool
	)

	BeforeAll(func() {
		cfg, err := config.New()
		Expect(err).To(BeNil())
		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())

		pool, err := store.NewPgxPool(context.Background(), cfg)
		Expect(err).To(BeNil())

		s = store.NewStore(db, logrus.StandardLogger())
		gormdb = db
		pgxPool = pool
	})

	AfterAll(func() {
		Expect(s.Close()).To(BeNil())
	})

	Context("store migrations", Ordered, func() {
		It("fails when the migration folder does not exist", func() {
			err := migrations.MigrateStore(gormdb, "some folder", pgxPool)
			Expect(err).NotTo(BeNil())
		})

		It("successfully migrates the db", func() {
			currentFolder, err := os.Getwd()
			Expect(err).To(BeNil())

			err = migrations.MigrateStore(gormdb, path.Join(currentFolder, "sql"), pgxPool)
			Expect(err).To(BeNil())

			tableExists := func(name string) bool {
				exists := false
				tx := gormdb.Raw(fmt.Sprintf("SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' and tablename = '%s');", name)).Scan(&exists)
				Expect(tx.Error).To(BeNil())

				return exists
			}

			for _, table := range []string{"jobs", "enrichment_cache", "embedding_cache", "river_job"} {
				Expect(tableExists(table)).To(BeTrue())
			}
		})

		AfterEach(func() {
			gormdb.Exec("DROP TABLE IF EXISTS jobs;")
			gormdb.Exec("DROP TABLE IF EXISTS enrichment_cache;")
			gormdb.Exec("DROP TABLE IF EXISTS embedding_cache;")
			gormdb.Exec("DROP TABLE IF EXISTS goose_db_version;")
		})
	})
})
