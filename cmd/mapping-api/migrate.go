package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nexuscompliance/mapping-engine/internal/config"
	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/pkg/log"
	"github.com/nexuscompliance/mapping-engine/pkg/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		logLvl, err := zap.ParseAtomicLevel(cfg.Service.LogLevel)
		if err != nil {
			logLvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}
		logger := log.InitLog(logLvl)
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		db, err := store.InitDB(cfg)
		if err != nil {
			return err
		}

		dataStore := store.NewStore(db, logrus.StandardLogger())
		defer dataStore.Close()

		pgxPool, err := store.NewPgxPool(context.Background(), cfg)
		if err != nil {
			return err
		}
		defer pgxPool.Close()

		if err := migrations.MigrateStore(db, cfg.Service.MigrationFolder, pgxPool); err != nil {
			return err
		}

		zap.S().Info("migrations applied")
		return nil
	},
}
