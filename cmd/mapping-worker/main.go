package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nexuscompliance/mapping-engine/internal/config"
	"github.com/nexuscompliance/mapping-engine/internal/policy"
	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/internal/workerrunner"
	"github.com/nexuscompliance/mapping-engine/pkg/log"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		panic(err)
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
		zap.S().Fatalw("initializing data store", "error", err)
	}

	dataStore := store.NewStore(db, logrus.StandardLogger())
	defer dataStore.Close()

	dropPolicy, err := policy.NewValidatorFromDir(cfg.Service.PolicyFolder)
	if err != nil {
		zap.S().Fatalw("loading drop-ratio policy", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	runner := workerrunner.New(cfg, dataStore, dropPolicy)
	if err := runner.Run(ctx); err != nil {
		zap.S().Fatalw("worker stopped", "error", err)
	}
}
