package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	apiserver "github.com/nexuscompliance/mapping-engine/internal/api_server"
	"github.com/nexuscompliance/mapping-engine/internal/config"
	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/pkg/log"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the mapping API",
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
			zap.S().Fatalw("initializing data store", "error", err)
		}

		dataStore := store.NewStore(db, logrus.StandardLogger())
		defer dataStore.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		listener, err := newListener(cfg.Service.Address)
		if err != nil {
			zap.S().Fatalw("creating listener", "error", err)
		}

		metricsListener, err := newListener(cfg.Service.MetricsAddress)
		if err != nil {
			zap.S().Fatalw("creating metrics listener", "error", err)
		}

		go func() {
			metricsServer := apiserver.NewMetricServer(cfg.Service.MetricsAddress, metricsListener, dataStore.Job())
			if err := metricsServer.Run(ctx); err != nil {
				zap.S().Errorw("metrics server stopped", "error", err)
			}
		}()

		server := apiserver.New(cfg, dataStore, listener)
		return server.Run(ctx)
	},
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
