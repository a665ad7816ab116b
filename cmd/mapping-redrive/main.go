package main

import (
	"context"
	"fmt"
	"os"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nexuscompliance/mapping-engine/internal/config"
	"github.com/nexuscompliance/mapping-engine/internal/redrive"
	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/pkg/log"
)

var dryRun bool
var maxMessages int

// rootCmd is C12: an operator-invoked one-shot command, not a running
// service, grounded on spec.md §4.12's "scheduled or manually triggered"
// wording.
var rootCmd = &cobra.Command{
	Use:   "mapping-redrive",
	Short: "Redrive discarded mapping_request jobs",
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

		ctx := context.Background()

		db, err := store.InitDB(cfg)
		if err != nil {
			return err
		}
		dataStore := store.NewStore(db, logrus.StandardLogger())
		defer dataStore.Close()

		pgxPool, err := store.NewPgxPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pgxPool.Close()

		riverClient, err := river.NewClient(riverpgxv5.New(pgxPool), &river.Config{})
		if err != nil {
			return err
		}

		sweeper := redrive.NewSweeper(db, riverClient, dataStore.Job())
		report, err := sweeper.Sweep(ctx, dryRun, maxMessages)
		if err != nil {
			return err
		}

		fmt.Printf("statusCode=%d messages_redriven=%d dlq_message_count_before=%d message=%q\n",
			report.StatusCode, report.MessagesRedriven, report.DLQMessageCountBefore, report.Message)
		return nil
	},
}

func init() {
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report discarded jobs without redriving them")
	rootCmd.Flags().IntVar(&maxMessages, "max-messages", redrive.MaxMessagesCap, "maximum number of discarded jobs to redrive (capped at 1000)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
