// Package workerrunner wires C9 (the Worker) and C10 (the Orchestrator)
// into a standalone river consumer process, kept separate from the API
// process the way the teacher keeps its rvtools worker registration next
// to api_server.Run but in its own goroutine — here the two run as
// distinct binaries since the Worker is never on the client request path.
package workerrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/nexuscompliance/mapping-engine/internal/agentclient"
	"github.com/nexuscompliance/mapping-engine/internal/config"
	"github.com/nexuscompliance/mapping-engine/internal/controlstore"
	"github.com/nexuscompliance/mapping-engine/internal/events"
	"github.com/nexuscompliance/mapping-engine/internal/orchestrator"
	"github.com/nexuscompliance/mapping-engine/internal/policy"
	"github.com/nexuscompliance/mapping-engine/internal/queue"
	"github.com/nexuscompliance/mapping-engine/internal/scienceclient"
	"github.com/nexuscompliance/mapping-engine/internal/store"
)

type Runner struct {
	cfg        *config.Config
	store      store.Store
	dropPolicy *policy.Validator
}

func New(cfg *config.Config, st store.Store, dropPolicy *policy.Validator) *Runner {
	return &Runner{cfg: cfg, store: st, dropPolicy: dropPolicy}
}

func (r *Runner) Run(ctx context.Context) error {
	zap.S().Named("worker").Info("initializing mapping worker")

	pgxPool, err := store.NewPgxPool(ctx, r.cfg)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pgxPool.Close()

	controlStoreClient := controlstore.NewHTTPClient(r.cfg.ControlStore.BaseURL)
	scienceClient := scienceclient.NewHTTPClient(r.cfg.Science.BaseURL, r.cfg.Science.ReadTimeout, r.cfg.Science.OverallTimeout, r.cfg.Pipeline.VectorDimension)
	agentClient := agentclient.NewHTTPClient(r.cfg.Agent.BaseURL, r.cfg.Agent.ReadTimeout, r.cfg.Agent.OverallTimeout)
	producer := events.NewEventProducer(&events.StdoutWriter{})
	defer func() { _ = producer.Close() }()

	orch := orchestrator.New(
		r.store.Job(),
		r.store.EnrichmentCache(),
		r.store.EmbeddingCache(),
		controlStoreClient,
		scienceClient,
		agentClient,
		r.dropPolicy,
		r.cfg.Pipeline,
		producer,
	)
	worker := queue.NewWorker(r.store.Job(), orch, r.cfg.Pipeline.VisibilityTimeout)

	workers := river.NewWorkers()
	river.AddWorker(workers, worker)

	riverClient, err := queue.NewClient(ctx, pgxPool, r.cfg, workers)
	if err != nil {
		return fmt.Errorf("failed to create river client: %w", err)
	}

	if err := riverClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start river: %w", err)
	}
	zap.S().Named("worker").Info("mapping worker started")

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return riverClient.Stop(stopCtx)
}
