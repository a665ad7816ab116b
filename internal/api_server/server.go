package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/nexuscompliance/mapping-engine/internal/actor"
	"github.com/nexuscompliance/mapping-engine/internal/agentclient"
	"github.com/nexuscompliance/mapping-engine/internal/config"
	"github.com/nexuscompliance/mapping-engine/internal/controlstore"
	"github.com/nexuscompliance/mapping-engine/internal/handlers"
	"github.com/nexuscompliance/mapping-engine/internal/intake"
	"github.com/nexuscompliance/mapping-engine/internal/queue"
	"github.com/nexuscompliance/mapping-engine/internal/scienceclient"
	"github.com/nexuscompliance/mapping-engine/internal/statusquery"
	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/pkg/metrics"
	"github.com/nexuscompliance/mapping-engine/pkg/middleware"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

// Server is the mapping API process: the HTTP surface over Intake and
// StatusQuery. It enqueues onto the same river schema the Worker process
// consumes, but never registers a Worker itself — C8 and C9 run as
// separate processes, matching spec.md §4's component boundary.
type Server struct {
	cfg      *config.Config
	store    store.Store
	listener net.Listener
}

// New returns a new instance of the mapping API server.
func New(cfg *config.Config, st store.Store, listener net.Listener) *Server {
	return &Server{cfg: cfg, store: st, listener: listener}
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server")
	metricMiddleware.MustRegisterDefault()

	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		actor.Middleware,
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
	)

	pgxPool, err := store.NewPgxPool(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pgxPool.Close()

	riverClient, err := queue.NewClient(ctx, pgxPool, s.cfg, river.NewWorkers())
	if err != nil {
		return fmt.Errorf("failed to create river client: %w", err)
	}
	if err := riverClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start river: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			zap.S().Named("api_server").Warnw("failed to stop river client", "error", err)
		}
	}()
	zap.S().Named("api_server").Info("river job queue initialized")

	controlStoreClient := controlstore.NewHTTPClient(s.cfg.ControlStore.BaseURL)
	intakeSvc := intake.NewService(controlStoreClient, s.store.Job(), riverClient, s.cfg.Pipeline)
	statusSvc := statusquery.NewService(s.store.Job())

	// Constructed here solely so /health has something to aggregate: the API
	// process never calls Embed/Enrich/Reason itself, those RPCs happen in
	// the Worker process.
	scienceClient := scienceclient.NewHTTPClient(s.cfg.Science.BaseURL, s.cfg.Science.ReadTimeout, s.cfg.Science.OverallTimeout, s.cfg.Pipeline.VectorDimension)
	agentClient := agentclient.NewHTTPClient(s.cfg.Agent.BaseURL, s.cfg.Agent.ReadTimeout, s.cfg.Agent.OverallTimeout)

	handlers.NewServiceHandler(intakeSvc, statusSvc, s.store.Job(), scienceClient, agentClient).Register(router)

	srv := http.Server{Addr: s.cfg.Service.Address, Handler: router}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}
