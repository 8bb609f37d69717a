// File: cmd/ledgerd/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	goredis "github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/config"
	"telegram-ai-subscription/internal/infra/logging"
	"telegram-ai-subscription/internal/infra/metrics"
	"telegram-ai-subscription/internal/ledger/actor"
	"telegram-ai-subscription/internal/ledger/cluster"
	"telegram-ai-subscription/internal/ledger/gateway"
	"telegram-ai-subscription/internal/ledger/pipeline"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log)
	logger = logging.With(logging.WithNodeID(ctx, cfg.Cluster.SelfNode), logger)

	metrics.SetBuildInfo(buildVersion, buildCommit)
	metrics.MustRegister()

	// ---- Relational store (authoritative) ----
	pool, err := gateway.TryConnect(ctx, cfg.Relational.URL, cfg.Relational.MaxConns, 30*time.Second)
	if err != nil {
		logger.Fatal().Err(err).Msg("relational store connect failed")
	}
	defer pool.Close()
	if err := gateway.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("relational schema migration failed")
	}
	go reportPoolStats(ctx, pool)

	relational := gateway.NewPostgresStore(pool)

	var gwOpts []gateway.Option
	if cfg.Document.URI != "" {
		mongoClient, err := gateway.Connect(ctx, cfg.Document.URI, cfg.Document.MaxPoolSize)
		if err != nil {
			logger.Fatal().Err(err).Msg("legacy document store connect failed")
		}
		legacy := gateway.NewMongoLegacyStore(mongoClient, cfg.Document.Database, cfg.Document.Collection)
		gwOpts = append(gwOpts, gateway.WithLegacyStore(legacy, 256))
		logger.Info().Str("database", cfg.Document.Database).Msg("legacy document store reconciliation enabled")
	}
	gw := gateway.New(relational, *logger, gwOpts...)
	defer gw.Close()

	// ---- Bus (Redis Streams) ----
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Bus.URL,
		Password: cfg.Bus.Password,
		DB:       cfg.Bus.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("bus connect failed")
	}
	defer redisClient.Close()

	// ---- Per-user actors ----
	supervisor := actor.NewSupervisor(gw, actor.Config{
		IdleTimeout: cfg.IdleTimeout,
		Caps:        actor.Caps{ByType: cfg.Caps.ByType, Default: cfg.Caps.Default},
	}, *logger)

	// ---- Cluster registry ----
	ring := cluster.NewRing(cfg.Cluster.VirtualNodes)
	var discovery cluster.Discovery
	if len(cfg.Cluster.StaticNodes) > 0 {
		discovery = cluster.StaticDiscovery{Nodes: cfg.Cluster.StaticNodes}
	} else {
		pgDiscovery := cluster.NewPostgresDiscovery(pool, cfg.Cluster.SelfNode, cfg.Cluster.MembershipPoll*3)
		if err := pgDiscovery.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("cluster membership schema migration failed")
		}
		if err := pgDiscovery.Heartbeat(ctx); err != nil {
			logger.Fatal().Err(err).Msg("initial cluster heartbeat failed")
		}
		go heartbeatLoop(ctx, pgDiscovery, cfg.Cluster.MembershipPoll, logger)
		discovery = pgDiscovery
	}
	membership := cluster.NewMembership(discovery, ring, cfg.Cluster.MembershipPoll, *logger)
	membership.Start(ctx)
	defer membership.Stop()

	router := cluster.NewRouter(cfg.Cluster.SelfNode, ring, supervisor, *logger)

	handler := cluster.NewHandler(supervisor, *logger)
	mux := chi.NewRouter()
	handler.Mount(mux)
	mux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{Addr: listenAddr(cfg.Cluster.SelfNode), Handler: mux}
	go func() {
		logger.Info().Str("addr", httpSrv.Addr).Msg("cluster internal API listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("cluster internal API stopped")
		}
	}()

	// ---- Event pipeline ----
	idempotencyGuard := pipeline.NewIdempotencyGuard(pool)
	if err := idempotencyGuard.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("idempotency schema migration failed")
	}

	changePublisher := pipeline.NewChangePublisher(redisClient, cfg.Bus.ChangeEventStream, *logger)

	entitlementProducer := pipeline.NewProducer(redisClient, pipeline.ProducerConfig{
		Stream:     cfg.Bus.EntitlementStream,
		Group:      cfg.Bus.ConsumerGroup,
		Consumer:   cfg.Cluster.SelfNode,
		ClaimAfter: cfg.Bus.ClaimAfter,
	}, *logger)
	if err := entitlementProducer.EnsureGroup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("entitlement consumer group creation failed")
	}

	jobProducer := pipeline.NewProducer(redisClient, pipeline.ProducerConfig{
		Stream:     cfg.Bus.JobCompleteStream,
		Group:      cfg.Bus.ConsumerGroup,
		Consumer:   cfg.Cluster.SelfNode,
		ClaimAfter: cfg.Bus.ClaimAfter,
	}, *logger)
	if err := jobProducer.EnsureGroup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("job-complete consumer group creation failed")
	}

	procCfg := pipeline.ProcessorConfig{Workers: cfg.Pipeline.Workers, PollEvery: cfg.Pipeline.PollEvery, BatchSize: cfg.Pipeline.BatchSize}
	entitlementProcessor := pipeline.NewProcessor(entitlementProducer, procCfg, *logger)
	jobProcessor := pipeline.NewProcessor(jobProducer, procCfg, *logger)

	dispatchRouter := pipeline.NewRouter(router, idempotencyGuard, changePublisher)
	dispatchRouter.Register(entitlementProcessor)
	dispatchRouter.Register(jobProcessor)

	go entitlementProcessor.Start(ctx)
	go jobProcessor.Start(ctx)

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

// heartbeatLoop keeps this node's cluster_membership row fresh so other
// nodes' Membership polls keep seeing it as live.
func heartbeatLoop(ctx context.Context, d *cluster.PostgresDiscovery, interval time.Duration, logger *zerolog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Heartbeat(ctx); err != nil {
				logger.Warn().Err(err).Msg("cluster heartbeat failed")
			}
		}
	}
}

// reportPoolStats publishes connection-pool gauges on an interval,
// matching the teacher's periodic-ticker idiom used elsewhere for
// background reporting rather than hooking pgxpool internals directly.
func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gateway.ReportPoolStats(pool)
		}
	}
}

// listenAddr extracts the ":port" suffix from a "host:port" self-node
// identity for use as an http.Server address.
func listenAddr(selfNode string) string {
	for i := len(selfNode) - 1; i >= 0; i-- {
		if selfNode[i] == ':' {
			return selfNode[i:]
		}
	}
	return ":8080"
}
