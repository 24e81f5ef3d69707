package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/autocomplete"
	achandler "github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/autocomplete/handler"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/autocomplete/index"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/autocomplete/replication"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/portfolio"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/portfolio/cache"
	pfhandler "github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/portfolio/handler"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/portfolio/store"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/blob"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/rpc"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	instanceID := replicaIdentity(cfg.Kafka.ReplicaID)
	slog.Info("starting portfolio service", "port", cfg.Server.Port, "instance_id", instanceID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := store.New(db)
	if cfg.Postgres.ApplySchema {
		if err := repo.ApplySchema(ctx); err != nil {
			slog.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		slog.Info("database schema applied")
	}

	syncer := autocomplete.NewSynchronizer(repo, index.NewPrefixIndex(), autocomplete.Options{
		MaxResults:       cfg.Autocomplete.MaxResults,
		WarmAttempts:     cfg.Autocomplete.WarmAttempts,
		WarmInitialDelay: cfg.Autocomplete.WarmInitialDelay,
		Metrics:          m,
	})

	opts := portfolio.Options{Metrics: m, Origin: instanceID}

	var redisClient *pkgredis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, portfolio caching disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			opts.Cache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("portfolio cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if cfg.Storage.Endpoint != "" {
		breaker := resilience.NewCircuitBreaker("blob-store", resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		})
		images, err := blob.New(ctx, cfg.Storage, blob.WithBreaker(breaker))
		if err != nil {
			slog.Warn("blob store unavailable, image uploads disabled", "error", err)
		} else {
			opts.Images = images
			slog.Info("blob store enabled", "endpoint", cfg.Storage.Endpoint, "bucket", cfg.Storage.Bucket)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.PortfolioEvents)
		defer producer.Close()
		opts.Events = portfolio.NewKafkaPublisher(producer)
	}
	manager := portfolio.NewManager(repo, syncer, opts)

	// The consumer starts before Warm so that changes committed by other
	// replicas during the rebuild are applied after it. The group is stable
	// per replica, so a restart resumes from its committed offset instead of
	// leaving an orphaned group behind.
	if cfg.Kafka.Enabled {
		applier := replication.NewApplier(instanceID, manager, m)
		groupID := cfg.Kafka.ConsumerGroup + "-" + instanceID
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.PortfolioEvents, groupID, applier.Handler())
		g.Go(func() error {
			return consumer.Start(gctx)
		})
		slog.Info("portfolio event replication enabled", "topic", cfg.Kafka.Topics.PortfolioEvents, "group", groupID)
	}

	if err := syncer.Warm(ctx); err != nil {
		slog.Error("autocomplete index warm-up failed", "error", err)
		os.Exit(1)
	}

	verifier := auth.NewVerifier(cfg.Auth)
	limiter := ratelimit.New(cfg.Autocomplete.RateLimit, cfg.Autocomplete.RateBurst)
	if err := limiter.TrustProxies(cfg.Autocomplete.TrustedProxies); err != nil {
		slog.Error("invalid trusted proxy list", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker()
	checker.Register("postgres", health.Ping(db.Ping, false))
	checker.Register("autocomplete_index", health.Flag(syncer.Ready, "index not warmed"))
	if redisClient != nil {
		checker.Register("redis", health.Ping(redisClient.Ping, true))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	ac := achandler.New(syncer)
	ac.Register(mux, ratelimit.Middleware(limiter), func(next http.Handler) http.Handler {
		return middleware.Chain(next, auth.RequireUser(verifier), auth.RequireRole(auth.RoleAdmin))
	})
	pfhandler.New(manager, cfg.Server.MaxUploadBytes).Register(mux, auth.RequireUser(verifier))

	chain := middleware.Chain(mux,
		middleware.Recover,
		middleware.RequestID,
		middleware.CORS(middleware.DefaultCORSConfig()),
		middleware.Metrics(m),
		middleware.Timeout(cfg.Server.WriteTimeout),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		syncer.StartReloadLoop(gctx, cfg.Autocomplete.ReloadInterval)
		return nil
	})
	g.Go(func() error {
		limiter.Cleanup(gctx, time.Minute)
		return nil
	})

	var rpcServer *rpc.Server
	if cfg.RPC.Enabled {
		rpcServer = rpc.NewServer()
		ac.RegisterRPC(rpcServer)
		if err := rpcServer.Listen(fmt.Sprintf(":%d", cfg.RPC.Port)); err != nil {
			slog.Error("failed to start rpc listener", "error", err)
			os.Exit(1)
		}
		g.Go(rpcServer.Serve)
		slog.Info("rpc server listening", "addr", rpcServer.Addr().String(), "methods", rpcServer.MethodCount())
	}

	var stopMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		stopMetrics = m.StartServer(cfg.Metrics.Port)
	}

	g.Go(func() error {
		slog.Info("portfolio service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if stopMetrics != nil {
			if err := stopMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
		if rpcServer != nil {
			rpcServer.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("portfolio service stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("portfolio service stopped")
}

// replicaIdentity names this process in published events and in its Kafka
// consumer group. It must stay the same across restarts and differ between
// replicas; set kafka.replicaID when several replicas share a host.
func replicaIdentity(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}
