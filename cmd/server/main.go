package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"provote/internal/jwttoken"
	"provote/internal/platform/config"
	"provote/internal/platform/httpserver"
	"provote/internal/platform/logger"
	"provote/internal/platform/middleware"
	"provote/internal/platform/postgres"
	redisplatform "provote/internal/platform/redis"
	pollstore "provote/internal/polls/store"
	votesconfig "provote/internal/votes/config"
	"provote/internal/votes/events"
	"provote/internal/votes/fraud"
	"provote/internal/votes/geo"
	"provote/internal/votes/handler"
	"provote/internal/votes/idempotency"
	"provote/internal/votes/metrics"
	"provote/internal/votes/service"
	votestore "provote/internal/votes/store"
)

const eventBuffer = 1024

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	pipelineCfg := votesconfig.FromEnv()
	log := logger.New()

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("connect postgres", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := redisplatform.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		log.Warn("redis not configured, running without cache tiers")
	}

	polls := pollstore.NewPostgres(db)
	votes := votestore.NewPostgres(db)
	pipelineMetrics := metrics.New()

	var idemCache idempotency.Cache
	var blocklist fraud.FingerprintBlocklist
	var locator geo.Locator
	if redisClient != nil {
		idemCache = idempotency.NewRedisCache(redisClient.Client)
		blocklist = fraud.NewRedisBlocklist(redisClient.Client)
	}
	if cfg.GeoAPIURL != "" {
		locator = geo.NewHTTPLocator(cfg.GeoAPIURL)
		if redisClient != nil {
			locator = geo.NewCachedLocator(locator, redisClient.Client, pipelineCfg.Geo.CacheTTL)
		}
	}

	idemStore := idempotency.NewStore(idemCache, votes, pipelineCfg.Idempotency.CacheTTL, log)
	reputation := fraud.NewPostgresReputationStore(db, pipelineCfg.Fraud)
	evaluator := fraud.NewEvaluator(pipelineCfg.Fraud, reputation, blocklist, votes, log)
	geoGate := geo.NewGate(locator, pipelineCfg.Geo.Timeout, log, pipelineMetrics)

	var publisher events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Error("connect kafka", "error", err.Error())
			os.Exit(1)
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	} else {
		log.Warn("kafka not configured, vote events are logged and discarded")
		publisher = events.NewLogPublisher(log)
	}
	worker := events.NewWorker(publisher, eventBuffer, log)

	castService := service.New(
		pipelineCfg, polls, votes, idemStore, evaluator,
		reputation, geoGate, worker, pipelineMetrics, log,
	)

	tokens := jwttoken.NewService(cfg.JWTSigningKey)
	router := newRouter(castService, tokens, db, redisClient, log)
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return worker.Run(groupCtx)
	})
	group.Go(func() error {
		log.Info("starting provote", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shutdown", "error", err.Error())
		os.Exit(1)
	}
	log.Info("stopped")
}

func newRouter(
	castService *service.Service,
	tokens *jwttoken.Service,
	db interface{ PingContext(context.Context) error },
	redisClient *redisplatform.Client,
	log *slog.Logger,
) chi.Router {
	castHandler := handler.New(castService, log)

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)
	router.Use(middleware.ClientMetadata)
	router.Use(middleware.Logger(log))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(tokens, log))
		castHandler.Register(r)
	})
	return router
}
