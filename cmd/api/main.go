package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logx"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/reconcile"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/ariefcatur/go-order-saga/internal/resilience"
	"github.com/ariefcatur/go-order-saga/internal/stockclient"
	"github.com/ariefcatur/go-order-saga/internal/tracing"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.New(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing init")
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// Repo
	var repo orders.Repository
	switch cfg.StoreBackend {
	case "memory":
		repo = orders.NewMemRepo()
		log.Warn().Msg("using in-memory order store")
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db, postgres.OrdersSchema); err != nil {
			log.Fatal().Err(err).Msg("db migrate")
		}
		repo = &orders.PGRepo{DB: db}
	}

	// Redis: cache order + dedup reconcile
	var rdb *redis.Client
	var cache orders.Cache
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		cache = &orders.RedisCache{RDB: rdb, TTL: redisx.TTLOrderCache, Log: log}
	}

	// Kafka producer
	var prod *kafkax.Producer
	var events orders.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
		// ditutup manual setelah server berhenti
		prod.Start(context.Background())
		events = prod
	}

	// Stock client: raw HTTP -> breaker -> retry + fallback
	bs := cfg.BreakerSettings()
	bs.OnStateChange = stockclient.BreakerMetrics(log)
	stockSvc := stockclient.New(
		stockclient.NewHTTPClient(cfg.StockServiceURL, cfg.StockCallTimeout),
		resilience.NewBreakerSet(bs, resilience.SystemClock{}),
		cfg.RetryPolicy(),
		log,
	)

	saga := &orders.Saga{
		Repo:                repo,
		Stock:               stockSvc,
		Events:              events,
		Cache:               cache,
		Log:                 log,
		Service:             cfg.ServiceName,
		CompensationTimeout: cfg.CompensationTimeout,
	}

	router := httpx.NewRouter()
	(&httpx.OrdersHandler{Saga: saga, Log: log}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if prod != nil {
		rec := &reconcile.Service{
			Orders:      saga,
			Redis:       rdb,
			Delay:       cfg.ReconcileDelay,
			ServiceName: cfg.ServiceName + "-reconciler",
			Log:         log,
		}
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReconcileGroup, orders.TopicCompensationFailed, cfg.ReconcileWorkers, log)
		g.Go(func() error {
			log.Info().Str("group", cfg.ReconcileGroup).Int("workers", cfg.ReconcileWorkers).Msg("reconcile consumer started")
			return cons.Start(gctx, rec.HandleCompensationFailed)
		})
	}

	werr := g.Wait()
	if prod != nil {
		prod.Close()      // tutup inbox -> flush & close writer
		prod.WaitClosed() // drain
	}
	if werr != nil {
		log.Error().Err(werr).Msg("exit")
		os.Exit(1)
	}
}
