package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/httpx"
	"github.com/ariefcatur/go-order-saga/internal/logx"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/stock"
	"github.com/ariefcatur/go-order-saga/internal/tracing"
	"github.com/joho/godotenv"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	name := getenv("STOCK_SERVICE_NAME", "stock-service")
	log := logx.New(name, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, name, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing init")
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// Store
	var store stock.Store
	switch cfg.StoreBackend {
	case "memory":
		store = stock.NewMemStore()
		log.Warn().Msg("using in-memory stock store")
	default:
		db, err := postgres.Connect(ctx, cfg.StockPostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db, postgres.StockSchema); err != nil {
			log.Fatal().Err(err).Msg("db migrate")
		}
		store = &stock.PGStore{DB: db}
	}

	router := httpx.NewRouter()
	(&httpx.VariantsHandler{Service: &stock.Service{Store: store, Log: log}, Log: log}).Register(router)
	srv := &http.Server{Addr: cfg.StockHTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", cfg.StockHTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
