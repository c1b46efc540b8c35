package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spooky-finn/orderbook-sync/config"
	"github.com/spooky-finn/orderbook-sync/domain"
	"github.com/spooky-finn/orderbook-sync/infrastructure/cache"
	"github.com/spooky-finn/orderbook-sync/infrastructure/logger"
	promclient "github.com/spooky-finn/orderbook-sync/infrastructure/prometheus"
	redisclient "github.com/spooky-finn/orderbook-sync/infrastructure/redis"
	"github.com/spooky-finn/orderbook-sync/provider"
	"github.com/spooky-finn/orderbook-sync/rpc"
	"github.com/spooky-finn/orderbook-sync/usecase"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	level := cfg.Log.Level
	if cfg.Debug {
		level = "debug"
	}
	logg, err := logger.New(logger.DefaultConfig(level, cfg.Log.File))
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Fatal("orderbook sync stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logg *zap.Logger) error {
	connManager := provider.NewConnectionManager(provider.ConnectionManagerConfig{
		BinanceStreamURL:  cfg.Binance.StreamURL,
		BinanceRestURL:    cfg.Binance.RestURL,
		BinanceDepthSpeed: cfg.Binance.DepthSpeed,
		KucoinBaseURL:     cfg.Kucoin.BaseURL,
		SnapshotRate:      cfg.Book.SnapshotRate,
		Stream: provider.StreamClientConfig{
			BaseDelay:        cfg.Stream.BaseDelay,
			MaxDelay:         cfg.Stream.MaxDelay,
			MaxAttempts:      cfg.Stream.MaxAttempts,
			ReadTimeout:      cfg.Stream.ReadTimeout,
			HandshakeTimeout: cfg.Stream.HandshakeTimeout,
		},
	}, logg)

	marketCache := cache.New[usecase.CachedValue](cfg.Cache.Capacity, cfg.Cache.DefaultTTL)
	registry := promclient.NewRegistry(promclient.CacheStatsFunc(func() (int, uint64, uint64) {
		stats := marketCache.Stats()
		return stats.TotalItems, stats.HitCount, stats.MissCount
	}))

	var sink usecase.StateSink
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		publisher := redisclient.NewStatePublisher(client, cfg.Redis.StateTTL, logg)
		publishCtx, stopPublisher := context.WithCancel(ctx)
		go publisher.Run(publishCtx)
		defer func() {
			stopPublisher()
			<-publisher.Done()
			publisher.Close()
		}()
		sink = publisher
		logg.Info("publishing state to redis", zap.String("addr", cfg.Redis.Addr))
	}

	marketData := usecase.NewMarketDataUseCase(
		cfg.Provider,
		connManager,
		func() (usecase.StreamConnection, error) {
			client, err := connManager.NewStreamClient(cfg.Provider)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		marketCache,
		usecase.CoordinatorConfig{
			SnapshotDepth:    cfg.Book.SnapshotDepth,
			PublishDepth:     cfg.Book.PublishDepth,
			RetryDelay:       cfg.Book.RetryDelay,
			MaxRetryDelay:    cfg.Book.MaxRetryDelay,
			FailureThreshold: cfg.Book.FailureThreshold,
			EntryTTL:         cfg.Cache.EntryTTL,
		},
		sink,
		logg,
	)
	defer marketData.Close()

	for _, raw := range cfg.Symbols {
		symbol, err := domain.NewMarketSymbolFromString(raw)
		if err != nil {
			return err
		}
		if err := marketData.Subscribe(symbol); err != nil {
			return err
		}
		logg.Info("tracking symbol", zap.String("provider", cfg.Provider), zap.String("symbol", symbol.String()))
	}

	go marketData.RunCacheSweeper(ctx, cfg.Cache.SweepInterval)

	validation := &rpc.ValidationServiceConfig{AvailableProviders: []string{cfg.Provider}}

	grpcServer := rpc.NewGRPCServer(rpc.NewServer(cfg.Provider, marketData, validation, logg), logg)
	lis, err := net.Listen("tcp", cfg.Grpc.Addr)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Http.Addr,
		Handler:           rpc.NewHTTPHandler(marketData, validation, promclient.Handler(registry), logg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 2)
	go func() {
		logg.Info("grpc server listening", zap.String("addr", cfg.Grpc.Addr))
		errs <- grpcServer.Serve(lis)
	}()
	go func() {
		logg.Info("http server listening", zap.String("addr", cfg.Http.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case <-ctx.Done():
		logg.Info("shutdown signal received")
	case err := <-errs:
		logg.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	grpcServer.GracefulStop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Warn("http shutdown", zap.Error(err))
	}
	return nil
}
