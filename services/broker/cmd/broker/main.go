package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AfshinJalili/brokerage/libs/auth"
	"github.com/AfshinJalili/brokerage/libs/health"
	"github.com/AfshinJalili/brokerage/libs/httpmiddleware"
	"github.com/AfshinJalili/brokerage/libs/kafka"
	"github.com/AfshinJalili/brokerage/libs/logging"
	"github.com/AfshinJalili/brokerage/libs/metrics"
	"github.com/AfshinJalili/brokerage/libs/trace"
	"github.com/AfshinJalili/brokerage/services/broker/internal/config"
	"github.com/AfshinJalili/brokerage/services/broker/internal/consumer"
	"github.com/AfshinJalili/brokerage/services/broker/internal/handlers"
	"github.com/AfshinJalili/brokerage/services/broker/internal/rate"
	"github.com/AfshinJalili/brokerage/services/broker/internal/scheduler"
	"github.com/AfshinJalili/brokerage/services/broker/internal/security"
	"github.com/AfshinJalili/brokerage/services/broker/internal/service"
	"github.com/AfshinJalili/brokerage/services/broker/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type store interface {
	service.OrderStore
	service.AssetStore
	service.CustomerStore
	Ping(ctx context.Context) error
	UpsertCustomer(ctx context.Context, c storage.Customer) (*storage.Customer, error)
	Close()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTP(registry)
	brokerMetrics := service.NewMetrics(registry)

	ready := health.NewManager(false)

	st, err := openStore(cfg, logger, brokerMetrics)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	ready.AddCheck("storage", st.Ping)

	if err := bootstrapAdmin(context.Background(), st, cfg); err != nil {
		logger.Error("admin bootstrap failed", "error", err)
		os.Exit(1)
	}

	var producer kafka.Publisher = kafka.NopPublisher{}
	var consumerGroup *kafka.Consumer
	if cfg.Kafka.Enabled {
		syncProducer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID, logger, kafka.NewProducerMetrics(registry))
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		producer = kafka.NewDLQPublisher(syncProducer, syncProducer, cfg.Kafka.Topics.DeadLetter, logger)
		defer producer.Close()

		consumerGroup, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
		if err != nil {
			logger.Error("kafka consumer init failed", "error", err)
			os.Exit(1)
		}
		consumerGroup.WithDLQ(syncProducer, cfg.Kafka.Topics.DeadLetter).WithMaxAttempts(cfg.Kafka.MaxAttempts)
		defer consumerGroup.Close()
	}

	limiter, closeLimiter := newLimiter(cfg, logger)
	defer closeLimiter()

	orderSvc := service.NewOrderService(st, producer, logger, brokerMetrics, service.Options{
		CashAsset:      cfg.Broker.CashAsset,
		MatchBatchSize: cfg.Broker.MatchBatchSize,
		Topics: service.Topics{
			OrderCreated:   cfg.Kafka.Topics.OrderCreated,
			OrderCancelled: cfg.Kafka.Topics.OrderCancelled,
			OrderMatched:   cfg.Kafka.Topics.OrderMatched,
		},
	})
	assetSvc := service.NewAssetService(st, logger)
	authSvc := service.NewAuthService(st, service.TokenConfig{
		Secret: []byte(cfg.JWT.Secret),
		Issuer: cfg.JWT.Issuer,
		TTL:    cfg.JWT.TTL,
	}, logger, brokerMetrics)

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger, httpMetrics))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))
	if len(cfg.App.HTTP.CORSOrigins) > 0 {
		router.Use(httpmiddleware.CORS(cfg.App.HTTP.CORSOrigins))
	}

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handlers.New(orderSvc, assetSvc, authSvc, limiter, logger).Register(router, []byte(cfg.JWT.Secret))

	httpServer := &http.Server{
		Addr:         cfg.App.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go scheduler.NewSweeper(orderSvc, cfg.Broker.MatchInterval, logger).Run(bgCtx)

	if consumerGroup != nil {
		deposits := consumer.NewDepositConsumer(st, logger, brokerMetrics)
		go func() {
			logger.Info("deposit consumer starting", "topic", cfg.Kafka.Topics.Deposits)
			if err := consumerGroup.Consume(bgCtx, []string{cfg.Kafka.Topics.Deposits}, deposits); err != nil {
				logger.Error("kafka consumer error", "error", err)
			}
		}()
	}

	ready.SetReady(true)

	go func() {
		logger.Info("broker http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, bgCancel, logger)
}

func openStore(cfg *config.Config, logger *slog.Logger, m *service.Metrics) (store, error) {
	if cfg.DB.Driver == "memory" {
		logger.Warn("using in-memory storage; state is lost on restart")
		return storage.NewMemory(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	pg := storage.NewPostgres(pool, logger,
		storage.WithTxAttempts(cfg.Broker.TxMaxAttempts),
		storage.WithRetryHook(func(error) { m.IncStorageRetry() }),
	)
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return pg, nil
}

// bootstrapAdmin creates or refreshes the admin login when a password is configured.
func bootstrapAdmin(ctx context.Context, st store, cfg *config.Config) error {
	if cfg.Bootstrap.AdminPassword == "" {
		return nil
	}
	hash, err := security.HashPassword(cfg.Bootstrap.AdminPassword, security.DefaultArgon2Params())
	if err != nil {
		return err
	}
	_, err = st.UpsertCustomer(ctx, storage.Customer{
		Username:     cfg.Bootstrap.AdminUsername,
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
	})
	return err
}

func newLimiter(cfg *config.Config, logger *slog.Logger) (rate.Limiter, func()) {
	local := rate.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	if cfg.RateLimit.Backend != "redis" {
		return local, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RateLimit.RedisAddr,
		Password: cfg.RateLimit.RedisPassword,
		DB:       cfg.RateLimit.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, limiter will fall back per call", "error", err)
	}

	shared := rate.NewRedisLimiter(client, cfg.RateLimit.Limit, cfg.RateLimit.Window, cfg.RateLimit.Prefix)
	return rate.NewFallback(shared, local, logger), func() { _ = client.Close() }
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
