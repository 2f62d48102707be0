// Server runs the check-in API, the deadline scheduler, the alert fanout workers and the
// reconciliation sweep in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	grpchealth "google.golang.org/grpc/health"

	alertservice "safecircle/internal/alert/service"
	attentionservice "safecircle/internal/attention/service"
	"safecircle/internal/audit"
	checkinservice "safecircle/internal/checkin/service"
	"safecircle/internal/clock"
	"safecircle/internal/config"
	"safecircle/internal/events"
	"safecircle/internal/events/producer"
	"safecircle/internal/fanout"
	"safecircle/internal/health"
	"safecircle/internal/idempotency"
	"safecircle/internal/logging"
	responseservice "safecircle/internal/response/service"
	"safecircle/internal/scheduler"
	"safecircle/internal/security"
	"safecircle/internal/server"
	"safecircle/internal/server/handler"
	"safecircle/internal/server/middleware"
	"safecircle/internal/telemetry"
	telemetryotel "safecircle/internal/telemetry/otel"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	clk := clock.Real{}

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			logger.Warn("otel shutdown", zap.Error(err))
		}
	}()
	metrics, err := telemetry.NewMetrics(providers.MeterProvider)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	if st.conn != nil {
		defer st.conn.Close()
	}

	dir, err := newDirectory(cfg)
	if err != nil {
		return fmt.Errorf("profile directory: %w", err)
	}
	senders, err := newSenders(cfg, logger)
	if err != nil {
		return fmt.Errorf("notification senders: %w", err)
	}
	planner, err := newPlanner(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// State-change events go to Kafka when configured and always to the OTel log pipeline.
	sinks := events.Multi{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.EventsKafkaTopic)
	if kafkaProducer != nil {
		sinks = append(sinks, kafkaProducer)
		defer func() { _ = kafkaProducer.Close() }()
	}
	publisher := events.NewAsync(sinks, logger)
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := publisher.Drain(dctx); err != nil {
			logger.Warn("event drain incomplete", zap.Error(err))
		}
	}()

	dispatcher := fanout.NewDispatcher(dir, planner, senders, st.deliveries, clk, fanout.Config{
		RecipientConcurrency: cfg.FanoutRecipientConcurrency,
		MaxAttempts:          cfg.FanoutMaxAttempts,
		ChannelTimeout:       cfg.FanoutChannelTimeout,
		DeliveryLease:        cfg.FanoutDeliveryLease,
		InitialBackoff:       cfg.FanoutInitialBackoff,
		MaxBackoff:           cfg.FanoutMaxBackoff,
	}, fanout.WithMetrics(metrics), fanout.WithLogger(logger))
	queue := fanout.NewQueue(dispatcher, fanout.QueueConfig{
		Workers:        cfg.FanoutWorkers,
		Size:           cfg.FanoutQueueSize,
		EnqueueTimeout: cfg.FanoutEnqueueTimeout,
	}, logger)

	// The scheduler fires into the escalator, which itself cancels timers on the scheduler.
	var escalator *alertservice.Escalator
	sched := scheduler.New(func(ctx context.Context, checkInID string, version int64) error {
		return escalator.FireDeadline(ctx, checkInID, version)
	}, clk, scheduler.Config{
		Shards:               cfg.SchedulerShards,
		PollInterval:         cfg.SchedulerPollInterval,
		RetryInitialInterval: cfg.SchedulerRetryInitial,
		RetryMaxInterval:     cfg.SchedulerRetryMax,
		RetryErrorAfter:      cfg.SchedulerRetryErrorAfter,
	}, scheduler.WithMetrics(metrics), scheduler.WithLogger(logger))

	checkins := checkinservice.New(st.checkins, clk,
		checkinservice.WithDeadlines(sched),
		checkinservice.WithEvents(publisher),
		checkinservice.WithMetrics(metrics),
		checkinservice.WithLogger(logger),
		checkinservice.WithMaxDuration(cfg.MaxCheckInDuration))
	escalator = alertservice.New(checkins, st.alerts, queue, clk,
		alertservice.WithDirectory(dir),
		alertservice.WithDeadlines(sched),
		alertservice.WithEvents(publisher),
		alertservice.WithMetrics(metrics),
		alertservice.WithLogger(logger))
	ledger := responseservice.New(st.responses, st.alerts, clk,
		responseservice.WithDedupWindow(cfg.ResponseDedupWindow),
		responseservice.WithEvents(publisher),
		responseservice.WithMetrics(metrics),
		responseservice.WithLogger(logger))
	monitor := attentionservice.New(st.attention, dir, queue, clk,
		attentionservice.WithDirectory(dir),
		attentionservice.WithEvents(publisher),
		attentionservice.WithMetrics(metrics),
		attentionservice.WithLogger(logger))
	sweeper := scheduler.NewSweeper(sched, st.checkins, st.alerts, escalator, clk, scheduler.SweepConfig{
		Schedule:         cfg.SweepSchedule,
		Batch:            cfg.SweepBatch,
		FanoutStaleAfter: cfg.FanoutStaleAfter,
	}, logger)

	signer, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return fmt.Errorf("jwt keys: %w", err)
	}
	tokens := security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), clk)

	var (
		idemStore   idempotency.Store
		redisClient redis.UniversalClient
	)
	if cfg.RedisURL != "" {
		rs, err := idempotency.NewRedisStoreFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = rs.Client().Close() }()
		idemStore, redisClient = rs, rs.Client()
	} else {
		idemStore = idempotency.NewMemoryStore(time.Minute)
	}
	var lim *limiter.Limiter
	if cfg.RateLimit != "" {
		lim, err = middleware.NewLimiter(cfg.RateLimit, redisClient)
		if err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	var pinger health.Pinger
	if st.conn != nil {
		pinger = st.conn
	}
	checker := health.NewChecker(pinger, planner)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	api := handler.New(handler.Deps{
		CheckIns:  checkins,
		Escalator: escalator,
		Alerts:    st.alerts,
		Responses: ledger,
		Attention: monitor,
		Circle:    dir,
		Logger:    logger,
	})
	router := server.NewRouter(server.RouterConfig{
		API:     api,
		Tokens:  tokens,
		Limiter: lim,
		Idempotency: idempotency.Config{
			Store: idemStore,
			TTL:   cfg.IdempotencyTTL,
		},
		Audit:    audit.NewLogger(st.audit, audit.ContextIP, clk, logger),
		Health:   checker,
		Registry: registry,
		Logger:   logger,
	})

	// Deadlines lost in a restart are re-armed before any traffic is accepted as ready.
	if err := sched.Recover(ctx, st.checkins); err != nil {
		return err
	}
	checker.MarkReady()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return queue.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })

	httpSrv := server.NewHTTPServer(cfg.HTTPAddr, router)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	if cfg.GRPCAddr != "" {
		hs := grpchealth.NewServer()
		grpcSrv := server.NewGRPCServer(hs, logger)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		g.Go(func() error { return checker.Watch(gctx, hs, 5*time.Second, logger) })
		g.Go(func() error {
			logger.Info("grpc health server listening", zap.String("addr", cfg.GRPCAddr))
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}
