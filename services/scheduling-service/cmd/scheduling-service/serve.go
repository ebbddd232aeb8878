package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/auth"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/libs/grpcx"
	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/libs/kafkax"
	"github.com/md-rashed-zaman/clinicsched/libs/metrics"
	otelx "github.com/md-rashed-zaman/clinicsched/libs/otel"
	"github.com/md-rashed-zaman/clinicsched/libs/runtime"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/consumer"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/inbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/settings"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/sweeper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const maxBodyBytes = 1 << 20

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the outbox publisher and the background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := settings.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), st)
		},
	}
}

func serve(parent context.Context, st settings.Settings) error {
	logger := runtime.NewLogger(st.ServiceName)

	ctx, stop := runtime.SignalContext(parent)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(st.ServiceName))
	if err != nil {
		logger.Warn("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := openPool(ctx, st)
	if err != nil {
		return err
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg, "clinic")

	a := newApp(pool, st, logger, collector)
	defer a.booking.Wait()

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}

	if st.KafkaBrokers != "" {
		publisher := outbox.NewPublisher(pool, a.outbox, logger, collector, outbox.PublisherConfig{
			Brokers:   st.KafkaBrokers,
			PollEvery: st.OutboxPoll,
			BatchSize: st.OutboxBatch,
			Retention: st.OutboxRetention,
		})
		go publisher.Run(ctx)

		statusConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers: st.KafkaBrokers,
			GroupID: st.KafkaGroupID,
			Topic:   st.StatusTopic,
		}, consumer.StatusCommandHandler(a.booking, logger))
		go statusConsumer.Run(ctx)

		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(st.KafkaBrokers)})
	} else {
		logger.Warn("KAFKA_BROKERS not set; outbox events stay unpublished and status commands are not consumed")
	}

	if st.NoShowSweepInterval > 0 {
		worker := sweeper.NewWorker(a.booking, logger, sweeper.Config{
			Interval:  st.NoShowSweepInterval,
			Grace:     st.NoShowGrace,
			BatchSize: st.NoShowBatch,
		})
		go worker.Run(ctx)
	}

	limiter, redisCheck, closeRedis := rateLimiter(st, logger)
	defer closeRedis()
	if redisCheck != nil {
		checks = append(checks, *redisCheck)
	}

	var keys auth.KeySource
	if st.AuthJWKSURL != "" {
		keys = auth.NewJWKSClient(st.AuthJWKSURL, 5*time.Minute)
	}
	verifier := auth.NewVerifier(st.AuthSecret, keys)

	api := http.NewServeMux()
	handlers.Register(api,
		handlers.NewAvailabilityHandler(a.availability, st.Location, logger),
		handlers.NewAppointmentHandler(a.booking, logger),
		collector,
	)

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", collector.Handler())
	mux.Handle("/api/", verifier.ActorMiddleware(httpx.ActorHeader, st.AuthRequired, logger)(api))

	h := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{AllowedOrigins: st.CORSOrigins}),
		limiter,
		httpx.WithBodyLimit(maxBodyBytes),
		httpx.WithTimeout(st.RequestTimeout),
	)
	h = otelhttp.NewHandler(h, "scheduling")

	grpcServer, health := grpcx.NewServer()
	health.SetServingStatus(st.ServiceName, healthpb.HealthCheckResponse_SERVING)
	lis, err := net.Listen("tcp", ":"+st.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              ":" + st.Port,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", st.Port, "grpc_port", st.GRPCPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", "err", err)
		stop()
	}

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcServer.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// rateLimiter prefers the shared Redis window so limits hold across
// replicas, and falls back to the in-process limiter without REDIS_ADDR.
func rateLimiter(st settings.Settings, logger *slog.Logger) (httpx.Middleware, *runtime.ReadyCheck, func()) {
	if st.RedisAddr == "" {
		return httpx.NewRateLimiter(st.RateLimit, st.RateWindow).Middleware(), nil, func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: st.RedisAddr})
	limiter := httpx.NewRedisRateLimiter(rdb, st.RateLimit, st.RateWindow, st.ServiceName+":ratelimit")
	check := &runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
	return limiter.Middleware(logger, st.RateFailOpen), check, func() { _ = rdb.Close() }
}
