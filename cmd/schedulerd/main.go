package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/chime/internal/api"
	"github.com/lalithlochan/chime/internal/circuitbreaker"
	"github.com/lalithlochan/chime/internal/config"
	"github.com/lalithlochan/chime/internal/db"
	"github.com/lalithlochan/chime/internal/dispatch"
	"github.com/lalithlochan/chime/internal/metrics"
	"github.com/lalithlochan/chime/internal/observ"
	"github.com/lalithlochan/chime/internal/redis"
	"github.com/lalithlochan/chime/internal/scheduler"
	"github.com/lalithlochan/chime/internal/sqs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting chime scheduler",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	repo := db.NewRepository(database, logger)
	targetStore := db.NewTargetStore(database, logger)
	subjectStore := db.NewSubjectStore(database, logger)

	// Redis guards are optional: without them dispatch runs without
	// dedupe and throttling, which is acceptable in development.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, dispatch dedupe and throttling disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		redisClient = nil
	}

	var guard dispatch.Guard
	var throttle dispatch.Throttle
	if redisClient != nil {
		defer redisClient.Close()
		guard = redis.NewDispatchGuard(redisClient, logger)
		if cfg.OwnerRateLimit > 0 {
			throttle = redis.NewOwnerThrottle(redisClient, logger, redis.ThrottleConfig{
				Limit:  cfg.OwnerRateLimit,
				Window: cfg.OwnerRateWindow,
			})
		}
	}

	sender, breakers, err := buildSender(ctx, cfg, logger)
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(targetStore, subjectStore, sender, guard, throttle, dispatch.Config{
		Concurrency:    cfg.Concurrency,
		AttemptTimeout: cfg.AttemptTimeout,
	}, logger)

	var outcomes scheduler.OutcomePublisher
	if cfg.OutcomesQueueURL != "" {
		publisher, err := sqs.NewPublisher(ctx, sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.OutcomesQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs publisher unavailable, outcome events disabled",
				zap.Error(err),
			)
		} else {
			defer publisher.Close()
			outcomes = publisher
		}
	}

	loop := scheduler.New(repo, dispatcher, outcomes, scheduler.SystemClock, scheduler.Config{
		TickInterval:  cfg.TickInterval,
		BatchSize:     cfg.BatchSize,
		GraceWindow:   cfg.GraceWindow,
		InFlightGrace: cfg.InFlightGrace,
		SweepInterval: cfg.SweepInterval,
	}, logger)

	loopCtx, loopCancel := context.WithCancel(context.Background())
	defer loopCancel()
	go loop.Start(loopCtx)

	logger.Info("scheduler loop started")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, repo, loop, breakers)
	handler.Routes(r)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Stop claiming new work, then drain HTTP.
		loopCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildSender assembles the channel senders, each behind its own circuit
// breaker, routed by a MultiSender. Unconfigurable channels are skipped
// rather than fatal: push is always available, AWS channels depend on the
// environment.
func buildSender(ctx context.Context, cfg *config.Config, logger *zap.Logger) (dispatch.Sender, []*circuitbreaker.CircuitBreaker, error) {
	var senders []dispatch.Sender
	var breakers []*circuitbreaker.CircuitBreaker

	wrap := func(name string, s dispatch.Sender) {
		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(name), logger)
		breakers = append(breakers, breaker)
		senders = append(senders, dispatch.NewProtectedSender(s, breaker, logger))
	}

	pushSender := dispatch.NewPushSender(logger, dispatch.PushConfig{Timeout: cfg.PushTimeout})
	wrap(db.ChannelPush, pushSender)

	sesSender, err := dispatch.NewSESSender(ctx, dispatch.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		logger.Warn("SES sender unavailable, email notifications disabled", zap.Error(err))
	} else {
		wrap(db.ChannelEmail, sesSender)
	}

	snsSender, err := dispatch.NewSNSSender(ctx, dispatch.SNSConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		logger.Warn("SNS sender unavailable, SMS notifications disabled", zap.Error(err))
	} else {
		wrap(db.ChannelSMS, snsSender)
	}

	logger.Info("initialized multi-channel notification system",
		zap.Bool("push_enabled", true),
		zap.Bool("email_enabled", sesSender != nil),
		zap.Bool("sms_enabled", snsSender != nil),
	)

	return dispatch.NewMultiSender(logger, senders...), breakers, nil
}
