package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/smart-reminder/api/openapi"
	"github.com/benvon/smart-reminder/internal/clock"
	"github.com/benvon/smart-reminder/internal/config"
	"github.com/benvon/smart-reminder/internal/database"
	"github.com/benvon/smart-reminder/internal/handlers"
	"github.com/benvon/smart-reminder/internal/logger"
	"github.com/benvon/smart-reminder/internal/middleware"
	"github.com/benvon/smart-reminder/internal/notify"
	"github.com/benvon/smart-reminder/internal/queue"
	"github.com/benvon/smart-reminder/internal/scheduler"
	"github.com/benvon/smart-reminder/internal/services/calendar"
	"github.com/benvon/smart-reminder/internal/services/nlp"
	"github.com/benvon/smart-reminder/internal/services/tasks"
	"github.com/benvon/smart-reminder/internal/telemetry"
	"github.com/benvon/smart-reminder/internal/workers"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync(zapLogger)

	zapLogger.Info("starting_server",
		zap.String("version", version),
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("timezone", cfg.Timezone),
		zap.Bool("ai_enabled", cfg.AIEnabled),
		zap.Bool("notify_via_queue", cfg.NotifyViaQueue),
		zap.Bool("google_calendar_enabled", cfg.GoogleCalendarEnabled),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing := false
	if cfg.OTELEnabled {
		if cfg.OTELEndpoint == "" {
			zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		} else {
			tp, err := telemetry.InitTracer(ctx, telemetry.Options{
				ServiceName: telemetry.ServiceName,
				Version:     version,
				Endpoint:    cfg.OTELEndpoint,
			})
			if err != nil {
				zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
			} else {
				tracing = true
				zapLogger.Info("otel_tracer_initialized", zap.String("endpoint", cfg.OTELEndpoint))
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
						zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
					}
				}()
			}
		}
	}

	store, err := database.Open(ctx, cfg.DatabaseURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_open_database", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database", zap.Error(err))
		}
	}()
	zapLogger.Info("database_opened", zap.Bool("postgres", database.IsPostgresURL(cfg.DatabaseURL)))

	pol, err := cfg.Policy()
	if err != nil {
		zapLogger.Fatal("invalid_reminder_policy", zap.Error(err))
	}

	var jobQueue *queue.RabbitMQQueue
	if cfg.NotifyViaQueue {
		jobQueue, err = queue.Connect(ctx, cfg.RabbitMQURL, 0, zapLogger)
		if err != nil {
			zapLogger.Fatal("failed_to_connect_to_rabbitmq", zap.Error(err))
		}
		defer func() {
			if err := jobQueue.Close(); err != nil {
				zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
			}
		}()
		zapLogger.Info("connected_to_rabbitmq")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = middleware.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			zapLogger.Fatal("failed_to_connect_to_redis", zap.Error(err))
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
			}
		}()
		zapLogger.Info("connected_to_redis")
	}

	clk := clock.New()
	// The direct notifier backs the test endpoint so it reports channel errors synchronously
	directNotifier := notify.FromOptions(notifyOptions(cfg), zapLogger)
	notifier := directNotifier
	if jobQueue != nil {
		notifier = notify.NewQueueNotifier(jobQueue, clk.Now)
	}

	sched := scheduler.New(store, notifier, clk, zapLogger, scheduler.Options{
		MaxAttempts:    cfg.DeliveryMaxAttempts,
		InitialBackoff: cfg.DeliveryInitialBackoff,
		MaxBackoff:     cfg.DeliveryMaxBackoff,
	})
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zapLogger.Error("scheduler_stopped", zap.Error(err))
		}
	}()
	stats, err := sched.Rehydrate(ctx)
	if err != nil {
		zapLogger.Fatal("failed_to_rehydrate_reminders", zap.Error(err))
	}
	zapLogger.Info("reminders_rehydrated",
		zap.Int("armed", stats.Armed),
		zap.Int("missed", stats.Missed),
		zap.Int("voided", stats.Voided),
	)

	var primary nlp.Provider
	if cfg.AIEnabled {
		primary = nlp.NewOpenAIProvider(cfg.OpenAIKey, cfg.AIBaseURL, cfg.AIModel, zapLogger, debugMode)
	}
	resolver := nlp.NewResolver(primary, clk, cfg.Location, cfg.NLPTimeout, zapLogger)

	var calendarClient calendar.Client
	if cfg.GoogleCalendarEnabled {
		gc, err := calendar.NewFromFiles(ctx, cfg.GoogleCredsPath, cfg.GoogleTokenPath, cfg.GoogleCalendarID, cfg.Location, calendar.WithLogger(zapLogger))
		if err != nil {
			zapLogger.Warn("google_calendar_disabled", zap.Error(err))
		} else {
			calendarClient = gc
		}
	}

	service := tasks.NewService(store, resolver, pol, sched, clk, zapLogger, tasks.Options{
		Calendar:    calendarClient,
		RecentTasks: cfg.RecentTasks,
		SyncDays:    cfg.GoogleSyncDays,
	})

	periodic := workers.NewPeriodic(cfg.Location, zapLogger)
	if calendarClient != nil {
		if err := periodic.Every("calendar_sync", cfg.GoogleSyncInterval, func(ctx context.Context) error {
			_, err := service.SyncCalendar(ctx)
			return err
		}); err != nil {
			zapLogger.Fatal("failed_to_schedule_calendar_sync", zap.Error(err))
		}
	}
	periodicDone := make(chan struct{})
	go func() {
		defer close(periodicDone)
		periodic.Start(ctx)
	}()

	rateLimitMW, err := middleware.RateLimit(cfg.RateLimit, redisClient, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_create_rate_limiter", zap.Error(err))
	}

	healthChecker := handlers.NewHealthChecker(
		handlers.WithCheck("database", store.Ping),
		handlers.WithCheck("rabbitmq", queueCheck(jobQueue)),
		handlers.WithCheck("redis", redisCheck(redisClient)),
	)
	taskHandler := handlers.NewTaskHandler(service, zapLogger)
	notifyHandler := handlers.NewNotifyHandler(directNotifier, zapLogger)
	versionHandler := handlers.NewVersionHandler(version, commit)
	openAPIHandler := handlers.NewOpenAPIHandler(openapi.Spec)
	if err := openAPIHandler.Err(); err != nil {
		zapLogger.Warn("invalid_openapi_document", zap.Error(err))
	}

	// Middleware runs in registration order, first registered outermost
	r := mux.NewRouter()
	if tracing {
		r.Use(telemetry.Middleware(telemetry.ServiceName))
	}
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	r.Use(middleware.CORSFromEnv(cfg.FrontendURL))
	r.Use(middleware.RequestID)
	r.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	r.Use(middleware.ContentType)
	r.Use(middleware.Timeout(middleware.DefaultRequestTimeout))
	r.Use(middleware.ErrorHandler(zapLogger))
	r.Use(middleware.Logging(zapLogger))

	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods("GET")
	r.HandleFunc("/version", versionHandler.Version).Methods("GET")
	openAPIHandler.RegisterRoutes(r)

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	tasksRouter := apiRouter.PathPrefix("/tasks").Subrouter()
	tasksRouter.Use(rateLimitMW)
	taskHandler.RegisterRoutes(tasksRouter)

	legacyRouter := r.PathPrefix("").Subrouter()
	legacyRouter.Use(rateLimitMW)
	taskHandler.RegisterLegacyRoutes(legacyRouter)
	notifyHandler.RegisterRoutes(apiRouter, legacyRouter)

	// Preflight requests get their headers from the CORS middleware
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		zapLogger.Info("server_listening", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		zapLogger.Error("server_failed", zap.Error(err))
		stop()
	}

	zapLogger.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server_forced_to_shutdown", zap.Error(err))
	}
	sched.Close()
	<-schedDone
	<-periodicDone
	zapLogger.Info("server_exited")
}

func notifyOptions(cfg *config.Config) notify.Options {
	return notify.Options{
		TelegramToken:   cfg.TelegramToken,
		TelegramChatID:  cfg.TelegramChatID,
		SlackWebhookURL: cfg.SlackWebhookURL,
	}
}

func queueCheck(q *queue.RabbitMQQueue) handlers.CheckFunc {
	if q == nil {
		return nil
	}
	return q.HealthCheck
}

func redisCheck(client *redis.Client) handlers.CheckFunc {
	if client == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
