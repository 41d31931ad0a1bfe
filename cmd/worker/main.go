package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/smart-reminder/internal/clock"
	"github.com/benvon/smart-reminder/internal/config"
	"github.com/benvon/smart-reminder/internal/database"
	"github.com/benvon/smart-reminder/internal/logger"
	"github.com/benvon/smart-reminder/internal/notify"
	"github.com/benvon/smart-reminder/internal/queue"
	"github.com/benvon/smart-reminder/internal/telemetry"
	"github.com/benvon/smart-reminder/internal/workers"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	debugMode := cfg.WorkerDebugMode || *debugFlag

	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync(zapLogger)

	if cfg.RabbitMQURL == "" {
		zapLogger.Fatal("rabbitmq_url_required")
	}
	zapLogger.Info("starting_worker",
		zap.String("version", version),
		zap.Bool("debug_mode", debugMode),
		zap.Int("prefetch", cfg.RabbitMQPrefetch),
		zap.Duration("dlq_retention", cfg.DLQRetention),
		zap.String("dlq_gc_schedule", cfg.DLQGCSchedule),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTELEnabled && cfg.OTELEndpoint != "" {
		tp, err := telemetry.InitTracer(ctx, telemetry.Options{
			ServiceName: telemetry.WorkerServiceName,
			Version:     version,
			Endpoint:    cfg.OTELEndpoint,
		})
		if err != nil {
			zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
					zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
				}
			}()
		}
	}

	// The store is only used to skip deliveries for completed tasks
	var tasks workers.TaskGetter
	store, err := database.Open(ctx, cfg.DatabaseURL, zapLogger)
	if err != nil {
		zapLogger.Warn("database_unavailable_delivering_without_task_checks", zap.Error(err))
	} else {
		tasks = store
		defer func() {
			if err := store.Close(); err != nil {
				zapLogger.Warn("failed_to_close_database", zap.Error(err))
			}
		}()
	}

	jobQueue, err := queue.Connect(ctx, cfg.RabbitMQURL, 0, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_rabbitmq", zap.Error(err))
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_rabbitmq")

	notifier := notify.FromOptions(notify.Options{
		TelegramToken:   cfg.TelegramToken,
		TelegramChatID:  cfg.TelegramChatID,
		SlackWebhookURL: cfg.SlackWebhookURL,
	}, zapLogger)
	worker := workers.NewDeliveryWorker(notifier, jobQueue, tasks, clock.New(), zapLogger)

	gc := queue.NewGarbageCollector(jobQueue, cfg.DLQRetention, zapLogger)
	periodic := workers.NewPeriodic(cfg.Location, zapLogger)
	if err := periodic.Schedule("dlq_gc", cfg.DLQGCSchedule, gc.Collect); err != nil {
		zapLogger.Fatal("failed_to_schedule_dlq_gc", zap.Error(err))
	}
	periodicDone := make(chan struct{})
	go func() {
		defer close(periodicDone)
		periodic.Start(ctx)
	}()

	msgs, errs, err := jobQueue.Consume(ctx, cfg.RabbitMQPrefetch)
	if err != nil {
		zapLogger.Fatal("failed_to_start_consuming", zap.Error(err))
	}
	zapLogger.Info("worker_consuming", zap.String("queue", queue.DefaultQueueName))

	worker.Run(ctx, msgs, errs)

	stop()
	<-periodicDone
	zapLogger.Info("worker_exited")
}
