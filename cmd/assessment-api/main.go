// cmd/assessment-api/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"assessment-sync/internal/api"
	"assessment-sync/internal/backend"
	"assessment-sync/internal/common/aws"
	"assessment-sync/internal/common/camunda"
	"assessment-sync/internal/common/config"
	"assessment-sync/internal/common/database"
	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/common/observability"
	"assessment-sync/internal/notify"
	"assessment-sync/internal/search"
	"assessment-sync/internal/store"
	"assessment-sync/pkg/catalog"

	urs "assessment-sync/internal/workers/review/update-review-status"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	if err := cfg.ValidateServer(); err != nil {
		zapLog.Fatal("invalid configuration", zap.Error(err))
	}
	zapLog.Info("Starting assessment API...",
		zap.String("app", cfg.App.Name),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		zapLog.Fatal("catalog load failed", zap.Error(err))
	}
	zapLog.Info("Catalog loaded", zap.String("version", cat.Version), zap.Int("indicators", cat.Len()))

	checks := map[string]api.ReadinessCheck{}

	// --- PostgreSQL with retry ---
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		zapLog.Fatal("PostgreSQL init failed", zap.Error(err))
	}
	defer pg.Close()
	if err := retryWithBackoff(ctx, func() error { return pg.Ping(ctx) }, 5, 2*time.Second, zapLog, "PostgreSQL connection"); err != nil {
		zapLog.Fatal("PostgreSQL unreachable", zap.Error(err))
	}
	if err := pg.Migrate(ctx); err != nil {
		zapLog.Fatal("PostgreSQL migration failed", zap.Error(err))
	}
	checks["postgres"] = pg.Ping

	var st store.Store = store.NewPostgresStore(pg.DB, log)

	// --- Redis read-through cache ---
	if cfg.Cache.Enabled {
		rdb, err := database.NewRedis(cfg.Database.Redis)
		if err != nil {
			zapLog.Fatal("Redis init failed", zap.Error(err))
		}
		defer rdb.Close()
		if err := retryWithBackoff(ctx, func() error { return rdb.Ping(ctx) }, 5, 2*time.Second, zapLog, "Redis connection"); err != nil {
			zapLog.Fatal("Redis unreachable", zap.Error(err))
		}
		st = store.NewCachedStore(st, rdb.Cmdable(), config.GetDuration(cfg.Cache.TTL), cfg.Cache.Prefix, log)
		checks["redis"] = rdb.Ping
	}

	var opts []backend.Option

	// --- Elasticsearch reviewer index ---
	if cfg.Database.Elasticsearch.Enabled {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch, nil)
		if err != nil {
			zapLog.Fatal("Elasticsearch init failed", zap.Error(err))
		}
		if err := retryWithBackoff(ctx, func() error { return es.Ping(ctx) }, 5, 2*time.Second, zapLog, "Elasticsearch connection"); err != nil {
			zapLog.Fatal("Elasticsearch unreachable", zap.Error(err))
		}
		indexer := search.NewIndexer(es.Client, cfg.Database.Elasticsearch.Index, log)
		if err := indexer.EnsureIndex(ctx); err != nil {
			zapLog.Fatal("Elasticsearch index setup failed", zap.Error(err))
		}
		opts = append(opts, backend.WithIndexer(indexer))
		checks["elasticsearch"] = es.Ping
	}

	// --- AWS notifications ---
	sesCfg, snsCfg := cfg.Integrations.AWS.SES, cfg.Integrations.AWS.SNS
	if sesCfg.Enabled || snsCfg.Enabled {
		awsCfg, err := aws.LoadConfig(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("AWS config failed", zap.Error(err))
		}
		var email notify.EmailSender
		var events notify.EventPublisher
		if sesCfg.Enabled {
			email = aws.NewSESClient(awsCfg)
		}
		if snsCfg.Enabled {
			events = aws.NewSNSClient(awsCfg)
		}
		opts = append(opts, backend.WithNotifier(notify.NewNotifier(notify.Config{
			FromEmail:      sesCfg.FromEmail,
			ReviewTopicARN: snsCfg.ReviewTopicARN,
		}, email, events, log)))
	}

	// --- Zeebe review process ---
	var zeebeClient *camunda.Client
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(ctx, func() error {
			var e error
			zeebeClient, e = camunda.NewClientWithConfig(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				ConnectionTimeout:      10 * time.Second,
				RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return e
		}, 5, 2*time.Second, zapLog, "Zeebe connection")
		if err != nil {
			zapLog.Fatal("Zeebe init failed", zap.Error(err))
		}
		opts = append(opts, backend.WithReviewStarter(camunda.NewReviewStarter(zeebeClient, cfg.Camunda.ReviewProcessID, log)))
		checks["zeebe"] = zeebeClient.HealthCheck
	}

	svc := backend.NewService(st, cat, log, opts...)

	var workers []*camunda.CamundaWorker
	if zeebeClient != nil && config.IsWorkerEnabled(cfg, urs.TaskType) {
		wcfg := config.GetWorkerConfig(cfg, urs.TaskType)
		handler := urs.NewHandler(urs.LoadConfig(wcfg), svc, log)
		workers = append(workers, camunda.NewWorker(
			zeebeClient.GetClient(),
			urs.TaskType,
			wcfg.MaxJobsActive,
			config.GetDuration(wcfg.Timeout),
			handler,
			log,
		))
	} else {
		zapLog.Info("worker disabled", zap.String("taskType", urs.TaskType))
	}

	server := api.NewServer(svc, log, checks)
	if err := server.ListenAndServe(ctx, cfg.Server.Addr(),
		config.GetDuration(cfg.Server.ReadTimeout),
		config.GetDuration(cfg.Server.WriteTimeout),
	); err != nil {
		zapLog.Error("API server failed", zap.Error(err))
	}

	// --- Graceful Shutdown ---
	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop(shutdownCtx)
	}
	if zeebeClient != nil {
		if err := zeebeClient.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}

	zapLog.Info("Assessment API stopped gracefully")
}
