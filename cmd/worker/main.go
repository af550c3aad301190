package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/harborwave/humanizer/internal/config"
	"github.com/harborwave/humanizer/internal/engine/campaign"
	"github.com/harborwave/humanizer/internal/engine/gateway"
	"github.com/harborwave/humanizer/internal/engine/quota"
	"github.com/harborwave/humanizer/internal/engine/schedule"
	"github.com/harborwave/humanizer/internal/engine/statesync"
	"github.com/harborwave/humanizer/internal/engine/tracker"
	"github.com/harborwave/humanizer/internal/pkg/logger"
	"github.com/harborwave/humanizer/internal/repository/postgres"
)

func main() {
	logger.Info("starting humanizer worker")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err.Error())
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("failed to open database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		logger.Error("failed to ping database", "error", err.Error())
		os.Exit(1)
	}
	cancel()
	logger.Info("connected to database")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("invalid redis URL", "error", err.Error())
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
	}

	campaignRepo := postgres.NewCampaignRepo(db)
	sync := statesync.NewSynchronizer(campaignRepo, redisClient, db)

	queueRepo := schedule.NewPostgresRepository(db)
	bp := schedule.NewBackpressureMonitor(queueRepo, int64(cfg.Scheduler.MaxQueueDepth))
	recovery := schedule.NewRecoveryWorker(queueRepo)

	var ledger *quota.Ledger
	if redisClient != nil {
		ledger = quota.NewLedger(redisClient, nil)
	}

	gw := gateway.NewHTTPGateway(cfg.Gateway.Name, cfg.Gateway.Endpoint, &http.Client{Timeout: cfg.Gateway.Timeout()})
	gwFactory := gateway.SingleGatewayFactory{GW: gw}

	varLog := tracker.NewVariationLogStore(db)

	dispatchPool := schedule.NewPool(queueRepo, gwFactory, ledger, bp, varLog, redisClient, db, schedule.Config{
		NumWorkers: cfg.Scheduler.DispatchWorkers,
		BatchSize:  cfg.Scheduler.DispatchBatchSize,
	})

	scheduler := campaign.New(sync, queueRepo, nil, nil)
	scheduler.SetReconcileCounter(varLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := scheduler.Restore(ctx); err != nil {
		logger.Error("failed to restore running campaigns", "error", err.Error())
	}

	go bp.Start(ctx)
	go recovery.Start(ctx)
	dispatchPool.Start(ctx)
	go scheduler.Start(ctx)

	if cfg.Gateway.SQSQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Gateway.AWSRegion))
		if err != nil {
			logger.Error("failed to load AWS config", "error", err.Error())
		} else {
			sqsClient := sqs.NewFromConfig(awsCfg)
			updater := tracker.NewPostgresStatusUpdater(db)
			consumer := tracker.NewConsumer(sqsClient, cfg.Gateway.SQSQueueURL, updater)
			consumer.Start(ctx)
		}
	}

	logger.Info("worker started", "dispatch_workers", cfg.Scheduler.DispatchWorkers)

	<-ctx.Done()
	logger.Info("shutting down worker")
	dispatchPool.Wait()
}
