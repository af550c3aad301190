package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/harborwave/humanizer/internal/config"
	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/engine/controlplane"
	"github.com/harborwave/humanizer/internal/engine/gateway"
	"github.com/harborwave/humanizer/internal/engine/report"
	"github.com/harborwave/humanizer/internal/engine/statesync"
	"github.com/harborwave/humanizer/internal/engine/tracker"
	"github.com/harborwave/humanizer/internal/pkg/logger"
	"github.com/harborwave/humanizer/internal/repository/postgres"
)

func main() {
	logger.Info("starting humanizer control plane")

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

	logStore := tracker.NewVariationLogStore(db)
	reportBuilder := report.NewBuilder(logStore, logStore, func() int64 { return time.Now().Unix() })

	var webhookHandler *gateway.WebhookHandler
	if cfg.Gateway.WebhookSecret != "" || cfg.Gateway.SQSQueueURL == "" {
		// The webhook applies delivery events directly through the status
		// updater; nothing here publishes them to SQS.
		updater := tracker.NewPostgresStatusUpdater(db)
		webhookHandler = gateway.NewWebhookHandler([]byte(cfg.Gateway.WebhookSecret), directSink{updater: updater})
	}

	apiServer := controlplane.NewServer(sync, reportBuilder, webhookHandler)

	addr := cfg.Server.GetHost() + ":" + strconv.Itoa(cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: apiServer.Router()}

	go func() {
		logger.Info("control plane listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err.Error())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down control plane")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err.Error())
	}
}

// directSink applies a delivery event synchronously, used when no async
// queue is configured between the webhook receiver and the status store.
type directSink struct {
	updater *tracker.PostgresStatusUpdater
}

func (s directSink) Publish(evt domain.DeliveryEvent) {
	_ = s.updater.ApplyDeliveryEvent(context.Background(), evt)
}
