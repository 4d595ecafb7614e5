package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exchange/internal/config"
	"exchange/internal/handler"
	"exchange/internal/infrastructure/cache"
	"exchange/internal/infrastructure/database"
	"exchange/internal/infrastructure/lock"
	"exchange/internal/infrastructure/mq"
	"exchange/internal/job"
	"exchange/internal/repository"
	"exchange/internal/service"
	"exchange/pkg/idgen"
	"exchange/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("EXCHANGE_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	if err := idgen.Init(1); err != nil {
		log.Fatal("init id generator", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}

	redisClient, err := cache.NewRedis(ctx, &cfg.Redis)
	if err != nil {
		log.Fatal("connect redis", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var publisher mq.Publisher = mq.NopPublisher{}
	if cfg.Kafka.Enabled {
		kafka, err := mq.NewKafkaPublisher(&cfg.Kafka)
		if err != nil {
			log.Fatal("connect kafka", zap.Error(err))
		}
		publisher = kafka
	}
	defer publisher.Close()

	users := repository.NewUserRepository(db)

	feeRecipient, err := service.ResolveFeeRecipient(ctx, users, cfg.Business.FeeRecipient)
	if err != nil {
		log.Fatal("resolve fee recipient", zap.Error(err))
	}
	feePolicy, err := service.NewFeePolicy(cfg.Business.Fee)
	if err != nil {
		log.Fatal("build fee policy", zap.Error(err))
	}
	if !feeRecipient.Configured() {
		log.Warn("no fee recipient configured, conversion fees will not be credited to any account")
	}

	ledger := service.NewLedger(db, log, service.LedgerOptions{
		MaxPageSize: cfg.Business.MaxPageSize,
		EventsTopic: cfg.Kafka.Topic.LedgerEvents,
		KeyLocker:   lock.NewKeyLocker(redisClient, time.Duration(cfg.Redis.LockTTLSeconds)*time.Second),
	})
	transfers := service.NewTransferService(ledger, users, log)

	h := handler.NewHandler(handler.Services{
		Wallets:   ledger.Wallets(),
		Exchange:  service.NewExchangeService(ledger, feePolicy, feeRecipient, cfg.Business.MinDepositCents, log),
		Transfers: transfers,
		Invoices:  service.NewInvoiceService(transfers, users, log),
		Admin:     service.NewAdminService(ledger, users, log),
		Statement: service.NewStatementService(ledger),
		Users:     users,
	}, log)

	outboxSender := job.NewOutboxSender(db, publisher, log, job.OutboxSenderOptions{
		Interval:      time.Duration(cfg.Business.Outbox.IntervalMillis) * time.Millisecond,
		BatchSize:     cfg.Business.Outbox.BatchSize,
		MaxRetryCount: cfg.Business.Outbox.MaxRetryCount,
	})
	go outboxSender.Start(ctx)

	compensateJob := job.NewOutboxCompensateJob(db, log, time.Duration(cfg.Business.Outbox.CompensateSeconds)*time.Second)
	go compensateJob.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.SetupRouter(h, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http server listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("fee_policy", feePolicy.Name()),
			zap.Int64("fee_recipient_user_id", feeRecipient.UserID))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}
