package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"saas-billing/internal/client"
	"saas-billing/internal/config"
	"saas-billing/internal/lock"
	"saas-billing/internal/logger"
	"saas-billing/internal/queue"
	"saas-billing/internal/repository"
	"saas-billing/internal/server"
	"saas-billing/internal/service"
	"saas-billing/internal/worker"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		fmt.Printf("Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(&cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := client.InitDBClient(cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}

	rdb, err := client.InitRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}
	defer rdb.Close()

	stripeClient := client.NewStripeClient(&cfg.Stripe)

	var mailClient client.MailClient
	if cfg.Postmark.ServerToken != "" {
		mailClient = client.NewPostmarkMailClient(&cfg.Postmark)
	} else {
		log.Warn().Msg("POSTMARK_SERVER_TOKEN not set, emails are only logged")
		mailClient = client.NewLogMailClient(log)
	}

	planRepo := repository.NewPlanRepository(db)
	userRepo := repository.NewUserRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)
	pendingCheckoutRepo := repository.NewPendingCheckoutRepository(rdb)
	notificationQueue := queue.NewRedisNotificationQueue(rdb)

	planService := service.NewPlanService(db, stripeClient, planRepo, log)
	billingService := service.NewBillingService(
		db,
		stripeClient,
		lock.NewRedisLocker(rdb),
		cfg.Stripe.CheckoutExpiry(),
		planRepo,
		userRepo,
		subscriptionRepo,
		paymentRepo,
		pendingCheckoutRepo,
		log,
	)
	webhookService := service.NewWebhookService(
		db,
		stripeClient,
		planRepo,
		subscriptionRepo,
		paymentRepo,
		webhookEventRepo,
		pendingCheckoutRepo,
		notificationQueue,
		log,
	)

	notificationWorker := worker.NewNotificationWorker(notificationQueue, userRepo, mailClient, worker.NotificationWorkerConfig{
		Workers:     cfg.Notification.Workers,
		MaxAttempts: cfg.Notification.MaxAttempts,
	}, log)
	notificationWorker.Start(ctx)

	sweeper := worker.NewExpirySweeper(subscriptionRepo, cfg.Sweeper.Schedule, log)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start expiry sweeper")
	}

	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port

	// Init HTTP server
	srv := server.NewServer(planService, billingService, webhookService, []byte(cfg.Auth.JWTSecret), log)

	log.Info().Str("addr", serverAddr).Str("environment", cfg.Environment.Name).Msg("starting HTTP server")
	go func() {
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	<-sigChan
	log.Info().Msg("signal received, starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	sweeper.Stop()
	notificationWorker.Stop()
}
