package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/database"
	"github.com/example/storefront/internal/handlers"
	"github.com/example/storefront/internal/logger"
	"github.com/example/storefront/internal/metrics"
	"github.com/example/storefront/internal/middleware"
	"github.com/example/storefront/internal/repository"
	"github.com/example/storefront/internal/routes"
	"github.com/example/storefront/internal/services"
	"github.com/example/storefront/internal/settings"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "storefront: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	decimal.MarshalJSONWithoutQuotes = true

	db, err := database.Connect(cfg.DatabaseURL, cfg.IsProduction(), log)
	if err != nil {
		return err
	}
	repo := repository.NewGorm(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	guard := services.NoopChargeGuard()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		guard = services.NewRedisChargeGuard(rdb, cfg.ChargeLockTTL)
	} else {
		log.Warn("REDIS_ADDR not set, charge deduplication relies on row locks only")
	}

	dispatcherCfg := services.DispatcherConfig{
		Admin: services.NewTelegramService(services.TelegramConfig{
			BotToken:    cfg.TelegramBotToken,
			AdminChatID: cfg.TelegramAdminChat,
		}, log),
		Logger:  log,
		Metrics: m,
		Timeout: cfg.NotifyTimeout,
	}
	if cfg.SMTPHost != "" {
		dispatcherCfg.Mailer = services.NewSMTPMailer(services.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}
	if brokers := services.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		publisher := services.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn("kafka writer close failed", zap.Error(err))
			}
		}()
		dispatcherCfg.Events = publisher
	}
	dispatcher := services.NewDispatcher(dispatcherCfg)
	// Registered after the publisher close so deliveries drain first.
	defer dispatcher.Wait()

	ledger := services.NewLedger(log, m)
	recon := services.NewReconciliationService(services.ReconciliationDeps{
		Repo: repo,
		Gateway: services.NewCardGateway(services.GatewayConfig{
			BaseURL:   cfg.GatewayBaseURL,
			SecretKey: cfg.GatewaySecretKey,
			Timeout:   cfg.GatewayTimeout,
		}, log),
		Guard:    guard,
		Ledger:   ledger,
		Notifier: dispatcher,
		Logger:   log,
		Metrics:  m,
	})
	checkout := services.NewCheckoutService(repo, ledger, dispatcher, log, m)

	app := fiber.New(fiber.Config{
		AppName:      "Storefront",
		ErrorHandler: handlers.ErrorHandler(log),
	})
	app.Use(middleware.RequestLogger(log, m))
	app.Use(recover.New())

	routes.Register(app, routes.Deps{
		Config:         cfg,
		Repo:           repo,
		Checkout:       checkout,
		Reconciliation: recon,
		Settings:       settings.NewService(repo, cfg.SettingsTTL),
		Logger:         log,
		Metrics:        m,
		Gatherer:       reg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", zap.String("port", cfg.AppPort), zap.String("env", cfg.AppEnv))
		if err := app.Listen(":" + cfg.AppPort); err != nil {
			return fmt.Errorf("fiber.Listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
