package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/support-pipeline/internal/api/http"
	"github.com/spec-kit/support-pipeline/internal/api/http/handlers"
	"github.com/spec-kit/support-pipeline/internal/auth"
	"github.com/spec-kit/support-pipeline/internal/config"
	"github.com/spec-kit/support-pipeline/internal/events"
	"github.com/spec-kit/support-pipeline/internal/observability"
	"github.com/spec-kit/support-pipeline/internal/persistence"
	"github.com/spec-kit/support-pipeline/internal/queue"
	"github.com/spec-kit/support-pipeline/internal/repository"
	"github.com/spec-kit/support-pipeline/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	rdb, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()
	producer := queue.NewProducer(rdb.Client, cfg.Queue, logger)

	dispatcher := events.NewInMemoryDispatcher(logger)
	service.NewNotificationService(dispatcher, logger, metrics).RegisterHandlers()

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:   repository.NewTicketRepository(pg.Pool),
		CustomerRepo: repository.NewCustomerRepository(pg.Pool),
		MessageRepo:  repository.NewMessageRepository(pg.Pool),
		Dispatcher:   dispatcher,
		Escalations:  producer,
	}, logger)

	pushVerifier := auth.NewPushTokenVerifier(cfg.Webhook.PushSecret, cfg.Webhook.PubSubAudience)
	twilioValidator := auth.NewTwilioValidator(cfg.Webhook.TwilioAuthToken)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, 30*time.Second)

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, rdb, metrics)
	webhooksHandler := handlers.NewWebhooksHandler(producer, pushVerifier, twilioValidator, logger)
	ticketsHandler := handlers.NewTicketsHandler(ticketService)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:   healthHandler,
		Webhooks: webhooksHandler,
		Tickets:  ticketsHandler,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
