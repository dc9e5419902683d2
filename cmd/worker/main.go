package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spec-kit/support-pipeline/internal/agent"
	"github.com/spec-kit/support-pipeline/internal/config"
	"github.com/spec-kit/support-pipeline/internal/events"
	"github.com/spec-kit/support-pipeline/internal/observability"
	"github.com/spec-kit/support-pipeline/internal/persistence"
	"github.com/spec-kit/support-pipeline/internal/queue"
	"github.com/spec-kit/support-pipeline/internal/repository"
	"github.com/spec-kit/support-pipeline/internal/service"
	"github.com/spec-kit/support-pipeline/internal/worker"
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	rdb, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	pool := pg.PoolHandle()
	customerRepo := repository.NewCustomerRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)

	dispatcher := events.NewInMemoryDispatcher(logger)
	metrics := observability.NewMetrics()
	service.NewNotificationService(dispatcher, logger, metrics).RegisterHandlers()

	producer := queue.NewProducer(rdb.Client, cfg.Queue, logger)
	consumer := queue.NewConsumer(rdb.Client, cfg.Queue, logger)

	identityService := service.NewIdentityService(customerRepo, dispatcher, logger)
	sessionService := service.NewSessionService(service.SessionDependencies{
		ConversationRepo: conversationRepo,
		MessageRepo:      messageRepo,
		TicketRepo:       ticketRepo,
		Dispatcher:       dispatcher,
	}, cfg.Session.ReuseWindow(), logger)
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:   ticketRepo,
		CustomerRepo: customerRepo,
		MessageRepo:  messageRepo,
		Dispatcher:   dispatcher,
		Escalations:  producer,
	}, logger)
	dedupGuard := service.NewDedupGuard(messageRepo, logger)
	responder := agent.NewHTTPResponder(cfg.Agent, logger)

	ingestWorker := worker.NewIngestWorker(worker.Dependencies{
		Source:      consumer,
		DeadLetters: producer,
		Dedup:       dedupGuard,
		Identity:    identityService,
		Sessions:    sessionService,
		Tickets:     ticketService,
		Messages:    messageRepo,
		Responder:   responder,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
	}, cfg.Worker, cfg.Agent, logger)

	if err := ingestWorker.Run(ctx); err != nil {
		logger.Fatal("worker stopped", zap.Error(err))
	}
	logger.Info("worker exited")
}
