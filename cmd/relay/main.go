package main

import (
	"context"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/support-relay/internal/api/http"
	"github.com/spec-kit/support-relay/internal/api/http/handlers"
	"github.com/spec-kit/support-relay/internal/config"
	"github.com/spec-kit/support-relay/internal/contextstore"
	"github.com/spec-kit/support-relay/internal/jobs"
	"github.com/spec-kit/support-relay/internal/observability"
	"github.com/spec-kit/support-relay/internal/persistence"
	"github.com/spec-kit/support-relay/internal/platform"
	"github.com/spec-kit/support-relay/internal/ratelimit"
	"github.com/spec-kit/support-relay/internal/relay"
	"github.com/spec-kit/support-relay/internal/repository"
	"github.com/spec-kit/support-relay/internal/service"
	"github.com/spec-kit/support-relay/internal/timer"
	"github.com/spec-kit/support-relay/internal/ws"
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

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	eventRepo := repository.NewTicketEventRepository(pool)
	tokenRepo := repository.NewLinkTokenRepository(pool)
	refRepo := repository.NewMessageRefRepository(pool)

	metrics := observability.NewMetrics()
	store := service.NewTicketStore(service.TicketStoreDependencies{
		TicketRepo: ticketRepo,
		EventRepo:  eventRepo,
		Logger:     logger,
	})
	contexts := contextstore.NewStore(redis, logger)
	limiter := ratelimit.NewLimiter(redis, cfg.RateLimit, logger)

	queue := jobs.NewRedisQueue(redis.Client, logger)
	timers := timer.NewRegistry(queue, cfg.SLA, logger)

	// The concrete platform binding is injected here in production; the
	// logging stub keeps local development runnable.
	platformClient := platform.NewLoggingClient(logger)
	self, err := platformClient.Me(ctx)
	if err != nil {
		logger.Fatal("failed to resolve own platform identity", zap.Error(err))
	}

	manager := ws.NewManager(tokenRepo, cfg.WebSocket.HeartbeatInterval, cfg.WebSocket.DeadMultiplier, logger)
	manager.StartReaper(ctx)

	relayEngine := relay.New(relay.Dependencies{
		Store:    store,
		RefRepo:  refRepo,
		Platform: platformClient,
		Timers:   timers,
		Contexts: contexts,
		Push:     manager,
		Metrics:  metrics,
		Logger:   logger,
		Self:     self,
	})

	timers.BindHandlers(queue, timer.FireDeps{
		Store:    store,
		Platform: platformClient,
		Push:     manager,
		Logger:   logger,
	})
	queue.Start(ctx)
	defer queue.Stop()

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis)
	webhookHandler := handlers.NewWebhookHandler(relayEngine, limiter, logger)
	widgetHandler := handlers.NewWidgetHandler(store, tokenRepo, contexts, limiter, logger)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:  healthHandler,
		Webhook: webhookHandler,
		Widget:  widgetHandler,
	})

	gateway := ws.NewGateway(manager, relayEngine, limiter, logger)
	wsServer := &nethttp.Server{
		Addr:    cfg.WebSocket.Addr(cfg.App.Host),
		Handler: gateway.Handler(),
	}

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()
	go func() {
		if err := wsServer.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
			logger.Fatal("websocket listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = wsServer.Shutdown(context.Background())
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
