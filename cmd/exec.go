package cmd

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"queue-system/config"
	"queue-system/internal/handlers"
	"queue-system/internal/network"
	"queue-system/internal/services"
	"queue-system/internal/storage"
	_ "queue-system/migrations"
	"queue-system/monitoring"
	"queue-system/security"
	"queue-system/utils"
)

func Start() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if !cfg.IsProduction() {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	app := pocketbase.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// Initialize Redis
	var redisClient *redis.Client
	if cfg.StorageDriver == config.StorageRedis {
		redisClient, err = utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		backend, err := newBackend(gctx, cfg, app, redisClient)
		if err != nil {
			return err
		}
		guarded := storage.NewGuarded(backend, utils.NewCircuitBreaker(cfg.StorageDriver))

		// The limiter only talks to Redis when the Redis driver is configured.
		var limiterStore redis.Cmdable
		if redisClient != nil {
			limiterStore = redisClient
		}
		limiter := security.NewRateLimiter(limiterStore, cfg.RateLimitPerMinute)

		sessions := network.NewSessions(cfg.SessionSecret, cfg.SessionTTL)
		hubOpts := []network.HubOption{
			network.WithLimiter(limiter),
			network.WithOutboxSize(cfg.OutboxSize),
		}
		if cfg.PubNubPublishKey != "" {
			pnConfig := pubnub.NewConfig()
			pnConfig.PublishKey = cfg.PubNubPublishKey
			pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
			pnConfig.SecretKey = cfg.PubNubSecretKey

			mirror := network.NewPubNubMirror(pubnub.NewPubNub(pnConfig), cfg.OutboxSize*4)
			go mirror.Run(gctx)
			hubOpts = append(hubOpts, network.WithMirror(mirror))
		}
		hub := network.NewHub(sessions, hubOpts...)

		// Initialize services
		users := services.NewUserService(guarded, nil)
		queueService := services.NewQueueService(users, guarded, hub,
			services.WithSecretCost(cfg.ManagerSecretCost))
		dispatcher := services.NewDispatcher(queueService, cfg.DebugErrors)

		if rs, ok := backend.(*storage.Redis); ok {
			go restoreQueueState(gctx, rs, queueService)
		}

		if cfg.EnableMetrics {
			go monitoring.NewMonitor(queueService, cfg.CleanupInterval).Run(gctx)
			startMetricsServer(gctx, g, cfg.MetricsPort, limiter.AntiBotMiddleware())
		}

		queueHandler := handlers.NewQueueHandler(queueService, hub, dispatcher, sessions, guarded, cfg.IsProduction())

		e.Router.GET("/ws", queueHandler.Socket)
		e.Router.GET("/api/v1/session", queueHandler.Session)
		e.Router.GET("/api/v1/queues/{queueId}", queueHandler.GetQueue)
		e.Router.GET("/api/v1/admin/queue-dashboard", queueHandler.Dashboard).Bind(apis.RequireSuperuserAuth())
		e.Router.GET("/health", queueHandler.Health)

		slog.Info("Server routes registered", "storage", cfg.StorageDriver)

		return e.Next()
	})

	// Start server
	err = app.Start()
	cancel()
	if werr := g.Wait(); err == nil {
		err = werr
	}
	return err
}

func newBackend(ctx context.Context, cfg *config.Config, app *pocketbase.PocketBase, redisClient *redis.Client) (storage.Backend, error) {
	switch cfg.StorageDriver {
	case config.StorageRedis:
		return storage.NewRedis(redisClient), nil
	case config.StorageSQL:
		backend := storage.NewSQL(app.DB())
		if err := backend.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return storage.NewMemory(), nil
	}
}

func startMetricsServer(ctx context.Context, g *errgroup.Group, port string, mw ...echo.MiddlewareFunc) {
	srv := monitoring.NewServer(port, mw...)
	g.Go(func() error {
		slog.Info("Metrics server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// restoreQueueState loads the persisted queues into memory on server restart
func restoreQueueState(ctx context.Context, backend *storage.Redis, queueService *services.QueueService) {
	log.Println("Restoring queue state from Redis...")

	queueIDs, err := backend.QueueIDs(ctx)
	if err != nil {
		slog.Error("Failed to list active queues", "error", err)
		return
	}

	restored := 0
	for _, id := range queueIDs {
		q, err := queueService.Snapshot(ctx, id)
		if err != nil {
			slog.Warn("Skipping queue", "queueId", id, "error", err)
			continue
		}
		restored++
		if len(q.Waiting) > 0 {
			slog.Info("Queue has waiting users", "queueId", id, "waiting", len(q.Waiting))
		}
	}

	log.Printf("Queue state restoration completed: %d of %d queues", restored, len(queueIDs))
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
