package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/civic-access/civic-access/internal/app"
	"github.com/civic-access/civic-access/internal/audit"
	audithttp "github.com/civic-access/civic-access/internal/audit/http"
	"github.com/civic-access/civic-access/internal/auth"
	"github.com/civic-access/civic-access/internal/comments"
	"github.com/civic-access/civic-access/internal/guard"
	"github.com/civic-access/civic-access/internal/observability"
	"github.com/civic-access/civic-access/internal/ownership"
	"github.com/civic-access/civic-access/internal/platform/cache"
	"github.com/civic-access/civic-access/internal/platform/db"
	"github.com/civic-access/civic-access/internal/principal"
	"github.com/civic-access/civic-access/internal/token"
	"github.com/civic-access/civic-access/internal/users"
	"github.com/civic-access/civic-access/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("civic api", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	tokens, err := token.NewService(cfg.TokenConfig())
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}
	if warn := tokens.Warning(); warn != nil {
		logger.Warn("jwt secret", slog.Any("warning", warn))
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		if cfg.AuditSink == app.AuditSinkRedis {
			return fmt.Errorf("connect redis: %w", err)
		}
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	sink, closeSink := buildSink(cfg, pool, redisClient, redisOpts)
	defer closeSink()

	trail := audit.NewTrail(sink, logger, audit.TrailConfig{
		Buffer:       cfg.AuditBuffer,
		Workers:      cfg.AuditWorkers,
		WriteTimeout: cfg.AuditWriteTimeout,
	}, audit.WithObserver(metrics))
	if err := trail.Start(); err != nil {
		return err
	}

	resolver := principal.NewResolver(tokens, principal.NewPGStore(pool))

	registry := guard.NewRegistry()
	if err := ownership.RegisterDefaults(registry, pool); err != nil {
		return fmt.Errorf("ownership predicates: %w", err)
	}
	registry.Freeze()

	validate := validator.New(validator.WithRequiredStructEnabled())
	factory := guard.NewFactory(guard.FactoryConfig{
		Resolver: resolver,
		Registry: registry,
		Recorder: trail,
		Observer: metrics,
		Logger:   logger,
		Validate: validate,
	})
	catalog := guard.NewCatalog()

	mePipeline, err := factory.Bind(catalog, guard.ResourceSession, guard.OpRead, guard.Preset{})
	if err != nil {
		return err
	}
	authService := auth.NewService(auth.NewRepository(pool), tokens, logger)
	authHandler := auth.NewHandler(logger, authService, trail, mePipeline, auth.HandlerConfig{
		LoginLimit: cfg.LoginRateLimit,
		Validator:  validate,
	})

	commentPipelines, err := comments.BuildPipelines(factory, catalog, cfg.StrictCommentOwnership)
	if err != nil {
		return err
	}
	commentsHandler := comments.NewHandler(logger, comments.NewRepository(pool), trail, commentPipelines)

	usersHandler, err := users.NewHandler(logger, users.NewService(users.NewRepository(pool)), trail, factory, catalog)
	if err != nil {
		return err
	}

	auditHandler, err := audithttp.NewHandler(logger, trail, factory, catalog)
	if err != nil {
		return err
	}

	jobsPipeline, err := factory.Bind(catalog, guard.ResourceJobs, guard.OpRead, guard.Preset{Roles: []principal.Role{principal.RoleAdmin}})
	if err != nil {
		return err
	}
	var inspector jobs.QueueInspector
	if cfg.AuditSink == app.AuditSinkQueue {
		asynqInspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := asynqInspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		inspector = asynqInspector
	}
	jobHandler := jobs.NewHandler(inspector, logger, jobsPipeline)

	catalog.Freeze()
	for _, key := range catalog.Keys() {
		logger.Debug("guard pipeline", slog.String("endpoint", key), slog.Any("guards", catalog.Describe()[key]))
	}

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		AuthHandler:     authHandler,
		CommentsHandler: commentsHandler,
		UsersHandler:    usersHandler,
		AuditHandler:    auditHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("audit_sink", cfg.AuditSink))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", slog.Any("error", err))
		}
		if err := trail.Stop(cfg.AuditWriteTimeout * 2); err != nil {
			logger.Error("audit trail drain", slog.Any("error", err))
		}
		return nil
	})
	return g.Wait()
}

// buildSink selects the audit store named by AUDIT_SINK. The returned func
// releases anything the sink owns.
func buildSink(cfg *app.Config, pool *pgxpool.Pool, rdb *redis.Client, redisOpts asynq.RedisClientOpt) (audit.Sink, func()) {
	switch cfg.AuditSink {
	case app.AuditSinkRedis:
		return audit.NewRedisSink(rdb, cfg.AuditRedisKey), func() {}
	case app.AuditSinkMemory:
		return audit.NewMemorySink(), func() {}
	case app.AuditSinkQueue:
		client := jobs.NewClient(redisOpts)
		return audit.NewQueueSink(client, audit.NewPGSink(pool)), func() { _ = client.Close() }
	default:
		return audit.NewPGSink(pool), func() {}
	}
}
