package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/journeys/config"
	"github.com/d60-Lab/journeys/internal/api/handler"
	"github.com/d60-Lab/journeys/internal/repository"
	"github.com/d60-Lab/journeys/internal/router"
	"github.com/d60-Lab/journeys/internal/service"
	"github.com/d60-Lab/journeys/pkg/database"
	"github.com/d60-Lab/journeys/pkg/logger"
	"github.com/d60-Lab/journeys/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()
	flushSentry, err := telemetry.InitSentry(cfg.Sentry)
	if err != nil {
		return err
	}
	defer flushSentry()

	db, err := database.InitDB(cfg)
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}
	defer func() { _ = database.Close(db) }()
	if err := database.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// postgres 下用 LISTEN/NOTIFY 提前唤醒轮询
	var waker repository.Waker
	if cfg.Database.Driver == "postgres" && cfg.Inbox.NotifyChannel != "" {
		if err := database.InstallNotifyTrigger(db, cfg.Inbox.NotifyChannel); err != nil {
			logger.Warn("notify trigger not installed, polling only", zap.Error(err))
		} else if n, err := database.NewNotifier(cfg.Database.DSN, cfg.Inbox.NotifyChannel); err != nil {
			logger.Warn("notify listener unavailable, polling only", zap.Error(err))
		} else {
			defer func() { _ = n.Close() }()
			waker = n
		}
	}

	var shared service.ProfileCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, profile cache is per-session only", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			shared = service.NewRedisProfileCache(rdb, cfg.Redis.ProfileTTL)
		}
	}

	journeys := repository.NewJourneyRepository(db)
	users := repository.NewUserRepository(db)
	conversations := repository.NewConversationRepository(db, cfg.Inbox.PollInterval, waker)

	sessions := service.NewSessions(service.SessionDeps{
		Entries:       journeys,
		Profiles:      users,
		Conversations: conversations,
		SharedCache:   shared,
		PageSize:      cfg.Feed.PageSize,
		FetchTimeout:  cfg.Feed.FetchTimeout,
		LookupTimeout: cfg.Inbox.LookupTimeout,
	})
	h := handler.New(sessions, service.NewPublisher(journeys, conversations, users))

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router.New(cfg, h, sqlDB.PingContext),
		ReadHeaderTimeout: 10 * time.Second,
		// 收到信号时结束 SSE 等长连接，Shutdown 不必等到超时
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("db", cfg.Database.Driver), zap.Bool("redis", shared != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			telemetry.CaptureError(err)
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
