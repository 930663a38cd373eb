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

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/room-scheduler/internal/application"
	"github.com/example/room-scheduler/internal/auth"
	"github.com/example/room-scheduler/internal/config"
	"github.com/example/room-scheduler/internal/events"
	httptransport "github.com/example/room-scheduler/internal/http"
	"github.com/example/room-scheduler/internal/persistence/sqlite"
	"github.com/example/room-scheduler/internal/persistence/sqlite/migration"
	"github.com/example/room-scheduler/internal/ratelimit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if len(os.Args) > 1 && os.Args[1] == "token" {
		os.Exit(runTokenCommand(os.Args[2:], os.Stdout, os.Stderr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	storage, err := sqlite.Open(ctx, migration.DefaultSQLiteConfig(cfg.SQLitePath))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := storage.Migrate(ctx, logger); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	validator, err := auth.NewTokenValidator(cfg.JWTSecret, auth.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return fmt.Errorf("token validator: %w", err)
	}

	deps := serverDeps{
		Storage:        storage,
		Sessions:       validator,
		MaxReservation: cfg.MaxReservation,
		Logger:         logger,
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, rate limiting fails open until it answers", "addr", cfg.RedisAddr, "error", err)
		}
		cancel()
		deps.Limiter = ratelimit.NewRedisLimiter(client, ratelimit.Config{Capacity: cfg.RateLimit, Period: time.Minute})
	}

	if cfg.AMQPURL != "" {
		publisher := events.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsQueue, logger, events.WithDialTimeout(cfg.AMQPDialTimeout))
		defer func() {
			if cerr := publisher.Close(); cerr != nil {
				logger.Warn("failed to close event publisher", "error", cerr)
			}
		}()
		deps.Events = publisher
	}

	a, err := newApp(deps)
	if err != nil {
		return err
	}

	if cfg.WorkspacesFile != "" {
		file, err := config.LoadWorkspaceFile(cfg.WorkspacesFile)
		if err != nil {
			return err
		}
		if err := seedWorkspaces(ctx, a.workspaces, file); err != nil {
			return fmt.Errorf("seed workspaces: %w", err)
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("scheduler API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// serverDeps are the collaborators newApp wires together. Limiter and
// Events are optional.
type serverDeps struct {
	Storage        *sqlite.Storage
	Sessions       httptransport.SessionValidator
	Limiter        *ratelimit.RedisLimiter
	Events         application.EventPublisher
	MaxReservation time.Duration
	Now            func() time.Time
	IDGenerator    func() string
	Logger         *slog.Logger
}

type app struct {
	handler    http.Handler
	workspaces *application.WorkspaceService
}

func newApp(deps serverDeps) (*app, error) {
	if deps.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("session validator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	idGenerator := deps.IDGenerator
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}

	workspaceStore := newWorkspaceStoreAdapter(deps.Storage.Workspaces, now)
	rooms := newRoomRepositoryAdapter(deps.Storage.Rooms)
	reservations := newReservationRepositoryAdapter(deps.Storage.Reservations)

	workspaceService := application.NewWorkspaceServiceWithLogger(workspaceStore, logger)
	roomService := application.NewRoomServiceWithLogger(rooms, workspaceService, idGenerator, now, logger)

	opts := []application.ReservationServiceOption{application.WithMaxReservationDuration(deps.MaxReservation)}
	if deps.Events != nil {
		opts = append(opts, application.WithEventPublisher(deps.Events))
	}
	reservationService := application.NewReservationServiceWithLogger(
		reservations,
		rooms,
		workspaceStore,
		workspaceService,
		idGenerator,
		now,
		logger,
		opts...,
	)

	middleware := []func(http.Handler) http.Handler{httptransport.RequireSession(deps.Sessions, logger)}
	if deps.Limiter != nil {
		middleware = append(middleware, httptransport.RateLimit(deps.Limiter, logger))
	}

	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Reservations: httptransport.NewReservationHandler(reservationService, logger),
		Rooms:        httptransport.NewRoomHandler(roomService, logger),
		Workspaces:   httptransport.NewWorkspaceHandler(workspaceService, logger),
		Health:       httptransport.NewHealthHandler(deps.Storage, logger),
		Middleware:   middleware,
		Public:       []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})

	return &app{handler: handler, workspaces: workspaceService}, nil
}
