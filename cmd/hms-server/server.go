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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/apierr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/idempotency"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/telemetry"
	"github.com/hms/hms/internal/platform/validation"
	"github.com/hms/hms/migrations"
)

const version = "0.1.0"

// backend holds the services for the configured storage.
type backend struct {
	identity   *identity.Service
	scheduling *scheduling.Service
	health     db.Pinger
	pool       *pgxpool.Pool
	closers    []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// memoryPinger reports the in-process store as always reachable.
type memoryPinger struct{}

func (memoryPinger) Ping(context.Context) error { return nil }

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger, recorder scheduling.Recorder) (*backend, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	opts := []scheduling.Option{
		scheduling.WithLogger(logger.With().Str("component", "scheduling").Logger()),
		scheduling.WithLocation(loc),
	}
	if recorder != nil {
		opts = append(opts, scheduling.WithRecorder(recorder))
	}

	if cfg.Storage == config.StorageMemory {
		people := identity.NewMemoryStore()
		identitySvc := identity.NewService(people.Patients(), people.Staff())
		store := scheduling.NewMemoryStore()
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
		return &backend{
			identity: identitySvc,
			scheduling: scheduling.NewService(store.Slots(), store.Schedules(), store.Appointments(),
				store, newParticipantAdapter(identitySvc), opts...),
			health: memoryPinger{},
		}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	logger.Info().Msg("connected to database")

	if cfg.MigrateOnStart {
		count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, migrationSchema)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		logger.Info().Int("applied", count).Msg("migrations applied")
	}

	identitySvc := identity.NewService(identity.NewPatientRepoPG(pool), identity.NewStaffRepoPG(pool))
	return &backend{
		identity: identitySvc,
		scheduling: scheduling.NewService(
			scheduling.NewSlotRepoPG(pool),
			scheduling.NewScheduleRepoPG(pool),
			scheduling.NewAppointmentRepoPG(pool),
			db.NewTxManager(pool),
			newParticipantAdapter(identitySvc),
			opts...,
		),
		health:  pool,
		pool:    pool,
		closers: []func(){pool.Close},
	}, nil
}

// openIdempotencyStore uses Redis when REDIS_URL is set so retries are
// recognised across instances.
func openIdempotencyStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (idempotency.Store, func(), error) {
	if cfg.RedisURL == "" {
		return idempotency.NewMemoryStore(), func() {}, nil
	}
	client, err := idempotency.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Msg("connected to redis")
	return idempotency.NewRedisStore(client), func() { _ = client.Close() }, nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	verify := auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	})
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(verify)
	}
	return verify
}

func newServer(cfg *config.Config, logger zerolog.Logger, b *backend, metrics *telemetry.Metrics, idem idempotency.Store) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()
	e.HTTPErrorHandler = apierr.ErrorHandler(logger)

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	rateLimitCfg.Skipper = auth.AuthSkipper

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader, idempotency.Header},
		ExposeHeaders: []string{middleware.RequestIDHeader, idempotency.ReplayedHeader, "Retry-After"},
	}))
	e.Use(metrics.Middleware())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RateLimit(rateLimitCfg))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(authMiddleware(cfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(b.health))
	e.GET("/metrics", metrics.Handler())

	apiV1 := e.Group("/api/v1", idempotency.Middleware(idempotency.Config{
		Store:  idem,
		TTL:    cfg.IdempotencyTTL,
		Logger: logger,
	}))
	identity.NewHandler(b.identity).RegisterRoutes(apiV1)
	scheduling.NewHandler(b.scheduling).RegisterRoutes(apiV1)

	return e
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()
	metrics := telemetry.New()

	b, err := openBackend(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer b.Close()
	if b.pool != nil {
		metrics.WatchPool(b.pool)
	}

	idem, closeIdem, err := openIdempotencyStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeIdem()

	e := newServer(cfg, logger, b, metrics, idem)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("storage", cfg.Storage).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
