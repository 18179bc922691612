package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nobis/llamador/internal/config"
	"github.com/nobis/llamador/internal/domain/llamador"
	"github.com/nobis/llamador/internal/platform/auth"
	"github.com/nobis/llamador/internal/platform/db"
	"github.com/nobis/llamador/internal/platform/messaging"
	"github.com/nobis/llamador/internal/platform/middleware"
	"github.com/nobis/llamador/internal/platform/tokencache"
	"github.com/nobis/llamador/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "llamador-server",
		Short: "Patient call dispatch server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the call dispatch server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations for the movement log",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			migrator, closeFn, err := openMigrator(dir)
			if err != nil {
				return err
			}
			defer closeFn()

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(context.Background(), schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			migrator, closeFn, err := openMigrator(dir)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(context.Background(), schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func openMigrator(dir string) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.HasDatabase() {
		return nil, nil, fmt.Errorf("DATABASE_URL is required to run migrations")
	}
	pool, err := db.NewPool(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, dir), pool.Close, nil
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// deps are the collaborators the HTTP surface is built from.
type deps struct {
	partner   llamador.Partner
	tokens    tokencache.TokenSource
	movements llamador.MovementLog
	// probes are mounted as /health/<name>.
	probes map[string]db.Pinger
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	d := deps{
		partner:   messaging.NewClient(cfg.MessagingAPIURL),
		movements: llamador.NopMovementLog{},
		probes:    map[string]db.Pinger{},
	}

	// Movement log
	if cfg.HasDatabase() {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		d.movements = llamador.NewMovementLogPG(pool)
		d.probes["db"] = pool
	} else {
		logger.Warn().Msg("DATABASE_URL not set, movement log disabled")
	}

	// Partner token cache
	grant := &tokencache.PasswordGrant{
		URL:      cfg.TokenURL,
		Username: cfg.TokenUsername,
		Password: cfg.TokenPassword,
		ClientID: cfg.TokenClientID,
	}
	if cfg.RedisURL != "" {
		cache, err := tokencache.NewRedisCache(cfg.RedisURL, grant, cfg.TokenTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer cache.Close()
		logger.Info().Msg("partner token cached in redis")
		d.tokens = cache
		d.probes["redis"] = cache
	} else {
		d.tokens = tokencache.NewMemoryCache(grant, cfg.TokenTTL)
	}

	e := newServer(cfg, logger, d)

	addr := fmt.Sprintf(":%s", cfg.Port)
	go func() {
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func newServer(cfg *config.Config, logger zerolog.Logger, d deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	for name, p := range d.probes {
		e.GET("/health/"+name, db.HealthHandler(p))
	}

	registry := llamador.NewRegistry()
	dir := websocket.NewDirectory(cfg.SendTimeout)

	ingestor := llamador.NewIngestor(cfg.MessagingCaseType, registry, d.partner, d.tokens, dir, d.movements, logger)
	dispatcher := llamador.NewDispatcher(registry, dir, d.movements, logger)

	public := e.Group("")
	websocket.NewHandler(dir, logger).RegisterRoutes(public)

	operator := e.Group("", operatorAuth(cfg))
	rateCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.WebhookRateLimit,
		BurstSize:         cfg.WebhookRateBurst,
	}
	if rateCfg.RequestsPerSecond <= 0 || rateCfg.BurstSize <= 0 {
		rateCfg = middleware.DefaultRateLimitConfig()
	}
	webhookLimit := middleware.RateLimit(rateCfg)
	llamador.NewHandler(ingestor, dispatcher, registry, dir, d.movements, cfg.DashboardPath, logger).
		RegisterRoutes(public, operator, webhookLimit)

	return e
}

func operatorAuth(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}
