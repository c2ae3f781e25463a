package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aqms/aqms/internal/config"
	"github.com/aqms/aqms/internal/domain/appointment"
	"github.com/aqms/aqms/internal/domain/calendar"
	"github.com/aqms/aqms/internal/domain/queue"
	"github.com/aqms/aqms/internal/platform/auth"
	"github.com/aqms/aqms/internal/platform/db"
	"github.com/aqms/aqms/internal/platform/middleware"
	"github.com/aqms/aqms/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "aqms-server",
		Short:        "Clinic appointment and queue server",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("store", "", "Storage backend: pg or memory (overrides STORE)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(noShowCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// loadConfig applies the --store flag on top of the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if store, _ := cmd.Flags().GetString("store"); store != "" {
		if err := os.Setenv("STORE", store); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg)
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTelEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return err
	}

	app, err := newApp(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer app.Close()
	logger.Info().Str("store", app.storeName).Msg("store ready")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(telemetry.Middleware(metrics))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", db.HealthHandler(app.pinger, app.storeName))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() && cfg.AuthSigningKey == "" && cfg.AuthJWKSURL == "" {
		logger.Warn().Msg("development auth enabled: identity is read from X-Dev-User and X-Dev-Roles")
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
	rateLimitCfg.BurstSize = cfg.RateLimitBurst
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	calendar.NewHandler(app.calendar).RegisterRoutes(apiV1)
	appointment.NewHandler(app.appointments, app.generator).RegisterRoutes(apiV1)
	queue.NewHandler(app.queue).RegisterRoutes(apiV1)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.NoShowSweepSpec, func() {
		if _, err := app.appointments.SweepNoShows(ctx); err != nil {
			logger.Error().Err(err).Msg("no-show sweep failed")
		}
	}); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
