package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/telemetryd/internal/aggregate"
	"codeberg.org/mutker/telemetryd/internal/api"
	"codeberg.org/mutker/telemetryd/internal/auth"
	"codeberg.org/mutker/telemetryd/internal/config"
	"codeberg.org/mutker/telemetryd/internal/database"
	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/health"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/pid"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if err := cfg.Validate(); err != nil {
		fatal(err, "Invalid configuration")
	}

	pidFile := pid.New(cfg.PIDFile)
	if err := pidFile.Write(); err != nil {
		fatal(err, "Failed to write PID file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg)
	cancel()

	if rmErr := pidFile.Remove(); rmErr != nil {
		logger.Warn().Err(rmErr).Msg("Failed to remove PID file")
	}
	if err != nil {
		fatal(err, "Service stopped with error")
	}
	logger.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Default()

	db, err := database.Open(database.Config{
		DBPath:          cfg.DBPath,
		BackupOnMigrate: cfg.BackupOnMigrate,
	}, log)
	if err != nil {
		return err
	}

	store := telemetry.NewStore(telemetry.NewRepository(db))
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close telemetry store")
		}
	}()

	tokens, err := auth.NewManager(cfg.JWTSecret, auth.DefaultTokenTTL)
	if err != nil {
		return err
	}

	handler := api.NewHandler(store, device.NewRegistry(db), tokens, apiConfig(cfg), log)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Listen).Msg("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return errors.New().Wrap(errors.ErrInitFailed, err)
		}
		return nil
	case <-ctx.Done():
		logger.Info().Msg("Received termination signal.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}

func apiConfig(cfg *config.Config) api.Config {
	return api.Config{
		CORSOrigins:  cfg.CORSOrigins,
		RateLimit:    cfg.RateLimit,
		DefaultLimit: cfg.DefaultLimit,
		MaxLimit:     cfg.MaxLimit,
		Thresholds: health.Thresholds{
			StaleAfter:         cfg.StaleAfter,
			EnergyCeiling:      cfg.EnergyCeiling,
			TemperatureCeiling: cfg.TemperatureCeiling,
			MinPowerFactor:     cfg.MinPowerFactor,
			ExpectedPerDay:     cfg.ExpectedPerDay,
			MaxErrors:          cfg.MaxErrors,
		},
		Pricing: aggregate.Pricing{
			PricePerKWh:  cfg.PricePerKWh,
			CarbonPerKWh: cfg.CarbonPerKWh,
		},
	}
}

func fatal(err error, msg string) {
	var appErr errors.Error
	if errors.As(err, &appErr) {
		logger.FatalWithCode(appErr).Msg(msg)
	}
	logger.Fatal().Err(err).Msg(msg)
}
