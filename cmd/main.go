package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Alias1177/BetSignals/internal/api/sportsdata"
	"github.com/Alias1177/BetSignals/internal/config"
	"github.com/Alias1177/BetSignals/internal/database"
	"github.com/Alias1177/BetSignals/internal/delivery"
	"github.com/Alias1177/BetSignals/internal/features"
	"github.com/Alias1177/BetSignals/internal/observability"
	"github.com/Alias1177/BetSignals/internal/predictor"
	"github.com/Alias1177/BetSignals/internal/risk"
	"github.com/Alias1177/BetSignals/internal/scheduler"
	"github.com/Alias1177/BetSignals/internal/status"
	"github.com/Alias1177/BetSignals/models"
)

// Exit codes: 0 clean shutdown, 1 configuration error, 2 unrecoverable
// store error, 3 fatal delivery failure with no channels remaining.
const (
	exitOK       = 0
	exitConfig   = 1
	exitStore    = 2
	exitDelivery = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Configuration invalid")
		return exitConfig
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	bus := observability.NewBus(logger, metrics)
	clock := models.SystemClock{}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error().Err(err).Msg("Store unavailable")
		return exitStore
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// `reset-halt` clears a sticky trading halt and exits
	if len(os.Args) > 1 && os.Args[1] == "reset-halt" {
		riskManager := risk.NewManager(cfg, db, clock, logger)
		if err := riskManager.ResetHalt(ctx); err != nil {
			logger.Error().Err(err).Msg("Halt reset failed")
			return exitStore
		}
		logger.Info().Msg("Trading halt cleared")
		return exitOK
	}

	if err := db.SeedLedger(ctx, clock.Now(), decimal.NewFromFloat(cfg.InitialBankroll)); err != nil {
		logger.Error().Err(err).Msg("Seeding bankroll ledger failed")
		return exitStore
	}

	client := sportsdata.NewClient(sportsdata.ClientOptions{
		APIKey:         cfg.FixtureAPIKey,
		BaseURL:        cfg.FixtureAPIBase,
		RequestTimeout: time.Duration(cfg.RequestTimeout) * time.Second,
		RequestsPerSec: 5,
		Logger:         logger,
		Metrics:        metrics,
		Clock:          clock,
	})

	sender, err := delivery.NewTelegramSender(cfg.DeliveryBotToken, cfg.DeliveryChatID)
	if err != nil {
		logger.Error().Err(err).Msg("Delivery channel authorization failed")
		return exitDelivery
	}

	builder := features.NewBuilder(db, logger)
	blend := predictor.New(cfg.ModelVersion, clock, logger)
	riskManager := risk.NewManager(cfg, db, clock, logger)
	channels := []*delivery.Channel{delivery.NewChannel(db, sender, clock, bus)}

	pipeline := scheduler.New(cfg, db, client, builder, blend, riskManager, channels, bus, clock)
	statusServer := status.NewServer(cfg, db, riskManager, bus, clock)

	statusErr := make(chan error, 1)
	go func() {
		statusErr <- statusServer.Run(ctx)
	}()

	err = pipeline.Run(ctx)
	stop()
	if serveErr := <-statusErr; serveErr != nil {
		logger.Error().Err(serveErr).Msg("Status endpoint failed")
	}

	switch {
	case err == nil:
		logger.Info().Msg("Clean shutdown")
		return exitOK
	case errors.Is(err, scheduler.ErrStoreUnavailable):
		logger.Error().Err(err).Msg("Stopping: store unavailable")
		return exitStore
	case errors.Is(err, scheduler.ErrNoChannels):
		logger.Error().Err(err).Msg("Stopping: all delivery channels disabled")
		return exitDelivery
	default:
		logger.Error().Err(err).Msg("Stopping: fatal pipeline error")
		return exitStore
	}
}
