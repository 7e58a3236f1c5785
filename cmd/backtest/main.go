package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Alias1177/BetSignals/internal/backtest"
	"github.com/Alias1177/BetSignals/internal/config"
	"github.com/Alias1177/BetSignals/internal/database"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to database")
		return 2
	}
	defer db.Close()

	results, err := backtest.Run(ctx, db, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Backtest failed")
		return 2
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode results")
		return 1
	}
	fmt.Println(string(out))
	return 0
}
