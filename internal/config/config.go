package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/BetSignals/models"
)

// ConfigError reports a missing or invalid configuration option
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Option, e.Reason)
}

// Load initializes configuration from environment variables. The returned
// config is treated as read-only for the lifetime of the process; nothing
// ever writes secrets back to disk.
func Load() (*models.Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	var r envReader
	cfg := &models.Config{
		FixtureAPIKey:         os.Getenv("FIXTURE_API_KEY"),
		FixtureAPIBase:        os.Getenv("FIXTURE_API_BASE"),
		MonitoredCompetitions: getEnvList("MONITORED_COMPETITIONS"),
		PollIntervalSeconds:   r.intWithDefault("POLL_INTERVAL_SECONDS", 60),
		DeliveryBotToken:      os.Getenv("DELIVERY_BOT_TOKEN"),
		DeliveryScheduleLocal: getEnvList("DELIVERY_SCHEDULE_LOCAL"),
		MinConfidence:         r.floatWithDefault("MIN_CONFIDENCE", 0.70),
		MaxConfidence:         r.floatWithDefault("MAX_CONFIDENCE", 0.90),
		MinExpectedValue:      r.floatWithDefault("MIN_EXPECTED_VALUE", 0.05),
		MaxStakeFraction:      r.floatWithDefault("MAX_STAKE_FRACTION", 0.05),
		MinStakeFraction:      r.floatWithDefault("MIN_STAKE_FRACTION", 0.005),
		KellyMultiplier:       r.floatWithDefault("KELLY_MULTIPLIER", 0.5),
		DailyLossHaltFraction: r.floatWithDefault("DAILY_LOSS_HALT_FRACTION", 0.10),
		MaxConsecutiveLosses:  r.intWithDefault("MAX_CONSECUTIVE_LOSSES", 5),
		MaxDrawdownFraction:   r.floatWithDefault("MAX_DRAWDOWN_FRACTION", 0.25),
		HaltCooldownHours:     r.intWithDefault("HALT_COOLDOWN_HOURS", 24),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		InitialBankroll:       r.floatWithDefault("INITIAL_BANKROLL", 1000),
		ModelVersion:          getEnvWithDefault("MODEL_VERSION", "blend-v1"),
		SimulationMode:        r.boolWithDefault("SIMULATION_MODE", false),
		LogLevel:              getEnvWithDefault("LOG_LEVEL", "info"),
		LogFile:               os.Getenv("LOG_FILE"),
		LogMaxSizeMB:          r.intWithDefault("LOG_MAX_SIZE_MB", 50),
		RequestTimeout:        r.intWithDefault("REQUEST_TIMEOUT", 30),
		StatusListenAddr:      getEnvWithDefault("STATUS_LISTEN_ADDR", ":8080"),
	}

	if chatIDEnv := os.Getenv("DELIVERY_CHAT_ID"); chatIDEnv != "" {
		chatID, err := strconv.ParseInt(chatIDEnv, 10, 64)
		if err != nil {
			return nil, &ConfigError{Option: "DELIVERY_CHAT_ID", Reason: "must be an integer"}
		}
		cfg.DeliveryChatID = chatID
	}

	if r.err != nil {
		return nil, r.err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *models.Config) error {
	if cfg.FixtureAPIKey == "" {
		return &ConfigError{Option: "FIXTURE_API_KEY", Reason: "required"}
	}
	if cfg.FixtureAPIBase == "" {
		return &ConfigError{Option: "FIXTURE_API_BASE", Reason: "required"}
	}
	if u, err := url.Parse(cfg.FixtureAPIBase); err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Option: "FIXTURE_API_BASE", Reason: "must be an absolute URL"}
	}
	if len(cfg.MonitoredCompetitions) == 0 {
		return &ConfigError{Option: "MONITORED_COMPETITIONS", Reason: "required"}
	}
	if cfg.DeliveryBotToken == "" {
		return &ConfigError{Option: "DELIVERY_BOT_TOKEN", Reason: "required"}
	}
	if cfg.DeliveryChatID == 0 {
		return &ConfigError{Option: "DELIVERY_CHAT_ID", Reason: "required"}
	}
	if cfg.DatabaseURL == "" {
		return &ConfigError{Option: "DATABASE_URL", Reason: "required"}
	}
	if cfg.PollIntervalSeconds <= 0 {
		return &ConfigError{Option: "POLL_INTERVAL_SECONDS", Reason: "must be positive"}
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return &ConfigError{Option: "MIN_CONFIDENCE", Reason: "must be within [0, 1]"}
	}
	if cfg.MaxConfidence < 0 || cfg.MaxConfidence > 1 {
		return &ConfigError{Option: "MAX_CONFIDENCE", Reason: "must be within [0, 1]"}
	}
	if cfg.MinConfidence > cfg.MaxConfidence {
		return &ConfigError{Option: "MIN_CONFIDENCE", Reason: "must not exceed MAX_CONFIDENCE"}
	}
	if cfg.MinExpectedValue < 0 || cfg.MinExpectedValue > 1 {
		return &ConfigError{Option: "MIN_EXPECTED_VALUE", Reason: "must be within [0, 1]"}
	}
	if cfg.MaxStakeFraction <= 0 || cfg.MaxStakeFraction > 1 {
		return &ConfigError{Option: "MAX_STAKE_FRACTION", Reason: "must be within (0, 1]"}
	}
	if cfg.MinStakeFraction < 0 || cfg.MinStakeFraction > cfg.MaxStakeFraction {
		return &ConfigError{Option: "MIN_STAKE_FRACTION", Reason: "must be within [0, MAX_STAKE_FRACTION]"}
	}
	if cfg.KellyMultiplier <= 0 || cfg.KellyMultiplier > 1 {
		return &ConfigError{Option: "KELLY_MULTIPLIER", Reason: "must be within (0, 1]"}
	}
	if cfg.DailyLossHaltFraction <= 0 || cfg.DailyLossHaltFraction > 1 {
		return &ConfigError{Option: "DAILY_LOSS_HALT_FRACTION", Reason: "must be within (0, 1]"}
	}
	if cfg.MaxConsecutiveLosses <= 0 {
		return &ConfigError{Option: "MAX_CONSECUTIVE_LOSSES", Reason: "must be positive"}
	}
	if cfg.MaxDrawdownFraction <= 0 || cfg.MaxDrawdownFraction > 1 {
		return &ConfigError{Option: "MAX_DRAWDOWN_FRACTION", Reason: "must be within (0, 1]"}
	}
	if cfg.InitialBankroll <= 0 {
		return &ConfigError{Option: "INITIAL_BANKROLL", Reason: "must be positive"}
	}
	for _, at := range cfg.DeliveryScheduleLocal {
		if !validClockTime(at) {
			return &ConfigError{Option: "DELIVERY_SCHEDULE_LOCAL", Reason: fmt.Sprintf("%q is not a valid HH:MM time", at)}
		}
	}
	return nil
}

func validClockTime(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return false
	}
	return true
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader parses typed options, capturing the first parse failure instead
// of silently falling back to the default on a mistyped value.
type envReader struct {
	err error
}

func (r *envReader) fail(key, reason string) {
	if r.err == nil {
		r.err = &ConfigError{Option: key, Reason: reason}
	}
}

func (r *envReader) intWithDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		r.fail(key, "must be an integer")
		return defaultValue
	}
	return intValue
}

func (r *envReader) floatWithDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.fail(key, "must be a number")
		return defaultValue
	}
	return floatValue
}

func (r *envReader) boolWithDefault(key string, defaultValue bool) bool {
	switch os.Getenv(key) {
	case "":
		return defaultValue
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		r.fail(key, "must be a boolean")
		return defaultValue
	}
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
