package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	FixtureAPIKey         string   `env:"FIXTURE_API_KEY"`
	FixtureAPIBase        string   `env:"FIXTURE_API_BASE"`
	MonitoredCompetitions []string `env:"MONITORED_COMPETITIONS"`
	PollIntervalSeconds   int      `env:"POLL_INTERVAL_SECONDS" envDefault:"60"`

	DeliveryBotToken      string   `env:"DELIVERY_BOT_TOKEN"`
	DeliveryChatID        int64    `env:"DELIVERY_CHAT_ID"`
	DeliveryScheduleLocal []string `env:"DELIVERY_SCHEDULE_LOCAL"`

	MinConfidence    float64 `env:"MIN_CONFIDENCE" envDefault:"0.70"`
	MaxConfidence    float64 `env:"MAX_CONFIDENCE" envDefault:"0.90"`
	MinExpectedValue float64 `env:"MIN_EXPECTED_VALUE" envDefault:"0.05"`
	MaxStakeFraction float64 `env:"MAX_STAKE_FRACTION" envDefault:"0.05"`
	MinStakeFraction float64 `env:"MIN_STAKE_FRACTION" envDefault:"0.005"`
	KellyMultiplier  float64 `env:"KELLY_MULTIPLIER" envDefault:"0.5"`

	DailyLossHaltFraction float64 `env:"DAILY_LOSS_HALT_FRACTION" envDefault:"0.10"`
	MaxConsecutiveLosses  int     `env:"MAX_CONSECUTIVE_LOSSES" envDefault:"5"`
	MaxDrawdownFraction   float64 `env:"MAX_DRAWDOWN_FRACTION" envDefault:"0.25"`
	HaltCooldownHours     int     `env:"HALT_COOLDOWN_HOURS" envDefault:"24"`

	DatabaseURL     string  `env:"DATABASE_URL"`
	InitialBankroll float64 `env:"INITIAL_BANKROLL" envDefault:"1000"`
	ModelVersion    string  `env:"MODEL_VERSION" envDefault:"blend-v1"`
	SimulationMode  bool    `env:"SIMULATION_MODE" envDefault:"false"`

	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile          string `env:"LOG_FILE"`
	LogMaxSizeMB     int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	RequestTimeout   int    `env:"REQUEST_TIMEOUT" envDefault:"30"` // seconds
	StatusListenAddr string `env:"STATUS_LISTEN_ADDR" envDefault:":8080"`
}

// FixtureStatus is the lifecycle state of a fixture
type FixtureStatus string

const (
	FixtureScheduled FixtureStatus = "scheduled"
	FixtureLive      FixtureStatus = "live"
	FixtureFinished  FixtureStatus = "finished"
	FixtureCancelled FixtureStatus = "cancelled"
)

// Outcome is a match outcome pick
type Outcome string

const (
	OutcomeHome Outcome = "home"
	OutcomeDraw Outcome = "draw"
	OutcomeAway Outcome = "away"
)

// Fixture represents a scheduled match, identified by (provider_id, kickoff_utc).
// Only Status and the result fields change after creation.
type Fixture struct {
	ID          int64         `json:"id"`
	ProviderID  string        `json:"provider_id"`
	KickoffUTC  time.Time     `json:"kickoff_utc"`
	HomeTeam    string        `json:"home_team"`
	AwayTeam    string        `json:"away_team"`
	Competition string        `json:"competition"`
	Status      FixtureStatus `json:"status"`
	HomeGoals   *int          `json:"home_goals,omitempty"`
	AwayGoals   *int          `json:"away_goals,omitempty"`
}

// Result reports the final score of a finished fixture
type Result struct {
	HomeGoals int     `json:"home_goals"`
	AwayGoals int     `json:"away_goals"`
	Outcome   Outcome `json:"outcome"`
}

// OddsSnapshot holds decimal odds for the three-way market
type OddsSnapshot struct {
	FixtureID string    `json:"fixture_id"`
	Home      float64   `json:"home"`
	Draw      float64   `json:"draw"`
	Away      float64   `json:"away"`
	FetchedAt time.Time `json:"fetched_at"`
}

// FeatureSet is the input record for the predictor. Completeness reports the
// fraction of fields that were actually populated from upstream data.
type FeatureSet struct {
	HomeFormPoints   float64 `json:"home_form_points"` // points per game, last 5
	AwayFormPoints   float64 `json:"away_form_points"`
	HomeGoalsPerGame float64 `json:"home_goals_per_game"`
	AwayGoalsPerGame float64 `json:"away_goals_per_game"`
	HomeAdvantage    float64 `json:"home_advantage"` // prior, probability points
	ImpliedHome      float64 `json:"implied_home"`   // odds-implied, overround removed
	ImpliedDraw      float64 `json:"implied_draw"`
	ImpliedAway      float64 `json:"implied_away"`
	Completeness     float64 `json:"completeness"`
}

// Prediction is one model output per (fixture_id, model_version). Immutable.
type Prediction struct {
	ID           int64     `json:"id"`
	FixtureID    int64     `json:"fixture_id"`
	ModelVersion string    `json:"model_version"`
	Pick         Outcome   `json:"pick"`
	ProbHome     float64   `json:"prob_home"`
	ProbDraw     float64   `json:"prob_draw"`
	ProbAway     float64   `json:"prob_away"`
	Confidence   float64   `json:"confidence"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// PickProbability returns the probability assigned to the picked outcome
func (p *Prediction) PickProbability() float64 {
	switch p.Pick {
	case OutcomeHome:
		return p.ProbHome
	case OutcomeDraw:
		return p.ProbDraw
	default:
		return p.ProbAway
	}
}

// SignalStatus is the risk manager's verdict on a prediction
type SignalStatus string

const (
	SignalApproved   SignalStatus = "approved"
	SignalRejected   SignalStatus = "rejected"
	SignalSuppressed SignalStatus = "suppressed"
)

// Rejection and suppression reason codes
const (
	ReasonConfidenceOutOfRange = "confidence_out_of_range"
	ReasonEVBelowThreshold     = "ev_below_threshold"
	ReasonDrawdownExceeded     = "drawdown_exceeded"
	ReasonConsecutiveLosses    = "consecutive_losses"
	ReasonDailyLossHalt        = "daily_loss_halt"
	ReasonTradingHalted        = "trading_halted"
	ReasonStakeBelowFloor      = "stake_below_floor"
	ReasonInternal             = "internal"
)

// Signal is a risk-gated, stake-sized recommendation. Exactly one per prediction.
// A signal with Status != approved always has StakeFraction 0.
type Signal struct {
	ID            int64        `json:"id"`
	PredictionID  int64        `json:"prediction_id"`
	Status        SignalStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	StakeFraction float64      `json:"stake_fraction"`
	ExpectedValue float64      `json:"expected_value"`
	Odds          float64      `json:"odds"` // decimal odds of the picked outcome
	Simulated     bool         `json:"simulated"`
	CreatedAt     time.Time    `json:"created_at"`
}

// DeliveryOutcome is the terminal state of one delivery attempt
type DeliveryOutcome string

const (
	DeliveryPending          DeliveryOutcome = "pending"
	DeliverySent             DeliveryOutcome = "sent"
	DeliveryTransientFailure DeliveryOutcome = "transient_failure"
	DeliveryPermanentFailure DeliveryOutcome = "permanent_failure"
)

// Delivery records one attempt to push a signal on a channel. At most one
// sent row exists per (signal_id, channel_id).
type Delivery struct {
	ID                int64           `json:"id"`
	SignalID          int64           `json:"signal_id"`
	ChannelID         string          `json:"channel_id"`
	IdempotencyKey    string          `json:"idempotency_key"`
	PayloadHash       string          `json:"payload_hash"`
	Outcome           DeliveryOutcome `json:"outcome"`
	ProviderMessageID string          `json:"provider_message_id,omitempty"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	AttemptedAt       time.Time       `json:"attempted_at"`
	SentAt            *time.Time      `json:"sent_at,omitempty"`
}

// LedgerEntry is one append-only bankroll movement. RunningBalance caches the
// prefix sum of all deltas up to and including this row.
type LedgerEntry struct {
	ID             int64           `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	Delta          decimal.Decimal `json:"delta"`
	Reason         string          `json:"reason"`
	RunningBalance decimal.Decimal `json:"running_balance"`
}

// Synthetic ledger reasons used by the risk state machine
const (
	LedgerReasonSeed      = "seed"
	LedgerReasonHalt      = "halt"
	LedgerReasonHaltReset = "halt_reset"
)

// TradingState is the risk state machine position
type TradingState string

const (
	TradingNormal  TradingState = "normal"
	TradingWarning TradingState = "warning"
	TradingHalted  TradingState = "halted"
)

// RiskState is derived from the ledger over a rolling window; never stored.
type RiskState struct {
	Balance           decimal.Decimal `json:"balance"`
	PeakBalance       decimal.Decimal `json:"peak_balance"`
	DailyPnL          decimal.Decimal `json:"daily_pnl"`
	WeeklyPnL         decimal.Decimal `json:"weekly_pnl"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	Drawdown          float64         `json:"drawdown"` // (peak-balance)/peak, clamped to [0,1]
	State             TradingState    `json:"state"`
	HaltedAt          *time.Time      `json:"halted_at,omitempty"`
}

// Halted reports whether the sticky halt flag is set
func (r *RiskState) Halted() bool {
	return r.State == TradingHalted
}
