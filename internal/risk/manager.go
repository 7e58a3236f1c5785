package risk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Alias1177/BetSignals/internal/database"
	"github.com/Alias1177/BetSignals/models"
)

// Manager is the decision core: given a prediction and the current risk
// state it emits exactly one signal. Evaluation never fails outward; an
// internal error produces a rejected(internal) signal so the pipeline stays
// safe by default.
type Manager struct {
	cfg    *models.Config
	db     *database.DB
	clock  models.Clock
	logger zerolog.Logger
}

// NewManager wires the risk manager to the store and clock
func NewManager(cfg *models.Config, db *database.DB, clock models.Clock, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		db:     db,
		clock:  clock,
		logger: logger.With().Str("component", "risk").Logger(),
	}
}

func (m *Manager) thresholds() Thresholds {
	return Thresholds{
		MaxDrawdownFraction:   m.cfg.MaxDrawdownFraction,
		MaxConsecutiveLosses:  m.cfg.MaxConsecutiveLosses,
		DailyLossHaltFraction: m.cfg.DailyLossHaltFraction,
		HaltCooldown:          time.Duration(m.cfg.HaltCooldownHours) * time.Hour,
	}
}

// CurrentRiskState derives the state from the ledger. A freshly breached
// hard threshold is persisted as a synthetic halt entry so the flag survives
// restarts and is auditable.
func (m *Manager) CurrentRiskState(ctx context.Context) (models.RiskState, error) {
	entries, err := m.db.LedgerEntries(ctx)
	if err != nil {
		return models.RiskState{}, fmt.Errorf("reading ledger: %w", err)
	}

	now := m.clock.Now()
	th := m.thresholds()
	state := DeriveState(entries, th, now)

	if state.State == models.TradingHalted && state.HaltedAt == nil {
		trigger := HaltTrigger(state, th)
		reason := haltReasonPrefix + trigger
		if _, err := m.db.AppendLedgerRetry(ctx, now, decimal.Zero, reason); err != nil {
			return state, fmt.Errorf("persisting halt entry: %w", err)
		}
		m.logger.Warn().Str("trigger", trigger).Msg("Trading halted")
		state.HaltedAt = &now
	}
	return state, nil
}

// ResetHalt clears a halt manually via a synthetic ledger entry
func (m *Manager) ResetHalt(ctx context.Context) error {
	_, err := m.db.AppendLedgerRetry(ctx, m.clock.Now(), decimal.Zero, models.LedgerReasonHaltReset)
	return err
}

// Evaluate turns a prediction plus odds into a signal. The approval
// predicate, stake sizing and failure semantics follow the risk policy; the
// returned signal is always well-formed.
func (m *Manager) Evaluate(ctx context.Context, prediction *models.Prediction, odds float64) *models.Signal {
	state, err := m.CurrentRiskState(ctx)
	if err != nil {
		m.logger.Error().Err(err).Int64("prediction_id", prediction.ID).Msg("Risk state unavailable")
		signal := &models.Signal{
			PredictionID:  prediction.ID,
			Odds:          odds,
			ExpectedValue: prediction.PickProbability()*odds - 1,
			Simulated:     m.cfg.SimulationMode,
			CreatedAt:     m.clock.Now(),
		}
		return reject(signal, models.ReasonInternal)
	}
	return Decide(m.cfg, prediction, odds, &state, m.clock.Now())
}

// Decide is the pure decision core: approval predicate, then fractional
// Kelly sizing. It never mutates state and never fails.
func Decide(cfg *models.Config, prediction *models.Prediction, odds float64, state *models.RiskState, now time.Time) *models.Signal {
	signal := &models.Signal{
		PredictionID: prediction.ID,
		Odds:         odds,
		Simulated:    cfg.SimulationMode,
		CreatedAt:    now,
	}

	probPick := prediction.PickProbability()
	signal.ExpectedValue = probPick*odds - 1

	if reason := gate(cfg, prediction, signal, state); reason != "" {
		return reject(signal, reason)
	}

	stake := KellyFraction(probPick, odds, cfg.KellyMultiplier)
	stake = clamp(stake, 0, cfg.MaxStakeFraction)
	if stake < cfg.MinStakeFraction {
		signal.Status = models.SignalSuppressed
		signal.Reason = models.ReasonStakeBelowFloor
		signal.StakeFraction = 0
		return signal
	}

	signal.Status = models.SignalApproved
	signal.StakeFraction = stake
	return signal
}

// gate runs the approval predicate; empty string means all checks passed
func gate(cfg *models.Config, prediction *models.Prediction, signal *models.Signal, state *models.RiskState) string {
	if state.Halted() {
		return models.ReasonTradingHalted
	}
	if prediction.Confidence < cfg.MinConfidence || prediction.Confidence > cfg.MaxConfidence {
		return models.ReasonConfidenceOutOfRange
	}
	if signal.ExpectedValue < cfg.MinExpectedValue {
		return models.ReasonEVBelowThreshold
	}
	if state.Drawdown >= cfg.MaxDrawdownFraction {
		return models.ReasonDrawdownExceeded
	}
	if state.ConsecutiveLosses >= cfg.MaxConsecutiveLosses {
		return models.ReasonConsecutiveLosses
	}
	if state.DailyPnL.IsNegative() && state.Balance.IsPositive() {
		lossFraction, _ := state.DailyPnL.Abs().Div(state.Balance).Float64()
		if lossFraction >= cfg.DailyLossHaltFraction {
			return models.ReasonDailyLossHalt
		}
	}
	return ""
}

func reject(s *models.Signal, reason string) *models.Signal {
	s.Status = models.SignalRejected
	s.Reason = reason
	s.StakeFraction = 0
	return s
}

// KellyFraction computes the raw fractional-Kelly stake: k * (b*p - q) / b
// with b = odds - 1, q = 1 - p. Negative edges return 0.
func KellyFraction(p, odds, multiplier float64) float64 {
	b := odds - 1
	if b <= 0 {
		return 0
	}
	q := 1 - p
	f := multiplier * (b*p - q) / b
	if f < 0 {
		return 0
	}
	return f
}

// Settle books the outcome of a delivered signal to the ledger and stamps
// the signal settled, atomically. The stake amount is the recorded fraction
// of the bankroll at settlement time.
func (m *Manager) Settle(ctx context.Context, sc *database.SignalContext, result *models.Result) error {
	entries, err := m.db.LedgerEntries(ctx)
	if err != nil {
		return fmt.Errorf("reading ledger for settlement: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("settling signal %d: empty ledger", sc.Signal.ID)
	}

	balance := entries[len(entries)-1].RunningBalance
	stakeAmount := balance.Mul(decimal.NewFromFloat(sc.Signal.StakeFraction))

	var delta decimal.Decimal
	if result.Outcome == sc.Prediction.Pick {
		delta = stakeAmount.Mul(decimal.NewFromFloat(sc.Signal.Odds - 1))
	} else {
		delta = stakeAmount.Neg()
	}

	reason := fmt.Sprintf("%s%d", settleReasonPrefix, sc.Signal.ID)
	now := m.clock.Now()

	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = m.db.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := m.db.AppendLedger(ctx, tx, now, delta, reason); err != nil {
				return err
			}
			return m.db.MarkSignalSettled(ctx, tx, sc.Signal.ID, now)
		})
		if err == nil {
			m.logger.Info().
				Int64("signal_id", sc.Signal.ID).
				Str("delta", delta.String()).
				Msg("Settled signal")
			return nil
		}
		if !errors.Is(err, database.ErrConcurrentWrite) {
			return err
		}
	}
	return err
}
