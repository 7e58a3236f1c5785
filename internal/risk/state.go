package risk

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Alias1177/BetSignals/models"
)

// Ledger reason prefixes for signal settlement entries
const (
	settleReasonPrefix = "settle:"
	haltReasonPrefix   = models.LedgerReasonHalt + ":"
)

// Thresholds are the halt and warning limits the state machine runs on
type Thresholds struct {
	MaxDrawdownFraction   float64
	MaxConsecutiveLosses  int
	DailyLossHaltFraction float64
	HaltCooldown          time.Duration
}

// DeriveState computes the risk state from the full ledger. It is a pure
// function of the entries and the current time; the sticky halt flag is
// reconstructed from the synthetic halt / halt_reset entries.
func DeriveState(entries []models.LedgerEntry, th Thresholds, now time.Time) models.RiskState {
	state := models.RiskState{
		Balance:     decimal.Zero,
		PeakBalance: decimal.Zero,
		State:       models.TradingNormal,
	}
	if len(entries) == 0 {
		return state
	}

	state.Balance = entries[len(entries)-1].RunningBalance

	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)
	var lastHalt, lastReset *models.LedgerEntry

	for i := range entries {
		e := &entries[i]
		if e.RunningBalance.GreaterThan(state.PeakBalance) {
			state.PeakBalance = e.RunningBalance
		}
		switch {
		case strings.HasPrefix(e.Reason, haltReasonPrefix):
			lastHalt = e
		case e.Reason == models.LedgerReasonHaltReset:
			lastReset = e
		case e.Reason == models.LedgerReasonSeed:
			continue
		}
		if e.Timestamp.After(weekAgo) {
			state.WeeklyPnL = state.WeeklyPnL.Add(e.Delta)
		}
		if e.Timestamp.After(dayAgo) {
			state.DailyPnL = state.DailyPnL.Add(e.Delta)
		}
	}

	// consecutive losing signals, counted over settlement entries only
	for i := len(entries) - 1; i >= 0; i-- {
		e := &entries[i]
		if !strings.HasPrefix(e.Reason, settleReasonPrefix) {
			continue
		}
		if e.Delta.IsNegative() {
			state.ConsecutiveLosses++
			continue
		}
		break
	}

	if state.PeakBalance.IsPositive() {
		dd, _ := state.PeakBalance.Sub(state.Balance).Div(state.PeakBalance).Float64()
		state.Drawdown = clamp(dd, 0, 1)
	}

	state.State = position(state, th, lastHalt, lastReset, now)
	// HaltedAt is only carried while the recorded halt still covers the
	// state; a breach after the halt expired must book a fresh entry.
	if state.State == models.TradingHalted && stickyHalt(state, th, lastHalt, lastReset, now) {
		at := lastHalt.Timestamp
		state.HaltedAt = &at
	}
	return state
}

// position resolves the state machine: normal -> warning -> halted, with the
// halt flag sticky until a manual reset or cooldown plus recovery. An expired
// halt does not shortcut to normal: the thresholds are re-evaluated so a
// fresh breach halts again.
func position(s models.RiskState, th Thresholds, lastHalt, lastReset *models.LedgerEntry, now time.Time) models.TradingState {
	warningDrawdown := th.MaxDrawdownFraction / 2
	warningLosses := (th.MaxConsecutiveLosses + 1) / 2

	if stickyHalt(s, th, lastHalt, lastReset, now) {
		return models.TradingHalted
	}

	if hardBreach(s, th) {
		return models.TradingHalted
	}
	if s.Drawdown >= warningDrawdown || s.ConsecutiveLosses >= warningLosses {
		return models.TradingWarning
	}
	return models.TradingNormal
}

// stickyHalt reports whether the most recent halt entry still pins the state:
// not reset, and either still in cooldown or not yet recovered below the
// warning drawdown.
func stickyHalt(s models.RiskState, th Thresholds, lastHalt, lastReset *models.LedgerEntry, now time.Time) bool {
	if !haltActive(lastHalt, lastReset) {
		return false
	}
	cooledDown := now.Sub(lastHalt.Timestamp) >= th.HaltCooldown
	recovered := s.Drawdown < th.MaxDrawdownFraction/2
	return !cooledDown || !recovered
}

func haltActive(lastHalt, lastReset *models.LedgerEntry) bool {
	if lastHalt == nil {
		return false
	}
	return lastReset == nil || lastReset.ID < lastHalt.ID
}

// hardBreach reports whether any halt threshold is currently violated
func hardBreach(s models.RiskState, th Thresholds) bool {
	if s.Drawdown >= th.MaxDrawdownFraction {
		return true
	}
	if s.ConsecutiveLosses >= th.MaxConsecutiveLosses {
		return true
	}
	if s.DailyPnL.IsNegative() && s.Balance.IsPositive() {
		lossFraction, _ := s.DailyPnL.Abs().Div(s.Balance).Float64()
		if lossFraction >= th.DailyLossHaltFraction {
			return true
		}
	}
	return false
}

// HaltTrigger names the threshold that forced a halt, for the synthetic
// ledger entry.
func HaltTrigger(s models.RiskState, th Thresholds) string {
	switch {
	case s.Drawdown >= th.MaxDrawdownFraction:
		return "drawdown"
	case s.ConsecutiveLosses >= th.MaxConsecutiveLosses:
		return "consecutive_losses"
	default:
		return "daily_loss"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
