package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/BetSignals/models"
)

func testThresholds() Thresholds {
	return Thresholds{
		MaxDrawdownFraction:   0.25,
		MaxConsecutiveLosses:  5,
		DailyLossHaltFraction: 0.10,
		HaltCooldown:          24 * time.Hour,
	}
}

type entrySpec struct {
	delta  float64
	reason string
	at     time.Time
}

func buildLedger(specs []entrySpec) []models.LedgerEntry {
	entries := make([]models.LedgerEntry, 0, len(specs))
	balance := decimal.Zero
	for i, s := range specs {
		balance = balance.Add(decimal.NewFromFloat(s.delta))
		entries = append(entries, models.LedgerEntry{
			ID:             int64(i + 1),
			Timestamp:      s.at,
			Delta:          decimal.NewFromFloat(s.delta),
			RunningBalance: balance,
			Reason:         s.reason,
		})
	}
	return entries
}

func TestDeriveStateEmptyLedger(t *testing.T) {
	state := DeriveState(nil, testThresholds(), time.Now())

	require.Equal(t, models.TradingNormal, state.State)
	require.True(t, state.Balance.IsZero())
	require.Zero(t, state.ConsecutiveLosses)
}

func TestDeriveStateLossStreakForcesHalt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)

	entries := buildLedger([]entrySpec{
		{100, models.LedgerReasonSeed, old},
		{-40, "settle:1", old.Add(time.Hour)},
		{-30, "settle:2", old.Add(2 * time.Hour)},
		{-20, "settle:3", old.Add(3 * time.Hour)},
		{-30, "settle:4", old.Add(4 * time.Hour)},
	})

	state := DeriveState(entries, testThresholds(), now)

	require.Equal(t, models.TradingHalted, state.State)
	require.Equal(t, 4, state.ConsecutiveLosses)
	// balance went negative, drawdown clamps at 1
	require.InDelta(t, 1.0, state.Drawdown, 1e-9)
	require.True(t, state.Balance.Equal(decimal.NewFromInt(-20)))
	require.True(t, state.PeakBalance.Equal(decimal.NewFromInt(100)))
}

func TestDeriveStateWarningOnHalfDrawdown(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)

	// 15% drawdown against a 25% halt limit
	entries := buildLedger([]entrySpec{
		{1000, models.LedgerReasonSeed, old},
		{-150, "settle:1", old.Add(time.Hour)},
	})

	state := DeriveState(entries, testThresholds(), now)

	require.Equal(t, models.TradingWarning, state.State)
	require.InDelta(t, 0.15, state.Drawdown, 1e-9)
}

func TestDeriveStateWarningOnLossStreak(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)

	entries := buildLedger([]entrySpec{
		{1000, models.LedgerReasonSeed, old},
		{-10, "settle:1", old.Add(1 * time.Hour)},
		{-10, "settle:2", old.Add(2 * time.Hour)},
		{-10, "settle:3", old.Add(3 * time.Hour)},
	})

	state := DeriveState(entries, testThresholds(), now)

	require.Equal(t, models.TradingWarning, state.State)
	require.Equal(t, 3, state.ConsecutiveLosses)
}

func TestDeriveStateWinBreaksLossStreak(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)

	entries := buildLedger([]entrySpec{
		{1000, models.LedgerReasonSeed, old},
		{-10, "settle:1", old.Add(1 * time.Hour)},
		{-10, "settle:2", old.Add(2 * time.Hour)},
		{30, "settle:3", old.Add(3 * time.Hour)},
		{-10, "settle:4", old.Add(4 * time.Hour)},
	})

	state := DeriveState(entries, testThresholds(), now)

	require.Equal(t, 1, state.ConsecutiveLosses)
	require.Equal(t, models.TradingNormal, state.State)
}

func TestDeriveStateHaltIsSticky(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	haltedAt := now.Add(-2 * time.Hour)
	old := now.Add(-30 * 24 * time.Hour)

	// drawdown fully recovered, but the halt is inside the cooldown window
	entries := buildLedger([]entrySpec{
		{1000, models.LedgerReasonSeed, old},
		{-300, "settle:1", old.Add(time.Hour)},
		{0, "halt:drawdown", haltedAt},
		{300, "settle:2", now.Add(-time.Hour)},
	})

	state := DeriveState(entries, testThresholds(), now)

	require.Equal(t, models.TradingHalted, state.State)
	require.NotNil(t, state.HaltedAt)
	require.True(t, state.HaltedAt.Equal(haltedAt))
}

func TestDeriveStateHaltClearsAfterCooldownAndRecovery(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	haltedAt := now.Add(-48 * time.Hour)
	old := now.Add(-30 * 24 * time.Hour)

	entries := buildLedger([]entrySpec{
		{1000, models.LedgerReasonSeed, old},
		{-300, "settle:1", old.Add(time.Hour)},
		{0, "halt:drawdown", haltedAt},
		{290, "settle:2", now.Add(-30 * time.Hour)},
	})

	state := DeriveState(entries, testThresholds(), now)

	require.Equal(t, models.TradingNormal, state.State)
	require.Nil(t, state.HaltedAt)
}

func TestDeriveStateHaltPersistsWithoutRecovery(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	haltedAt := now.Add(-48 * time.Hour)
	old := now.Add(-30 * 24 * time.Hour)

	// cooldown elapsed but drawdown still above the warning line
	entries := buildLedger([]entrySpec{
		{1000, models.LedgerReasonSeed, old},
		{-300, "settle:1", old.Add(time.Hour)},
		{0, "halt:drawdown", haltedAt},
	})

	state := DeriveState(entries, testThresholds(), now)

	require.Equal(t, models.TradingHalted, state.State)
}

func TestDeriveStateFreshBreachAfterExpiredHalt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	haltedAt := now.Add(-72 * time.Hour)
	old := now.Add(-30 * 24 * time.Hour)

	// the old halt cooled down and the drawdown recovered, but a fresh run
	// of losses hits the streak limit; the expired halt must not mask it
	entries := buildLedger([]entrySpec{
		{1000, models.LedgerReasonSeed, old},
		{-300, "settle:1", old.Add(time.Hour)},
		{0, "halt:drawdown", haltedAt},
		{295, "settle:2", now.Add(-71 * time.Hour)},
		{-1, "settle:3", now.Add(-5 * time.Hour)},
		{-1, "settle:4", now.Add(-4 * time.Hour)},
		{-1, "settle:5", now.Add(-3 * time.Hour)},
		{-1, "settle:6", now.Add(-2 * time.Hour)},
		{-1, "settle:7", now.Add(-1 * time.Hour)},
	})

	state := DeriveState(entries, testThresholds(), now)

	require.Equal(t, models.TradingHalted, state.State)
	require.Equal(t, 5, state.ConsecutiveLosses)
	require.InDelta(t, 0.01, state.Drawdown, 1e-9)
	// the breach is new, so no recorded halt covers it yet
	require.Nil(t, state.HaltedAt)
}

func TestDeriveStateManualResetClearsHalt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)

	entries := buildLedger([]entrySpec{
		{1000, models.LedgerReasonSeed, old},
		{-300, "settle:1", old.Add(time.Hour)},
		{0, "halt:drawdown", now.Add(-time.Hour)},
		{0, models.LedgerReasonHaltReset, now.Add(-30 * time.Minute)},
	})

	state := DeriveState(entries, testThresholds(), now)

	// reset overrides the halt, but the still-breached drawdown re-triggers
	require.Equal(t, models.TradingHalted, state.State)

	// once the drawdown recovers, the reset holds
	recovered := append(entries, models.LedgerEntry{
		ID:             int64(len(entries) + 1),
		Timestamp:      now.Add(-10 * time.Minute),
		Delta:          decimal.NewFromInt(290),
		RunningBalance: decimal.NewFromInt(990),
		Reason:         "settle:2",
	})
	state = DeriveState(recovered, testThresholds(), now)
	require.Equal(t, models.TradingNormal, state.State)
}

func TestDeriveStateDailyLossHalt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)

	// 12% of bankroll lost inside the last day, drawdown well under the cap
	entries := buildLedger([]entrySpec{
		{10000, models.LedgerReasonSeed, old},
		{1000, "settle:1", old.Add(time.Hour)},
		{-1200, "settle:2", now.Add(-2 * time.Hour)},
	})

	state := DeriveState(entries, testThresholds(), now)

	require.Equal(t, models.TradingHalted, state.State)
	require.True(t, state.DailyPnL.Equal(decimal.NewFromInt(-1200)))
}

func TestHaltTrigger(t *testing.T) {
	th := testThresholds()

	s := models.RiskState{Drawdown: 0.30}
	require.Equal(t, "drawdown", HaltTrigger(s, th))

	s = models.RiskState{ConsecutiveLosses: 5}
	require.Equal(t, "consecutive_losses", HaltTrigger(s, th))

	s = models.RiskState{}
	require.Equal(t, "daily_loss", HaltTrigger(s, th))
}
