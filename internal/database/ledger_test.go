package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/BetSignals/models"
)

func TestNextRunningBalance(t *testing.T) {
	// empty ledger: the first entry carries its own delta
	seed := nextRunningBalance(decimal.NullDecimal{}, decimal.NewFromInt(2000))
	require.True(t, seed.Equal(decimal.NewFromInt(2000)))

	tail := decimal.NullDecimal{Valid: true, Decimal: decimal.NewFromInt(2000)}

	win := nextRunningBalance(tail, decimal.NewFromFloat(64.5))
	require.True(t, win.Equal(decimal.NewFromFloat(2064.5)))

	loss := nextRunningBalance(tail, decimal.NewFromFloat(-100.25))
	require.True(t, loss.Equal(decimal.NewFromFloat(1899.75)))
}

func ledgerFixture() []models.LedgerEntry {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	deltas := []float64{2000, 100, -84, -16.5}

	var entries []models.LedgerEntry
	balance := decimal.Zero
	for i, d := range deltas {
		delta := decimal.NewFromFloat(d)
		balance = balance.Add(delta)
		entries = append(entries, models.LedgerEntry{
			ID:             int64(i + 1),
			Timestamp:      base.Add(time.Duration(i) * time.Hour),
			Delta:          delta,
			Reason:         fmt.Sprintf("settle:%d", i+1),
			RunningBalance: balance,
		})
	}
	return entries
}

func TestVerifyLedger(t *testing.T) {
	require.NoError(t, VerifyLedger(nil))
	require.NoError(t, VerifyLedger(ledgerFixture()))
}

func TestVerifyLedgerRejectsBrokenPrefixSum(t *testing.T) {
	entries := ledgerFixture()
	entries[2].RunningBalance = entries[2].RunningBalance.Add(decimal.NewFromInt(1))

	err := VerifyLedger(entries)
	require.ErrorIs(t, err, ErrInvariant)
}

func TestVerifyLedgerRejectsTamperedDelta(t *testing.T) {
	entries := ledgerFixture()
	// a rewritten delta breaks every balance after it
	entries[1].Delta = decimal.NewFromInt(500)

	err := VerifyLedger(entries)
	require.ErrorIs(t, err, ErrInvariant)
}

func TestVerifyLedgerRejectsOutOfOrderIDs(t *testing.T) {
	entries := ledgerFixture()
	entries[1].ID, entries[2].ID = entries[2].ID, entries[1].ID

	err := VerifyLedger(entries)
	require.ErrorIs(t, err, ErrInvariant)
}
