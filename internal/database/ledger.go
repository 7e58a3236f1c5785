package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Alias1177/BetSignals/models"
)

// AppendLedger appends one bankroll movement with its computed running
// balance. The insert is guarded by an optimistic check on the current tail
// id; if another appender won the race the call returns ErrConcurrentWrite
// and the caller retries.
func (db *DB) AppendLedger(ctx context.Context, tx *sql.Tx, at time.Time, delta decimal.Decimal, reason string) (*models.LedgerEntry, error) {
	var (
		tailID      sql.NullInt64
		tailBalance decimal.NullDecimal
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, running_balance FROM bankroll_ledger ORDER BY id DESC LIMIT 1
	`).Scan(&tailID, &tailBalance)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading ledger tail: %w", err)
	}

	balance := nextRunningBalance(tailBalance, delta)

	var entry models.LedgerEntry
	err = tx.QueryRowContext(ctx, `
		INSERT INTO bankroll_ledger (ts, delta, reason, running_balance)
		SELECT $1, $2, $3, $4
		WHERE COALESCE((SELECT MAX(id) FROM bankroll_ledger), 0) = $5
		RETURNING id, ts, delta, reason, running_balance
	`, at, delta, reason, balance, tailID.Int64).Scan(
		&entry.ID, &entry.Timestamp, &entry.Delta, &entry.Reason, &entry.RunningBalance,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConcurrentWrite
	}
	if err != nil {
		return nil, fmt.Errorf("appending ledger entry: %w", err)
	}
	return &entry, nil
}

// AppendLedgerRetry wraps AppendLedger in its own transaction with the
// standard retry loop for tail conflicts.
func (db *DB) AppendLedgerRetry(ctx context.Context, at time.Time, delta decimal.Decimal, reason string) (*models.LedgerEntry, error) {
	const maxAttempts = 5

	var entry *models.LedgerEntry
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := db.WithTx(ctx, func(tx *sql.Tx) error {
			var txErr error
			entry, txErr = db.AppendLedger(ctx, tx, at, delta, reason)
			return txErr
		})
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrConcurrentWrite) {
			return nil, err
		}
	}
	return nil, ErrConcurrentWrite
}

// nextRunningBalance computes the balance a new entry carries: the tail
// balance plus the delta, or the delta alone when the ledger is empty.
func nextRunningBalance(tail decimal.NullDecimal, delta decimal.Decimal) decimal.Decimal {
	if tail.Valid {
		return tail.Decimal.Add(delta)
	}
	return delta
}

// VerifyLedger checks that every running balance is the prefix sum of the
// deltas before it and that ids are strictly increasing. A mismatch means the
// ledger was rewritten outside AppendLedger and surfaces as ErrInvariant.
func VerifyLedger(entries []models.LedgerEntry) error {
	balance := decimal.Zero
	lastID := int64(0)
	for i := range entries {
		e := &entries[i]
		if e.ID <= lastID {
			return fmt.Errorf("%w: ledger entry %d out of order after %d", ErrInvariant, e.ID, lastID)
		}
		lastID = e.ID
		balance = balance.Add(e.Delta)
		if !e.RunningBalance.Equal(balance) {
			return fmt.Errorf("%w: ledger entry %d balance %s, prefix sum %s",
				ErrInvariant, e.ID, e.RunningBalance, balance)
		}
	}
	return nil
}

// LedgerEntries returns all ledger rows in append order, verified against the
// prefix-sum invariant.
func (db *DB) LedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, ts, delta, reason, running_balance
		FROM bankroll_ledger ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Delta, &e.Reason, &e.RunningBalance); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := VerifyLedger(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SeedLedger writes the initial bankroll entry when the ledger is empty
func (db *DB) SeedLedger(ctx context.Context, at time.Time, initial decimal.Decimal) error {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bankroll_ledger`).Scan(&count); err != nil {
		return fmt.Errorf("counting ledger rows: %w", err)
	}
	if count > 0 {
		return nil
	}
	_, err := db.AppendLedgerRetry(ctx, at, initial, models.LedgerReasonSeed)
	return err
}
