package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// Typed store errors callers branch on
var (
	// ErrDuplicatePrediction is returned when a prediction already exists
	// for the same (fixture_id, model_version).
	ErrDuplicatePrediction = errors.New("prediction already exists for fixture and model version")

	// ErrInvariant is returned when a write would violate an entity
	// invariant, e.g. a second signal for one prediction.
	ErrInvariant = errors.New("store invariant violated")

	// ErrConcurrentWrite is returned when the ledger tail moved under an
	// append; the caller retries.
	ErrConcurrentWrite = errors.New("concurrent ledger write")
)

// DB represents a database connection
type DB struct {
	*sql.DB
}

// New opens the Postgres store addressed by a URL and runs migrations
func New(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Check connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &DB{db}, nil
}

// WithTx runs fn inside a transaction, committing on nil error
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// createTables creates the necessary tables if they don't exist
func createTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS fixtures (
			id BIGSERIAL PRIMARY KEY,
			provider_id TEXT NOT NULL,
			kickoff_utc TIMESTAMPTZ NOT NULL,
			home_team TEXT NOT NULL,
			away_team TEXT NOT NULL,
			competition TEXT NOT NULL,
			status TEXT NOT NULL,
			home_goals INT,
			away_goals INT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (provider_id, kickoff_utc)
		)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id BIGSERIAL PRIMARY KEY,
			fixture_id BIGINT NOT NULL REFERENCES fixtures(id),
			model_version TEXT NOT NULL,
			pick TEXT NOT NULL,
			prob_home DOUBLE PRECISION NOT NULL,
			prob_draw DOUBLE PRECISION NOT NULL,
			prob_away DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (fixture_id, model_version)
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			id BIGSERIAL PRIMARY KEY,
			prediction_id BIGINT NOT NULL UNIQUE REFERENCES predictions(id),
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			stake_fraction DOUBLE PRECISION NOT NULL,
			expected_value DOUBLE PRECISION NOT NULL,
			odds DOUBLE PRECISION NOT NULL,
			simulated BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL,
			settled_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id BIGSERIAL PRIMARY KEY,
			signal_id BIGINT NOT NULL REFERENCES signals(id),
			channel_id TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			payload_hash TEXT NOT NULL,
			outcome TEXT NOT NULL,
			provider_message_id TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			attempted_at TIMESTAMPTZ NOT NULL,
			sent_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS deliveries_one_sent
			ON deliveries (signal_id, channel_id) WHERE outcome = 'sent'`,
		`CREATE TABLE IF NOT EXISTS bankroll_ledger (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			delta NUMERIC(18, 4) NOT NULL,
			reason TEXT NOT NULL,
			running_balance NUMERIC(18, 4) NOT NULL
		)`,
		`CREATE OR REPLACE FUNCTION bankroll_ledger_immutable() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'bankroll_ledger is append-only';
		END
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS bankroll_ledger_no_rewrite ON bankroll_ledger`,
		`CREATE TRIGGER bankroll_ledger_no_rewrite
			BEFORE UPDATE OR DELETE ON bankroll_ledger
			FOR EACH ROW EXECUTE FUNCTION bankroll_ledger_immutable()`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
