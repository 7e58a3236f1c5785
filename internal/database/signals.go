package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Alias1177/BetSignals/models"
)

// RecordSignal inserts the signal for a prediction, atomically with the
// prediction it belongs to (same transaction). A second signal for the same
// prediction violates the one-signal-per-prediction invariant.
func (db *DB) RecordSignal(ctx context.Context, tx *sql.Tx, s *models.Signal) (int64, error) {
	if s.Status != models.SignalApproved && s.StakeFraction != 0 {
		return 0, fmt.Errorf("%w: non-approved signal with stake %f", ErrInvariant, s.StakeFraction)
	}

	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO signals (prediction_id, status, reason, stake_fraction, expected_value, odds, simulated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, s.PredictionID, s.Status, s.Reason, s.StakeFraction, s.ExpectedValue, s.Odds, s.Simulated, s.CreatedAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: signal already exists for prediction %d", ErrInvariant, s.PredictionID)
		}
		return 0, fmt.Errorf("inserting signal: %w", err)
	}
	s.ID = id
	return id, nil
}

// SignalContext bundles a signal with its prediction and fixture for
// formatting and settlement.
type SignalContext struct {
	Signal     models.Signal
	Prediction models.Prediction
	Fixture    models.Fixture
}

// UndeliveredApprovedSignals returns approved signals with no successful
// delivery on the given channel, oldest first.
func (db *DB) UndeliveredApprovedSignals(ctx context.Context, channelID string, limit int) ([]SignalContext, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.id, s.prediction_id, s.status, s.reason, s.stake_fraction, s.expected_value, s.odds, s.simulated, s.created_at,
		       p.id, p.fixture_id, p.model_version, p.pick, p.prob_home, p.prob_draw, p.prob_away, p.confidence, p.generated_at,
		       f.id, f.provider_id, f.kickoff_utc, f.home_team, f.away_team, f.competition, f.status, f.home_goals, f.away_goals
		FROM signals s
		JOIN predictions p ON p.id = s.prediction_id
		JOIN fixtures f ON f.id = p.fixture_id
		WHERE s.status = 'approved'
		  AND NOT EXISTS (
			SELECT 1 FROM deliveries d
			WHERE d.signal_id = s.id AND d.channel_id = $1 AND d.outcome IN ('sent', 'permanent_failure')
		  )
		ORDER BY s.id
		LIMIT $2
	`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying undelivered signals: %w", err)
	}
	defer rows.Close()
	return scanSignalContexts(rows)
}

// UnsettledSignals returns approved signals whose fixture has finished and
// whose outcome has not been booked to the ledger yet. Only signals that were
// actually sent settle; a bet that never reached the channel books no PnL.
func (db *DB) UnsettledSignals(ctx context.Context, limit int) ([]SignalContext, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.id, s.prediction_id, s.status, s.reason, s.stake_fraction, s.expected_value, s.odds, s.simulated, s.created_at,
		       p.id, p.fixture_id, p.model_version, p.pick, p.prob_home, p.prob_draw, p.prob_away, p.confidence, p.generated_at,
		       f.id, f.provider_id, f.kickoff_utc, f.home_team, f.away_team, f.competition, f.status, f.home_goals, f.away_goals
		FROM signals s
		JOIN predictions p ON p.id = s.prediction_id
		JOIN fixtures f ON f.id = p.fixture_id
		WHERE s.status = 'approved'
		  AND s.settled_at IS NULL
		  AND f.status = 'finished'
		  AND f.home_goals IS NOT NULL AND f.away_goals IS NOT NULL
		  AND EXISTS (
			SELECT 1 FROM deliveries d
			WHERE d.signal_id = s.id AND d.outcome = 'sent'
		  )
		ORDER BY s.id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unsettled signals: %w", err)
	}
	defer rows.Close()
	return scanSignalContexts(rows)
}

// SettledSignals returns approved signals that have been booked to the
// ledger, in settlement order. Used by the backtest report.
func (db *DB) SettledSignals(ctx context.Context, limit int) ([]SignalContext, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.id, s.prediction_id, s.status, s.reason, s.stake_fraction, s.expected_value, s.odds, s.simulated, s.created_at,
		       p.id, p.fixture_id, p.model_version, p.pick, p.prob_home, p.prob_draw, p.prob_away, p.confidence, p.generated_at,
		       f.id, f.provider_id, f.kickoff_utc, f.home_team, f.away_team, f.competition, f.status, f.home_goals, f.away_goals
		FROM signals s
		JOIN predictions p ON p.id = s.prediction_id
		JOIN fixtures f ON f.id = p.fixture_id
		WHERE s.status = 'approved'
		  AND s.settled_at IS NOT NULL
		  AND f.home_goals IS NOT NULL AND f.away_goals IS NOT NULL
		ORDER BY s.settled_at, s.id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying settled signals: %w", err)
	}
	defer rows.Close()
	return scanSignalContexts(rows)
}

// MarkSignalSettled stamps the signal after its PnL entry was appended
func (db *DB) MarkSignalSettled(ctx context.Context, tx *sql.Tx, signalID int64, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE signals SET settled_at = $1 WHERE id = $2 AND settled_at IS NULL
	`, at, signalID)
	if err != nil {
		return fmt.Errorf("marking signal settled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: signal %d already settled", ErrInvariant, signalID)
	}
	return nil
}

// PipelineCounts reports fixtures, predictions and signals seen since a cutoff
func (db *DB) PipelineCounts(ctx context.Context, since time.Time) (fixtures, predictions, signals int, err error) {
	err = db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM fixtures WHERE created_at >= $1),
			(SELECT COUNT(*) FROM predictions WHERE generated_at >= $1),
			(SELECT COUNT(*) FROM signals WHERE created_at >= $1)
	`, since).Scan(&fixtures, &predictions, &signals)
	if err != nil {
		err = fmt.Errorf("counting pipeline rows: %w", err)
	}
	return fixtures, predictions, signals, err
}

func scanSignalContexts(rows *sql.Rows) ([]SignalContext, error) {
	var out []SignalContext
	for rows.Next() {
		var sc SignalContext
		err := rows.Scan(
			&sc.Signal.ID, &sc.Signal.PredictionID, &sc.Signal.Status, &sc.Signal.Reason,
			&sc.Signal.StakeFraction, &sc.Signal.ExpectedValue, &sc.Signal.Odds, &sc.Signal.Simulated, &sc.Signal.CreatedAt,
			&sc.Prediction.ID, &sc.Prediction.FixtureID, &sc.Prediction.ModelVersion, &sc.Prediction.Pick,
			&sc.Prediction.ProbHome, &sc.Prediction.ProbDraw, &sc.Prediction.ProbAway, &sc.Prediction.Confidence, &sc.Prediction.GeneratedAt,
			&sc.Fixture.ID, &sc.Fixture.ProviderID, &sc.Fixture.KickoffUTC, &sc.Fixture.HomeTeam, &sc.Fixture.AwayTeam,
			&sc.Fixture.Competition, &sc.Fixture.Status, &sc.Fixture.HomeGoals, &sc.Fixture.AwayGoals,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning signal context: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
