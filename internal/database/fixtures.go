package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Alias1177/BetSignals/models"
)

// UpsertResult reports what UpsertFixture did
type UpsertResult struct {
	FixtureID     int64
	Created       bool
	StatusChanged bool
}

// UpsertFixture inserts or refreshes a fixture keyed by
// (provider_id, kickoff_utc). Identity attributes never change after the
// first observation; only status and the score are refreshed.
func (db *DB) UpsertFixture(ctx context.Context, tx *sql.Tx, f *models.Fixture) (UpsertResult, error) {
	var (
		existingID     int64
		existingStatus models.FixtureStatus
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, status FROM fixtures
		WHERE provider_id = $1 AND kickoff_utc = $2
	`, f.ProviderID, f.KickoffUTC).Scan(&existingID, &existingStatus)

	if errors.Is(err, sql.ErrNoRows) {
		var id int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO fixtures (provider_id, kickoff_utc, home_team, away_team, competition, status, home_goals, away_goals)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, f.ProviderID, f.KickoffUTC, f.HomeTeam, f.AwayTeam, f.Competition, f.Status, f.HomeGoals, f.AwayGoals).Scan(&id)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("inserting fixture: %w", err)
		}
		f.ID = id
		return UpsertResult{FixtureID: id, Created: true}, nil
	}
	if err != nil {
		return UpsertResult{}, fmt.Errorf("looking up fixture: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE fixtures
		SET status = $1, home_goals = $2, away_goals = $3, updated_at = now()
		WHERE id = $4
	`, f.Status, f.HomeGoals, f.AwayGoals, existingID)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("updating fixture: %w", err)
	}

	f.ID = existingID
	return UpsertResult{
		FixtureID:     existingID,
		StatusChanged: existingStatus != f.Status,
	}, nil
}

// GetFixture loads one fixture by id
func (db *DB) GetFixture(ctx context.Context, id int64) (*models.Fixture, error) {
	var f models.Fixture
	err := db.QueryRowContext(ctx, `
		SELECT id, provider_id, kickoff_utc, home_team, away_team, competition, status, home_goals, away_goals
		FROM fixtures WHERE id = $1
	`, id).Scan(&f.ID, &f.ProviderID, &f.KickoffUTC, &f.HomeTeam, &f.AwayTeam, &f.Competition, &f.Status, &f.HomeGoals, &f.AwayGoals)
	if err != nil {
		return nil, fmt.Errorf("loading fixture %d: %w", id, err)
	}
	return &f, nil
}

// FixturesWithoutPrediction returns scheduled fixtures that have no prediction
// for the given model version yet, oldest kickoff first.
func (db *DB) FixturesWithoutPrediction(ctx context.Context, modelVersion string, limit int) ([]models.Fixture, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT f.id, f.provider_id, f.kickoff_utc, f.home_team, f.away_team, f.competition, f.status, f.home_goals, f.away_goals
		FROM fixtures f
		LEFT JOIN predictions p ON p.fixture_id = f.id AND p.model_version = $1
		WHERE f.status = 'scheduled' AND p.id IS NULL
		ORDER BY f.kickoff_utc
		LIMIT $2
	`, modelVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unpredicted fixtures: %w", err)
	}
	defer rows.Close()
	return scanFixtures(rows)
}

// FixturesAwaitingResult returns fixtures whose kickoff has passed but whose
// status is not terminal yet.
func (db *DB) FixturesAwaitingResult(ctx context.Context, now time.Time, limit int) ([]models.Fixture, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, provider_id, kickoff_utc, home_team, away_team, competition, status, home_goals, away_goals
		FROM fixtures
		WHERE status IN ('scheduled', 'live') AND kickoff_utc < $1
		ORDER BY kickoff_utc
		LIMIT $2
	`, now.Add(-2*time.Hour), limit)
	if err != nil {
		return nil, fmt.Errorf("querying fixtures awaiting result: %w", err)
	}
	defer rows.Close()
	return scanFixtures(rows)
}

// RecentTeamResults returns the last n finished fixtures a team played in,
// most recent first. Used by the feature builder.
func (db *DB) RecentTeamResults(ctx context.Context, team string, before time.Time, n int) ([]models.Fixture, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, provider_id, kickoff_utc, home_team, away_team, competition, status, home_goals, away_goals
		FROM fixtures
		WHERE status = 'finished'
		  AND kickoff_utc < $1
		  AND (home_team = $2 OR away_team = $2)
		  AND home_goals IS NOT NULL AND away_goals IS NOT NULL
		ORDER BY kickoff_utc DESC
		LIMIT $3
	`, before, team, n)
	if err != nil {
		return nil, fmt.Errorf("querying team results: %w", err)
	}
	defer rows.Close()
	return scanFixtures(rows)
}

func scanFixtures(rows *sql.Rows) ([]models.Fixture, error) {
	var fixtures []models.Fixture
	for rows.Next() {
		var f models.Fixture
		if err := rows.Scan(&f.ID, &f.ProviderID, &f.KickoffUTC, &f.HomeTeam, &f.AwayTeam, &f.Competition, &f.Status, &f.HomeGoals, &f.AwayGoals); err != nil {
			return nil, fmt.Errorf("scanning fixture: %w", err)
		}
		fixtures = append(fixtures, f)
	}
	return fixtures, rows.Err()
}
