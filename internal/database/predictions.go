package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Alias1177/BetSignals/models"
)

// RecordPrediction inserts an immutable prediction row. Returns
// ErrDuplicatePrediction when (fixture_id, model_version) already exists.
func (db *DB) RecordPrediction(ctx context.Context, tx *sql.Tx, p *models.Prediction) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO predictions (fixture_id, model_version, pick, prob_home, prob_draw, prob_away, confidence, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, p.FixtureID, p.ModelVersion, p.Pick, p.ProbHome, p.ProbDraw, p.ProbAway, p.Confidence, p.GeneratedAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicatePrediction
		}
		return 0, fmt.Errorf("inserting prediction: %w", err)
	}
	p.ID = id
	return id, nil
}

// GetPrediction loads one prediction by id
func (db *DB) GetPrediction(ctx context.Context, id int64) (*models.Prediction, error) {
	var p models.Prediction
	err := db.QueryRowContext(ctx, `
		SELECT id, fixture_id, model_version, pick, prob_home, prob_draw, prob_away, confidence, generated_at
		FROM predictions WHERE id = $1
	`, id).Scan(&p.ID, &p.FixtureID, &p.ModelVersion, &p.Pick, &p.ProbHome, &p.ProbDraw, &p.ProbAway, &p.Confidence, &p.GeneratedAt)
	if err != nil {
		return nil, fmt.Errorf("loading prediction %d: %w", id, err)
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
