package features

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Alias1177/BetSignals/internal/database"
	"github.com/Alias1177/BetSignals/models"
)

const (
	formWindow = 5

	// Home-side prior in probability points, applied by the predictor on
	// top of the form adjustment.
	homeAdvantagePrior = 0.08
)

// Builder assembles the predictor's input record from stored results and a
// fresh odds snapshot.
type Builder struct {
	db     *database.DB
	logger zerolog.Logger
}

// NewBuilder creates a feature builder backed by the fixture store
func NewBuilder(db *database.DB, logger zerolog.Logger) *Builder {
	return &Builder{
		db:     db,
		logger: logger.With().Str("component", "features").Logger(),
	}
}

// Build computes the feature set for one fixture. Missing inputs lower
// Completeness instead of failing; the predictor decides downstream whether
// the record is usable.
func (b *Builder) Build(ctx context.Context, fixture *models.Fixture, odds *models.OddsSnapshot) (*models.FeatureSet, error) {
	fs := &models.FeatureSet{HomeAdvantage: homeAdvantagePrior}
	populated, total := 0, 3

	homeResults, err := b.db.RecentTeamResults(ctx, fixture.HomeTeam, fixture.KickoffUTC, formWindow)
	if err != nil {
		return nil, err
	}
	awayResults, err := b.db.RecentTeamResults(ctx, fixture.AwayTeam, fixture.KickoffUTC, formWindow)
	if err != nil {
		return nil, err
	}

	if len(homeResults) >= 3 {
		fs.HomeFormPoints, fs.HomeGoalsPerGame = summarizeForm(fixture.HomeTeam, homeResults)
		populated++
	}
	if len(awayResults) >= 3 {
		fs.AwayFormPoints, fs.AwayGoalsPerGame = summarizeForm(fixture.AwayTeam, awayResults)
		populated++
	}

	if odds != nil {
		fs.ImpliedHome, fs.ImpliedDraw, fs.ImpliedAway = impliedProbabilities(odds)
		populated++
	}

	fs.Completeness = float64(populated) / float64(total)
	b.logger.Debug().
		Int64("fixture_id", fixture.ID).
		Float64("completeness", fs.Completeness).
		Msg("Built feature set")
	return fs, nil
}

// summarizeForm returns points per game and goals per game over the window
func summarizeForm(team string, results []models.Fixture) (pointsPerGame, goalsPerGame float64) {
	var points, goals int
	for _, r := range results {
		scored, conceded := *r.HomeGoals, *r.AwayGoals
		if r.AwayTeam == team {
			scored, conceded = conceded, scored
		}
		goals += scored
		switch {
		case scored > conceded:
			points += 3
		case scored == conceded:
			points++
		}
	}
	n := float64(len(results))
	return float64(points) / n, float64(goals) / n
}

// impliedProbabilities converts decimal odds to probabilities with the
// bookmaker overround removed.
func impliedProbabilities(odds *models.OddsSnapshot) (home, draw, away float64) {
	rawHome := 1 / odds.Home
	rawDraw := 1 / odds.Draw
	rawAway := 1 / odds.Away
	overround := rawHome + rawDraw + rawAway
	return rawHome / overround, rawDraw / overround, rawAway / overround
}
