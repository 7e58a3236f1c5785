package predictor

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/Alias1177/BetSignals/models"
)

const (
	// probFloor keeps degenerate components away from 0 and 1
	probFloor = 1e-4

	// oddsWeight is the share of the odds-implied prior in the blend
	oddsWeight = 0.65

	// minCompleteness below which the prediction is emitted with
	// confidence 0 and rejected downstream.
	minCompleteness = 0.66

	drawDamping = 0.9
	goalsWeight = 0.2
)

// Blend is the reference predictor: a weighted blend of the odds-implied
// prior and a form-based adjustment. Given identical inputs it returns
// bit-identical outputs; there is no randomness anywhere in the path.
type Blend struct {
	modelVersion string
	clock        models.Clock
	logger       zerolog.Logger
}

// New creates the blend predictor
func New(modelVersion string, clock models.Clock, logger zerolog.Logger) *Blend {
	return &Blend{
		modelVersion: modelVersion,
		clock:        clock,
		logger:       logger.With().Str("component", "predictor").Logger(),
	}
}

// Score maps a fixture and its features to a prediction. The probability
// vector always sums to 1 within 1e-6 with every component in
// [1e-4, 1-1e-4].
func (b *Blend) Score(fixture *models.Fixture, features *models.FeatureSet) (*models.Prediction, error) {
	if fixture == nil || features == nil {
		return nil, fmt.Errorf("predictor: nil fixture or features")
	}

	formHome, formDraw, formAway := formVector(features)

	var home, draw, away float64
	if features.ImpliedHome > 0 {
		home = oddsWeight*features.ImpliedHome + (1-oddsWeight)*formHome
		draw = oddsWeight*features.ImpliedDraw + (1-oddsWeight)*formDraw
		away = oddsWeight*features.ImpliedAway + (1-oddsWeight)*formAway
	} else {
		home, draw, away = formHome, formDraw, formAway
	}

	home, draw, away = ClampAndNormalize(home, draw, away)

	confidence := 0.0
	if features.Completeness >= minCompleteness {
		confidence = (1 - entropy(home, draw, away)/math.Log(3)) * features.Completeness
	}

	p := &models.Prediction{
		FixtureID:    fixture.ID,
		ModelVersion: b.modelVersion,
		Pick:         pick(home, draw, away),
		ProbHome:     home,
		ProbDraw:     draw,
		ProbAway:     away,
		Confidence:   confidence,
		GeneratedAt:  b.clock.Now(),
	}

	b.logger.Debug().
		Int64("fixture_id", fixture.ID).
		Str("pick", string(p.Pick)).
		Float64("confidence", confidence).
		Msg("Scored fixture")
	return p, nil
}

// formVector derives outcome probabilities from team form alone
func formVector(fs *models.FeatureSet) (home, draw, away float64) {
	strengthHome := fs.HomeFormPoints/3 + goalsWeight*fs.HomeGoalsPerGame + fs.HomeAdvantage
	strengthAway := fs.AwayFormPoints/3 + goalsWeight*fs.AwayGoalsPerGame

	expHome := math.Exp(strengthHome)
	expAway := math.Exp(strengthAway)
	expDraw := drawDamping * math.Exp((strengthHome+strengthAway)/2)

	total := expHome + expDraw + expAway
	return expHome / total, expDraw / total, expAway / total
}

// ClampAndNormalize forces every component into [probFloor, 1-probFloor]
// and renormalizes the vector to sum to 1. Components are floored after
// normalization, with the added mass taken from the remaining components,
// so the floor survives the rescale.
func ClampAndNormalize(home, draw, away float64) (float64, float64, float64) {
	p := [3]float64{home, draw, away}

	var total float64
	for i := range p {
		p[i] = math.Max(p[i], 0)
		total += p[i]
	}
	if total == 0 {
		return 1.0 / 3, 1.0 / 3, 1.0 / 3
	}
	for i := range p {
		p[i] /= total
	}

	var floored, rest float64
	for _, v := range p {
		if v < probFloor {
			floored += probFloor
		} else {
			rest += v
		}
	}
	if floored > 0 {
		scale := (1 - floored) / rest
		for i := range p {
			if p[i] < probFloor {
				p[i] = probFloor
			} else {
				p[i] *= scale
			}
		}
	}
	return p[0], p[1], p[2]
}

func entropy(probs ...float64) float64 {
	var h float64
	for _, p := range probs {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}

func pick(home, draw, away float64) models.Outcome {
	// deterministic tie-break: home, then draw, then away
	best, outcome := home, models.OutcomeHome
	if draw > best {
		best, outcome = draw, models.OutcomeDraw
	}
	if away > best {
		outcome = models.OutcomeAway
	}
	return outcome
}
