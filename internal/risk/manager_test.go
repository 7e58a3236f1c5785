package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/BetSignals/models"
)

func testConfig() *models.Config {
	return &models.Config{
		MinConfidence:         0.70,
		MaxConfidence:         0.90,
		MinExpectedValue:      0.05,
		MaxStakeFraction:      0.05,
		MinStakeFraction:      0.005,
		KellyMultiplier:       0.5,
		DailyLossHaltFraction: 0.10,
		MaxConsecutiveLosses:  5,
		MaxDrawdownFraction:   0.25,
		HaltCooldownHours:     24,
	}
}

func healthyState() *models.RiskState {
	return &models.RiskState{
		Balance:     decimal.NewFromInt(1000),
		PeakBalance: decimal.NewFromInt(1000),
		State:       models.TradingNormal,
	}
}

func prediction(probHome, confidence float64) *models.Prediction {
	rest := (1 - probHome) / 2
	return &models.Prediction{
		ID:         1,
		FixtureID:  1,
		Pick:       models.OutcomeHome,
		ProbHome:   probHome,
		ProbDraw:   rest,
		ProbAway:   rest,
		Confidence: confidence,
	}
}

func TestDecideApprovesValueSignal(t *testing.T) {
	// prob 0.80 at odds 1.60: EV = 0.28, raw Kelly 0.233 clipped to the cap
	signal := Decide(testConfig(), prediction(0.80, 0.75), 1.60, healthyState(), time.Now())

	require.Equal(t, models.SignalApproved, signal.Status)
	require.InDelta(t, 0.28, signal.ExpectedValue, 1e-9)
	require.InDelta(t, 0.05, signal.StakeFraction, 1e-9)
}

func TestDecideRejectsNegativeExpectedValue(t *testing.T) {
	// prob 0.80 at odds 1.10: EV = -0.12
	signal := Decide(testConfig(), prediction(0.80, 0.75), 1.10, healthyState(), time.Now())

	require.Equal(t, models.SignalRejected, signal.Status)
	require.Equal(t, models.ReasonEVBelowThreshold, signal.Reason)
	require.Zero(t, signal.StakeFraction)
}

func TestDecideRejectsWhenHalted(t *testing.T) {
	state := healthyState()
	state.State = models.TradingHalted

	signal := Decide(testConfig(), prediction(0.80, 0.75), 1.60, state, time.Now())

	require.Equal(t, models.SignalRejected, signal.Status)
	require.Equal(t, models.ReasonTradingHalted, signal.Reason)
	require.Zero(t, signal.StakeFraction)
}

func TestDecideConfidenceGate(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		status     models.SignalStatus
	}{
		{"below minimum", 0.50, models.SignalRejected},
		{"at minimum", 0.70, models.SignalApproved},
		{"at maximum", 0.90, models.SignalApproved},
		{"above maximum", 0.95, models.SignalRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal := Decide(testConfig(), prediction(0.80, tt.confidence), 1.60, healthyState(), time.Now())
			require.Equal(t, tt.status, signal.Status)
			if tt.status == models.SignalRejected {
				require.Equal(t, models.ReasonConfidenceOutOfRange, signal.Reason)
			}
		})
	}
}

func TestDecideSuppressesTinyStake(t *testing.T) {
	cfg := testConfig()
	cfg.MinStakeFraction = 0.06
	cfg.MaxStakeFraction = 0.20

	// small edge: prob 0.55 at odds 2.0 sizes to 0.05, under the 0.06 floor
	signal := Decide(cfg, prediction(0.55, 0.75), 2.0, healthyState(), time.Now())

	require.Equal(t, models.SignalSuppressed, signal.Status)
	require.Equal(t, models.ReasonStakeBelowFloor, signal.Reason)
	require.Zero(t, signal.StakeFraction)
}

func TestDecideDailyLossGate(t *testing.T) {
	state := healthyState()
	state.DailyPnL = decimal.NewFromInt(-150) // 15% of bankroll

	signal := Decide(testConfig(), prediction(0.80, 0.75), 1.60, state, time.Now())

	require.Equal(t, models.SignalRejected, signal.Status)
	require.Equal(t, models.ReasonDailyLossHalt, signal.Reason)
}

// Signal invariants must hold over the whole input space: non-approved
// signals carry zero stake, approved ones respect every threshold.
func TestDecideInvariants(t *testing.T) {
	cfg := testConfig()
	now := time.Now()

	for _, prob := range []float64{0.05, 0.35, 0.55, 0.80, 0.95} {
		for _, odds := range []float64{0, 1.01, 1.10, 1.60, 2.50, 8.0} {
			for _, confidence := range []float64{0, 0.5, 0.7, 0.8, 0.9, 1.0} {
				for _, losses := range []int{0, 3, 5} {
					state := healthyState()
					state.ConsecutiveLosses = losses

					signal := Decide(cfg, prediction(prob, confidence), odds, state, now)

					if signal.Status != models.SignalApproved {
						require.Zero(t, signal.StakeFraction,
							"prob=%v odds=%v conf=%v losses=%d", prob, odds, confidence, losses)
						continue
					}
					require.LessOrEqual(t, signal.StakeFraction, cfg.MaxStakeFraction)
					require.GreaterOrEqual(t, signal.ExpectedValue, cfg.MinExpectedValue)
					require.GreaterOrEqual(t, confidence, cfg.MinConfidence)
					require.LessOrEqual(t, confidence, cfg.MaxConfidence)
					require.Less(t, losses, cfg.MaxConsecutiveLosses)
				}
			}
		}
	}
}

func TestKellyFraction(t *testing.T) {
	tests := []struct {
		name       string
		p          float64
		odds       float64
		multiplier float64
		expected   float64
	}{
		{"strong edge", 0.80, 1.60, 0.5, 0.5 * (0.6*0.8 - 0.2) / 0.6},
		{"no edge", 0.50, 2.0, 0.5, 0},
		{"negative edge clamps to zero", 0.30, 2.0, 0.5, 0},
		{"degenerate odds", 0.80, 1.0, 0.5, 0},
		{"full kelly", 0.60, 2.0, 1.0, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.expected, KellyFraction(tt.p, tt.odds, tt.multiplier), 1e-9)
		})
	}
}
