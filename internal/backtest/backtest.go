package backtest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Alias1177/BetSignals/internal/database"
	"github.com/Alias1177/BetSignals/models"
)

const signalLimit = 10000

// Results summarizes how the delivered signals performed against the final
// scores, replayed over a virtual bankroll.
type Results struct {
	TotalSignals int     `json:"total_signals"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	HitRate      float64 `json:"hit_rate"`

	StartBalance float64 `json:"start_balance"`
	FinalBalance float64 `json:"final_balance"`
	ROI          float64 `json:"roi"`
	ProfitFactor float64 `json:"profit_factor"`
	MaxDrawdown  float64 `json:"max_drawdown"`

	MaxConsecutive struct {
		Wins   int `json:"wins"`
		Losses int `json:"losses"`
	} `json:"max_consecutive"`

	// hit rate per competition, only competitions with settled signals appear
	CompetitionPerformance map[string]float64 `json:"competition_performance"`
}

// Run replays every settled signal in settlement order. Stakes are taken as
// the recorded fraction of the running virtual balance, so the replay matches
// what live settlement would have produced from the same start balance.
func Run(ctx context.Context, db *database.DB, cfg *models.Config, logger zerolog.Logger) (*Results, error) {
	signals, err := db.SettledSignals(ctx, signalLimit)
	if err != nil {
		return nil, fmt.Errorf("loading settled signals: %w", err)
	}
	if len(signals) == 0 {
		return nil, fmt.Errorf("no settled signals to replay")
	}

	results := replay(signals, cfg.InitialBankroll)
	logger.Info().
		Int("signals", results.TotalSignals).
		Float64("hit_rate", results.HitRate).
		Float64("roi", results.ROI).
		Float64("max_drawdown", results.MaxDrawdown).
		Msg("Backtest complete")
	return results, nil
}

// replay walks the signals in order, staking the recorded fraction of the
// running virtual balance on each.
func replay(signals []database.SignalContext, startBalance float64) *Results {
	results := &Results{
		TotalSignals:           len(signals),
		StartBalance:           startBalance,
		FinalBalance:           startBalance,
		CompetitionPerformance: make(map[string]float64),
	}
	if len(signals) == 0 {
		return results
	}

	balance := startBalance
	highWaterMark := balance
	var totalProfit, totalLoss float64
	var streakWins, streakLosses int

	competitionStats := make(map[string]*struct{ correct, total int })

	for i := range signals {
		sc := &signals[i]

		stats := competitionStats[sc.Fixture.Competition]
		if stats == nil {
			stats = &struct{ correct, total int }{}
			competitionStats[sc.Fixture.Competition] = stats
		}
		stats.total++

		stake := balance * sc.Signal.StakeFraction
		if won(sc) {
			profit := stake * (sc.Signal.Odds - 1)
			balance += profit
			totalProfit += profit

			results.Wins++
			stats.correct++
			streakWins++
			streakLosses = 0
			if streakWins > results.MaxConsecutive.Wins {
				results.MaxConsecutive.Wins = streakWins
			}
		} else {
			balance -= stake
			totalLoss += stake

			results.Losses++
			streakLosses++
			streakWins = 0
			if streakLosses > results.MaxConsecutive.Losses {
				results.MaxConsecutive.Losses = streakLosses
			}
		}

		if balance > highWaterMark {
			highWaterMark = balance
		}
		if highWaterMark > 0 {
			drawdown := (highWaterMark - balance) / highWaterMark
			if drawdown > results.MaxDrawdown {
				results.MaxDrawdown = drawdown
			}
		}
	}

	results.FinalBalance = balance
	results.HitRate = float64(results.Wins) / float64(results.TotalSignals)
	results.ROI = (balance - startBalance) / startBalance
	if totalLoss > 0 {
		results.ProfitFactor = totalProfit / totalLoss
	} else if totalProfit > 0 {
		results.ProfitFactor = totalProfit
	}

	for competition, stats := range competitionStats {
		results.CompetitionPerformance[competition] = float64(stats.correct) / float64(stats.total)
	}
	return results
}

// won reports whether the picked outcome matched the final score
func won(sc *database.SignalContext) bool {
	if sc.Fixture.HomeGoals == nil || sc.Fixture.AwayGoals == nil {
		return false
	}
	home, away := *sc.Fixture.HomeGoals, *sc.Fixture.AwayGoals

	switch sc.Prediction.Pick {
	case models.OutcomeHome:
		return home > away
	case models.OutcomeAway:
		return away > home
	default:
		return home == away
	}
}
