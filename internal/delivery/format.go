package delivery

import (
	"fmt"
	"strings"

	"github.com/Alias1177/BetSignals/internal/database"
	"github.com/Alias1177/BetSignals/models"
)

// MaxMessageLength is the channel limit for one message
const MaxMessageLength = 4000

// Format renders the delivery payload for an approved signal. Pure function:
// same inputs, same text. HTML subset only (b, i, code).
func Format(sc *database.SignalContext) string {
	var b strings.Builder

	if sc.Signal.Simulated {
		b.WriteString("[SIM] ")
	}
	fmt.Fprintf(&b, "<b>%s vs %s</b>\n", escape(sc.Fixture.HomeTeam), escape(sc.Fixture.AwayTeam))
	fmt.Fprintf(&b, "%s • %s UTC\n\n", escape(sc.Fixture.Competition), sc.Fixture.KickoffUTC.Format("Mon 02 Jan 15:04"))

	fmt.Fprintf(&b, "Pick: <b>%s</b> @ %.2f\n", pickLabel(&sc.Prediction, &sc.Fixture), sc.Signal.Odds)
	fmt.Fprintf(&b, "Model: %.0f%% / %.0f%% / %.0f%% (H/D/A)\n",
		sc.Prediction.ProbHome*100, sc.Prediction.ProbDraw*100, sc.Prediction.ProbAway*100)
	fmt.Fprintf(&b, "Confidence: %.2f\n", sc.Prediction.Confidence)
	fmt.Fprintf(&b, "EV: %+.2f\n", sc.Signal.ExpectedValue)
	fmt.Fprintf(&b, "Stake: %.1f%% of bankroll", sc.Signal.StakeFraction*100)

	return b.String()
}

func pickLabel(p *models.Prediction, f *models.Fixture) string {
	switch p.Pick {
	case models.OutcomeHome:
		return escape(f.HomeTeam)
	case models.OutcomeAway:
		return escape(f.AwayTeam)
	default:
		return "Draw"
	}
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// Split breaks a long message at paragraph boundaries into parts of at most
// max characters. Parts keep their order and carry an (i/N) suffix when the
// message was actually split.
func Split(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var parts []string
	var current strings.Builder

	// leave room for the " (i/N)" suffix
	budget := max - 10

	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		// a single oversized paragraph falls back to a hard cut
		for len(para) > budget {
			flush()
			parts = append(parts, para[:budget])
			para = para[budget:]
		}
		if current.Len() > 0 && current.Len()+2+len(para) > budget {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	for i := range parts {
		parts[i] = fmt.Sprintf("%s (%d/%d)", parts[i], i+1, len(parts))
	}
	return parts
}
