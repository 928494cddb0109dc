package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"perpscope/internal/model"
)

// Mode selects the commentary framing.
type Mode string

const (
	// ModeMarket asks for a whole-market funding and positioning readout.
	ModeMarket Mode = "market"
	// ModeSignal asks for an interpretation of the active signals.
	ModeSignal Mode = "signal"
	// ModeComparison asks for cross-venue divergence commentary.
	ModeComparison Mode = "comparison"
)

// ParseMode validates a caller-supplied mode string, defaulting to market.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeMarket:
		return ModeMarket, nil
	case ModeSignal:
		return ModeSignal, nil
	case ModeComparison:
		return ModeComparison, nil
	default:
		return "", fmt.Errorf("unknown analysis mode %q", s)
	}
}

// BuildPrompt renders the snapshot into the prompt for the requested mode.
func BuildPrompt(mode Mode, snap model.Snapshot) string {
	builder := strings.Builder{}
	builder.WriteString(preamble(mode))
	builder.WriteString("\n\nMarket snapshot (")
	builder.WriteString(snap.Timestamp.UTC().Format(time.RFC3339))
	builder.WriteString("):\n")

	t := snap.Totals
	builder.WriteString(fmt.Sprintf("- %d perp assets tracked, total OI $%sM\n",
		t.TotalAssets, t.TotalOpenInterest.Div(millions).StringFixed(0)))
	builder.WriteString(fmt.Sprintf("- Avg OI-weighted funding %s%%/h, avg price $%s\n",
		t.AvgFundingRate.Mul(hundred).StringFixed(4), t.AvgPrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("- Breadth: %d positive funding vs %d negative (%s%% positive), %d accelerating vs %d decelerating CVD\n",
		snap.Breadth.PositiveFundingCount, snap.Breadth.NegativeFundingCount,
		snap.Breadth.PositiveFundingPercentage.StringFixed(1),
		snap.Breadth.AcceleratingCount, snap.Breadth.DeceleratingCount))

	writeEntries(&builder, "Highest positive funding", snap.PositiveFunding)
	writeEntries(&builder, "Deepest negative funding", snap.NegativeFunding)
	writeEntries(&builder, "Largest CVD readings", snap.CVDLeaders)

	if len(snap.StrongestSignals) > 0 {
		builder.WriteString("\nActive signals:\n")
		for _, sig := range snap.StrongestSignals {
			builder.WriteString(fmt.Sprintf("- %s %s (strength %s/10): funding %s%%/h, CVD %s, OI $%sM\n",
				sig.Symbol, sig.Type, sig.Strength.StringFixed(1),
				sig.Indicators.FundingRate.StringFixed(3),
				sig.Indicators.CVD.StringFixed(1),
				sig.Indicators.OpenInterest.Div(millions).StringFixed(1)))
		}
	} else {
		builder.WriteString("\nNo active signals this cycle.\n")
	}

	builder.WriteString("\n")
	builder.WriteString(instructions(mode))
	return builder.String()
}

var hundred = decimal.NewFromInt(100)

func preamble(mode Mode) string {
	switch mode {
	case ModeSignal:
		return "You are a crypto derivatives desk analyst. Interpret the active positioning signals below for a trader deciding whether to act on them."
	case ModeComparison:
		return "You are a crypto derivatives desk analyst. Focus on cross-venue funding divergence and what it implies about where positioning is crowded."
	default:
		return "You are a crypto derivatives desk analyst. Summarize the state of perpetual futures funding and positioning below."
	}
}

func instructions(mode Mode) string {
	switch mode {
	case ModeSignal:
		return "For each signal, state what the funding/CVD combination suggests and the main invalidation risk. Under 200 words, no financial advice disclaimer."
	case ModeComparison:
		return "Highlight the symbols where venues disagree most on funding and what the spread implies. Under 200 words, no financial advice disclaimer."
	default:
		return "Give a 3-4 sentence market read: overall bias, most crowded positions, and the standout dislocation. No financial advice disclaimer."
	}
}

func writeEntries(builder *strings.Builder, title string, entries []model.SnapshotEntry) {
	if len(entries) == 0 {
		return
	}
	builder.WriteString("\n" + title + ":\n")
	for _, e := range entries {
		builder.WriteString(fmt.Sprintf("- %s: funding %s%%/h, OI $%sM, CVD %s, price $%s\n",
			e.Symbol,
			e.FundingRate.Mul(hundred).StringFixed(4),
			e.OpenInterest.Div(millions).StringFixed(1),
			e.CVD.StringFixed(1),
			e.Price.StringFixed(2)))
	}
}

var millions = decimal.NewFromInt(1_000_000)
