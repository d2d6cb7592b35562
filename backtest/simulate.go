package backtest

import (
	"oi-radar/database"
)

// Exit types
const (
	ExitTP      = "TP"
	ExitSL      = "SL"
	ExitTimeout = "TIMEOUT"
)

// PricePoint is one (timestamp, mark price) step after entry
type PricePoint struct {
	Timestamp int64
	Price     float64
}

// Trade is one closed SHORT trade. A nil Trade means the position is still
// open when the data runs out.
type Trade struct {
	ExitType   string
	ExitPrice  float64
	ExitTime   int64
	PnlPct     float64
	HoldPoints int
}

// BuildPricePath returns the mark-price path after the signal index and the
// price change (in percent, relative to entry) at each step.
func BuildPricePath(points []database.OISample, signalIdx int, entryPrice float64) ([]PricePoint, []float64) {
	var path []PricePoint
	var pct []float64
	for _, pt := range points[signalIdx+1:] {
		if pt.MarkPrice <= 0 {
			continue
		}
		path = append(path, PricePoint{Timestamp: pt.Timestamp, Price: pt.MarkPrice})
		pct = append(pct, (pt.MarkPrice-entryPrice)/entryPrice*100)
	}
	return path, pct
}

// SimulateTrade walks the price path for a SHORT entered at the signal.
// The first step where price fell by TP closes at +TP; the first where it
// rose by SL closes at -SL (TP wins a tie within one step). When maxHold
// is positive and reached first, the trade closes at the unrealised P&L of
// that step. Nil means the data ended with the position open.
func SimulateTrade(pct []float64, path []PricePoint, tp, sl float64, maxHold int) *Trade {
	for k, p := range pct {
		points := k + 1
		switch {
		case p <= -tp:
			return &Trade{ExitType: ExitTP, ExitPrice: path[k].Price,
				ExitTime: path[k].Timestamp, PnlPct: tp, HoldPoints: points}
		case p >= sl:
			return &Trade{ExitType: ExitSL, ExitPrice: path[k].Price,
				ExitTime: path[k].Timestamp, PnlPct: -sl, HoldPoints: points}
		case maxHold > 0 && points >= maxHold:
			return &Trade{ExitType: ExitTimeout, ExitPrice: path[k].Price,
				ExitTime: path[k].Timestamp, PnlPct: -p, HoldPoints: points}
		}
	}
	return nil
}

// Signal is one backtest entry with everything the reports and the grid
// optimizer need: context metrics, the precomputed price path, and the
// trade outcome at the default TP/SL.
type Signal struct {
	Symbol     string
	Time       int64
	EntryPrice float64
	OIUSD      float64

	// Flush context
	PeakPct        float64
	CurrentPct     float64
	BuildupMinutes int

	// L/S + taker context
	LSThreshold float64

	FundingRate *float64
	LSRatio     *float64
	TakerRatio  *float64

	PctChanges []float64
	Path       []PricePoint
	Trade      *Trade
}
