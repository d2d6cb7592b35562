package backtest

import (
	"fmt"
	"io"
	"sort"
)

// Grid searched by the optimizer
var (
	tpRange = []float64{0.5, 0.75, 1.0, 1.25, 1.5, 2.0, 2.5, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0, 9.0, 10.0}
	slRange = []float64{0.25, 0.5, 0.75, 1.0, 1.25, 1.5, 2.0, 2.5, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0, 9.0, 10.0}
)

// ComboStats is the outcome of one (TP, SL) combination over a signal set
type ComboStats struct {
	TP           float64
	SL           float64
	RR           float64
	TotalPnl     float64
	AvgPnl       float64
	WinRate      float64
	Trades       int
	Wins         int
	Losses       int
	ProfitFactor float64
}

// filterDef selects a signal subset for grid search
type filterDef struct {
	name string
	fn   func(*Signal) bool
}

func optimizerFilters() []filterDef {
	return []filterDef{
		{"All signals", func(*Signal) bool { return true }},
		{"L/S > 2.0", func(s *Signal) bool { return s.LSRatio != nil && *s.LSRatio > 2.0 }},
		{"Taker < 1.0", func(s *Signal) bool { return s.TakerRatio != nil && *s.TakerRatio < 1.0 }},
		{"L/S > 2.0 + Taker < 1.0", func(s *Signal) bool {
			return s.LSRatio != nil && *s.LSRatio > 2.0 && s.TakerRatio != nil && *s.TakerRatio < 1.0
		}},
	}
}

// SimulateCombo re-runs every signal's price path at one (TP, SL). A path
// that hits neither level closes at the last step's unrealised SHORT P&L.
// Returns nil when no signal has a path.
func SimulateCombo(signals []*Signal, tp, sl float64) *ComboStats {
	var results []float64
	for _, sig := range signals {
		if len(sig.PctChanges) == 0 {
			continue
		}
		pnl := 0.0
		hit := false
		for _, pct := range sig.PctChanges {
			if pct <= -tp {
				pnl = tp
				hit = true
				break
			}
			if pct >= sl {
				pnl = -sl
				hit = true
				break
			}
		}
		if !hit {
			pnl = -sig.PctChanges[len(sig.PctChanges)-1]
		}
		results = append(results, pnl)
	}
	if len(results) == 0 {
		return nil
	}

	trades := len(results)
	wins := 0
	total := 0.0
	grossProfit, grossLoss := 0.0, 0.0
	for _, r := range results {
		total += r
		if r > 0 {
			wins++
			grossProfit += r
		} else {
			grossLoss += -r
		}
	}

	rr := 999.0
	if sl > 0 {
		rr = tp / sl
	}
	pf := 999.0
	if grossLoss > 0 {
		pf = grossProfit / grossLoss
	}
	return &ComboStats{
		TP: tp, SL: sl, RR: rr,
		TotalPnl:     total,
		AvgPnl:       total / float64(trades),
		WinRate:      float64(wins) / float64(trades) * 100,
		Trades:       trades,
		Wins:         wins,
		Losses:       trades - wins,
		ProfitFactor: pf,
	}
}

// optimizeForSignals runs the full grid over one signal set
func optimizeForSignals(signals []*Signal, minTrades int) []*ComboStats {
	var combos []*ComboStats
	for _, tp := range tpRange {
		for _, sl := range slRange {
			stats := SimulateCombo(signals, tp, sl)
			if stats != nil && stats.Trades >= minTrades {
				combos = append(combos, stats)
			}
		}
	}
	return combos
}

func fmtPnl(pnl float64) string {
	if pnl >= 0 {
		return fmt.Sprintf("+%.2f%%", pnl)
	}
	return fmt.Sprintf("%.2f%%", pnl)
}

func printTable(w io.Writer, title string, combos []*ComboStats, topN int) {
	if len(combos) == 0 {
		fmt.Fprintf(w, "\n%s: no data\n", title)
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	fmt.Fprintln(w, "┌────┬───────┬───────┬──────────┬──────────┬──────────┬────────────────┐")
	fmt.Fprintln(w, "│  # │  TP%  │  SL%  │ R:R      │ Win rate │ Total P&L│ Avg per trade  │")
	fmt.Fprintln(w, "├────┼───────┼───────┼──────────┼──────────┼──────────┼────────────────┤")
	for i, c := range combos {
		if i >= topN {
			break
		}
		rrStr := fmt.Sprintf("%.1f:1", c.RR)
		fmt.Fprintf(w, "│ %2d │ %5.2f │ %5.2f │ %-8s │ %4.0f%%    │ %-8s │ %-14s │\n",
			i+1, c.TP, c.SL, rrStr, c.WinRate, fmtPnl(c.TotalPnl), fmtPnl(c.AvgPnl))
	}
	fmt.Fprintln(w, "└────┴───────┴───────┴──────────┴──────────┴──────────┴────────────────┘")
}

func printHeatmap(w io.Writer, combos []*ComboStats) {
	type key struct{ tp, sl float64 }
	pnlMap := make(map[key]float64, len(combos))
	for _, c := range combos {
		pnlMap[key{c.TP, c.SL}] = c.TotalPnl
	}

	tpShow := []float64{0.5, 1.0, 2.0, 3.0, 5.0, 7.0, 10.0}
	slShow := []float64{0.25, 0.50, 1.00, 1.50, 2.00, 3.00, 5.00, 7.00, 10.00}

	fmt.Fprintln(w, "\nP&L heatmap (all signals):")
	header := "         SL:"
	for _, sl := range slShow {
		header += fmt.Sprintf(" %5.2f", sl)
	}
	fmt.Fprintln(w, header)

	for _, tp := range tpShow {
		row := fmt.Sprintf("TP %5.2f:", tp)
		for _, sl := range slShow {
			if val, ok := pnlMap[key{tp, sl}]; ok {
				row += fmt.Sprintf(" %+5.1f", val)
			} else {
				row += "   n/a"
			}
		}
		fmt.Fprintln(w, row)
	}
	fmt.Fprintln(w, "(+) = profit, (-) = loss")
}

type filterResult struct {
	name   string
	combos []*ComboStats
}

// findBestConfigs picks the three overall winners across all filter sets
func findBestConfigs(w io.Writer, results []filterResult, hours float64) {
	var bestProfit, bestWinrate, bestBalance *struct {
		filter string
		combo  *ComboStats
	}

	for _, fr := range results {
		if len(fr.combos) == 0 {
			continue
		}

		// A) Max total P&L
		byPnl := fr.combos[0]
		for _, c := range fr.combos {
			if c.TotalPnl > byPnl.TotalPnl {
				byPnl = c
			}
		}
		if bestProfit == nil || byPnl.TotalPnl > bestProfit.combo.TotalPnl {
			bestProfit = &struct {
				filter string
				combo  *ComboStats
			}{fr.name, byPnl}
		}

		// B) Max win rate among profitable combos with enough trades
		var byWR *ComboStats
		for _, c := range fr.combos {
			if c.Trades < 5 || c.TotalPnl <= 0 {
				continue
			}
			if byWR == nil || c.WinRate > byWR.WinRate ||
				(c.WinRate == byWR.WinRate && c.TotalPnl > byWR.TotalPnl) {
				byWR = c
			}
		}
		if byWR != nil && (bestWinrate == nil || byWR.WinRate > bestWinrate.combo.WinRate) {
			bestWinrate = &struct {
				filter string
				combo  *ComboStats
			}{fr.name, byWR}
		}

		// C) Balanced: tiered criteria, strictest tier that matches wins
		tiers := []func(*ComboStats) bool{
			func(c *ComboStats) bool {
				return c.WinRate > 50 && c.TotalPnl > 0 && c.RR >= 1.5 && c.Trades >= 5
			},
			func(c *ComboStats) bool { return c.WinRate > 50 && c.TotalPnl > 0 && c.Trades >= 5 },
			func(c *ComboStats) bool { return c.WinRate > 50 && c.TotalPnl > 0 && c.Trades >= 3 },
		}
		for _, tier := range tiers {
			var byBal *ComboStats
			for _, c := range fr.combos {
				if !tier(c) {
					continue
				}
				if byBal == nil || c.TotalPnl*c.WinRate/100 > byBal.TotalPnl*byBal.WinRate/100 {
					byBal = c
				}
			}
			if byBal != nil {
				score := byBal.TotalPnl * byBal.WinRate / 100
				if bestBalance == nil || score > bestBalance.combo.TotalPnl*bestBalance.combo.WinRate/100 {
					bestBalance = &struct {
						filter string
						combo  *ComboStats
					}{fr.name, byBal}
				}
				break
			}
		}
	}

	fmt.Fprintln(w, "\n═══ BEST CONFIGURATIONS ═══")

	printConfig := func(emoji, label string, entry *struct {
		filter string
		combo  *ComboStats
	}) {
		if entry == nil {
			return
		}
		c := entry.combo
		fmt.Fprintf(w, "\n%s %s:\n", emoji, label)
		fmt.Fprintf(w, "   TP=%g%% SL=%g%% | %s\n", c.TP, c.SL, entry.filter)
		fmt.Fprintf(w, "   %d trades | Win rate %.0f%% | P&L %s | Avg %s\n",
			c.Trades, c.WinRate, fmtPnl(c.TotalPnl), fmtPnl(c.AvgPnl))
	}

	printConfig("🏆", "MAX PROFIT", bestProfit)
	printConfig("🎯", "MAX WIN RATE (profitable)", bestWinrate)
	printConfig("⚖️ ", "BEST BALANCE (win rate > 50% AND P&L > 0 AND R:R >= 1.5)", bestBalance)

	fmt.Fprintf(w, "\n⚠️  Data: %.0f hours.", hours)
	if hours < 168 {
		fmt.Fprintln(w, " Recommendation is preliminary.")
		fmt.Fprintln(w, "   7+ days of data needed for reliability (200+ unfiltered trades).")
	} else {
		fmt.Fprintln(w)
	}
}

// RunOptimization grid-searches TP×SL per filter set and reports the top
// combinations plus the three overall winners.
func RunOptimization(w io.Writer, signals []*Signal, hours float64) {
	fmt.Fprintln(w, "\n\n═══ TP/SL OPTIMIZATION ═══")

	var results []filterResult

	for _, f := range optimizerFilters() {
		var filtered []*Signal
		for _, s := range signals {
			if f.fn(s) {
				filtered = append(filtered, s)
			}
		}

		if len(filtered) < 3 {
			fmt.Fprintf(w, "\n──── %s (%d trades) ──── skipped (< 3)\n", f.name, len(filtered))
			results = append(results, filterResult{f.name, nil})
			continue
		}

		isAll := f.name == "All signals"
		topN := 5
		minTradesWR := 3
		if isAll {
			topN = 10
			minTradesWR = 5
		}

		combos := optimizeForSignals(filtered, 3)
		results = append(results, filterResult{f.name, combos})
		if len(combos) == 0 {
			continue
		}

		fmt.Fprintf(w, "\n──── %s (%d trades) ────\n", f.name, len(filtered))

		byPnl := make([]*ComboStats, len(combos))
		copy(byPnl, combos)
		sort.SliceStable(byPnl, func(i, j int) bool { return byPnl[i].TotalPnl > byPnl[j].TotalPnl })
		printTable(w, fmt.Sprintf("TOP-%d by TOTAL P&L", topN), byPnl, topN)

		var eligible []*ComboStats
		for _, c := range combos {
			if c.Trades >= minTradesWR {
				eligible = append(eligible, c)
			}
		}
		sort.SliceStable(eligible, func(i, j int) bool {
			if eligible[i].WinRate != eligible[j].WinRate {
				return eligible[i].WinRate > eligible[j].WinRate
			}
			return eligible[i].TotalPnl > eligible[j].TotalPnl
		})
		printTable(w, fmt.Sprintf("TOP-%d by WIN RATE (min %d trades)", topN, minTradesWR), eligible, topN)

		if isAll {
			printHeatmap(w, combos)
		}
	}

	findBestConfigs(w, results, hours)
}
