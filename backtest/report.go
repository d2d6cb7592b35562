package backtest

import (
	"fmt"
	"io"
	"sort"
	"time"
)

func tsToStr(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04")
}

func fmtPrice(p float64) string {
	switch {
	case p >= 1000:
		return fmt.Sprintf("$%.2f", p)
	case p >= 1:
		return fmt.Sprintf("$%.4f", p)
	default:
		return fmt.Sprintf("$%.6f", p)
	}
}

func fmtExit(exitType string, pnl float64, holdMin int) string {
	markers := map[string]string{
		ExitTP:      "✅ TP",
		ExitSL:      "❌ SL",
		ExitTimeout: "⏱ TIMEOUT",
	}
	marker, ok := markers[exitType]
	if !ok {
		marker = exitType
	}
	return fmt.Sprintf("%s %s in %d min", marker, fmtPnl(pnl), holdMin)
}

// printSignals lists every signal with its outcome and returns the closed
// trades. The flush flag switches between the two strategies' context lines.
func (e *Engine) printSignals(w io.Writer, signals []*Signal, flush bool) []*Signal {
	fmt.Fprintln(w, "\n───── SIGNALS ─────")
	fmt.Fprintln(w)

	var closed []*Signal
	openTrades := 0
	minutesPerPoint := int(e.p.PointIntervalSec / 60)

	for i, sig := range signals {
		frStr, lsStr, tkStr := "n/a", "n/a", "n/a"
		if sig.FundingRate != nil {
			frStr = fmt.Sprintf("%+.3f%%", *sig.FundingRate*100)
		}
		if sig.LSRatio != nil {
			lsStr = fmt.Sprintf("%.2f", *sig.LSRatio)
		}
		if sig.TakerRatio != nil {
			tkStr = fmt.Sprintf("%.2f", *sig.TakerRatio)
		}

		fmt.Fprintf(w, "#%-3d %s | %s | SHORT @ %s\n",
			i+1, sig.Symbol, tsToStr(sig.Time), fmtPrice(sig.EntryPrice))
		if flush {
			fmt.Fprintf(w, "     OI: peak +%.1f%% (%d min) → now %+.1f%%\n",
				sig.PeakPct, sig.BuildupMinutes, sig.CurrentPct)
			fmt.Fprintf(w, "     Funding: %s | L/S: %s | Taker: %s\n", frStr, lsStr, tkStr)
		} else {
			fmt.Fprintf(w, "     L/S: %s (threshold %.2f) | Taker: %s | Funding: %s\n",
				lsStr, sig.LSThreshold, tkStr, frStr)
		}

		if sig.Trade != nil {
			holdMin := sig.Trade.HoldPoints * minutesPerPoint
			fmt.Fprintf(w, "     → %s | Exit: %s\n",
				fmtExit(sig.Trade.ExitType, sig.Trade.PnlPct, holdMin), fmtPrice(sig.Trade.ExitPrice))
			closed = append(closed, sig)
		} else {
			fmt.Fprintln(w, "     → ⏳ OPEN (data ran out)")
			openTrades++
		}
		fmt.Fprintln(w)
	}
	return closed
}

func (e *Engine) printTotals(w io.Writer, signals, closed []*Signal) {
	fmt.Fprintln(w, "───── TOTALS ─────")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total signals: %d\n", len(signals))
	fmt.Fprintf(w, "Closed trades: %d (%d still open)\n", len(closed), len(signals)-len(closed))

	if len(closed) == 0 {
		return
	}

	exitCounts := map[string]int{}
	for _, t := range closed {
		exitCounts[t.Trade.ExitType]++
	}
	fmt.Fprintln(w, "\nBy exit:")
	for _, etype := range []string{ExitTP, ExitSL, ExitTimeout} {
		cnt := exitCounts[etype]
		fmt.Fprintf(w, "  %-8s %3d (%.0f%%)\n", etype, cnt, float64(cnt)/float64(len(closed))*100)
	}

	totalPnl := 0.0
	wins := 0
	best, worst := closed[0], closed[0]
	for _, t := range closed {
		pnl := t.Trade.PnlPct
		totalPnl += pnl
		if pnl > 0 {
			wins++
		}
		if pnl > best.Trade.PnlPct {
			best = t
		}
		if pnl < worst.Trade.PnlPct {
			worst = t
		}
	}

	fmt.Fprintln(w, "\nP&L:")
	fmt.Fprintf(w, "  Total:    %s\n", fmtPnl(totalPnl))
	fmt.Fprintf(w, "  Average:  %s per trade\n", fmtPnl(totalPnl/float64(len(closed))))
	fmt.Fprintf(w, "  Best:     %s %s\n", best.Symbol, fmtPnl(best.Trade.PnlPct))
	fmt.Fprintf(w, "  Worst:    %s %s\n", worst.Symbol, fmtPnl(worst.Trade.PnlPct))
	fmt.Fprintf(w, "  Win rate: %.0f%%\n", float64(wins)/float64(len(closed))*100)
}

func (e *Engine) printFilters(w io.Writer, closed []*Signal) {
	if len(closed) == 0 {
		return
	}
	filters := []struct {
		label string
		fn    func(*Signal) bool
	}{
		{"Funding > 0.01%:", func(s *Signal) bool { return s.FundingRate != nil && *s.FundingRate > 0.0001 }},
		{"Funding <= 0.01%:", func(s *Signal) bool { return s.FundingRate != nil && *s.FundingRate <= 0.0001 }},
		{"L/S > 2.0:", func(s *Signal) bool { return s.LSRatio != nil && *s.LSRatio > 2.0 }},
		{"L/S <= 2.0:", func(s *Signal) bool { return s.LSRatio != nil && *s.LSRatio <= 2.0 }},
		{"Taker < 1.0:", func(s *Signal) bool { return s.TakerRatio != nil && *s.TakerRatio < 1.0 }},
		{"Taker >= 1.0:", func(s *Signal) bool { return s.TakerRatio != nil && *s.TakerRatio >= 1.0 }},
	}

	fmt.Fprintln(w, "\nBy filter (which signals pay off):")
	for _, f := range filters {
		var subset []*Signal
		for _, t := range closed {
			if f.fn(t) {
				subset = append(subset, t)
			}
		}
		if len(subset) == 0 {
			continue
		}
		wins := 0
		for _, t := range subset {
			if t.Trade.PnlPct > 0 {
				wins++
			}
		}
		fmt.Fprintf(w, "  %-25s win rate %5.0f%% (%d trades)\n",
			f.label, float64(wins)/float64(len(subset))*100, len(subset))
	}
}

func (e *Engine) printTopPairs(w io.Writer, closed []*Signal) {
	if len(closed) == 0 {
		return
	}
	type pairStat struct {
		symbol string
		count  int
		wins   int
		pnl    float64
	}
	bySymbol := map[string]*pairStat{}
	for _, t := range closed {
		st, ok := bySymbol[t.Symbol]
		if !ok {
			st = &pairStat{symbol: t.Symbol}
			bySymbol[t.Symbol] = st
		}
		st.count++
		st.pnl += t.Trade.PnlPct
		if t.Trade.PnlPct > 0 {
			st.wins++
		}
	}
	stats := make([]*pairStat, 0, len(bySymbol))
	for _, st := range bySymbol {
		stats = append(stats, st)
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].count > stats[j].count })

	fmt.Fprintln(w, "\nTOP pairs by signal count:")
	for i, st := range stats {
		if i >= 10 {
			break
		}
		wr := float64(st.wins) / float64(st.count) * 100
		fmt.Fprintf(w, "  %-15s %2d signals, win rate %.0f%%\n", st.symbol, st.count, wr)
	}
}

func (e *Engine) printRecommendation(w io.Writer, closed []*Signal, hours float64) {
	if len(closed) == 0 {
		return
	}
	combos := []struct {
		label string
		fn    func(*Signal) bool
	}{
		{"OI flush (no filters)", func(*Signal) bool { return true }},
		{"OI flush + Funding > 0.01%", func(s *Signal) bool { return s.FundingRate != nil && *s.FundingRate > 0.0001 }},
		{"OI flush + L/S > 2.0", func(s *Signal) bool { return s.LSRatio != nil && *s.LSRatio > 2.0 }},
		{"OI flush + Taker < 1.0", func(s *Signal) bool { return s.TakerRatio != nil && *s.TakerRatio < 1.0 }},
		{"OI flush + L/S > 2.0 + Taker < 1.0", func(s *Signal) bool {
			return s.LSRatio != nil && *s.LSRatio > 2.0 && s.TakerRatio != nil && *s.TakerRatio < 1.0
		}},
	}

	type comboStat struct {
		label   string
		trades  int
		winRate float64
		avgPnl  float64
	}
	var eligible []comboStat
	for _, c := range combos {
		var subset []*Signal
		for _, t := range closed {
			if c.fn(t) {
				subset = append(subset, t)
			}
		}
		if len(subset) < 2 {
			continue
		}
		wins := 0
		sum := 0.0
		for _, t := range subset {
			sum += t.Trade.PnlPct
			if t.Trade.PnlPct > 0 {
				wins++
			}
		}
		eligible = append(eligible, comboStat{
			label:   c.label,
			trades:  len(subset),
			winRate: float64(wins) / float64(len(subset)) * 100,
			avgPnl:  sum / float64(len(subset)),
		})
	}
	if len(eligible) == 0 {
		return
	}

	best := eligible[0]
	for _, c := range eligible[1:] {
		if c.winRate > best.winRate || (c.winRate == best.winRate && c.avgPnl > best.avgPnl) {
			best = c
		}
	}

	fmt.Fprintln(w, "\n───── RECOMMENDATION ─────")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Best filter combination:")
	fmt.Fprintf(w, "  %s\n", best.label)
	fmt.Fprintf(w, "  Trades: %d | Win rate: %.0f%% | Avg P&L: %s\n",
		best.trades, best.winRate, fmtPnl(best.avgPnl))
	if hours < 168 {
		fmt.Fprintf(w, "  ⚠️  Thin data (%.0fh) — a full week is needed for statistics\n", hours)
	}
}

// printComparison sets the L/S + taker strategy against OI flush, with and
// without the combined filter, and draws a conclusion.
func (e *Engine) printComparison(w io.Writer, closed, flushSignals []*Signal, hours float64) {
	fmt.Fprintln(w, "\n\n═══ STRATEGY COMPARISON ═══")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "(TP=%g%%, SL=%g%% for all strategies)\n\n", e.p.TakeProfit, e.p.StopLoss)

	type row struct {
		name    string
		trades  int
		wins    int
		winRate float64
		total   float64
		avg     float64
	}
	var rows []row

	addRow := func(name string, set []*Signal) *row {
		var results []float64
		for _, s := range set {
			if s.Trade != nil {
				results = append(results, s.Trade.PnlPct)
			}
		}
		if len(results) == 0 {
			return nil
		}
		total := 0.0
		wins := 0
		for _, r := range results {
			total += r
			if r > 0 {
				wins++
			}
		}
		rows = append(rows, row{
			name:    name,
			trades:  len(results),
			wins:    wins,
			winRate: float64(wins) / float64(len(results)) * 100,
			total:   total,
			avg:     total / float64(len(results)),
		})
		return &rows[len(rows)-1]
	}

	ltRow := addRow("L/S + Taker (no OI)", closed)
	addRow("OI Flush (all)", flushSignals)

	var flushFiltered []*Signal
	for _, s := range flushSignals {
		if s.LSRatio != nil && *s.LSRatio > e.p.LSMinAbs &&
			s.TakerRatio != nil && *s.TakerRatio < e.p.TakerThreshold {
			flushFiltered = append(flushFiltered, s)
		}
	}
	oiLtRow := addRow("OI Flush + L/S + Taker", flushFiltered)

	if len(rows) == 0 {
		fmt.Fprintln(w, "No data to compare")
		return
	}

	fmt.Fprintln(w, "┌─────────────────────────┬────────┬──────┬──────────┬──────────┬────────────┐")
	fmt.Fprintln(w, "│ Strategy                │ Trades │ Wins │ Win rate │ Total P&L│ Avg P&L    │")
	fmt.Fprintln(w, "├─────────────────────────┼────────┼──────┼──────────┼──────────┼────────────┤")
	for _, r := range rows {
		fmt.Fprintf(w, "│ %-23s │ %6d │ %4d │ %4.0f%%    │ %-8s │ %-10s │\n",
			r.name, r.trades, r.wins, r.winRate, fmtPnl(r.total), fmtPnl(r.avg))
	}
	fmt.Fprintln(w, "└─────────────────────────┴────────┴──────┴──────────┴──────────┴────────────┘")

	fmt.Fprintln(w, "\n───── CONCLUSION ─────")
	fmt.Fprintln(w)

	switch {
	case ltRow != nil && oiLtRow != nil:
		switch {
		case oiLtRow.winRate > ltRow.winRate+5 && oiLtRow.avg > ltRow.avg:
			fmt.Fprintln(w, "✅ The OI flush filter IMPROVES results:")
			fmt.Fprintf(w, "   Win rate: %.0f%% → %.0f%% (+%.0fpp)\n", ltRow.winRate, oiLtRow.winRate, oiLtRow.winRate-ltRow.winRate)
			fmt.Fprintf(w, "   Avg P&L:  %s → %s\n", fmtPnl(ltRow.avg), fmtPnl(oiLtRow.avg))
			fmt.Fprintf(w, "   Trades:   %d → %d\n", ltRow.trades, oiLtRow.trades)
			if float64(oiLtRow.trades) < float64(ltRow.trades)*0.3 {
				fmt.Fprintln(w, "   ⚠️  But trade count drops sharply — possible overfitting")
			}
		case ltRow.winRate >= oiLtRow.winRate || ltRow.avg >= oiLtRow.avg:
			fmt.Fprintln(w, "❌ The OI flush filter does NOT improve results:")
			fmt.Fprintf(w, "   L/S+Taker:          win rate %.0f%%, avg %s, %d trades\n", ltRow.winRate, fmtPnl(ltRow.avg), ltRow.trades)
			fmt.Fprintf(w, "   OI Flush+L/S+Taker: win rate %.0f%%, avg %s, %d trades\n", oiLtRow.winRate, fmtPnl(oiLtRow.avg), oiLtRow.trades)
			if ltRow.trades > oiLtRow.trades*2 {
				fmt.Fprintln(w, "   L/S+Taker yields more trades at comparable quality")
			}
		default:
			fmt.Fprintln(w, "≈ Results are comparable:")
			fmt.Fprintf(w, "   L/S+Taker:          win rate %.0f%%, avg %s, %d trades\n", ltRow.winRate, fmtPnl(ltRow.avg), ltRow.trades)
			fmt.Fprintf(w, "   OI Flush+L/S+Taker: win rate %.0f%%, avg %s, %d trades\n", oiLtRow.winRate, fmtPnl(oiLtRow.avg), oiLtRow.trades)
		}
	case ltRow != nil:
		fmt.Fprintln(w, "OI Flush + L/S + Taker: no overlapping trades")
		fmt.Fprintln(w, "L/S + Taker works on its own without the OI flush filter")
	default:
		fmt.Fprintln(w, "Not enough data to conclude")
	}

	if hours < 168 {
		fmt.Fprintf(w, "\n⚠️  Data: %.0fh — conclusions are preliminary, a week+ is needed\n", hours)
	}
}
