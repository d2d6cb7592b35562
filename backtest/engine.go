package backtest

import (
	"fmt"
	"io"
	"sort"
	"time"

	"oi-radar/database"
)

// Engine replays stored series against one strategy and writes a report
type Engine struct {
	repo *database.MarketRepository
	p    Params
}

// NewEngine creates an engine over the given storage
func NewEngine(repo *database.MarketRepository, p Params) *Engine {
	return &Engine{repo: repo, p: p}
}

// RunFlush enumerates OI-flush signals across all symbols, simulates each
// SHORT trade, and writes the full report including the grid optimization.
func (e *Engine) RunFlush(w io.Writer) error {
	start := time.Now()

	symbols, err := e.repo.ActiveSymbolMap()
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		fmt.Fprintln(w, "No active pairs in storage")
		return nil
	}

	minTS, maxTS, err := e.repo.OIRangeTS()
	if err != nil {
		return err
	}
	if minTS == 0 {
		fmt.Fprintln(w, "No open interest data")
		return nil
	}
	hours := float64(maxTS-minTS) / 3600

	signals, pairsWithData, err := e.enumerateFlush(symbols, true)
	if err != nil {
		return err
	}

	holdStr := "hold=∞"
	if e.p.MaxHoldPoints > 0 {
		holdStr = fmt.Sprintf("hold ≤%dmin", e.p.MaxHoldPoints*int(e.p.PointIntervalSec/60))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══ OI FLUSH BACKTEST ═══")
	fmt.Fprintf(w, "Period: %s — %s (%.0fh)\n", tsToStr(minTS), tsToStr(maxTS), hours)
	fmt.Fprintf(w, "Pairs with data: %d | Min history: %d points (%d min)\n",
		pairsWithData, e.p.MinHistory, e.p.MinHistory*int(e.p.PointIntervalSec/60))
	fmt.Fprintf(w, "Parameters: buildup ≥%g%% × %dmin, drop ≥%g%%, TP=%g%%, SL=%g%%, %s\n",
		e.p.BuildupThreshold, e.p.BuildupMinPoints*int(e.p.PointIntervalSec/60),
		e.p.DropPct, e.p.TakeProfit, e.p.StopLoss, holdStr)

	if len(signals) == 0 {
		fmt.Fprintln(w, "\nNo signals found.")
		fmt.Fprintf(w, "\nElapsed: %.1fs\n", time.Since(start).Seconds())
		return nil
	}

	closed := e.printSignals(w, signals, true)
	e.printTotals(w, signals, closed)
	e.printFilters(w, closed)
	e.printTopPairs(w, closed)
	e.printRecommendation(w, closed, hours)

	RunOptimization(w, signals, hours)

	fmt.Fprintf(w, "\nElapsed: %.1fs\n", time.Since(start).Seconds())
	return nil
}

// RunLSTaker enumerates signals where the L/S ratio breaks its adaptive
// per-symbol threshold while takers sell, simulates the SHORT trades, and
// compares against the flush strategy over the same data.
func (e *Engine) RunLSTaker(w io.Writer) error {
	start := time.Now()

	symbols, err := e.repo.ActiveSymbolMap()
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		fmt.Fprintln(w, "No active pairs in storage")
		return nil
	}
	minTS, maxTS, err := e.repo.OIRangeTS()
	if err != nil {
		return err
	}
	if minTS == 0 {
		fmt.Fprintln(w, "No open interest data")
		return nil
	}
	hours := float64(maxTS-minTS) / 3600

	signals, pairsWithSignals, err := e.enumerateLSTaker(symbols)
	if err != nil {
		return err
	}
	// Flush signals over the same data, for the strategy comparison
	flushSignals, _, err := e.enumerateFlush(symbols, false)
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══ L/S + TAKER BACKTEST ═══")
	fmt.Fprintf(w, "Period: %s — %s (%.0fh)\n", tsToStr(minTS), tsToStr(maxTS), hours)
	fmt.Fprintf(w, "Pairs with signals: %d\n", pairsWithSignals)
	fmt.Fprintf(w, "Parameters: L/S > mean+%.1fσ (floor %.1f), taker < %.1f, TP=%g%%, SL=%g%%\n",
		e.p.LSZScore, e.p.LSMinAbs, e.p.TakerThreshold, e.p.TakeProfit, e.p.StopLoss)

	if len(signals) == 0 {
		fmt.Fprintln(w, "\nNo signals found.")
		fmt.Fprintf(w, "\nElapsed: %.1fs\n", time.Since(start).Seconds())
		return nil
	}

	closed := e.printSignals(w, signals, false)
	e.printTotals(w, signals, closed)
	e.printTopPairs(w, closed)
	e.printComparison(w, closed, flushSignals, hours)

	RunOptimization(w, signals, hours)

	fmt.Fprintf(w, "\nElapsed: %.1fs\n", time.Since(start).Seconds())
	return nil
}

// RunOptimize enumerates the chosen strategy's signals and runs only the
// TP×SL grid search.
func (e *Engine) RunOptimize(w io.Writer, strategy string) error {
	symbols, err := e.repo.ActiveSymbolMap()
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		fmt.Fprintln(w, "No active pairs in storage")
		return nil
	}
	minTS, maxTS, err := e.repo.OIRangeTS()
	if err != nil {
		return err
	}
	if minTS == 0 {
		fmt.Fprintln(w, "No open interest data")
		return nil
	}
	hours := float64(maxTS-minTS) / 3600

	var signals []*Signal
	switch strategy {
	case "flush":
		signals, _, err = e.enumerateFlush(symbols, true)
	case "lstaker":
		signals, _, err = e.enumerateLSTaker(symbols)
	default:
		return fmt.Errorf("unknown strategy %q", strategy)
	}
	if err != nil {
		return err
	}
	if len(signals) == 0 {
		fmt.Fprintln(w, "No signals found.")
		return nil
	}

	fmt.Fprintf(w, "\nPeriod: %s — %s (%.0fh) | %d signals\n",
		tsToStr(minTS), tsToStr(maxTS), hours, len(signals))
	RunOptimization(w, signals, hours)
	return nil
}

// enumerateFlush finds every flush signal across all symbols, time-ordered.
// withFunding also loads the funding context (the L/S+taker comparison set
// skips it). Returns the signals and the count of pairs with enough history.
func (e *Engine) enumerateFlush(symbols map[int64]string, withFunding bool) ([]*Signal, int, error) {
	var signals []*Signal
	pairsWithData := 0

	for _, sid := range sortedIDs(symbols) {
		points, err := e.repo.OISeries(sid)
		if err != nil {
			return nil, 0, err
		}
		if len(points) < e.p.MinHistory {
			continue
		}
		pairsWithData++

		for _, raw := range FindFlushSignals(points, e.p) {
			entry := points[raw.PointIdx]
			if entry.MarkPrice <= 0 {
				continue
			}
			path, pct := BuildPricePath(points, raw.PointIdx, entry.MarkPrice)
			trade := SimulateTrade(pct, path, e.p.TakeProfit, e.p.StopLoss, e.p.MaxHoldPoints)

			sig := &Signal{
				Symbol:         symbols[sid],
				Time:           entry.Timestamp,
				EntryPrice:     entry.MarkPrice,
				OIUSD:          entry.OIUSD,
				PeakPct:        raw.PeakPct,
				CurrentPct:     raw.CurrentPct,
				BuildupMinutes: raw.BuildupMinutes,
				PctChanges:     pct,
				Path:           path,
				Trade:          trade,
			}
			e.attachContext(sig, sid, entry.Timestamp, withFunding)
			signals = append(signals, sig)
		}
	}

	sort.SliceStable(signals, func(i, j int) bool { return signals[i].Time < signals[j].Time })
	return signals, pairsWithData, nil
}

// enumerateLSTaker finds every adaptive-threshold L/S + taker signal,
// time-ordered. Returns the signals and the count of pairs that produced any.
func (e *Engine) enumerateLSTaker(symbols map[int64]string) ([]*Signal, int, error) {
	var signals []*Signal
	pairsWithSignals := 0

	for _, sid := range sortedIDs(symbols) {
		points, err := e.repo.OISeries(sid)
		if err != nil {
			return nil, 0, err
		}
		if len(points) < e.p.MinHistory {
			continue
		}

		tsToIdx := make(map[int64]int, len(points))
		for idx, pt := range points {
			tsToIdx[pt.Timestamp] = idx
		}

		lsPoints, err := e.repo.AllLSRatios(sid)
		if err != nil {
			return nil, 0, err
		}
		ratios := make([]float64, len(lsPoints))
		for i, lp := range lsPoints {
			ratios[i] = lp.Ratio
		}

		threshold := ComputeLSThreshold(ratios, e.p)
		if threshold == nil {
			continue
		}
		hits, err := e.repo.LSTakerHits(sid, threshold.Threshold, e.p.TakerThreshold)
		if err != nil {
			return nil, 0, err
		}
		cooldown := int64(e.p.SignalCooldown) * e.p.PointIntervalSec
		lastSignalTS := -cooldown
		symHadSignals := false

		for _, hit := range hits {
			if hit.Timestamp-lastSignalTS < cooldown {
				continue
			}
			oiIdx, ok := tsToIdx[hit.Timestamp]
			if !ok {
				oiIdx = -1
				for idx, pt := range points {
					if pt.Timestamp >= hit.Timestamp {
						oiIdx = idx
						break
					}
				}
				if oiIdx < 0 {
					continue
				}
			}
			entry := points[oiIdx]
			if entry.MarkPrice <= 0 {
				continue
			}

			path, pct := BuildPricePath(points, oiIdx, entry.MarkPrice)
			trade := SimulateTrade(pct, path, e.p.TakeProfit, e.p.StopLoss, e.p.MaxHoldPoints)

			ls := hit.Ratio
			taker := hit.TakerRatio
			sig := &Signal{
				Symbol:      symbols[sid],
				Time:        hit.Timestamp,
				EntryPrice:  entry.MarkPrice,
				OIUSD:       entry.OIUSD,
				LSThreshold: threshold.Threshold,
				LSRatio:     &ls,
				TakerRatio:  &taker,
				PctChanges:  pct,
				Path:        path,
				Trade:       trade,
			}
			if funding, found, err := e.repo.NearestFundingAt(sid, hit.Timestamp); err == nil && found {
				sig.FundingRate = &funding
			}
			signals = append(signals, sig)
			lastSignalTS = hit.Timestamp
			symHadSignals = true
		}
		if symHadSignals {
			pairsWithSignals++
		}
	}

	sort.SliceStable(signals, func(i, j int) bool { return signals[i].Time < signals[j].Time })
	return signals, pairsWithSignals, nil
}

// attachContext loads the nearest funding/L-S/taker readings at the signal
func (e *Engine) attachContext(sig *Signal, sid, ts int64, withFunding bool) {
	if withFunding {
		if v, found, err := e.repo.NearestFundingAt(sid, ts); err == nil && found {
			sig.FundingRate = &v
		}
	}
	if sig.LSRatio == nil {
		if v, found, err := e.repo.NearestLSAt(sid, ts); err == nil && found {
			sig.LSRatio = &v
		}
	}
	if sig.TakerRatio == nil {
		if v, found, err := e.repo.NearestTakerAt(sid, ts); err == nil && found {
			sig.TakerRatio = &v
		}
	}
}

func sortedIDs(symbols map[int64]string) []int64 {
	ids := make([]int64, 0, len(symbols))
	for id := range symbols {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
