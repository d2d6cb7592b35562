package anomaly

import (
	"fmt"
	"strings"

	"oi-radar/config"
	"oi-radar/database"
)

// FlushPattern is the buildup-then-drop shape found in a pct-change window
type FlushPattern struct {
	PeakPct    float64
	CurrentPct float64
	Drop       float64
	RunStart   int
	RunLen     int
}

// FindFlushPattern scans a window of OI pct-changes (relative to the first
// point) for a sustained buildup that has just collapsed. Returns nil when
// the window does not match. Shared by the live detector and the backtester.
func FindFlushPattern(pct []float64, cfg config.FlushConfig) *FlushPattern {
	if len(pct) < cfg.Lookback {
		return nil
	}

	// Longest contiguous run at or above the buildup threshold
	bestStart, bestLen := 0, 0
	curStart, curLen := 0, 0
	for i, p := range pct {
		if p >= cfg.BuildupThreshold {
			if curLen == 0 {
				curStart = i
			}
			curLen++
			if curLen > bestLen {
				bestLen = curLen
				bestStart = curStart
			}
		} else {
			curLen = 0
		}
	}
	if bestLen < cfg.BuildupMinPoints {
		return nil
	}

	// The buildup must reach toward the present
	bestEnd := bestStart + bestLen - 1
	if bestEnd < len(pct)-cfg.BuildupMinPoints {
		return nil
	}

	peak := pct[bestStart]
	for i := bestStart; i <= bestEnd; i++ {
		if pct[i] > peak {
			peak = pct[i]
		}
	}

	current := pct[len(pct)-1]
	if current >= cfg.CurrentMax {
		return nil
	}
	drop := peak - current
	if drop < cfg.DropPct {
		return nil
	}

	return &FlushPattern{
		PeakPct:    peak,
		CurrentPct: current,
		Drop:       drop,
		RunStart:   bestStart,
		RunLen:     bestLen,
	}
}

// checkFlush runs the flush pattern over the symbol's recent OI history and,
// on a match, builds the full alert description with funding/L-S/taker context.
func (d *Detector) checkFlush(cycleTS, symbolID int64, symbol string, stats *StatsSnapshot) (*database.Anomaly, error) {
	if !d.cooldownOpen(symbolID, KindOIFlush) {
		return nil, nil
	}

	interval := int64(d.cfg.Collect.Interval.Seconds())
	since := cycleTS - int64(d.cfg.Flush.Lookback)*interval
	history, err := d.store.OIHistory(symbolID, since)
	if err != nil {
		return nil, fmt.Errorf("OI history: %w", err)
	}
	if len(history) < d.cfg.Flush.Lookback {
		return nil, nil
	}

	base := history[0].OIUSD
	if base <= 0 {
		return nil, nil
	}
	pct := make([]float64, len(history))
	for i, h := range history {
		pct[i] = (h.OIUSD - base) / base * 100
	}

	pattern := FindFlushPattern(pct, d.cfg.Flush)
	if pattern == nil {
		return nil, nil
	}

	severity := stats.Severity(symbolID, d.cfg.Severity)

	funding, hasFunding, err := d.store.LatestFunding(symbolID)
	if err != nil {
		return nil, err
	}
	lsRatio, longPct, hasLS, err := d.store.LatestLSRatio(symbolID)
	if err != nil {
		return nil, err
	}
	taker, hasTaker, err := d.store.LatestTaker(symbolID)
	if err != nil {
		return nil, err
	}

	minutesPerPoint := int(d.cfg.Collect.Interval.Minutes())
	peakOI := base * (1 + pattern.PeakPct/100)
	currentOI := history[len(history)-1].OIUSD
	buildupMinutes := pattern.RunLen * minutesPerPoint
	flushPoints := len(pct) - 1 - (pattern.RunStart + pattern.RunLen - 1)
	flushMinutes := flushPoints * minutesPerPoint
	if flushMinutes < minutesPerPoint {
		flushMinutes = minutesPerPoint
	}

	desc := flushDescription(symbol, flushContext{
		peakOI:         peakOI,
		peakPct:        pattern.PeakPct,
		currentOI:      currentOI,
		currentPct:     pattern.CurrentPct,
		drop:           pattern.Drop,
		buildupMinutes: buildupMinutes,
		flushMinutes:   flushMinutes,
		funding:        funding,
		hasFunding:     hasFunding,
		lsRatio:        lsRatio,
		longPct:        longPct,
		hasLS:          hasLS,
		taker:          taker,
		hasTaker:       hasTaker,
	})

	d.armCooldown(symbolID, KindOIFlush)
	return &database.Anomaly{
		Timestamp: d.now(), CycleTS: cycleTS, SymbolID: symbolID,
		Type: KindOIFlush, Severity: severity, Value: pattern.Drop,
		Description: desc,
	}, nil
}

type flushContext struct {
	peakOI, peakPct       float64
	currentOI, currentPct float64
	drop                  float64
	buildupMinutes        int
	flushMinutes          int
	funding               float64
	hasFunding            bool
	lsRatio, longPct      float64
	hasLS                 bool
	taker                 float64
	hasTaker              bool
}

func flushDescription(symbol string, c flushContext) string {
	var interpretation string
	switch {
	case c.hasFunding && c.funding > 0 && c.hasLS && c.lsRatio > 2.0:
		interpretation = "⚠️ Mass long liquidation"
	case c.hasFunding && c.funding < 0 && c.hasLS && c.lsRatio < 0.5:
		interpretation = "⚠️ Mass short liquidation"
	case c.hasTaker && c.taker < 0.8:
		interpretation = "⚠️ Aggressive spot selling"
	default:
		interpretation = "⚠️ Sharp position flush"
	}

	fundingStr := "n/a"
	if c.hasFunding {
		fundingStr = fmt.Sprintf("%+.3f%%", c.funding*100)
		if c.funding > 0 {
			fundingStr += " (longs pay)"
		} else if c.funding < 0 {
			fundingStr += " (shorts pay)"
		}
	}
	lsStr := "n/a"
	if c.hasLS {
		lsStr = fmt.Sprintf("%.1f (%.0f%% long)", c.lsRatio, c.longPct*100)
	}
	takerStr := "n/a"
	if c.hasTaker {
		takerStr = fmt.Sprintf("%.1f buy/sell", c.taker)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⚡ OI FLUSH: %s\n\n", symbol)
	fmt.Fprintf(&b, "📊 OI buildup → flush:\n")
	fmt.Fprintf(&b, "   Peak: %s (+%.1f%% over %s)\n", fmtUSD(c.peakOI), c.peakPct, fmtMinutes(c.buildupMinutes))
	fmt.Fprintf(&b, "   Now: %s (%+.1f%%)\n", fmtUSD(c.currentOI), c.currentPct)
	fmt.Fprintf(&b, "   Drop: -%.1f%% over %s\n\n", c.drop, fmtMinutes(c.flushMinutes))
	fmt.Fprintf(&b, "💰 Funding: %s\n", fundingStr)
	fmt.Fprintf(&b, "📈 L/S Ratio: %s\n", lsStr)
	fmt.Fprintf(&b, "🔄 Taker: %s\n\n", takerStr)
	b.WriteString(interpretation)
	return b.String()
}

func fmtUSD(v float64) string {
	switch {
	case v >= 1_000_000_000:
		return fmt.Sprintf("$%.1fB", v/1_000_000_000)
	case v >= 1_000_000:
		return fmt.Sprintf("$%.1fM", v/1_000_000)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}

func fmtMinutes(minutes int) string {
	if minutes >= 60 {
		h := minutes / 60
		m := minutes % 60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", minutes)
}
