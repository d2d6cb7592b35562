// Package backtest replays the stored timeseries to evaluate a SHORT
// trading rule: enter on an anomaly signal, exit on take-profit, stop-loss
// or end of data. A grid optimizer then searches TP×SL combinations.
package backtest

import (
	"math"

	"oi-radar/database"
)

// Params tunes signal search and trade simulation
type Params struct {
	// Flush signal search
	BuildupThreshold float64
	BuildupMinPoints int
	DropPct          float64
	CurrentMax       float64
	WindowSize       int
	MinHistory       int

	// L/S + taker signal search
	LSZScore        float64
	LSMinAbs        float64
	LSMinDatapoints int
	TakerThreshold  float64

	// Dedup: points (flush) or point-equivalents (L/S) between signals
	SignalCooldown int

	// Trade simulation
	TakeProfit    float64
	StopLoss      float64
	MaxHoldPoints int // 0 = hold to TP/SL/end of data

	PointIntervalSec int64
}

// DefaultParams mirrors the live flush detector's tuning
func DefaultParams() Params {
	return Params{
		BuildupThreshold: 3.0,
		BuildupMinPoints: 12,
		DropPct:          2.0,
		CurrentMax:       2.0,
		WindowSize:       24,
		MinHistory:       24,
		LSZScore:         2.0,
		LSMinAbs:         1.5,
		LSMinDatapoints:  24,
		TakerThreshold:   1.0,
		SignalCooldown:   6,
		TakeProfit:       3.0,
		StopLoss:         1.5,
		MaxHoldPoints:    0,
		PointIntervalSec: 300,
	}
}

// FlushSignal is one buildup-then-drop match in the OI series
type FlushSignal struct {
	PointIdx       int
	PeakPct        float64
	CurrentPct     float64
	BuildupMinutes int
}

// FindFlushSignals scans sliding windows of the OI series for the
// buildup-then-drop shape, enforcing an index cooldown between signals.
// The last point of each window is the candidate entry and is excluded
// from the buildup run search.
func FindFlushSignals(points []database.OISample, p Params) []FlushSignal {
	var signals []FlushSignal
	lastSignalIdx := -p.SignalCooldown

	for i := p.WindowSize; i < len(points); i++ {
		if i-lastSignalIdx < p.SignalCooldown {
			continue
		}

		window := points[i-p.WindowSize : i+1]
		base := window[0].OIUSD
		if base <= 0 {
			continue
		}

		pct := make([]float64, len(window))
		for j, w := range window {
			pct[j] = (w.OIUSD - base) / base * 100
		}
		current := pct[len(pct)-1]
		if current >= p.CurrentMax {
			continue
		}

		bestLen, bestPeak := 0, 0.0
		runLen, runPeak := 0, 0.0
		for _, v := range pct[:len(pct)-1] {
			if v >= p.BuildupThreshold {
				runLen++
				if runLen == 1 || v > runPeak {
					runPeak = v
				}
				if runLen > bestLen {
					bestLen = runLen
					bestPeak = runPeak
				}
			} else {
				runLen, runPeak = 0, 0
			}
		}

		if bestLen < p.BuildupMinPoints {
			continue
		}
		if bestPeak-current < p.DropPct {
			continue
		}

		signals = append(signals, FlushSignal{
			PointIdx:       i,
			PeakPct:        bestPeak,
			CurrentPct:     current,
			BuildupMinutes: bestLen * int(p.PointIntervalSec/60),
		})
		lastSignalIdx = i
	}
	return signals
}

// LSThreshold is one symbol's adaptive L/S entry threshold
type LSThreshold struct {
	Mean      float64
	Stdev     float64
	Adaptive  float64
	Threshold float64
	Count     int
}

// ComputeLSThreshold derives the adaptive threshold mean + z·σ, floored at
// the absolute minimum. Returns nil when the series is too short.
func ComputeLSThreshold(ratios []float64, p Params) *LSThreshold {
	if len(ratios) < p.LSMinDatapoints {
		return nil
	}
	mean := 0.0
	for _, r := range ratios {
		mean += r
	}
	mean /= float64(len(ratios))

	stdev := 0.0
	if len(ratios) > 1 {
		var ss float64
		for _, r := range ratios {
			d := r - mean
			ss += d * d
		}
		stdev = math.Sqrt(ss / float64(len(ratios)-1))
	}

	adaptive := mean + p.LSZScore*stdev
	threshold := adaptive
	if threshold < p.LSMinAbs {
		threshold = p.LSMinAbs
	}
	return &LSThreshold{
		Mean:      mean,
		Stdev:     stdev,
		Adaptive:  adaptive,
		Threshold: threshold,
		Count:     len(ratios),
	}
}
