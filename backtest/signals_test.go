package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oi-radar/database"
)

// oiSeries builds samples whose OI tracks pct (relative to the first point)
func oiSeries(pct []float64) []database.OISample {
	base := 1_000_000_000.0
	out := make([]database.OISample, len(pct))
	for i, p := range pct {
		out[i] = database.OISample{
			Timestamp: int64(i) * 300,
			OIUSD:     base * (1 + p/100),
			MarkPrice: 100,
		}
	}
	return out
}

func TestFindFlushSignals(t *testing.T) {
	// Flat prelude, 14-point buildup peaking at 5.3%, collapse to 0.3%
	pct := []float64{
		0, 0, 0, 0, 0,
		0, 0.5, 1.0, 2.0, 2.8,
		3.1, 3.4, 3.6, 3.8, 4.0, 4.3, 4.5, 4.7, 4.8, 4.9, 5.0, 5.1, 5.2, 5.3,
		3.0, 2.2, 1.4, 0.8, 0.3,
	}
	p := DefaultParams()

	signals := FindFlushSignals(oiSeries(pct), p)
	require.NotEmpty(t, signals)

	first := signals[0]
	assert.Less(t, first.CurrentPct, p.CurrentMax)
	assert.GreaterOrEqual(t, first.PeakPct-first.CurrentPct, p.DropPct)
	assert.GreaterOrEqual(t, first.BuildupMinutes, p.BuildupMinPoints*5)

	// The index cooldown spaces out signals from the same collapse
	for i := 1; i < len(signals); i++ {
		assert.GreaterOrEqual(t, signals[i].PointIdx-signals[i-1].PointIdx, p.SignalCooldown)
	}
}

func TestFindFlushSignalsNoBuildup(t *testing.T) {
	pct := make([]float64, 48)
	for i := range pct {
		pct[i] = float64(i%3) * 0.5 // chop between 0 and 1%
	}
	signals := FindFlushSignals(oiSeries(pct), DefaultParams())
	assert.Empty(t, signals)
}

func TestFindFlushSignalsStillElevated(t *testing.T) {
	// Buildup without the collapse: current stays above CurrentMax
	pct := []float64{
		0, 0.5, 1.0, 2.0, 2.8,
		3.1, 3.4, 3.6, 3.8, 4.0, 4.3, 4.5, 4.7, 4.8, 4.9, 5.0, 5.1, 5.2, 5.3,
		5.2, 5.1, 5.0, 4.9, 4.8, 4.7,
	}
	signals := FindFlushSignals(oiSeries(pct), DefaultParams())
	assert.Empty(t, signals)
}

func TestComputeLSThreshold(t *testing.T) {
	p := DefaultParams()

	// 24 stable readings around 1.0 keep the adaptive value under the floor
	ratios := make([]float64, 24)
	for i := range ratios {
		ratios[i] = 1.0 + float64(i%2)*0.1
	}
	th := ComputeLSThreshold(ratios, p)
	require.NotNil(t, th)
	assert.Equal(t, p.LSMinAbs, th.Threshold)
	assert.Less(t, th.Adaptive, p.LSMinAbs)
	assert.Equal(t, 24, th.Count)

	// A volatile series pushes the threshold above the floor
	volatile := make([]float64, 24)
	for i := range volatile {
		volatile[i] = 1.5 + float64(i%4)*0.8
	}
	th = ComputeLSThreshold(volatile, p)
	require.NotNil(t, th)
	assert.Greater(t, th.Threshold, p.LSMinAbs)
	assert.InDelta(t, th.Mean+p.LSZScore*th.Stdev, th.Adaptive, 1e-9)
}

func TestComputeLSThresholdTooFewPoints(t *testing.T) {
	ratios := []float64{1.0, 1.1, 1.2}
	assert.Nil(t, ComputeLSThreshold(ratios, DefaultParams()))
}
