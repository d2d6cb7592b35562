package backtest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signalWithPath(pct ...float64) *Signal {
	return &Signal{Symbol: "TESTUSDT", PctChanges: pct}
}

func TestSimulateCombo(t *testing.T) {
	signals := []*Signal{
		signalWithPath(0.5, -1.0, -2.5), // TP at 2.0
		signalWithPath(0.5, 1.8, -1.0),  // SL at 1.5
		signalWithPath(0.2, -0.3, 0.1),  // neither, closes at -last = -0.1
	}

	stats := SimulateCombo(signals, 2.0, 1.5)
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Trades)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 2, stats.Losses)
	// +2.0 (TP) - 1.5 (SL) - 0.1 (end of data) = +0.4
	assert.InDelta(t, 0.4, stats.TotalPnl, 1e-9)
	assert.InDelta(t, 2.0/1.5, stats.RR, 1e-9)
}

func TestSimulateComboProfitFactorCap(t *testing.T) {
	signals := []*Signal{
		signalWithPath(-2.5),
		signalWithPath(-3.0),
	}
	stats := SimulateCombo(signals, 2.0, 1.5)
	require.NotNil(t, stats)
	assert.Equal(t, 999.0, stats.ProfitFactor)
	assert.Equal(t, 100.0, stats.WinRate)
}

func TestSimulateComboEmpty(t *testing.T) {
	assert.Nil(t, SimulateCombo(nil, 2.0, 1.5))
	assert.Nil(t, SimulateCombo([]*Signal{{Symbol: "X"}}, 2.0, 1.5))
}

func TestOptimizeForSignalsMinTrades(t *testing.T) {
	signals := []*Signal{
		signalWithPath(-2.5),
		signalWithPath(1.8, -0.5),
	}
	combos := optimizeForSignals(signals, 3)
	assert.Empty(t, combos, "2 signals never reach the 3-trade floor")

	signals = append(signals, signalWithPath(0.1, -0.2))
	combos = optimizeForSignals(signals, 3)
	require.NotEmpty(t, combos)
	for _, c := range combos {
		assert.GreaterOrEqual(t, c.Trades, 3)
	}
}

func TestRunOptimizationOutput(t *testing.T) {
	ls := 2.5
	taker := 0.7
	var signals []*Signal
	for i := 0; i < 6; i++ {
		s := signalWithPath(0.5, -1.0, -2.5, -4.0)
		s.LSRatio = &ls
		s.TakerRatio = &taker
		signals = append(signals, s)
	}

	var buf bytes.Buffer
	RunOptimization(&buf, signals, 48)

	out := buf.String()
	assert.Contains(t, out, "TP/SL OPTIMIZATION")
	assert.Contains(t, out, "All signals")
	assert.Contains(t, out, "BEST CONFIGURATIONS")
	assert.Contains(t, out, "MAX PROFIT")
	assert.Contains(t, out, "preliminary", "48h of data must carry the thin-data warning")
}

func TestFmtPnl(t *testing.T) {
	assert.Equal(t, "+2.00%", fmtPnl(2.0))
	assert.Equal(t, "-1.50%", fmtPnl(-1.5))
	assert.Equal(t, "+0.00%", fmtPnl(0))
}
