package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oi-radar/database"
)

func samples(entry float64, prices ...float64) []database.OISample {
	out := make([]database.OISample, 0, len(prices)+1)
	out = append(out, database.OISample{Timestamp: 0, OIUSD: 1_000_000, MarkPrice: entry})
	for i, p := range prices {
		out = append(out, database.OISample{
			Timestamp: int64(i+1) * 300,
			OIUSD:     1_000_000,
			MarkPrice: p,
		})
	}
	return out
}

func TestSimulateTradeTakeProfit(t *testing.T) {
	points := samples(100, 100.5, 99, 98, 97)
	path, pct := BuildPricePath(points, 0, 100)
	require.Len(t, pct, 4)

	trade := SimulateTrade(pct, path, 2.0, 1.5, 0)
	require.NotNil(t, trade)
	assert.Equal(t, ExitTP, trade.ExitType)
	assert.Equal(t, 98.0, trade.ExitPrice)
	assert.Equal(t, 2.0, trade.PnlPct)
	assert.Equal(t, 3, trade.HoldPoints)
}

func TestSimulateTradeStopLoss(t *testing.T) {
	points := samples(100, 100.5, 101.6, 99)
	path, pct := BuildPricePath(points, 0, 100)

	trade := SimulateTrade(pct, path, 3.0, 1.5, 0)
	require.NotNil(t, trade)
	assert.Equal(t, ExitSL, trade.ExitType)
	assert.Equal(t, 101.6, trade.ExitPrice)
	assert.Equal(t, -1.5, trade.PnlPct)
	assert.Equal(t, 2, trade.HoldPoints)
}

func TestSimulateTradeTimeout(t *testing.T) {
	points := samples(100, 100.2, 100.4, 100.6, 100.8)
	path, pct := BuildPricePath(points, 0, 100)

	trade := SimulateTrade(pct, path, 3.0, 1.5, 2)
	require.NotNil(t, trade)
	assert.Equal(t, ExitTimeout, trade.ExitType)
	// The short closes at the unrealised P&L of the timeout step
	assert.InDelta(t, -0.4, trade.PnlPct, 1e-9)
	assert.Equal(t, 2, trade.HoldPoints)
}

func TestSimulateTradeStillOpen(t *testing.T) {
	points := samples(100, 100.2, 99.8, 100.1)
	path, pct := BuildPricePath(points, 0, 100)

	trade := SimulateTrade(pct, path, 3.0, 1.5, 0)
	assert.Nil(t, trade)
}

func TestBuildPricePathSkipsZeroPrices(t *testing.T) {
	points := samples(100, 99.5, 0, 98)
	path, pct := BuildPricePath(points, 0, 100)

	require.Len(t, path, 2)
	assert.Equal(t, 99.5, path[0].Price)
	assert.Equal(t, 98.0, path[1].Price)
	assert.InDelta(t, -2.0, pct[1], 1e-9)
}

func TestSimulateTradeDeterministic(t *testing.T) {
	points := samples(100, 100.5, 99, 98, 97, 102, 95)
	path, pct := BuildPricePath(points, 0, 100)

	first := SimulateTrade(pct, path, 2.0, 1.5, 0)
	second := SimulateTrade(pct, path, 2.0, 1.5, 0)
	assert.Equal(t, first, second)
}
