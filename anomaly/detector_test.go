package anomaly

import (
	"strings"
	"testing"
	"time"

	"oi-radar/config"
	"oi-radar/database"
)

// fakeStore serves canned history to the detector
type fakeStore struct {
	oiCount    int64
	oiPrev     float64
	oiPrevOK   bool
	history    []database.OIPoint
	funding    float64
	fundingOK  bool
	lsRatio    float64
	lsLongPct  float64
	lsOK       bool
	taker      float64
	takerOK    bool
}

func (f *fakeStore) CountOI(symbolID, since int64) (int64, error) { return f.oiCount, nil }
func (f *fakeStore) OIUSDAtOrBefore(symbolID, ts int64) (float64, bool, error) {
	return f.oiPrev, f.oiPrevOK, nil
}
func (f *fakeStore) OIHistory(symbolID, since int64) ([]database.OIPoint, error) {
	return f.history, nil
}
func (f *fakeStore) LatestFunding(symbolID int64) (float64, bool, error) {
	return f.funding, f.fundingOK, nil
}
func (f *fakeStore) LatestLSRatio(symbolID int64) (ratio, longPct float64, found bool, err error) {
	return f.lsRatio, f.lsLongPct, f.lsOK, nil
}
func (f *fakeStore) LatestTaker(symbolID int64) (float64, bool, error) {
	return f.taker, f.takerOK, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Collect: config.CollectConfig{Interval: 5 * time.Minute},
		Anomaly: config.AnomalyConfig{
			MinHistoryForAnomaly:  12,
			FundingSpikeThreshold: 0.001,
			OISurgeThreshold:      0.10,
			LSExtremeThreshold:    3.0,
			TakerExtremeThreshold: 2.0,
		},
		Flush: config.FlushConfig{
			BuildupThreshold: 3.0,
			BuildupMinPoints: 12,
			DropPct:          2.0,
			CurrentMax:       2.0,
			Lookback:         24,
			Cooldown:         30 * time.Minute,
		},
		Notify: config.NotifyConfig{AlertCooldown: time.Hour},
		Severity: config.SeverityConfig{
			CriticalOI: 10_000_000_000,
			MediumOI:   100_000_000,
			TopN:       20,
		},
	}
}

func emptySnapshot() *StatsSnapshot {
	return NewStatsSnapshot(nil, 20)
}

func flushHistory(cycleTS int64) []database.OIPoint {
	pct := []float64{
		0, 0.5, 1.0, 2.0, 2.8,
		3.1, 3.4, 3.6, 3.8, 4.0, 4.3, 4.5, 4.7, 4.8, 4.9, 5.0, 5.1, 5.2, 5.3,
		3.0, 2.2, 1.4, 0.8, 0.3,
	}
	base := 1_000_000_000.0
	points := make([]database.OIPoint, len(pct))
	start := cycleTS - int64(len(pct)-1)*300
	for i, p := range pct {
		points[i] = database.OIPoint{
			Timestamp: start + int64(i)*300,
			OIUSD:     base * (1 + p/100),
		}
	}
	return points
}

func TestDetectOIFlush(t *testing.T) {
	cycleTS := int64(1_700_000_000)
	store := &fakeStore{
		oiCount:   24,
		history:   flushHistory(cycleTS),
		funding:   0.0008,
		fundingOK: true,
		lsRatio:   2.5,
		lsLongPct: 0.71,
		lsOK:      true,
		taker:     0.7,
		takerOK:   true,
	}
	d := NewDetector(store, testConfig())

	anomalies, err := d.Detect(cycleTS, 1, "BTCUSDT", Reading{}, emptySnapshot())
	if err != nil {
		t.Fatal(err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(anomalies))
	}
	a := anomalies[0]
	if a.Type != KindOIFlush {
		t.Errorf("expected %s, got %s", KindOIFlush, a.Type)
	}
	if !strings.Contains(a.Description, "Mass long liquidation") {
		t.Errorf("expected long-liquidation interpretation:\n%s", a.Description)
	}

	// Same cycle again: the flush cooldown must suppress a repeat
	anomalies, err = d.Detect(cycleTS, 1, "BTCUSDT", Reading{}, emptySnapshot())
	if err != nil {
		t.Fatal(err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("expected cooldown to suppress repeat, got %d anomalies", len(anomalies))
	}
}

func TestDetectCapitulation(t *testing.T) {
	cycleTS := int64(1_700_000_000)
	oi := 850_000_000.0
	funding := 0.002
	store := &fakeStore{
		oiCount:   24,
		oiPrev:    1_000_000_000,
		oiPrevOK:  true,
		funding:   -0.001, // last stored rate has the opposite sign
		fundingOK: true,
	}
	d := NewDetector(store, testConfig())

	anomalies, err := d.Detect(cycleTS, 1, "ETHUSDT",
		Reading{OIUSD: &oi, Funding: &funding}, emptySnapshot())
	if err != nil {
		t.Fatal(err)
	}

	kinds := map[string]bool{}
	for _, a := range anomalies {
		kinds[a.Type] = true
	}
	for _, want := range []string{KindFundingSpike, KindOISurge, KindCapitulation} {
		if !kinds[want] {
			t.Errorf("expected %s among %v", want, kinds)
		}
	}
	if kinds[KindOverheat] {
		t.Error("overheat requires an L/S extreme as well")
	}
}

func TestDetectOverheat(t *testing.T) {
	cycleTS := int64(1_700_000_000)
	oi := 1_200_000_000.0
	funding := 0.002
	ls := 3.5
	store := &fakeStore{
		oiCount:   24,
		oiPrev:    1_000_000_000,
		oiPrevOK:  true,
		funding:   0.0015, // same sign, so no capitulation
		fundingOK: true,
	}
	d := NewDetector(store, testConfig())

	anomalies, err := d.Detect(cycleTS, 1, "SOLUSDT",
		Reading{OIUSD: &oi, Funding: &funding, LS: &ls}, emptySnapshot())
	if err != nil {
		t.Fatal(err)
	}

	kinds := map[string]bool{}
	for _, a := range anomalies {
		kinds[a.Type] = true
	}
	if !kinds[KindOverheat] {
		t.Errorf("expected overheat among %v", kinds)
	}
	if kinds[KindCapitulation] {
		t.Error("capitulation needs a funding sign flip")
	}
}

func TestDetectSkipsThinHistory(t *testing.T) {
	funding := 0.05
	store := &fakeStore{oiCount: 5}
	d := NewDetector(store, testConfig())

	anomalies, err := d.Detect(1_700_000_000, 1, "NEWUSDT",
		Reading{Funding: &funding}, emptySnapshot())
	if err != nil {
		t.Fatal(err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("expected no anomalies on thin history, got %d", len(anomalies))
	}
}

func TestCooldownExpiry(t *testing.T) {
	cycleTS := int64(1_700_000_000)
	funding := 0.002
	store := &fakeStore{oiCount: 24}
	d := NewDetector(store, testConfig())

	clock := cycleTS
	d.now = func() int64 { return clock }

	first, err := d.Detect(cycleTS, 1, "BTCUSDT", Reading{Funding: &funding}, emptySnapshot())
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || first[0].Type != KindFundingSpike {
		t.Fatalf("expected one funding spike, got %+v", first)
	}

	// 30 minutes later: still inside the 1h cooldown
	clock += 1800
	second, _ := d.Detect(cycleTS+1800, 1, "BTCUSDT", Reading{Funding: &funding}, emptySnapshot())
	if len(second) != 0 {
		t.Fatalf("expected suppression inside cooldown, got %d", len(second))
	}

	// Past the cooldown it fires again
	clock += 1801
	third, _ := d.Detect(cycleTS+3601, 1, "BTCUSDT", Reading{Funding: &funding}, emptySnapshot())
	if len(third) != 1 {
		t.Fatalf("expected re-fire after cooldown, got %d", len(third))
	}
}

func TestEffectiveThreshold(t *testing.T) {
	mean, std := 0.0005, 0.0002
	negMean := -0.0005
	zero := 0.0

	tests := []struct {
		name     string
		mean     *float64
		std      *float64
		twoSided bool
		fallback float64
		want     float64
	}{
		{"adaptive", &mean, &std, false, 0.1, 0.0011},
		{"two-sided takes abs mean", &negMean, &std, true, 0.1, 0.0011},
		{"nil stats fall back", nil, nil, false, 0.1, 0.1},
		{"zero std falls back", &mean, &zero, false, 0.1, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := effectiveThreshold(tt.mean, tt.std, tt.twoSided, tt.fallback)
			if diff := got - tt.want; diff > 1e-12 || diff < -1e-12 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSnapshotSeverity(t *testing.T) {
	stats := map[int64]database.SymbolStats{
		1: {SymbolID: 1, AvgOIUSD: 12_000_000_000}, // critical tier
		2: {SymbolID: 2, AvgOIUSD: 5_000_000_000},  // top-N
		3: {SymbolID: 3, AvgOIUSD: 500_000_000},    // medium
		4: {SymbolID: 4, AvgOIUSD: 50_000_000},     // low
	}
	snap := NewStatsSnapshot(stats, 2)
	cfg := testConfig().Severity

	tests := []struct {
		symbolID int64
		want     string
	}{
		{1, SeverityCritical},
		{2, SeverityHigh},
		{3, SeverityMedium},
		{4, SeverityLow},
		{99, SeverityMedium}, // unknown symbol
	}
	for _, tt := range tests {
		if got := snap.Severity(tt.symbolID, cfg); got != tt.want {
			t.Errorf("symbol %d: expected %s, got %s", tt.symbolID, tt.want, got)
		}
	}
}
