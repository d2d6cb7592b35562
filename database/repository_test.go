package database

import (
	"path/filepath"
	"testing"

	"oi-radar/cache"
)

func testRepo(t *testing.T) *MarketRepository {
	t.Helper()
	db, err := Connect(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	repo := NewMarketRepository(db)
	if err := repo.InitSchema(); err != nil {
		t.Fatal(err)
	}
	return repo
}

func seedSymbols(t *testing.T, repo *MarketRepository, symbols ...string) map[string]int64 {
	t.Helper()
	ups := make([]SymbolUpsert, len(symbols))
	for i, s := range symbols {
		ups[i] = SymbolUpsert{Symbol: s, BaseAsset: s[:len(s)-4]}
	}
	m, err := repo.UpsertSymbols(ups)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestUpsertSymbolsIdempotent(t *testing.T) {
	repo := testRepo(t)

	first := seedSymbols(t, repo, "BTCUSDT", "ETHUSDT")
	second := seedSymbols(t, repo, "BTCUSDT", "ETHUSDT", "SOLUSDT")

	if len(second) != 3 {
		t.Fatalf("expected 3 symbols, got %d", len(second))
	}
	if first["BTCUSDT"] != second["BTCUSDT"] {
		t.Error("re-upsert must keep stable ids")
	}
}

func TestInsertOpenInterestIgnoresDuplicates(t *testing.T) {
	repo := testRepo(t)
	ids := seedSymbols(t, repo, "BTCUSDT")
	sid := ids["BTCUSDT"]

	rows := []OpenInterest{
		{Timestamp: 1000, SymbolID: sid, OIContracts: 50000, OIUSD: 5_000_000, MarkPrice: 100},
	}
	if err := repo.InsertOpenInterest(rows); err != nil {
		t.Fatal(err)
	}
	// Re-ingesting the same (timestamp, symbol) row must be a no-op
	rows[0].OIUSD = 9_999_999
	if err := repo.InsertOpenInterest(rows); err != nil {
		t.Fatal(err)
	}

	history, err := repo.OIHistory(sid, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 row, got %d", len(history))
	}
	if history[0].OIUSD != 5_000_000 {
		t.Errorf("duplicate insert must not overwrite, got %v", history[0].OIUSD)
	}
}

func TestLatestReadingsPerSymbol(t *testing.T) {
	repo := testRepo(t)
	ids := seedSymbols(t, repo, "BTCUSDT")
	sid := ids["BTCUSDT"]

	if err := repo.InsertFundingRates([]FundingRate{
		{Timestamp: 1000, SymbolID: sid, Rate: 0.0001},
		{Timestamp: 2000, SymbolID: sid, Rate: -0.0005},
	}); err != nil {
		t.Fatal(err)
	}

	rate, found, err := repo.LatestFunding(sid)
	if err != nil {
		t.Fatal(err)
	}
	if !found || rate != -0.0005 {
		t.Errorf("expected the newest rate, got %v (found=%v)", rate, found)
	}

	_, found, err = repo.LatestFunding(sid + 100)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("unknown symbol should report not found")
	}
}

func TestOIUSDAtOrBefore(t *testing.T) {
	repo := testRepo(t)
	ids := seedSymbols(t, repo, "BTCUSDT")
	sid := ids["BTCUSDT"]

	if err := repo.InsertOpenInterest([]OpenInterest{
		{Timestamp: 1000, SymbolID: sid, OIUSD: 1_000_000},
		{Timestamp: 2000, SymbolID: sid, OIUSD: 2_000_000},
		{Timestamp: 3000, SymbolID: sid, OIUSD: 3_000_000},
	}); err != nil {
		t.Fatal(err)
	}

	oi, found, err := repo.OIUSDAtOrBefore(sid, 2500)
	if err != nil {
		t.Fatal(err)
	}
	if !found || oi != 2_000_000 {
		t.Errorf("expected the newest row at or before ts, got %v", oi)
	}

	_, found, err = repo.OIUSDAtOrBefore(sid, 500)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("no row exists at or before ts=500")
	}
}

func TestOIChanges1h(t *testing.T) {
	repo := testRepo(t)
	ids := seedSymbols(t, repo, "BTCUSDT")
	sid := ids["BTCUSDT"]

	// Two samples exactly one hour apart: +10% change
	if err := repo.InsertOpenInterest([]OpenInterest{
		{Timestamp: 10_000, SymbolID: sid, OIUSD: 1_000_000},
		{Timestamp: 13_600, SymbolID: sid, OIUSD: 1_100_000},
	}); err != nil {
		t.Fatal(err)
	}

	changes, err := repo.OIChanges1h(sid, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected 1 paired change, got %d", len(changes))
	}
	if diff := changes[0] - 0.10; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected +0.10, got %v", changes[0])
	}
}

func TestLoadLastValuesHydration(t *testing.T) {
	repo := testRepo(t)
	ids := seedSymbols(t, repo, "BTCUSDT", "ETHUSDT")
	btc, eth := ids["BTCUSDT"], ids["ETHUSDT"]

	if err := repo.InsertOpenInterest([]OpenInterest{
		{Timestamp: 1000, SymbolID: btc, OIContracts: 50_000, OIUSD: 5_000_000},
		{Timestamp: 2000, SymbolID: btc, OIContracts: 60_000, OIUSD: 6_000_000},
		{Timestamp: 1000, SymbolID: eth, OIContracts: 80_000, OIUSD: 160_000},
	}); err != nil {
		t.Fatal(err)
	}
	if err := repo.InsertFundingRates([]FundingRate{
		{Timestamp: 2000, SymbolID: btc, Rate: 0.0003},
	}); err != nil {
		t.Fatal(err)
	}
	if err := repo.InsertLongShortRatios([]LongShortRatio{
		{Timestamp: 2000, SymbolID: btc, Ratio: 2.1, LongPct: 0.68, ShortPct: 0.32},
	}); err != nil {
		t.Fatal(err)
	}
	if err := repo.InsertTakerRatios([]TakerRatio{
		{Timestamp: 2000, SymbolID: btc, BuySellRatio: 0.9},
	}); err != nil {
		t.Fatal(err)
	}

	values, err := repo.LoadLastValues()
	if err != nil {
		t.Fatal(err)
	}

	// OI hydrates contracts (the dedup key), not USD
	if got := values[cache.Key{SymbolID: btc, Metric: cache.MetricOI}]; got != 60_000 {
		t.Errorf("expected newest OI contracts 60000, got %v", got)
	}
	if got := values[cache.Key{SymbolID: eth, Metric: cache.MetricOI}]; got != 80_000 {
		t.Errorf("expected ETH OI contracts 80000, got %v", got)
	}
	if got := values[cache.Key{SymbolID: btc, Metric: cache.MetricFunding}]; got != 0.0003 {
		t.Errorf("expected funding 0.0003, got %v", got)
	}
	if got := values[cache.Key{SymbolID: btc, Metric: cache.MetricLS}]; got != 2.1 {
		t.Errorf("expected L/S 2.1, got %v", got)
	}
	if got := values[cache.Key{SymbolID: btc, Metric: cache.MetricTaker}]; got != 0.9 {
		t.Errorf("expected taker 0.9, got %v", got)
	}
}

func TestSymbolStatsRoundTrip(t *testing.T) {
	repo := testRepo(t)
	ids := seedSymbols(t, repo, "BTCUSDT")
	sid := ids["BTCUSDT"]

	mean, std := 0.0004, 0.0001
	in := []SymbolStats{{
		SymbolID:    sid,
		UpdatedAt:   1_700_000_000,
		MeanFunding: &mean,
		StdFunding:  &std,
		AvgOIUSD:    5_000_000_000,
	}}
	if err := repo.SaveSymbolStats(in); err != nil {
		t.Fatal(err)
	}

	// Saving again replaces, not duplicates
	mean2 := 0.0006
	in[0].MeanFunding = &mean2
	if err := repo.SaveSymbolStats(in); err != nil {
		t.Fatal(err)
	}

	out, err := repo.LoadSymbolStats()
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 stats row, got %d", len(out))
	}
	st := out[sid]
	if st.MeanFunding == nil || *st.MeanFunding != 0.0006 {
		t.Errorf("expected replaced mean funding, got %+v", st.MeanFunding)
	}
	if st.MeanOIChange1h != nil {
		t.Error("missing baselines must stay nil")
	}
}

func TestHotSymbolIDs(t *testing.T) {
	repo := testRepo(t)
	seedSymbols(t, repo, "BTCUSDT", "TINYUSDT")

	err := repo.SetHotStatus(map[string]HotStatus{
		"BTCUSDT":  {IsHot: true, Volume24h: 50_000_000},
		"TINYUSDT": {IsHot: false, Volume24h: 200_000},
	})
	if err != nil {
		t.Fatal(err)
	}

	hot, err := repo.HotSymbolIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(hot) != 1 {
		t.Fatalf("expected 1 hot symbol, got %d", len(hot))
	}
}
