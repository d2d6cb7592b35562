package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"oi-radar/anomaly"
	"oi-radar/binance"
	"oi-radar/cache"
	"oi-radar/config"
	"oi-radar/database"
	"oi-radar/notifier"
)

// Collector runs the periodic collection cycle: refresh the universe when
// stale, pull the aggregated funding/price call, fan out per-symbol calls
// under a concurrency cap, deduplicate against the live cache, batch-write,
// detect anomalies, and queue alerts. Each cycle runs under a watchdog.
type Collector struct {
	client     *binance.Client
	repo       *database.MarketRepository
	registry   *SymbolRegistry
	detector   *anomaly.Detector
	notifier   *notifier.Notifier
	lastValues *cache.LastValues
	stats      *StatsHolder
	cfg        *config.Config

	done chan struct{}
	wg   sync.WaitGroup
}

// NewCollector wires the cycle dependencies
func NewCollector(
	client *binance.Client,
	repo *database.MarketRepository,
	registry *SymbolRegistry,
	detector *anomaly.Detector,
	ntf *notifier.Notifier,
	lastValues *cache.LastValues,
	stats *StatsHolder,
	cfg *config.Config,
) *Collector {
	return &Collector{
		client:     client,
		repo:       repo,
		registry:   registry,
		detector:   detector,
		notifier:   ntf,
		lastValues: lastValues,
		stats:      stats,
		cfg:        cfg,
		done:       make(chan struct{}),
	}
}

// Start launches the collection loop
func (c *Collector) Start() {
	c.wg.Add(1)
	go c.loop()
	log.Println("📡 Collector started")
}

// Stop terminates the loop after the current cycle
func (c *Collector) Stop() {
	close(c.done)
	c.wg.Wait()
	log.Println("📡 Collector stopped")
}

func (c *Collector) loop() {
	defer c.wg.Done()
	interval := c.cfg.Collect.Interval

	for {
		select {
		case <-c.done:
			return
		default:
		}

		cycleTS := time.Now().Unix() / int64(interval.Seconds()) * int64(interval.Seconds())
		start := time.Now()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Collect.WatchdogTimeout)
		err := c.runCycle(ctx, cycleTS, start)
		cancel()
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				log.Printf("⚠️  Cycle timed out (%s)", c.cfg.Collect.WatchdogTimeout)
			} else {
				log.Printf("❌ Cycle error: %v", err)
			}
		}

		elapsed := time.Since(start)
		sleep := interval - elapsed
		if sleep < 0 {
			sleep = 0
		}
		log.Printf("⏱️  Cycle done in %.1fs, sleeping %.1fs", elapsed.Seconds(), sleep.Seconds())

		select {
		case <-c.done:
			return
		case <-time.After(sleep):
		}
	}
}

// symbolResult carries one symbol task's rows and request bookkeeping
type symbolResult struct {
	ok, fail int
	oi       *database.OpenInterest
	ls       *database.LongShortRatio
	taker    *database.TakerRatio
}

func (c *Collector) runCycle(ctx context.Context, cycleTS int64, start time.Time) error {
	requestsOK, requestsFailed := 0, 0

	if c.registry.NeedsRefresh() {
		if _, err := c.registry.Refresh(ctx); err != nil {
			log.Printf("⚠️  Symbol refresh failed: %v", err)
		}
	}

	symMap, err := c.repo.SymbolMap()
	if err != nil {
		return fmt.Errorf("load symbol map: %w", err)
	}
	hotIDs, err := c.repo.HotSymbolIDs()
	if err != nil {
		return fmt.Errorf("load hot symbols: %w", err)
	}
	active, err := c.repo.ActiveSymbols()
	if err != nil {
		return fmt.Errorf("load active symbols: %w", err)
	}

	// One aggregated call covers funding and mark prices for all symbols
	markPrices := make(map[string]float64)
	var fundingRows []database.FundingRate
	premium, err := c.client.PremiumIndexAll(ctx)
	if err != nil {
		requestsFailed++
		log.Printf("⚠️  Premium index fetch failed: %v", err)
	} else {
		requestsOK++
		for _, item := range premium {
			sid, ok := symMap[item.Symbol]
			if !ok {
				continue
			}
			markPrices[item.Symbol] = item.MarkPrice.Float()

			rate := item.LastFundingRate.Float()
			key := cache.Key{SymbolID: sid, Metric: cache.MetricFunding}
			if !c.lastValues.Changed(key, rate) {
				continue
			}
			fundingRows = append(fundingRows, database.FundingRate{
				Timestamp:       cycleTS,
				SymbolID:        sid,
				Rate:            rate,
				NextFundingTime: item.NextFundingTime,
			})
			c.lastValues.Put(key, rate)
		}
	}

	// Per-symbol fan-out under the shared concurrency cap, with paced dispatch
	sem := make(chan struct{}, c.cfg.Collect.MaxConcurrent)
	limiter := rate.NewLimiter(rate.Every(c.cfg.Collect.RequestDelay), 1)
	results := make(chan symbolResult, len(active))
	var fanout sync.WaitGroup

	for _, sym := range active {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		fanout.Add(1)
		go func(sid int64, symbol string) {
			defer fanout.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- c.collectSymbol(ctx, cycleTS, sid, symbol, markPrices[symbol], hotIDs[sid])
		}(sym.ID, sym.Symbol)
	}
	fanout.Wait()
	close(results)

	var oiRows []database.OpenInterest
	var lsRows []database.LongShortRatio
	var takerRows []database.TakerRatio
	for res := range results {
		requestsOK += res.ok
		requestsFailed += res.fail
		if res.oi != nil {
			oiRows = append(oiRows, *res.oi)
		}
		if res.ls != nil {
			lsRows = append(lsRows, *res.ls)
		}
		if res.taker != nil {
			takerRows = append(takerRows, *res.taker)
		}
	}

	// Batch writes commit before detection reads
	if err := c.repo.InsertOpenInterest(oiRows); err != nil {
		return fmt.Errorf("insert OI rows: %w", err)
	}
	if err := c.repo.InsertFundingRates(fundingRows); err != nil {
		return fmt.Errorf("insert funding rows: %w", err)
	}
	if err := c.repo.InsertLongShortRatios(lsRows); err != nil {
		return fmt.Errorf("insert L/S rows: %w", err)
	}
	if err := c.repo.InsertTakerRatios(takerRows); err != nil {
		return fmt.Errorf("insert taker rows: %w", err)
	}

	anomalies := c.detect(cycleTS, active, oiRows)

	if len(anomalies) > 0 {
		if err := c.repo.InsertAnomalies(anomalies); err != nil {
			return fmt.Errorf("insert anomalies: %w", err)
		}
		c.enqueueAlerts(anomalies, active)
	}

	elapsed := time.Since(start).Seconds()
	statsRow := database.CollectorStats{
		Timestamp:        cycleTS,
		CycleDurationSec: elapsed,
		RequestsOK:       requestsOK,
		RequestsFailed:   requestsFailed,
		PairsCollected:   len(oiRows),
		AnomaliesFound:   len(anomalies),
	}
	if err := c.repo.InsertCollectorStats(statsRow); err != nil {
		return fmt.Errorf("insert collector stats: %w", err)
	}

	log.Printf("📊 Cycle %d: OI=%d, FR=%d, LS=%d, TK=%d, anomalies=%d",
		cycleTS, len(oiRows), len(fundingRows), len(lsRows), len(takerRows), len(anomalies))
	return nil
}

// collectSymbol fetches OI for every symbol and L/S + taker for hot ones,
// emitting rows only for values that changed since the last cycle.
func (c *Collector) collectSymbol(ctx context.Context, cycleTS, sid int64, symbol string, markPrice float64, hot bool) symbolResult {
	var res symbolResult

	oi, err := c.client.OpenInterestFor(ctx, symbol)
	if err != nil || oi == nil {
		res.fail++
	} else {
		res.ok++
		contracts := oi.OpenInterest.Float()
		key := cache.Key{SymbolID: sid, Metric: cache.MetricOI}
		if c.lastValues.Changed(key, contracts) {
			res.oi = &database.OpenInterest{
				Timestamp:   cycleTS,
				SymbolID:    sid,
				OIContracts: contracts,
				OIUSD:       contracts * markPrice,
				MarkPrice:   markPrice,
			}
			c.lastValues.Put(key, contracts)
		}
	}

	if !hot {
		return res
	}

	ls, err := c.client.TopLongShortRatio(ctx, symbol)
	if err == nil && ls != nil {
		res.ok++
		ratio := ls.Ratio.Float()
		key := cache.Key{SymbolID: sid, Metric: cache.MetricLS}
		if c.lastValues.Changed(key, ratio) {
			res.ls = &database.LongShortRatio{
				Timestamp: cycleTS,
				SymbolID:  sid,
				Ratio:     ratio,
				LongPct:   ls.LongPct.Float(),
				ShortPct:  ls.ShortPct.Float(),
			}
			c.lastValues.Put(key, ratio)
		}
	}

	taker, err := c.client.TakerBuySellRatio(ctx, symbol)
	if err == nil && taker != nil {
		res.ok++
		ratio := taker.BuySellRatio.Float()
		key := cache.Key{SymbolID: sid, Metric: cache.MetricTaker}
		if c.lastValues.Changed(key, ratio) {
			res.taker = &database.TakerRatio{
				Timestamp:    cycleTS,
				SymbolID:     sid,
				BuySellRatio: ratio,
				BuyVol:       taker.BuyVol.Float(),
				SellVol:      taker.SellVol.Float(),
			}
			c.lastValues.Put(key, ratio)
		}
	}

	return res
}

// detect evaluates every active symbol with the freshest values known:
// this cycle's OI row when present, cached readings otherwise.
func (c *Collector) detect(cycleTS int64, active []database.SymbolRef, oiRows []database.OpenInterest) []database.Anomaly {
	oiBySymbol := make(map[int64]float64, len(oiRows))
	for _, row := range oiRows {
		oiBySymbol[row.SymbolID] = row.OIUSD
	}
	snapshot := c.stats.Load()

	var anomalies []database.Anomaly
	for _, sym := range active {
		reading := anomaly.Reading{}
		if usd, ok := oiBySymbol[sym.ID]; ok {
			reading.OIUSD = &usd
		}
		if v, ok := c.lastValues.Get(cache.Key{SymbolID: sym.ID, Metric: cache.MetricFunding}); ok {
			reading.Funding = &v
		}
		if v, ok := c.lastValues.Get(cache.Key{SymbolID: sym.ID, Metric: cache.MetricLS}); ok {
			reading.LS = &v
		}
		if v, ok := c.lastValues.Get(cache.Key{SymbolID: sym.ID, Metric: cache.MetricTaker}); ok {
			reading.Taker = &v
		}

		found, err := c.detector.Detect(cycleTS, sym.ID, sym.Symbol, reading, snapshot)
		if err != nil {
			log.Printf("❌ Anomaly detection error for %s: %v", sym.Symbol, err)
			continue
		}
		anomalies = append(anomalies, found...)
	}
	return anomalies
}

// enqueueAlerts applies the notification gate and queues the survivors.
// OI-flush alerts always go out; everything else needs the minimum severity.
func (c *Collector) enqueueAlerts(anomalies []database.Anomaly, active []database.SymbolRef) {
	names := make(map[int64]string, len(active))
	for _, s := range active {
		names[s.ID] = s.Symbol
	}
	minRank := anomaly.SeverityRank[c.cfg.Notify.MinAlertSeverity]

	for _, a := range anomalies {
		if a.Type != anomaly.KindOIFlush && anomaly.SeverityRank[a.Severity] < minRank {
			continue
		}
		symbol := names[a.SymbolID]
		text := a.Description
		if a.Type != anomaly.KindOIFlush {
			text = formatAlert(symbol, a)
		}
		c.notifier.Enqueue(text, a.Severity, a.Type, symbol)
	}
}

var severityIcons = map[string]string{
	anomaly.SeverityCritical: "🔴",
	anomaly.SeverityHigh:     "🟠",
	anomaly.SeverityMedium:   "🟡",
	anomaly.SeverityLow:      "⚪",
}

func formatAlert(symbol string, a database.Anomaly) string {
	icon, ok := severityIcons[a.Severity]
	if !ok {
		icon = "⚪"
	}
	label := strings.ToUpper(strings.ReplaceAll(a.Type, "_", " "))
	return fmt.Sprintf("%s <b>%s: %s</b>\n%s", icon, label, symbol, a.Description)
}
