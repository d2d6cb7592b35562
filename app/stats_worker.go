package app

import (
	"log"
	"math"
	"sync"
	"time"

	"oi-radar/anomaly"
	"oi-radar/config"
	"oi-radar/database"
)

// StatsWorker recomputes each symbol's baseline (mean/σ per metric plus
// average OI) once per day and swaps the fresh snapshot into the holder.
type StatsWorker struct {
	repo   *database.MarketRepository
	stats  *StatsHolder
	cfg    *config.Config
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewStatsWorker creates the daily baseline worker
func NewStatsWorker(repo *database.MarketRepository, stats *StatsHolder, cfg *config.Config) *StatsWorker {
	return &StatsWorker{repo: repo, stats: stats, cfg: cfg, done: make(chan struct{})}
}

// Start launches the daily loop
func (w *StatsWorker) Start() {
	w.wg.Add(1)
	go w.loop()
	log.Println("📐 Stats worker started")
}

// Stop terminates the loop
func (w *StatsWorker) Stop() {
	close(w.done)
	w.wg.Wait()
	log.Println("📐 Stats worker stopped")
}

func (w *StatsWorker) loop() {
	defer w.wg.Done()
	for {
		wait := untilNextUTCHour(time.Now().UTC(), w.cfg.Stats.WorkerHourUTC)
		log.Printf("📐 Stats worker: next run in %.0f sec", wait.Seconds())
		select {
		case <-w.done:
			return
		case <-time.After(wait):
		}

		if err := w.Compute(); err != nil {
			log.Printf("❌ Stats worker error: %v", err)
		}
	}
}

// untilNextUTCHour returns the wait until the next occurrence of hour:00 UTC.
// Uses AddDate for the day advance so month boundaries roll over correctly.
func untilNextUTCHour(now time.Time, hour int) time.Duration {
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !now.Before(target) {
		target = target.AddDate(0, 0, 1)
	}
	return target.Sub(now)
}

// Compute rebuilds the baseline table over the configured lookback and
// refreshes the shared snapshot.
func (w *StatsWorker) Compute() error {
	log.Println("📐 Stats worker: computing symbol baselines...")
	active, err := w.repo.ActiveSymbols()
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	since := now - int64(w.cfg.Stats.LookbackDays)*86400
	var rows []database.SymbolStats

	for _, sym := range active {
		funding, err := w.repo.FundingSince(sym.ID, since)
		if err != nil {
			log.Printf("❌ Stats error for %s: %v", sym.Symbol, err)
			continue
		}
		oiChanges, err := w.repo.OIChanges1h(sym.ID, since)
		if err != nil {
			log.Printf("❌ Stats error for %s: %v", sym.Symbol, err)
			continue
		}
		ls, err := w.repo.LSSince(sym.ID, since)
		if err != nil {
			log.Printf("❌ Stats error for %s: %v", sym.Symbol, err)
			continue
		}
		taker, err := w.repo.TakerSince(sym.ID, since)
		if err != nil {
			log.Printf("❌ Stats error for %s: %v", sym.Symbol, err)
			continue
		}
		avgOI, err := w.repo.AvgOIUSD(sym.ID, since)
		if err != nil {
			log.Printf("❌ Stats error for %s: %v", sym.Symbol, err)
			continue
		}

		total := len(funding) + len(oiChanges) + len(ls) + len(taker)
		if total < w.cfg.Stats.MinPoints {
			continue
		}

		rows = append(rows, database.SymbolStats{
			SymbolID:       sym.ID,
			UpdatedAt:      now,
			MeanFunding:    safeMean(funding),
			StdFunding:     safeStdev(funding),
			MeanOIChange1h: safeMean(oiChanges),
			StdOIChange1h:  safeStdev(oiChanges),
			MeanLSRatio:    safeMean(ls),
			StdLSRatio:     safeStdev(ls),
			MeanTakerRatio: safeMean(taker),
			StdTakerRatio:  safeStdev(taker),
			AvgOIUSD:       avgOI,
		})
	}

	if err := w.repo.SaveSymbolStats(rows); err != nil {
		return err
	}

	fresh, err := w.repo.LoadSymbolStats()
	if err != nil {
		return err
	}
	w.stats.Store(anomaly.NewStatsSnapshot(fresh, w.cfg.Severity.TopN))

	log.Printf("📐 Stats worker: updated %d symbols", len(rows))
	return nil
}

// safeMean returns nil for an empty series
func safeMean(data []float64) *float64 {
	if len(data) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	m := sum / float64(len(data))
	return &m
}

// safeStdev returns the sample standard deviation, nil below two points
func safeStdev(data []float64) *float64 {
	if len(data) < 2 {
		return nil
	}
	mean := 0.0
	for _, v := range data {
		mean += v
	}
	mean /= float64(len(data))

	var ss float64
	for _, v := range data {
		d := v - mean
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(len(data)-1))
	return &sd
}
