package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"oi-radar/binance"
	"oi-radar/config"
	"oi-radar/database"
)

// SymbolRegistry keeps the tradable universe current. A refresh pulls
// exchange info, upserts symbols, and re-tags the hot tier by 24h volume.
type SymbolRegistry struct {
	client *binance.Client
	repo   *database.MarketRepository
	cfg    config.CollectConfig

	mu          sync.Mutex
	lastRefresh time.Time
}

// NewSymbolRegistry creates a registry that has never refreshed
func NewSymbolRegistry(client *binance.Client, repo *database.MarketRepository, cfg config.CollectConfig) *SymbolRegistry {
	return &SymbolRegistry{client: client, repo: repo, cfg: cfg}
}

// NeedsRefresh reports whether the universe is stale
func (r *SymbolRegistry) NeedsRefresh() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastRefresh) >= r.cfg.SymbolsRefreshInterval
}

// Refresh pulls exchange info and the 24h ticker, updates symbols and hot
// status, and returns the {symbol -> id} map.
func (r *SymbolRegistry) Refresh(ctx context.Context) (map[string]int64, error) {
	info, err := r.client.ExchangeInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}

	upserts := make([]database.SymbolUpsert, 0, len(info))
	for _, s := range info {
		upserts = append(upserts, database.SymbolUpsert{Symbol: s.Symbol, BaseAsset: s.BaseAsset})
	}
	symMap, err := r.repo.UpsertSymbols(upserts)
	if err != nil {
		return nil, fmt.Errorf("upsert symbols: %w", err)
	}
	log.Printf("🔄 Symbols updated: %d active pairs", len(upserts))

	tickers, err := r.client.Tickers24h(ctx)
	if err != nil {
		// Hot status from the previous refresh stays in effect
		log.Printf("⚠️  24h ticker fetch failed, hot status unchanged: %v", err)
	} else {
		volumes := make(map[string]float64, len(tickers))
		for _, t := range tickers {
			volumes[t.Symbol] = t.QuoteVolume.Float()
		}
		hotMap := make(map[string]database.HotStatus, len(symMap))
		hotCount := 0
		for symbol := range symMap {
			vol := volumes[symbol]
			isHot := vol > r.cfg.HotVolumeThreshold
			if isHot {
				hotCount++
			}
			hotMap[symbol] = database.HotStatus{IsHot: isHot, Volume24h: vol}
		}
		if err := r.repo.SetHotStatus(hotMap); err != nil {
			return nil, fmt.Errorf("update hot status: %w", err)
		}
		log.Printf("🔥 Hot filter: %d / %d pairs", hotCount, len(hotMap))
	}

	r.mu.Lock()
	r.lastRefresh = time.Now()
	r.mu.Unlock()
	return symMap, nil
}
