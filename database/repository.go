package database

import (
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"oi-radar/cache"
)

// MarketRepository handles database operations for the monitor
type MarketRepository struct {
	db *Database
}

// NewMarketRepository creates a new market repository
func NewMarketRepository(db *Database) *MarketRepository {
	return &MarketRepository{db: db}
}

// InitSchema performs auto-migration for all tables
func (r *MarketRepository) InitSchema() error {
	err := r.db.db.AutoMigrate(
		&Symbol{},
		&OpenInterest{},
		&FundingRate{},
		&LongShortRatio{},
		&TakerRatio{},
		&Anomaly{},
		&SymbolStats{},
		&CollectorStats{},
	)
	if err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}

// ============================================================================
// Symbols
// ============================================================================

// SymbolUpsert is the registry's view of one exchange-info entry
type SymbolUpsert struct {
	Symbol    string
	BaseAsset string
}

// SymbolRef is a lightweight (id, name) pair
type SymbolRef struct {
	ID     int64
	Symbol string
}

// UpsertSymbols inserts new symbols and refreshes status/last_seen on known
// ones, then returns the full {symbol -> id} map.
func (r *MarketRepository) UpsertSymbols(symbols []SymbolUpsert) (map[string]int64, error) {
	now := time.Now().Unix()
	for _, s := range symbols {
		row := Symbol{
			Symbol:    s.Symbol,
			BaseAsset: s.BaseAsset,
			Status:    "active",
			FirstSeen: now,
			LastSeen:  now,
		}
		err := r.db.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"status":    "active",
				"last_seen": now,
			}),
		}).Create(&row).Error
		if err != nil {
			return nil, fmt.Errorf("upsert symbol %s: %w", s.Symbol, err)
		}
	}
	return r.SymbolMap()
}

// SymbolMap returns {symbol -> id} for all known symbols
func (r *MarketRepository) SymbolMap() (map[string]int64, error) {
	var rows []SymbolRef
	if err := r.db.db.Model(&Symbol{}).Select("id", "symbol").Find(&rows).Error; err != nil {
		return nil, err
	}
	m := make(map[string]int64, len(rows))
	for _, row := range rows {
		m[row.Symbol] = row.ID
	}
	return m, nil
}

// HotStatus is the registry's verdict for one symbol
type HotStatus struct {
	IsHot     bool
	Volume24h float64
}

// SetHotStatus updates the hot flag and 24h quote volume per symbol
func (r *MarketRepository) SetHotStatus(hotMap map[string]HotStatus) error {
	symMap, err := r.SymbolMap()
	if err != nil {
		return err
	}
	for symbol, hs := range hotMap {
		sid, ok := symMap[symbol]
		if !ok {
			continue
		}
		err := r.db.db.Model(&Symbol{}).Where("id = ?", sid).
			Updates(map[string]interface{}{
				"is_hot":           hs.IsHot,
				"quote_volume_24h": hs.Volume24h,
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// HotSymbolIDs returns the set of active hot symbol ids
func (r *MarketRepository) HotSymbolIDs() (map[int64]bool, error) {
	var ids []int64
	err := r.db.db.Model(&Symbol{}).
		Where("is_hot = ? AND status = ?", true, "active").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// ActiveSymbols returns all active symbols
func (r *MarketRepository) ActiveSymbols() ([]SymbolRef, error) {
	var rows []SymbolRef
	err := r.db.db.Model(&Symbol{}).Select("id", "symbol").
		Where("status = ?", "active").Find(&rows).Error
	return rows, err
}

// SymbolCounts returns (hot, total) counts over active symbols
func (r *MarketRepository) SymbolCounts() (int64, int64, error) {
	var total, hot int64
	if err := r.db.db.Model(&Symbol{}).Where("status = ?", "active").Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := r.db.db.Model(&Symbol{}).Where("status = ? AND is_hot = ?", "active", true).Count(&hot).Error; err != nil {
		return 0, 0, err
	}
	return hot, total, nil
}

// ============================================================================
// Batch inserts (per-cycle, conflict-ignoring)
// ============================================================================

// InsertOpenInterest batch-inserts OI rows, ignoring (timestamp, symbol_id) conflicts
func (r *MarketRepository) InsertOpenInterest(rows []OpenInterest) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// InsertFundingRates batch-inserts funding rows, ignoring conflicts
func (r *MarketRepository) InsertFundingRates(rows []FundingRate) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// InsertLongShortRatios batch-inserts L/S rows, ignoring conflicts
func (r *MarketRepository) InsertLongShortRatios(rows []LongShortRatio) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// InsertTakerRatios batch-inserts taker rows, ignoring conflicts
func (r *MarketRepository) InsertTakerRatios(rows []TakerRatio) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// InsertAnomalies appends detected anomalies
func (r *MarketRepository) InsertAnomalies(rows []Anomaly) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.db.Create(&rows).Error
}

// InsertCollectorStats records one cycle's bookkeeping row (replace on re-run)
func (r *MarketRepository) InsertCollectorStats(row CollectorStats) error {
	return r.db.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// ============================================================================
// Cache hydration
// ============================================================================

// LoadLastValues returns the newest reading per (symbol, metric) for all four
// metric tables. Called once at startup to hydrate the live cache.
func (r *MarketRepository) LoadLastValues() (map[cache.Key]float64, error) {
	last := make(map[cache.Key]float64)

	type pair struct {
		SymbolID int64
		Value    float64
	}

	load := func(metric cache.Metric, query string) error {
		var rows []pair
		if err := r.db.db.Raw(query).Scan(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			last[cache.Key{SymbolID: row.SymbolID, Metric: metric}] = row.Value
		}
		return nil
	}

	queries := []struct {
		metric cache.Metric
		query  string
	}{
		{cache.MetricOI, `
			SELECT oi.symbol_id AS symbol_id, oi.oi_contracts AS value
			FROM open_interest oi
			INNER JOIN (
				SELECT symbol_id, MAX(timestamp) AS max_ts
				FROM open_interest GROUP BY symbol_id
			) t ON oi.symbol_id = t.symbol_id AND oi.timestamp = t.max_ts`},
		{cache.MetricFunding, `
			SELECT fr.symbol_id AS symbol_id, fr.rate AS value
			FROM funding_rate fr
			INNER JOIN (
				SELECT symbol_id, MAX(timestamp) AS max_ts
				FROM funding_rate GROUP BY symbol_id
			) t ON fr.symbol_id = t.symbol_id AND fr.timestamp = t.max_ts`},
		{cache.MetricLS, `
			SELECT ls.symbol_id AS symbol_id, ls.ratio AS value
			FROM long_short_ratio ls
			INNER JOIN (
				SELECT symbol_id, MAX(timestamp) AS max_ts
				FROM long_short_ratio GROUP BY symbol_id
			) t ON ls.symbol_id = t.symbol_id AND ls.timestamp = t.max_ts`},
		{cache.MetricTaker, `
			SELECT tr.symbol_id AS symbol_id, tr.buy_sell_ratio AS value
			FROM taker_ratio tr
			INNER JOIN (
				SELECT symbol_id, MAX(timestamp) AS max_ts
				FROM taker_ratio GROUP BY symbol_id
			) t ON tr.symbol_id = t.symbol_id AND tr.timestamp = t.max_ts`},
	}

	for _, q := range queries {
		if err := load(q.metric, q.query); err != nil {
			return nil, err
		}
	}
	return last, nil
}

// ============================================================================
// Symbol stats
// ============================================================================

// LoadSymbolStats returns all baseline rows keyed by symbol id
func (r *MarketRepository) LoadSymbolStats() (map[int64]SymbolStats, error) {
	var rows []SymbolStats
	if err := r.db.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	m := make(map[int64]SymbolStats, len(rows))
	for _, row := range rows {
		m[row.SymbolID] = row
	}
	return m, nil
}

// SaveSymbolStats replaces baseline rows for the given symbols
func (r *MarketRepository) SaveSymbolStats(rows []SymbolStats) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
}
