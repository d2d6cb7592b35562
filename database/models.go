// Package database provides SQLite persistence for the oi-radar monitor.
//
// This package includes:
//   - Connection management using GORM with the SQLite driver (WAL mode)
//   - Timeseries tables for open interest, funding, long/short and taker ratios
//   - Derived per-symbol statistics and the append-only anomaly log
//
// Key Concepts:
//   - All timestamps are integer unix seconds
//   - Metric tables use a composite (timestamp, symbol_id) primary key;
//     batch inserts silently ignore conflicts so re-ingestion is idempotent
//   - symbol_stats rows are replaced wholesale by the daily stats worker
package database

// Symbol is a perpetual contract known to the monitor. Symbols are never
// deleted; delisted contracts flip status instead.
type Symbol struct {
	ID             int64   `gorm:"primaryKey"`
	Symbol         string  `gorm:"uniqueIndex;size:24;not null"`
	BaseAsset      string  `gorm:"size:24"`
	Status         string  `gorm:"size:12;default:active"`
	IsHot          bool    `gorm:"default:true"`
	QuoteVolume24h float64 `gorm:"column:quote_volume_24h;default:0"`
	FirstSeen      int64
	LastSeen       int64
}

// OpenInterest is one OI sample. OIUSD is contracts x mark price at insertion.
type OpenInterest struct {
	Timestamp   int64 `gorm:"primaryKey;autoIncrement:false;index:idx_oi_symbol,priority:2"`
	SymbolID    int64 `gorm:"primaryKey;autoIncrement:false;index:idx_oi_symbol,priority:1"`
	OIContracts float64
	OIUSD       float64 `gorm:"column:oi_usd"`
	MarkPrice   float64
}

// TableName keeps the historical table name
func (OpenInterest) TableName() string { return "open_interest" }

// FundingRate is one funding sample
type FundingRate struct {
	Timestamp       int64 `gorm:"primaryKey;autoIncrement:false;index:idx_funding_symbol,priority:2"`
	SymbolID        int64 `gorm:"primaryKey;autoIncrement:false;index:idx_funding_symbol,priority:1"`
	Rate            float64
	NextFundingTime int64
}

// TableName keeps the historical table name
func (FundingRate) TableName() string { return "funding_rate" }

// LongShortRatio is one top-trader long/short position ratio sample
type LongShortRatio struct {
	Timestamp int64 `gorm:"primaryKey;autoIncrement:false;index:idx_ls_symbol,priority:2"`
	SymbolID  int64 `gorm:"primaryKey;autoIncrement:false;index:idx_ls_symbol,priority:1"`
	Ratio     float64
	LongPct   float64
	ShortPct  float64
}

// TableName keeps the historical table name
func (LongShortRatio) TableName() string { return "long_short_ratio" }

// TakerRatio is one aggressive-taker buy/sell volume ratio sample
type TakerRatio struct {
	Timestamp    int64 `gorm:"primaryKey;autoIncrement:false;index:idx_taker_symbol,priority:2"`
	SymbolID     int64 `gorm:"primaryKey;autoIncrement:false;index:idx_taker_symbol,priority:1"`
	BuySellRatio float64
	BuyVol       float64
	SellVol      float64
}

// TableName keeps the historical table name
func (TakerRatio) TableName() string { return "taker_ratio" }

// Anomaly is one detected anomaly. Append-only.
type Anomaly struct {
	ID          int64  `gorm:"primaryKey"`
	Timestamp   int64  `gorm:"not null;index:idx_anomalies_time"`
	CycleTS     int64  `gorm:"column:cycle_ts;not null;index:idx_anomalies_cycle"`
	SymbolID    int64  `gorm:"not null"`
	Type        string `gorm:"size:32;not null"`
	Severity    string `gorm:"size:12;not null;default:medium"`
	Value       float64
	Description string
	Notified    bool `gorm:"default:false"`
}

// TableName keeps the historical table name
func (Anomaly) TableName() string { return "anomalies" }

// SymbolStats holds the per-symbol baseline recomputed daily by the stats
// worker. Mean/std pointers are nil when the lookback had too few points;
// the detector falls back to static thresholds in that case.
type SymbolStats struct {
	SymbolID       int64 `gorm:"primaryKey;autoIncrement:false"`
	UpdatedAt      int64
	MeanFunding    *float64
	StdFunding     *float64
	MeanOIChange1h *float64 `gorm:"column:mean_oi_change_1h"`
	StdOIChange1h  *float64 `gorm:"column:std_oi_change_1h"`
	MeanLSRatio    *float64 `gorm:"column:mean_ls_ratio"`
	StdLSRatio     *float64 `gorm:"column:std_ls_ratio"`
	MeanTakerRatio *float64
	StdTakerRatio  *float64
	AvgOIUSD       float64 `gorm:"column:avg_oi_usd"`
}

// TableName keeps the historical table name
func (SymbolStats) TableName() string { return "symbol_stats" }

// CollectorStats is one per-cycle bookkeeping row
type CollectorStats struct {
	Timestamp        int64 `gorm:"primaryKey;autoIncrement:false"`
	CycleDurationSec float64
	RequestsOK       int `gorm:"column:requests_ok"`
	RequestsFailed   int
	PairsCollected   int
	AnomaliesFound   int
}

// TableName keeps the historical table name
func (CollectorStats) TableName() string { return "collector_stats" }
