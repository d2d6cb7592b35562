package database

import (
	"errors"

	"gorm.io/gorm"
)

// Read-side queries for the detector, the stats worker, the daily summary
// and the offline backtester. All lookbacks are unix-second cutoffs computed
// by the caller.

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// OIPoint is one (timestamp, oi_usd) reading used by flush detection
type OIPoint struct {
	Timestamp int64
	OIUSD     float64 `gorm:"column:oi_usd"`
}

// CountOI returns the number of OI rows for a symbol since the cutoff
func (r *MarketRepository) CountOI(symbolID, since int64) (int64, error) {
	var n int64
	err := r.db.db.Model(&OpenInterest{}).
		Where("symbol_id = ? AND timestamp >= ?", symbolID, since).
		Count(&n).Error
	return n, err
}

// OIUSDAtOrBefore returns the newest oi_usd reading at or before ts.
// (found=false, err=nil) means the symbol has no history that old.
func (r *MarketRepository) OIUSDAtOrBefore(symbolID, ts int64) (float64, bool, error) {
	var row OpenInterest
	err := r.db.db.Where("symbol_id = ? AND timestamp <= ?", symbolID, ts).
		Order("timestamp DESC").Limit(1).Take(&row).Error
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return row.OIUSD, true, nil
}

// OIHistory returns (timestamp, oi_usd) points since the cutoff, oldest first
func (r *MarketRepository) OIHistory(symbolID, since int64) ([]OIPoint, error) {
	var rows []OIPoint
	err := r.db.db.Model(&OpenInterest{}).
		Select("timestamp", "oi_usd").
		Where("symbol_id = ? AND timestamp >= ?", symbolID, since).
		Order("timestamp ASC").
		Scan(&rows).Error
	return rows, err
}

// LatestFunding returns the newest funding rate for a symbol
func (r *MarketRepository) LatestFunding(symbolID int64) (float64, bool, error) {
	var row FundingRate
	err := r.db.db.Where("symbol_id = ?", symbolID).
		Order("timestamp DESC").Limit(1).Take(&row).Error
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return row.Rate, true, nil
}

// LatestLSRatio returns the newest long/short ratio and long percentage
func (r *MarketRepository) LatestLSRatio(symbolID int64) (ratio, longPct float64, found bool, err error) {
	var row LongShortRatio
	err = r.db.db.Where("symbol_id = ?", symbolID).
		Order("timestamp DESC").Limit(1).Take(&row).Error
	if err != nil {
		if isNotFound(err) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}
	return row.Ratio, row.LongPct, true, nil
}

// LatestTaker returns the newest taker buy/sell ratio
func (r *MarketRepository) LatestTaker(symbolID int64) (float64, bool, error) {
	var row TakerRatio
	err := r.db.db.Where("symbol_id = ?", symbolID).
		Order("timestamp DESC").Limit(1).Take(&row).Error
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return row.BuySellRatio, true, nil
}

// ============================================================================
// Stats worker series
// ============================================================================

// FundingSince returns all funding rates for a symbol since the cutoff
func (r *MarketRepository) FundingSince(symbolID, since int64) ([]float64, error) {
	var vals []float64
	err := r.db.db.Model(&FundingRate{}).
		Where("symbol_id = ? AND timestamp >= ?", symbolID, since).
		Order("timestamp ASC").
		Pluck("rate", &vals).Error
	return vals, err
}

// OIChanges1h returns the series of 1-hour relative OI changes for a symbol
// since the cutoff, pairing each sample with the one exactly 3600s earlier.
func (r *MarketRepository) OIChanges1h(symbolID, since int64) ([]float64, error) {
	var vals []float64
	err := r.db.db.Raw(`
		SELECT (a.oi_usd - b.oi_usd) / b.oi_usd AS change
		FROM open_interest a
		INNER JOIN open_interest b
			ON b.symbol_id = a.symbol_id AND b.timestamp = a.timestamp - 3600
		WHERE a.symbol_id = ? AND a.timestamp >= ? AND b.oi_usd > 0
		ORDER BY a.timestamp ASC`, symbolID, since).
		Scan(&vals).Error
	return vals, err
}

// LSSince returns all long/short ratios for a symbol since the cutoff
func (r *MarketRepository) LSSince(symbolID, since int64) ([]float64, error) {
	var vals []float64
	err := r.db.db.Model(&LongShortRatio{}).
		Where("symbol_id = ? AND timestamp >= ?", symbolID, since).
		Order("timestamp ASC").
		Pluck("ratio", &vals).Error
	return vals, err
}

// TakerSince returns all taker ratios for a symbol since the cutoff
func (r *MarketRepository) TakerSince(symbolID, since int64) ([]float64, error) {
	var vals []float64
	err := r.db.db.Model(&TakerRatio{}).
		Where("symbol_id = ? AND timestamp >= ?", symbolID, since).
		Order("timestamp ASC").
		Pluck("buy_sell_ratio", &vals).Error
	return vals, err
}

// AvgOIUSD returns the average oi_usd for a symbol since the cutoff
func (r *MarketRepository) AvgOIUSD(symbolID, since int64) (float64, error) {
	var avg *float64
	err := r.db.db.Model(&OpenInterest{}).
		Where("symbol_id = ? AND timestamp >= ?", symbolID, since).
		Select("AVG(oi_usd)").
		Scan(&avg).Error
	if err != nil || avg == nil {
		return 0, err
	}
	return *avg, nil
}

// ============================================================================
// Summary / reporting
// ============================================================================

// AnomalyReport is one anomaly joined with its symbol name
type AnomalyReport struct {
	Timestamp   int64
	Symbol      string
	Type        string
	Severity    string
	Value       float64
	Description string
}

// RecentAnomalies returns the newest anomalies since the cutoff, newest first
func (r *MarketRepository) RecentAnomalies(since int64, limit int) ([]AnomalyReport, error) {
	var rows []AnomalyReport
	err := r.db.db.Raw(`
		SELECT a.timestamp, s.symbol, a.type, a.severity, a.value, a.description
		FROM anomalies a
		INNER JOIN symbols s ON s.id = a.symbol_id
		WHERE a.timestamp >= ?
		ORDER BY a.timestamp DESC
		LIMIT ?`, since, limit).
		Scan(&rows).Error
	return rows, err
}

// AnomalyCount is (type, count) over some window
type AnomalyCount struct {
	Type  string
	Count int64
}

// AnomalyCounts returns per-type anomaly counts since the cutoff
func (r *MarketRepository) AnomalyCounts(since int64) ([]AnomalyCount, error) {
	var rows []AnomalyCount
	err := r.db.db.Model(&Anomaly{}).
		Select("type", "COUNT(*) AS count").
		Where("timestamp >= ?", since).
		Group("type").
		Order("count DESC").
		Scan(&rows).Error
	return rows, err
}

// LastCollectorStats returns the most recent cycle bookkeeping row
func (r *MarketRepository) LastCollectorStats() (CollectorStats, bool, error) {
	var row CollectorStats
	err := r.db.db.Order("timestamp DESC").Limit(1).Take(&row).Error
	if err != nil {
		if isNotFound(err) {
			return CollectorStats{}, false, nil
		}
		return CollectorStats{}, false, err
	}
	return row, true, nil
}

// SymbolValue is (symbol, value) for leaderboard queries
type SymbolValue struct {
	Symbol string
	Value  float64
}

// TopFundingSince returns the symbols with the most extreme latest funding
// rate (by absolute value) among samples taken since the cutoff.
func (r *MarketRepository) TopFundingSince(since int64, limit int) ([]SymbolValue, error) {
	var rows []SymbolValue
	err := r.db.db.Raw(`
		SELECT s.symbol, fr.rate AS value
		FROM funding_rate fr
		INNER JOIN (
			SELECT symbol_id, MAX(timestamp) AS max_ts
			FROM funding_rate WHERE timestamp >= ? GROUP BY symbol_id
		) t ON fr.symbol_id = t.symbol_id AND fr.timestamp = t.max_ts
		INNER JOIN symbols s ON s.id = fr.symbol_id
		ORDER BY ABS(fr.rate) DESC
		LIMIT ?`, since, limit).
		Scan(&rows).Error
	return rows, err
}

// TopOIChangeSince returns the symbols with the largest relative OI move
// between their oldest and newest samples since the cutoff.
func (r *MarketRepository) TopOIChangeSince(since int64, limit int) ([]SymbolValue, error) {
	var rows []SymbolValue
	err := r.db.db.Raw(`
		SELECT s.symbol,
			(newest.oi_usd - oldest.oi_usd) / oldest.oi_usd * 100 AS value
		FROM (
			SELECT symbol_id, MIN(timestamp) AS min_ts, MAX(timestamp) AS max_ts
			FROM open_interest WHERE timestamp >= ? GROUP BY symbol_id
		) rng
		INNER JOIN open_interest oldest
			ON oldest.symbol_id = rng.symbol_id AND oldest.timestamp = rng.min_ts
		INNER JOIN open_interest newest
			ON newest.symbol_id = rng.symbol_id AND newest.timestamp = rng.max_ts
		INNER JOIN symbols s ON s.id = rng.symbol_id
		WHERE oldest.oi_usd > 0
		ORDER BY ABS(value) DESC
		LIMIT ?`, since, limit).
		Scan(&rows).Error
	return rows, err
}

// TopLSSince returns the symbols with the most extreme latest long/short
// ratio among samples taken since the cutoff.
func (r *MarketRepository) TopLSSince(since int64, limit int) ([]SymbolValue, error) {
	var rows []SymbolValue
	err := r.db.db.Raw(`
		SELECT s.symbol, ls.ratio AS value
		FROM long_short_ratio ls
		INNER JOIN (
			SELECT symbol_id, MAX(timestamp) AS max_ts
			FROM long_short_ratio WHERE timestamp >= ? GROUP BY symbol_id
		) t ON ls.symbol_id = t.symbol_id AND ls.timestamp = t.max_ts
		INNER JOIN symbols s ON s.id = ls.symbol_id
		ORDER BY ls.ratio DESC
		LIMIT ?`, since, limit).
		Scan(&rows).Error
	return rows, err
}

// ============================================================================
// Backtest queries
// ============================================================================

// ActiveSymbolMap returns {id -> symbol} for all active symbols
func (r *MarketRepository) ActiveSymbolMap() (map[int64]string, error) {
	rows, err := r.ActiveSymbols()
	if err != nil {
		return nil, err
	}
	m := make(map[int64]string, len(rows))
	for _, row := range rows {
		m[row.ID] = row.Symbol
	}
	return m, nil
}

// OISample is one (timestamp, oi_usd, mark_price) reading for offline replay
type OISample struct {
	Timestamp int64
	OIUSD     float64 `gorm:"column:oi_usd"`
	MarkPrice float64
}

// OISeries returns the full ordered OI series with mark prices for a symbol
func (r *MarketRepository) OISeries(symbolID int64) ([]OISample, error) {
	var rows []OISample
	err := r.db.db.Model(&OpenInterest{}).
		Select("timestamp", "oi_usd", "mark_price").
		Where("symbol_id = ? AND oi_usd > 0", symbolID).
		Order("timestamp ASC").
		Scan(&rows).Error
	return rows, err
}

// OIRangeTS returns the oldest and newest OI timestamps across all symbols
func (r *MarketRepository) OIRangeTS() (minTS, maxTS int64, err error) {
	type rng struct {
		MinTS int64 `gorm:"column:min_ts"`
		MaxTS int64 `gorm:"column:max_ts"`
	}
	var row rng
	err = r.db.db.Raw(`SELECT MIN(timestamp) AS min_ts, MAX(timestamp) AS max_ts FROM open_interest`).
		Scan(&row).Error
	return row.MinTS, row.MaxTS, err
}

// LSRatioPoint is one (timestamp, ratio) reading
type LSRatioPoint struct {
	Timestamp int64
	Ratio     float64
}

// AllLSRatios returns the ordered long/short ratio series for a symbol
func (r *MarketRepository) AllLSRatios(symbolID int64) ([]LSRatioPoint, error) {
	var rows []LSRatioPoint
	err := r.db.db.Model(&LongShortRatio{}).
		Select("timestamp", "ratio").
		Where("symbol_id = ?", symbolID).
		Order("timestamp ASC").
		Scan(&rows).Error
	return rows, err
}

// LSTakerHit is one timestamp where a high L/S ratio coincided with a taker
// ratio below neutral on the same sample.
type LSTakerHit struct {
	Timestamp  int64
	Ratio      float64
	TakerRatio float64 `gorm:"column:taker_ratio"`
}

// LSTakerHits returns ordered samples where ratio > lsThreshold and the
// taker buy/sell ratio on the same timestamp was below takerThreshold.
func (r *MarketRepository) LSTakerHits(symbolID int64, lsThreshold, takerThreshold float64) ([]LSTakerHit, error) {
	var rows []LSTakerHit
	err := r.db.db.Raw(`
		SELECT ls.timestamp, ls.ratio, tr.buy_sell_ratio AS taker_ratio
		FROM long_short_ratio ls
		INNER JOIN taker_ratio tr
			ON tr.symbol_id = ls.symbol_id AND tr.timestamp = ls.timestamp
		WHERE ls.symbol_id = ? AND ls.ratio > ? AND tr.buy_sell_ratio < ?
		ORDER BY ls.timestamp ASC`, symbolID, lsThreshold, takerThreshold).
		Scan(&rows).Error
	return rows, err
}

// NearestFundingAt returns the newest funding rate at or before ts
func (r *MarketRepository) NearestFundingAt(symbolID, ts int64) (float64, bool, error) {
	var row FundingRate
	err := r.db.db.Where("symbol_id = ? AND timestamp <= ?", symbolID, ts).
		Order("timestamp DESC").Limit(1).Take(&row).Error
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return row.Rate, true, nil
}

// NearestLSAt returns the newest long/short ratio at or before ts
func (r *MarketRepository) NearestLSAt(symbolID, ts int64) (float64, bool, error) {
	var row LongShortRatio
	err := r.db.db.Where("symbol_id = ? AND timestamp <= ?", symbolID, ts).
		Order("timestamp DESC").Limit(1).Take(&row).Error
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return row.Ratio, true, nil
}

// NearestTakerAt returns the newest taker ratio at or before ts
func (r *MarketRepository) NearestTakerAt(symbolID, ts int64) (float64, bool, error) {
	var row TakerRatio
	err := r.db.db.Where("symbol_id = ? AND timestamp <= ?", symbolID, ts).
		Order("timestamp DESC").Limit(1).Take(&row).Error
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return row.BuySellRatio, true, nil
}
