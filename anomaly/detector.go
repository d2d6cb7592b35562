// Package anomaly decides when a symbol's live readings deviate from its
// baseline. Thresholds are adaptive (per-symbol mean + 3σ from the daily
// stats worker) with static configuration fallbacks, and every anomaly kind
// is gated by a per-(symbol, kind) cooldown.
package anomaly

import (
	"fmt"
	"sort"
	"time"

	"oi-radar/config"
	"oi-radar/database"
)

// Anomaly kinds
const (
	KindFundingSpike = "funding_spike"
	KindOISurge      = "oi_surge"
	KindLSExtreme    = "ls_extreme"
	KindTakerExtreme = "taker_extreme"
	KindOverheat     = "combined_overheat"
	KindCapitulation = "combined_capitulation"
	KindOIFlush      = "oi_flush"
)

// Severity levels, strictly ordered critical > high > medium > low
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// SeverityRank maps a severity to its position in the strict order
var SeverityRank = map[string]int{
	SeverityCritical: 3,
	SeverityHigh:     2,
	SeverityMedium:   1,
	SeverityLow:      0,
}

// HistoryStore is the slice of storage the detector reads
type HistoryStore interface {
	CountOI(symbolID, since int64) (int64, error)
	OIUSDAtOrBefore(symbolID, ts int64) (float64, bool, error)
	OIHistory(symbolID, since int64) ([]database.OIPoint, error)
	LatestFunding(symbolID int64) (float64, bool, error)
	LatestLSRatio(symbolID int64) (ratio, longPct float64, found bool, err error)
	LatestTaker(symbolID int64) (float64, bool, error)
}

// StatsSnapshot is an immutable view of the per-symbol baselines plus the
// top-N set by average OI. The stats worker builds a fresh snapshot and
// swaps it in atomically; the detector never mutates one.
type StatsSnapshot struct {
	BySymbol map[int64]database.SymbolStats
	TopOI    map[int64]bool
}

// NewStatsSnapshot wraps the baseline map and computes the top-N symbol set
// by average OI in USD.
func NewStatsSnapshot(bySymbol map[int64]database.SymbolStats, topN int) *StatsSnapshot {
	if bySymbol == nil {
		bySymbol = make(map[int64]database.SymbolStats)
	}
	type pair struct {
		id  int64
		avg float64
	}
	pairs := make([]pair, 0, len(bySymbol))
	for id, st := range bySymbol {
		pairs = append(pairs, pair{id, st.AvgOIUSD})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].avg > pairs[j].avg })

	top := make(map[int64]bool, topN)
	for i := 0; i < len(pairs) && i < topN; i++ {
		top[pairs[i].id] = true
	}
	return &StatsSnapshot{BySymbol: bySymbol, TopOI: top}
}

// Severity classifies a symbol by its average OI. A missing baseline row
// yields medium.
func (s *StatsSnapshot) Severity(symbolID int64, cfg config.SeverityConfig) string {
	st, ok := s.BySymbol[symbolID]
	if !ok {
		return SeverityMedium
	}
	switch {
	case st.AvgOIUSD > cfg.CriticalOI:
		return SeverityCritical
	case s.TopOI[symbolID]:
		return SeverityHigh
	case st.AvgOIUSD > cfg.MediumOI:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Reading carries the freshest known values for one symbol in one cycle.
// Nil means no value was available this cycle or from cache.
type Reading struct {
	OIUSD   *float64
	Funding *float64
	LS      *float64
	Taker   *float64
}

type cooldownKey struct {
	symbolID int64
	kind     string
}

// Detector owns the cooldown state and evaluates one symbol per call.
// It is driven from a single goroutine (the collector's cycle), so the
// cooldown map needs no locking.
type Detector struct {
	store     HistoryStore
	cfg       *config.Config
	cooldowns map[cooldownKey]int64
	now       func() int64
}

// NewDetector creates a detector with an empty cooldown map
func NewDetector(store HistoryStore, cfg *config.Config) *Detector {
	return &Detector{
		store:     store,
		cfg:       cfg,
		cooldowns: make(map[cooldownKey]int64),
		now:       func() int64 { return time.Now().Unix() },
	}
}

// ResetCooldowns clears all cooldown state
func (d *Detector) ResetCooldowns() {
	d.cooldowns = make(map[cooldownKey]int64)
}

func (d *Detector) cooldownOpen(symbolID int64, kind string) bool {
	cooldown := d.cfg.Notify.AlertCooldown
	if kind == KindOIFlush {
		cooldown = d.cfg.Flush.Cooldown
	}
	last := d.cooldowns[cooldownKey{symbolID, kind}]
	return d.now()-last >= int64(cooldown.Seconds())
}

func (d *Detector) armCooldown(symbolID int64, kind string) {
	d.cooldowns[cooldownKey{symbolID, kind}] = d.now()
}

// effectiveThreshold returns mean+3σ when the baseline is usable, else the
// static fallback. Two-sided metrics (funding, OI change) take |mean|.
func effectiveThreshold(mean, std *float64, twoSided bool, fallback float64) float64 {
	if mean == nil || std == nil || *std == 0 {
		return fallback
	}
	m := *mean
	if twoSided && m < 0 {
		m = -m
	}
	return m + 3*(*std)
}

// Detect evaluates one symbol against the current readings and returns the
// anomalies to record. Symbols with too little OI history are skipped.
func (d *Detector) Detect(cycleTS, symbolID int64, symbol string, r Reading, stats *StatsSnapshot) ([]database.Anomaly, error) {
	since := cycleTS - int64(d.cfg.Anomaly.MinHistoryForAnomaly)*int64(d.cfg.Collect.Interval.Seconds())
	count, err := d.store.CountOI(symbolID, since)
	if err != nil {
		return nil, fmt.Errorf("count OI history: %w", err)
	}
	if count < int64(d.cfg.Anomaly.MinHistoryForAnomaly) {
		return nil, nil
	}

	now := d.now()
	severity := stats.Severity(symbolID, d.cfg.Severity)
	var st *database.SymbolStats
	if row, ok := stats.BySymbol[symbolID]; ok {
		st = &row
	}

	var out []database.Anomaly
	var fundingSpike, oiSurge, lsExtreme bool

	// 1. Funding spike
	if r.Funding != nil {
		var mean, std *float64
		if st != nil {
			mean, std = st.MeanFunding, st.StdFunding
		}
		threshold := effectiveThreshold(mean, std, true, d.cfg.Anomaly.FundingSpikeThreshold)
		if abs(*r.Funding) > threshold {
			fundingSpike = true
			if d.cooldownOpen(symbolID, KindFundingSpike) {
				out = append(out, database.Anomaly{
					Timestamp: now, CycleTS: cycleTS, SymbolID: symbolID,
					Type: KindFundingSpike, Severity: severity, Value: *r.Funding,
					Description: fmt.Sprintf("Funding %.6f (threshold %.6f)", *r.Funding, threshold),
				})
				d.armCooldown(symbolID, KindFundingSpike)
			}
		}
	}

	// 2. OI surge/drop vs one hour ago
	if r.OIUSD != nil && *r.OIUSD > 0 {
		prev, found, err := d.store.OIUSDAtOrBefore(symbolID, cycleTS-3600)
		if err != nil {
			return nil, fmt.Errorf("OI hour ago: %w", err)
		}
		if found && prev > 0 {
			change := (*r.OIUSD - prev) / prev
			var mean, std *float64
			if st != nil {
				mean, std = st.MeanOIChange1h, st.StdOIChange1h
			}
			threshold := effectiveThreshold(mean, std, true, d.cfg.Anomaly.OISurgeThreshold)
			if abs(change) > threshold {
				oiSurge = true
				direction := "surge"
				if change < 0 {
					direction = "drop"
				}
				if d.cooldownOpen(symbolID, KindOISurge) {
					out = append(out, database.Anomaly{
						Timestamp: now, CycleTS: cycleTS, SymbolID: symbolID,
						Type: KindOISurge, Severity: severity, Value: change,
						Description: fmt.Sprintf("OI %s %+.2f%% ($%.0f -> prev $%.0f)",
							direction, change*100, *r.OIUSD, prev),
					})
					d.armCooldown(symbolID, KindOISurge)
				}
			}
		}
	}

	// 3. L/S extreme
	if r.LS != nil {
		var mean, std *float64
		if st != nil {
			mean, std = st.MeanLSRatio, st.StdLSRatio
		}
		threshold := effectiveThreshold(mean, std, false, d.cfg.Anomaly.LSExtremeThreshold)
		if *r.LS > threshold {
			lsExtreme = true
			if d.cooldownOpen(symbolID, KindLSExtreme) {
				out = append(out, database.Anomaly{
					Timestamp: now, CycleTS: cycleTS, SymbolID: symbolID,
					Type: KindLSExtreme, Severity: severity, Value: *r.LS,
					Description: fmt.Sprintf("L/S ratio %.2f (threshold %.2f)", *r.LS, threshold),
				})
				d.armCooldown(symbolID, KindLSExtreme)
			}
		}
	}

	// 4. Taker extreme
	if r.Taker != nil {
		var mean, std *float64
		if st != nil {
			mean, std = st.MeanTakerRatio, st.StdTakerRatio
		}
		threshold := effectiveThreshold(mean, std, false, d.cfg.Anomaly.TakerExtremeThreshold)
		if *r.Taker > threshold {
			if d.cooldownOpen(symbolID, KindTakerExtreme) {
				out = append(out, database.Anomaly{
					Timestamp: now, CycleTS: cycleTS, SymbolID: symbolID,
					Type: KindTakerExtreme, Severity: severity, Value: *r.Taker,
					Description: fmt.Sprintf("Taker ratio %.2f (threshold %.2f)", *r.Taker, threshold),
				})
				d.armCooldown(symbolID, KindTakerExtreme)
			}
		}
	}

	// 5. Combined overheat: all three fired this evaluation
	if fundingSpike && oiSurge && lsExtreme {
		if d.cooldownOpen(symbolID, KindOverheat) {
			out = append(out, database.Anomaly{
				Timestamp: now, CycleTS: cycleTS, SymbolID: symbolID,
				Type: KindOverheat, Severity: severity, Value: 0,
				Description: fmt.Sprintf("OVERHEAT: funding=%.6f, OI surge, L/S=%.2f",
					*r.Funding, *r.LS),
			})
			d.armCooldown(symbolID, KindOverheat)
		}
	}

	// 6. Combined capitulation: OI move + funding sign flip
	if oiSurge && fundingSpike {
		prevFunding, found, err := d.store.LatestFunding(symbolID)
		if err != nil {
			return nil, fmt.Errorf("latest funding: %w", err)
		}
		if found && r.Funding != nil && prevFunding**r.Funding < 0 {
			if d.cooldownOpen(symbolID, KindCapitulation) {
				out = append(out, database.Anomaly{
					Timestamp: now, CycleTS: cycleTS, SymbolID: symbolID,
					Type: KindCapitulation, Severity: severity, Value: 0,
					Description: fmt.Sprintf("CAPITULATION: funding flipped %.6f -> %.6f, OI dropping",
						prevFunding, *r.Funding),
				})
				d.armCooldown(symbolID, KindCapitulation)
			}
		}
	}

	// 7. OI flush pattern over the recent window
	flush, err := d.checkFlush(cycleTS, symbolID, symbol, stats)
	if err != nil {
		return nil, err
	}
	if flush != nil {
		out = append(out, *flush)
	}

	return out, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
