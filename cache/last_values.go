// Package cache holds the live per-symbol last-known readings plus an
// optional Redis mirror. The map is the single source of truth for
// "changed since last cycle"; it is hydrated from storage at startup so a
// restart produces no spurious change-detection.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Metric identifies which reading a cache entry holds
type Metric string

// Cached metric kinds
const (
	MetricOI      Metric = "oi"
	MetricFunding Metric = "funding"
	MetricLS      Metric = "ls"
	MetricTaker   Metric = "taker"
)

// Key addresses one cached reading
type Key struct {
	SymbolID int64
	Metric   Metric
}

// LastValues is the collector-owned cache of the most recent reading per
// (symbol, metric). Only the collector writes it; the detector reads it
// within the same cycle.
type LastValues struct {
	mu     sync.RWMutex
	values map[Key]float64
	redis  *RedisClient // nil when Redis is not configured
}

// NewLastValues wraps a hydrated map. redis may be nil.
func NewLastValues(hydrated map[Key]float64, redis *RedisClient) *LastValues {
	if hydrated == nil {
		hydrated = make(map[Key]float64)
	}
	return &LastValues{values: hydrated, redis: redis}
}

// Get returns the cached reading for key
func (lv *LastValues) Get(key Key) (float64, bool) {
	lv.mu.RLock()
	defer lv.mu.RUnlock()
	v, ok := lv.values[key]
	return v, ok
}

// Changed reports whether value differs from the cached reading (or none is cached)
func (lv *LastValues) Changed(key Key, value float64) bool {
	cached, ok := lv.Get(key)
	return !ok || cached != value
}

// Put records a successfully read value and mirrors it to Redis when enabled
func (lv *LastValues) Put(key Key, value float64) {
	lv.mu.Lock()
	lv.values[key] = value
	lv.mu.Unlock()

	if lv.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Mirror is best-effort observability; storage stays authoritative
		_ = lv.redis.Set(ctx, redisKey(key), value, 24*time.Hour)
	}
}

// Len returns the number of cached readings
func (lv *LastValues) Len() int {
	lv.mu.RLock()
	defer lv.mu.RUnlock()
	return len(lv.values)
}

func redisKey(key Key) string {
	return fmt.Sprintf("last:%s:%d", key.Metric, key.SymbolID)
}
