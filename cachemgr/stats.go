package cachemgr

import (
	"encoding/json"
	"time"
)

// CacheStats holds the hit/miss/size counters for one named cache.
// Field names mirror cache_handler.py's CacheStats dataclass.
type CacheStats struct {
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
	Items      int       `json:"items"`
	LastAccess time.Time `json:"last_access"`
	LastWrite  time.Time `json:"last_write"`
	CreatedAt  time.Time `json:"created_at"`
}

func newCacheStats(now time.Time) *CacheStats {
	return &CacheStats{CreatedAt: now}
}

// snapshot returns a copy safe to hand to a caller outside the
// manager's lock.
func (s *CacheStats) snapshot() CacheStats {
	return *s
}

// unmarshalFrom decodes a persisted stats blob into s. An empty or
// nil blob is a no-op, not an error, so restoring a snapshot written
// before a stats field existed still succeeds.
func (s *CacheStats) unmarshalFrom(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, s)
}

// GlobalStats aggregates counters across every cache the manager has
// ever served, plus the time the most recent expired entry was removed
// (by a reaper sweep or by lazy expiration on read).
// Mirrors stats_handler.py's StoreStats (total_hits/total_misses/
// expired_items/last_cleanup).
type GlobalStats struct {
	TotalHits    int64     `json:"total_hits"`
	TotalMisses  int64     `json:"total_misses"`
	TotalExpired int64     `json:"total_expired"`
	LastCleanup  time.Time `json:"last_cleanup"`
}
