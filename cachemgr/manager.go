// Package cachemgr implements the named-cache manager: a hierarchy
// of independently addressable sub-stores with per-cache statistics,
// search, event hooks, and optional snapshot persistence.
package cachemgr

import (
	"log/slog"
	"sync"
	"time"

	"embercache/expirestore"
	"embercache/persist"
)

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithDefaultTTL sets the TTL new caches inherit when CreateCache
// (or the auto-creating Set) doesn't specify one.
func WithDefaultTTL(d time.Duration) Option {
	return func(m *Manager) { m.defaultTTL = d }
}

// WithCleanupInterval sets the reaper interval for the outer store
// (which holds caches) and is also the default used by every inner
// per-cache store.
func WithCleanupInterval(d time.Duration) Option {
	return func(m *Manager) { m.cleanupInterval = d }
}

// WithLogger overrides the manager's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithPersistence enables snapshot persistence under dir, restoring
// any recognized snapshot files before NewManager returns.
func WithPersistence(dir string, compress bool, autoPersistInterval time.Duration) Option {
	return func(m *Manager) {
		m.persistDir = dir
		m.persistCompress = compress
		m.autoPersistInterval = autoPersistInterval
	}
}

// Manager owns one outer expirestore.Store whose values are per-cache
// inner expirestore.Store instances, plus stats, an event bus, and an
// optional persistence engine. This mirrors cache_handler.py's
// composition of an ExpiringStore with a stats dict and event-handler
// tables, generalized so each named cache gets true per-entry TTL
// (via its own nested Store) rather than only a cache-wide TTL.
type Manager struct {
	outer      *expirestore.Store
	defaultTTL time.Duration

	statsMu sync.RWMutex
	stats   map[string]*CacheStats

	globalMu sync.Mutex
	global   GlobalStats

	events *eventBus

	logger *slog.Logger

	cleanupInterval     time.Duration
	persistDir          string
	persistCompress     bool
	autoPersistInterval time.Duration
	persistEngine       *persist.Engine
}

// NewManager constructs a Manager. If persistence is enabled via
// WithPersistence, every recognized snapshot file is restored before
// this call returns, and an auto-persist goroutine is started if its
// interval is positive.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		stats:  make(map[string]*CacheStats),
		events: newEventBus(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	// The outer store holds cache containers, which never expire on
	// their own (see CreateCache); only m.defaultTTL flows into each
	// inner per-cache store.
	m.outer = expirestore.New(expirestore.WithCleanupInterval(m.cleanupInterval))

	if m.persistDir != "" {
		engine, err := persist.New(m.persistDir, m, // *Manager implements persist.Source
			persist.WithCompression(m.persistCompress),
			persist.WithAutoPersistInterval(m.autoPersistInterval),
			persist.WithLogger(m.logger),
		)
		if err != nil {
			return nil, err
		}
		m.persistEngine = engine
		m.restoreAll(engine.RestoreAll())
	}

	return m, nil
}

// CreateCache creates an empty named cache. It reports false if the
// cache already exists.
func (m *Manager) CreateCache(name string) bool {
	if m.outer.Contains(name) {
		return false
	}
	inner := expirestore.New(
		expirestore.WithDefaultTTL(m.defaultTTL),
		expirestore.WithCleanupInterval(m.cleanupInterval),
		expirestore.WithRemoveHook(m.expireHook(name)),
	)
	m.outer.Set(name, inner, -1) // the outer entry itself never expires; only its contents do
	m.setStats(name, newCacheStats(time.Now()))
	m.events.trigger(EventContext{CacheName: name, Kind: EventCreateCache, Timestamp: time.Now()})
	return true
}

// DeleteCache removes a cache and everything in it, emitting a
// delete event for each surviving key followed by delete_cache. It
// reports false if the cache did not exist.
func (m *Manager) DeleteCache(name string) bool {
	inner, ok := m.innerStore(name)
	if !ok {
		return false
	}

	for k, v := range inner.Items() {
		m.events.trigger(EventContext{CacheName: name, Key: k, OldValue: v, Kind: EventDelete, Timestamp: time.Now()})
	}
	inner.Stop()

	_ = m.outer.Delete(name)
	m.statsMu.Lock()
	delete(m.stats, name)
	m.statsMu.Unlock()

	m.events.trigger(EventContext{CacheName: name, Kind: EventDeleteCache, Timestamp: time.Now()})
	return true
}

// ListCaches returns every cache name whose outer entry has not
// expired, in the outer store's key order.
func (m *Manager) ListCaches() []string {
	return m.outer.Keys()
}

// ClearCache removes every entry from a cache without deleting the
// cache itself. It reports false if the cache does not exist.
func (m *Manager) ClearCache(name string) bool {
	inner, ok := m.innerStore(name)
	if !ok {
		return false
	}

	for k, v := range inner.Items() {
		m.events.trigger(EventContext{CacheName: name, Key: k, OldValue: v, Kind: EventDelete, Timestamp: time.Now()})
	}
	inner.Clear()

	m.statsMu.Lock()
	if st, ok := m.stats[name]; ok {
		st.Items = 0
	}
	m.statsMu.Unlock()

	m.events.trigger(EventContext{CacheName: name, Kind: EventClear, Timestamp: time.Now()})
	return true
}

// CacheSize returns the number of non-expired entries in a cache, or
// zero if the cache does not exist.
func (m *Manager) CacheSize(name string) int {
	inner, ok := m.innerStore(name)
	if !ok {
		return 0
	}
	return inner.Len()
}

// Set writes key/value into a cache, auto-creating the cache (with
// the manager's default TTL) if it doesn't exist yet. ttl follows
// expirestore's convention: 0 uses the cache's default, negative
// never expires, positive overrides.
func (m *Manager) Set(cacheName, key string, value any, ttl time.Duration) {
	inner, ok := m.innerStore(cacheName)
	if !ok {
		m.CreateCache(cacheName)
		inner, _ = m.innerStore(cacheName)
	}

	inner.Set(key, value, ttl)
	size := inner.Len() // may run expireHook, which takes statsMu

	m.statsMu.Lock()
	st := m.statOrCreate(cacheName)
	st.Items = size
	st.LastWrite = time.Now()
	m.statsMu.Unlock()

	m.events.trigger(EventContext{CacheName: cacheName, Key: key, NewValue: value, Kind: EventSet, Timestamp: time.Now()})
}

// Get reads key from a cache, recording a hit or miss. It returns
// def if the cache or key does not exist.
func (m *Manager) Get(cacheName, key string, def any) any {
	inner, ok := m.innerStore(cacheName)
	if !ok {
		m.statsMu.Lock()
		if st, ok := m.stats[cacheName]; ok {
			st.Misses++
		}
		m.statsMu.Unlock()
		m.globalMu.Lock()
		m.global.TotalMisses++
		m.globalMu.Unlock()
		return def
	}

	missing := &struct{}{}
	value := inner.Get(key, missing)

	m.statsMu.Lock()
	st := m.statOrCreate(cacheName)
	st.LastAccess = time.Now()
	hit := value != missing
	if hit {
		st.Hits++
	} else {
		st.Misses++
	}
	m.statsMu.Unlock()

	m.globalMu.Lock()
	if hit {
		m.global.TotalHits++
	} else {
		m.global.TotalMisses++
	}
	m.globalMu.Unlock()

	m.events.trigger(EventContext{CacheName: cacheName, Key: key, Kind: EventGet, Timestamp: time.Now()})

	if !hit {
		return def
	}
	return value
}

// Delete removes key from a cache. It reports false if the cache or
// key does not exist.
func (m *Manager) Delete(cacheName, key string) bool {
	inner, ok := m.innerStore(cacheName)
	if !ok {
		return false
	}
	if err := inner.Delete(key); err != nil {
		return false
	}
	size := inner.Len() // may run expireHook, which takes statsMu

	m.statsMu.Lock()
	if st, ok := m.stats[cacheName]; ok {
		st.Items = size
	}
	m.statsMu.Unlock()

	m.events.trigger(EventContext{CacheName: cacheName, Key: key, Kind: EventDelete, Timestamp: time.Now()})
	return true
}

// CacheExists reports whether a named cache currently exists.
func (m *Manager) CacheExists(name string) bool {
	_, ok := m.innerStore(name)
	return ok
}

// CacheKeys returns every non-expired key in a cache, in its key
// order. It returns nil if the cache does not exist.
func (m *Manager) CacheKeys(name string) []string {
	inner, ok := m.innerStore(name)
	if !ok {
		return nil
	}
	return inner.Keys()
}

// CacheItemsOrdered returns every non-expired (key, value) pair in a
// cache in its key order, for callers that need to reproduce that
// order on the wire (e.g. CACHEGETALL). It returns nil if the cache
// does not exist.
func (m *Manager) CacheItemsOrdered(name string) []KV {
	inner, ok := m.innerStore(name)
	if !ok {
		return nil
	}

	out := make([]KV, 0, inner.Len())
	missing := &struct{}{}
	for _, key := range inner.Keys() {
		value := inner.Get(key, missing)
		if value == missing {
			continue // expired between Keys() and Get()
		}
		out = append(out, KV{Key: key, Value: value})
	}
	return out
}

// On registers an observer for kind, scoped to cacheName if non-empty
// or global otherwise. The returned handle is passed to Off to
// unregister.
func (m *Manager) On(kind Event, cacheName string, cb Callback) *Callback {
	return m.events.on(kind, cacheName, cb)
}

// Off unregisters a handle previously returned by On. It reports
// false if the handle is not currently registered.
func (m *Manager) Off(kind Event, cacheName string, handle *Callback) bool {
	return m.events.off(kind, cacheName, handle)
}

// GetStats returns a copy of a cache's statistics, or false if the
// cache has no recorded stats.
func (m *Manager) GetStats(name string) (CacheStats, bool) {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	st, ok := m.stats[name]
	if !ok {
		return CacheStats{}, false
	}
	return st.snapshot(), true
}

// GetAllStats returns a copy of every cache's statistics, keyed by
// cache name.
func (m *Manager) GetAllStats() map[string]CacheStats {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	out := make(map[string]CacheStats, len(m.stats))
	for name, st := range m.stats {
		out[name] = st.snapshot()
	}
	return out
}

// GlobalStats returns a copy of the counters aggregated across every
// cache the manager has ever served: total hits, total misses, total
// expired entries, and the time the most recent expired entry was
// removed.
func (m *Manager) GlobalStats() GlobalStats {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	return m.global
}

// ResetStats zeroes the counters for a cache. It reports false if
// the cache does not exist.
func (m *Manager) ResetStats(name string) bool {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	if _, ok := m.stats[name]; !ok {
		return false
	}
	m.stats[name] = newCacheStats(time.Now())
	return true
}

// Persist snapshots a single cache to disk. It reports false if
// persistence is disabled, the cache does not exist, or the write
// failed.
func (m *Manager) Persist(name string) bool {
	if m.persistEngine == nil {
		return false
	}
	inner, ok := m.innerStore(name)
	if !ok {
		return false
	}
	m.statsMu.RLock()
	st, ok := m.stats[name]
	snapStats := CacheStats{}
	if ok {
		snapStats = st.snapshot()
	}
	m.statsMu.RUnlock()

	err := m.persistEngine.Persist(name, persist.CacheSnapshot{
		Data:  inner.Items(),
		Stats: snapStats,
	})
	return err == nil
}

// PersistAll snapshots every known cache and returns how many
// succeeded.
func (m *Manager) PersistAll() int {
	if m.persistEngine == nil {
		return 0
	}
	return m.persistEngine.PersistAll()
}

// Snapshot implements persist.Source: a point-in-time copy of every
// cache's contents and stats, taken under each cache's own lock.
func (m *Manager) Snapshot() map[string]persist.CacheSnapshot {
	out := make(map[string]persist.CacheSnapshot)
	for _, name := range m.outer.Keys() {
		inner, ok := m.innerStore(name)
		if !ok {
			continue
		}
		m.statsMu.RLock()
		st, ok := m.stats[name]
		var snapStats CacheStats
		if ok {
			snapStats = st.snapshot()
		}
		m.statsMu.RUnlock()
		out[name] = persist.CacheSnapshot{Data: inner.Items(), Stats: snapStats}
	}
	return out
}

// Stop halts the outer store's reaper and, if persistence is enabled,
// the auto-persist goroutine, performing one final PersistAll first.
// It also stops every inner cache store's reaper.
func (m *Manager) Stop() {
	if m.persistEngine != nil {
		m.persistEngine.Stop()
	}
	for _, name := range m.outer.Keys() {
		if inner, ok := m.innerStore(name); ok {
			inner.Stop()
		}
	}
	m.outer.Stop()
}

// expireHook builds the RemoveHook each named cache's inner store is
// constructed with. It fires only on RemoveExpired, not on an
// explicit Delete/Clear (those already emit their own EventDelete at
// the call site), so an expired entry is the only thing that reaches
// EventExpire, matching the closed event set's distinction between
// "deleted" and "expired". Ported from stats_handler.py's
// record_item_expired/record_cleanup.
func (m *Manager) expireHook(cacheName string) expirestore.RemoveHook {
	return func(key string, value any, reason expirestore.RemoveReason) {
		if reason != expirestore.RemoveExpired {
			return
		}

		m.statsMu.Lock()
		if st, ok := m.stats[cacheName]; ok && st.Items > 0 {
			st.Items--
		}
		m.statsMu.Unlock()

		m.globalMu.Lock()
		m.global.TotalExpired++
		m.global.LastCleanup = time.Now()
		m.globalMu.Unlock()

		m.events.trigger(EventContext{CacheName: cacheName, Key: key, OldValue: value, Kind: EventExpire, Timestamp: time.Now()})
	}
}

func (m *Manager) innerStore(name string) (*expirestore.Store, bool) {
	v := m.outer.Get(name, nil)
	if v == nil {
		return nil, false
	}
	return v.(*expirestore.Store), true
}

func (m *Manager) setStats(name string, st *CacheStats) {
	m.statsMu.Lock()
	m.stats[name] = st
	m.statsMu.Unlock()
}

// statOrCreate returns the stats block for name, creating one if
// necessary. Caller must hold statsMu.
func (m *Manager) statOrCreate(name string) *CacheStats {
	st, ok := m.stats[name]
	if !ok {
		st = newCacheStats(time.Now())
		m.stats[name] = st
	}
	return st
}

// restoreAll applies boot-time-restored payloads to freshly created
// inner caches, decoding each stats blob into a CacheStats.
func (m *Manager) restoreAll(payloads map[string]persist.Payload) {
	for name, payload := range payloads {
		inner := expirestore.New(
			expirestore.WithDefaultTTL(m.defaultTTL),
			expirestore.WithCleanupInterval(m.cleanupInterval),
			expirestore.WithRemoveHook(m.expireHook(name)),
		)
		for k, v := range payload.Data {
			inner.Set(k, v, 0)
		}
		m.outer.Set(name, inner, -1)

		st := newCacheStats(time.Now())
		if err := st.unmarshalFrom(payload.Stats); err != nil {
			m.logger.Warn("restored cache has unreadable stats, using fresh stats", "cache", name, "error", err)
		}
		st.Items = inner.Len()
		m.setStats(name, st)

		m.events.trigger(EventContext{CacheName: name, Kind: EventCreateCache, Timestamp: time.Now()})
	}
}
