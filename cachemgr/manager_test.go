package cachemgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(WithCleanupInterval(20 * time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

func TestCreateCacheIdempotence(t *testing.T) {
	m := newTestManager(t)
	require.True(t, m.CreateCache("users"))
	require.False(t, m.CreateCache("users"))
}

func TestSetGetRoundTrip(t *testing.T) {
	m := newTestManager(t)
	m.CreateCache("users")
	m.Set("users", "u1", "alice", 0)
	require.Equal(t, "alice", m.Get("users", "u1", nil))
}

func TestSetAutoCreatesCache(t *testing.T) {
	m := newTestManager(t)
	m.Set("fresh", "k", "v", 0)
	require.Contains(t, m.ListCaches(), "fresh")
	require.Equal(t, "v", m.Get("fresh", "k", nil))
}

func TestGetMissingCacheOrKeyReturnsDefault(t *testing.T) {
	m := newTestManager(t)
	require.Equal(t, "def", m.Get("nope", "k", "def"))

	m.CreateCache("c")
	require.Equal(t, "def", m.Get("c", "missing", "def"))
}

func TestDeleteCacheIsIdempotentNotFoundOnSecondCall(t *testing.T) {
	m := newTestManager(t)
	m.CreateCache("c")
	require.True(t, m.DeleteCache("c"))
	require.False(t, m.DeleteCache("c"))
}

func TestDeleteCacheRemovesContentsAndStats(t *testing.T) {
	m := newTestManager(t)
	m.CreateCache("c")
	m.Set("c", "k", "v", 0)
	require.True(t, m.DeleteCache("c"))

	_, ok := m.GetStats("c")
	require.False(t, ok)
	require.NotContains(t, m.ListCaches(), "c")
}

func TestClearCacheKeepsCacheButEmptiesIt(t *testing.T) {
	m := newTestManager(t)
	m.CreateCache("c")
	m.Set("c", "k", "v", 0)
	require.True(t, m.ClearCache("c"))
	require.Equal(t, 0, m.CacheSize("c"))
	require.Contains(t, m.ListCaches(), "c")
}

func TestCacheSizeMatchesForcedSweep(t *testing.T) {
	m := newTestManager(t)
	m.CreateCache("c")
	m.Set("c", "a", 1, 0)
	m.Set("c", "b", 2, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, m.CacheSize("c"))
}

func TestStatsHitsAndMisses(t *testing.T) {
	m := newTestManager(t)
	m.CreateCache("c")
	m.Set("c", "k", "v", 0)

	m.Get("c", "k", nil)
	m.Get("c", "k", nil)
	m.Get("c", "missing", nil)

	stats, ok := m.GetStats("c")
	require.True(t, ok)
	require.EqualValues(t, 2, stats.Hits)
	require.EqualValues(t, 1, stats.Misses)
}

func TestEventDeliveryScopedThenGlobal(t *testing.T) {
	m := newTestManager(t)
	m.CreateCache("c")

	var order []string
	m.On(EventSet, "c", func(ctx EventContext) { order = append(order, "scoped") })
	m.On(EventSet, "", func(ctx EventContext) { order = append(order, "global") })

	m.Set("c", "k", "v", 0)
	require.Equal(t, []string{"scoped", "global"}, order)
}

func TestPanickingObserverDoesNotAffectOthers(t *testing.T) {
	m := newTestManager(t)
	m.CreateCache("c")

	called := false
	m.On(EventSet, "", func(ctx EventContext) { panic("boom") })
	m.On(EventSet, "", func(ctx EventContext) { called = true })

	require.NotPanics(t, func() { m.Set("c", "k", "v", 0) })
	require.True(t, called)
}

func TestOffIsIdempotentSafe(t *testing.T) {
	m := newTestManager(t)
	handle := m.On(EventSet, "", func(ctx EventContext) {})
	require.True(t, m.Off(EventSet, "", handle))
	require.False(t, m.Off(EventSet, "", handle))
}

func TestSearchByPatternGlob(t *testing.T) {
	m := newTestManager(t)
	m.CreateCache("c")
	m.Set("c", "user_1", "a", 0)
	m.Set("c", "user_2", "b", 0)
	m.Set("c", "order_1", "c", 0)

	results, err := m.SearchByPattern("c", "user_*", false)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestSearchByPatternRegex(t *testing.T) {
	m := newTestManager(t)
	m.CreateCache("c")
	m.Set("c", "user_1", "a", 0)
	m.Set("c", "user_22", "b", 0)

	results, err := m.SearchByPattern("c", `^user_\d$`, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "user_1", results[0].Key)
}

func TestSearchJSONPathWildcard(t *testing.T) {
	m := newTestManager(t)
	m.CreateCache("c")
	m.Set("c", "u1", map[string]any{"preferences": map[string]any{"theme": "dark"}}, 0)
	m.Set("c", "u2", map[string]any{"preferences": map[string]any{"lang": "en"}}, 0)

	results := m.SearchJSONPath("c", "*.theme")
	require.Len(t, results, 1)
	require.Equal(t, "u1", results[0].Key)
}

func TestFindByValueTemplate(t *testing.T) {
	m := newTestManager(t)
	m.CreateCache("c")
	m.Set("c", "u1", map[string]any{"role": "admin", "active": true}, 0)
	m.Set("c", "u2", map[string]any{"role": "member", "active": true}, 0)

	keys := m.FindByValue("c", map[string]any{"role": "admin"})
	require.Equal(t, []string{"u1"}, keys)
}

func TestExpiredEntryFiresEventExpireAndGlobalStats(t *testing.T) {
	m := newTestManager(t)
	m.CreateCache("c")

	fired := make(chan EventContext, 1)
	m.On(EventExpire, "c", func(ctx EventContext) { fired <- ctx })

	m.Set("c", "k", "v", 20*time.Millisecond)

	select {
	case ctx := <-fired:
		require.Equal(t, "k", ctx.Key)
		require.Equal(t, "v", ctx.OldValue)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expire event")
	}

	stats := m.GlobalStats()
	require.EqualValues(t, 1, stats.TotalExpired)
	require.False(t, stats.LastCleanup.IsZero())
}

func TestExplicitDeleteDoesNotFireEventExpire(t *testing.T) {
	m := newTestManager(t)
	m.CreateCache("c")
	m.Set("c", "k", "v", 0)

	var expireFired bool
	m.On(EventExpire, "c", func(ctx EventContext) { expireFired = true })

	require.True(t, m.Delete("c", "k"))
	require.False(t, expireFired)
	require.EqualValues(t, 0, m.GlobalStats().TotalExpired)
}

func TestGlobalStatsAccumulatesHitsAndMisses(t *testing.T) {
	m := newTestManager(t)
	m.CreateCache("c")
	m.Set("c", "k", "v", 0)

	m.Get("c", "k", nil)
	m.Get("c", "missing", nil)
	m.Get("nope", "k", nil)

	stats := m.GlobalStats()
	require.EqualValues(t, 1, stats.TotalHits)
	require.EqualValues(t, 2, stats.TotalMisses)
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(WithPersistence(dir, true, 0))
	require.NoError(t, err)

	m.CreateCache("users")
	m.Set("users", "u1", "alice", 0)
	require.True(t, m.Persist("users"))
	m.Stop()

	m2, err := NewManager(WithPersistence(dir, true, 0))
	require.NoError(t, err)
	defer m2.Stop()

	require.Equal(t, "alice", m2.Get("users", "u1", nil))
}
