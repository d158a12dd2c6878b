package persist

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubSource struct {
	snapshots map[string]CacheSnapshot
}

func (s stubSource) Snapshot() map[string]CacheSnapshot {
	return s.snapshots
}

type stubStats struct {
	Hits  int `json:"hits"`
	Items int `json:"items"`
}

func TestPersistAndRestoreCompressed(t *testing.T) {
	dir := t.TempDir()
	source := stubSource{snapshots: map[string]CacheSnapshot{
		"users": {
			Data:  map[string]any{"u1": "alice"},
			Stats: stubStats{Hits: 3, Items: 1},
		},
	}}

	e, err := New(dir, source, WithAutoPersistInterval(0))
	require.NoError(t, err)
	defer e.Stop()

	require.Equal(t, 1, e.PersistAll())

	restored := e.RestoreAll()
	payload, ok := restored["users"]
	require.True(t, ok)
	require.Equal(t, "alice", payload.Data["u1"])

	var stats stubStats
	require.NoError(t, json.Unmarshal(payload.Stats, &stats))
	require.Equal(t, 3, stats.Hits)
}

func TestPersistPlainWhenCompressionDisabled(t *testing.T) {
	dir := t.TempDir()
	source := stubSource{snapshots: map[string]CacheSnapshot{
		"plain": {Data: map[string]any{"k": "v"}, Stats: stubStats{}},
	}}

	e, err := New(dir, source, WithCompression(false), WithAutoPersistInterval(0))
	require.NoError(t, err)
	defer e.Stop()

	e.PersistAll()
	restored := e.RestoreAll()
	_, ok := restored["plain"]
	require.True(t, ok)
}

func TestCompressedWinsWhenBothExist(t *testing.T) {
	dir := t.TempDir()
	source := stubSource{snapshots: map[string]CacheSnapshot{
		"dup": {Data: map[string]any{"version": "gz"}, Stats: stubStats{}},
	}}

	e, err := New(dir, source, WithAutoPersistInterval(0))
	require.NoError(t, err)
	e.PersistAll() // writes dup.json.gz

	// Now write a stale plain file the engine never produced itself.
	stale, err := New(dir, stubSource{snapshots: map[string]CacheSnapshot{
		"dup": {Data: map[string]any{"version": "plain"}, Stats: stubStats{}},
	}}, WithCompression(false), WithAutoPersistInterval(0))
	require.NoError(t, err)
	stale.PersistAll()
	stale.Stop()
	e.Stop()

	loader, err := New(dir, source, WithAutoPersistInterval(0))
	require.NoError(t, err)
	defer loader.Stop()

	restored := loader.RestoreAll()
	require.Equal(t, "gz", restored["dup"].Data["version"])
}

func TestAutoPersistLoopRuns(t *testing.T) {
	dir := t.TempDir()
	source := stubSource{snapshots: map[string]CacheSnapshot{
		"ticked": {Data: map[string]any{"k": "v"}, Stats: stubStats{}},
	}}

	e, err := New(dir, source, WithAutoPersistInterval(15*time.Millisecond))
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	e.Stop()

	restored := e.RestoreAll()
	_, ok := restored["ticked"]
	require.True(t, ok)
}

func TestStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, stubSource{snapshots: map[string]CacheSnapshot{}}, WithAutoPersistInterval(5*time.Millisecond))
	require.NoError(t, err)

	e.Stop()
	require.NotPanics(t, func() { e.Stop() })
}
