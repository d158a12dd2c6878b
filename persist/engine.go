// Package persist implements point-in-time JSON snapshotting of named
// caches to disk, with optional gzip compression and a ticker-driven
// auto-persist loop.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// ErrIOFailure wraps any filesystem or encoding error encountered
// while writing or reading a snapshot.
var ErrIOFailure = errors.New("persist: io failure")

// CacheSnapshot is a point-in-time copy of one cache's contents and
// statistics, ready to be serialized.
type CacheSnapshot struct {
	Data  map[string]any
	Stats any
}

// Payload is the on-disk (and in-memory, post-load) shape of a single
// cache's snapshot file.
type Payload struct {
	Data  map[string]any  `json:"data"`
	Stats json.RawMessage `json:"stats"`
}

// Source supplies the engine with the current, point-in-time content
// of every cache it knows about. Implementations must take their own
// snapshot under lock before returning; the engine performs file I/O
// outside of any cache lock.
type Source interface {
	Snapshot() map[string]CacheSnapshot
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithCompression selects gzip-compressed (.json.gz) snapshots
// instead of plain (.json) ones. Defaults to true.
func WithCompression(enabled bool) Option {
	return func(e *Engine) { e.compress = enabled }
}

// WithAutoPersistInterval sets how often every known cache is
// snapshotted to disk. Zero disables the auto-persist goroutine.
func WithAutoPersistInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithLogger overrides the engine's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine persists and restores named-cache snapshots under a single
// directory, one file per cache.
type Engine struct {
	dir      string
	compress bool
	interval time.Duration
	logger   *slog.Logger
	source   Source

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New creates the persistence directory if needed and, if an
// auto-persist interval is configured, starts the background
// snapshot loop immediately. It does not restore existing snapshots;
// call RestoreAll for that.
func New(dir string, source Source, opts ...Option) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating persistence dir %q: %v", ErrIOFailure, dir, err)
	}

	e := &Engine{
		dir:      dir,
		compress: true,
		source:   source,
		logger:   slog.Default(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.startAutoPersist()
	return e, nil
}

// Persist writes snap to disk under name, compressed or not per the
// engine's configuration. A write failure leaves any prior snapshot
// for this cache untouched; the engine does not retry.
func (e *Engine) Persist(name string, snap CacheSnapshot) error {
	statsJSON, err := json.Marshal(snap.Stats)
	if err != nil {
		return fmt.Errorf("%w: marshal stats for %q: %v", ErrIOFailure, name, err)
	}
	payload := Payload{Data: snap.Data, Stats: statsJSON}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal payload for %q: %v", ErrIOFailure, name, err)
	}

	path := e.pathFor(name)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: creating %q: %v", ErrIOFailure, tmp, err)
	}

	var w io.Writer = f
	var gz *gzip.Writer
	if e.compress {
		gz = gzip.NewWriter(f)
		w = gz
	}

	if _, err := w.Write(body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: writing %q: %v", ErrIOFailure, tmp, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("%w: closing gzip writer for %q: %v", ErrIOFailure, tmp, err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: closing %q: %v", ErrIOFailure, tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: renaming %q to %q: %v", ErrIOFailure, tmp, path, err)
	}
	return nil
}

// PersistAll snapshots every cache currently reported by the engine's
// Source and returns how many were written successfully.
func (e *Engine) PersistAll() int {
	count := 0
	for name, snap := range e.source.Snapshot() {
		if err := e.Persist(name, snap); err != nil {
			e.logger.Warn("persist failed", "cache", name, "error", err)
			continue
		}
		count++
	}
	return count
}

// RestoreAll scans the persistence directory once and returns the
// payload for every cache it could parse. A cache present as both
// <name>.json.gz and <name>.json is loaded from the compressed file
// only. Files that fail to parse are skipped; partial boot is
// permitted.
func (e *Engine) RestoreAll() map[string]Payload {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		e.logger.Warn("restore failed to list persistence dir", "dir", e.dir, "error", err)
		return nil
	}

	compressedNames := make(map[string]bool)
	plainNames := make(map[string]bool)
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		switch {
		case strings.HasSuffix(ent.Name(), ".json.gz"):
			compressedNames[strings.TrimSuffix(ent.Name(), ".json.gz")] = true
		case strings.HasSuffix(ent.Name(), ".json"):
			plainNames[strings.TrimSuffix(ent.Name(), ".json")] = true
		}
	}

	out := make(map[string]Payload)
	for name := range compressedNames {
		payload, err := e.load(name, true)
		if err != nil {
			e.logger.Warn("skipping unparseable snapshot", "cache", name, "error", err)
			continue
		}
		out[name] = payload
	}
	for name := range plainNames {
		if compressedNames[name] {
			continue // compressed variant already won
		}
		payload, err := e.load(name, false)
		if err != nil {
			e.logger.Warn("skipping unparseable snapshot", "cache", name, "error", err)
			continue
		}
		out[name] = payload
	}
	return out
}

func (e *Engine) load(name string, compressed bool) (Payload, error) {
	path := filepath.Join(e.dir, name+extensionFor(compressed))
	f, err := os.Open(path)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: opening %q: %v", ErrIOFailure, path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: gzip reader for %q: %v", ErrIOFailure, path, err)
		}
		defer gz.Close()
		r = gz
	}

	var payload Payload
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return Payload{}, fmt.Errorf("%w: decoding %q: %v", ErrIOFailure, path, err)
	}
	return payload, nil
}

// Stop halts the auto-persist goroutine (if any) and performs one
// final PersistAll. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		<-e.doneCh
		e.PersistAll()
	})
}

func (e *Engine) pathFor(name string) string {
	return filepath.Join(e.dir, name+extensionFor(e.compress))
}

func extensionFor(compressed bool) string {
	if compressed {
		return ".json.gz"
	}
	return ".json"
}

func (e *Engine) startAutoPersist() {
	if e.interval <= 0 {
		close(e.doneCh)
		return
	}

	ticker := time.NewTicker(e.interval)
	go func() {
		defer close(e.doneCh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.PersistAll()
			case <-e.stopCh:
				return
			}
		}
	}()
}
