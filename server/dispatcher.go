// Package server implements the per-connection command dispatcher and
// the TCP listener that accepts connections and spawns a worker for
// each one.
package server

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"embercache/cachemgr"
	"embercache/command"
	"embercache/expirestore"
)

// HandlerFunc implements one verb. tokens[0] is the uppercased verb;
// tokens[1:] are its arguments, already arity- and type-validated. Its
// return value is written back terminated by a single newline; a
// returned error becomes an "ERROR: <message>" reply instead, and
// does not close the connection.
type HandlerFunc func(tokens []string) (string, error)

// Dispatcher holds no per-client state: every handler reads and
// writes through the shared store and cache manager. Grounded in
// command_handler.py's handle_command/_execute_command split,
// generalized from a match statement to a handler table.
type Dispatcher struct {
	store     *expirestore.Store
	caches    *cachemgr.Manager
	validator *command.Validator
	handlers  map[string]HandlerFunc
}

// NewDispatcher wires a Dispatcher to an explicit store, cache
// manager, and validator — no package-level defaults, so every test
// gets full isolation.
func NewDispatcher(store *expirestore.Store, caches *cachemgr.Manager, validator *command.Validator) *Dispatcher {
	d := &Dispatcher{store: store, caches: caches, validator: validator}
	d.handlers = d.buildHandlers()
	return d
}

// Dispatch tokenizes, validates, and runs one command line. EXIT is
// special-cased ahead of validation, matching spec.md's carve-out for
// connection-terminating verbs; Dispatch reports wantClose=true only
// for EXIT.
func (d *Dispatcher) Dispatch(line string) (reply string, wantClose bool) {
	tokens := tokenize(line)
	if len(tokens) > 0 && strings.EqualFold(tokens[0], "EXIT") {
		return "Goodbye!", true
	}

	tokens = mergeTrailingValue(tokens)

	verb, verr := d.validator.Validate(tokens)
	if verr != nil {
		return "ERROR: " + verr.Message, false
	}

	handler, ok := d.handlers[verb]
	if !ok {
		// The validator's registry and the dispatcher's handler table
		// are kept in lockstep by buildHandlers; this would only be
		// reached for a verb registered at runtime with no handler.
		return fmt.Sprintf("ERROR: Unknown command: %s", verb), false
	}

	result, err := handler(tokens)
	if err != nil {
		return "ERROR: " + err.Error(), false
	}
	return result, false
}

func tokenize(line string) []string {
	return strings.Fields(line)
}

// mergeTrailingValue implements spec.md §4.6's SET/CACHESET
// preprocessing: a command with more tokens than its registered
// arity has its trailing tokens, from the value position onward,
// joined back together with single spaces so that values containing
// internal whitespace survive the naive whitespace tokenizer.
func mergeTrailingValue(tokens []string) []string {
	if len(tokens) == 0 {
		return tokens
	}

	verb := strings.ToUpper(tokens[0])
	var valuePos int
	switch verb {
	case "SET":
		valuePos = 2 // SET key value...
	case "CACHESET":
		valuePos = 3 // CACHESET cache key value...
	default:
		return tokens
	}

	if len(tokens) <= valuePos+1 {
		return tokens
	}
	merged := append([]string{}, tokens[:valuePos]...)
	merged = append(merged, strings.Join(tokens[valuePos:], " "))
	return merged
}

func (d *Dispatcher) buildHandlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		"PING":        d.handlePing,
		"ECHO":        d.handleEcho,
		"SET":         d.handleSet,
		"GET":         d.handleGet,
		"DEL":         d.handleDelete,
		"LPOP":        d.handleDelete,
		"EXPIRE":      d.handleExpire,
		"LPUSH":       d.handleLPush,
		"RPUSH":       d.handleRPush,
		"INSPECT":     d.handleInspect,
		"CREATECACHE": d.handleCreateCache,
		"DELETECACHE": d.handleDeleteCache,
		"LISTCACHES":  d.handleListCaches,
		"CACHESET":    d.handleCacheSet,
		"CACHEGET":    d.handleCacheGet,
		"CACHEDEL":    d.handleCacheDelete,
		"CACHEKEYS":   d.handleCacheKeys,
		"CACHEGETALL": d.handleCacheGetAll,
	}
}

func (d *Dispatcher) handlePing([]string) (string, error) {
	return "PONG", nil
}

func (d *Dispatcher) handleEcho(tokens []string) (string, error) {
	return strings.Join(tokens[1:], " "), nil
}

func (d *Dispatcher) handleSet(tokens []string) (string, error) {
	d.store.Set(tokens[1], tokens[2], 0)
	return "OK", nil
}

func (d *Dispatcher) handleGet(tokens []string) (string, error) {
	v := d.store.Get(tokens[1], nil)
	if v == nil {
		return "NULL", nil
	}
	return fmt.Sprint(v), nil
}

func (d *Dispatcher) handleDelete(tokens []string) (string, error) {
	if err := d.store.Delete(tokens[1]); err != nil {
		return "NULL", nil
	}
	return "OK", nil
}

// handleExpire sets a TTL on an existing key, replying NULL (rather
// than staying silent, per spec.md's fix of the original's
// inconsistent behavior) when the key does not exist.
func (d *Dispatcher) handleExpire(tokens []string) (string, error) {
	seconds, err := strconv.Atoi(tokens[2])
	if err != nil {
		return "", fmt.Errorf("invalid seconds: %s", tokens[2])
	}

	missing := &struct{}{}
	value := d.store.Get(tokens[1], missing)
	if value == missing {
		return "NULL", nil
	}

	ttl := time.Duration(seconds) * time.Second
	if seconds <= 0 {
		// EXPIRE key 0 means "expire right now," not "use the
		// store's default TTL" (0 is the store's sentinel for that).
		ttl = time.Nanosecond
	}
	d.store.Set(tokens[1], value, ttl)
	return "OK", nil
}

func (d *Dispatcher) handleLPush(tokens []string) (string, error) {
	d.store.Prepend(tokens[1], tokens[2], 0)
	return "OK", nil
}

// handleRPush degenerates to a plain set, per spec.md's preserved
// behavior (the original Python never implemented true list append).
func (d *Dispatcher) handleRPush(tokens []string) (string, error) {
	d.store.Set(tokens[1], tokens[2], 0)
	return "OK", nil
}

// handleInspect dumps every key in the global store. It is
// unauthenticated; spec.md flags this as a privileged operation
// preserved for protocol parity, not endorsed as secure.
func (d *Dispatcher) handleInspect([]string) (string, error) {
	var b strings.Builder
	for _, k := range d.store.Keys() {
		v := d.store.Get(k, nil)
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}
	b.WriteString("END")
	return b.String(), nil
}

func (d *Dispatcher) handleCreateCache(tokens []string) (string, error) {
	if !d.caches.CreateCache(tokens[1]) {
		return "", fmt.Errorf("cache already exists: %s", tokens[1])
	}
	return "OK", nil
}

func (d *Dispatcher) handleDeleteCache(tokens []string) (string, error) {
	if !d.caches.DeleteCache(tokens[1]) {
		return "", fmt.Errorf("cache not found: %s", tokens[1])
	}
	return "OK", nil
}

func (d *Dispatcher) handleListCaches(tokens []string) (string, error) {
	names := d.caches.ListCaches()
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %d", name, d.caches.CacheSize(name))
	}
	return b.String(), nil
}

// handleCacheSet implements spec.md's CACHEGETALL-round-trip
// restoration: a value that parses as JSON is decoded into its
// native shape before storage, so CACHEGETALL re-emits it as nested
// JSON rather than a quoted string.
func (d *Dispatcher) handleCacheSet(tokens []string) (string, error) {
	cache, key, raw := tokens[1], tokens[2], tokens[3]
	d.caches.Set(cache, key, decodeValue(raw), 0)
	return "OK", nil
}

// decodeValue parses raw as JSON when it looks like an object, array,
// number, or boolean, restoring CACHESET's value to its native shape
// so CACHEGETALL round-trips nested JSON instead of a quoted string.
// A bare word like "alice" isn't valid JSON on its own, so it falls
// through to the plain-string case unchanged.
func decodeValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}
	switch trimmed[0] {
	case '{', '[', 't', 'f', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return raw
}

func (d *Dispatcher) handleCacheGet(tokens []string) (string, error) {
	if !d.caches.CacheExists(tokens[1]) {
		return "", fmt.Errorf("cache not found: %s", tokens[1])
	}

	missing := &struct{}{}
	v := d.caches.Get(tokens[1], tokens[2], missing)
	if v == missing {
		return "NULL", nil
	}
	return renderValue(v), nil
}

func renderValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	default:
		body, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(body)
	}
}

func (d *Dispatcher) handleCacheDelete(tokens []string) (string, error) {
	if !d.caches.Delete(tokens[1], tokens[2]) {
		return "NULL", nil
	}
	return "OK", nil
}

func (d *Dispatcher) handleCacheKeys(tokens []string) (string, error) {
	keys := d.caches.CacheKeys(tokens[1])
	if len(keys) == 0 {
		return "(empty)", nil
	}
	return strings.Join(keys, "\n"), nil
}

// handleCacheGetAll reports a cache's contents as a JSON object in key
// order, using ": " and ", " separators to match json.dumps's default
// rendering (the original's http_server.py serializes this way).
// json.Marshal on a map would use compact separators and sort the
// keys, losing both, so the object is assembled by hand instead.
func (d *Dispatcher) handleCacheGetAll(tokens []string) (string, error) {
	items := d.caches.CacheItemsOrdered(tokens[1])

	var b strings.Builder
	b.WriteByte('{')
	for i, kv := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		keyJSON, err := json.Marshal(kv.Key)
		if err != nil {
			return "", fmt.Errorf("encoding cache contents: %w", err)
		}
		valueJSON, err := json.Marshal(kv.Value)
		if err != nil {
			return "", fmt.Errorf("encoding cache contents: %w", err)
		}
		b.Write(keyJSON)
		b.WriteString(": ")
		b.Write(valueJSON)
	}
	b.WriteByte('}')
	return b.String(), nil
}
