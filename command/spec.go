// Package command implements the declarative command-spec registry
// and validator: arity bounds, per-position type constraints, and
// usage strings for every recognized verb.
package command

import "sync"

// TokenType constrains a single argument position. Only Integer is
// ever actually checked; String means "no constraint."
type TokenType int

const (
	String TokenType = iota
	Integer
)

// Spec describes one verb's arity and per-position type constraints.
// Types[i] constrains the token at position i, where position 0 is
// the verb itself; Types[0] is never checked. A Spec with fewer Types
// entries than tokens leaves the remaining positions unconstrained.
type Spec struct {
	MinTokens int
	MaxTokens *int // nil means unbounded
	Usage     string
	Types     []TokenType
}

func bounded(n int) *int { return &n }

func defaultSpecs() map[string]Spec {
	return map[string]Spec{
		"PING":  {MinTokens: 1, MaxTokens: bounded(1), Usage: "PING"},
		"EXIT":  {MinTokens: 1, MaxTokens: bounded(1), Usage: "EXIT"},
		"ECHO":  {MinTokens: 2, MaxTokens: nil, Usage: "ECHO message ..."},
		"SET":   {MinTokens: 3, MaxTokens: bounded(3), Usage: "SET key value"},
		"GET":   {MinTokens: 2, MaxTokens: bounded(2), Usage: "GET key"},
		"DEL":   {MinTokens: 2, MaxTokens: bounded(2), Usage: "DEL key"},
		"LPOP":  {MinTokens: 2, MaxTokens: bounded(2), Usage: "LPOP key"},
		"EXPIRE": {
			MinTokens: 3, MaxTokens: bounded(3), Usage: "EXPIRE key seconds",
			Types: []TokenType{String, String, Integer},
		},
		"LPUSH":       {MinTokens: 3, MaxTokens: bounded(3), Usage: "LPUSH key value"},
		"RPUSH":       {MinTokens: 3, MaxTokens: bounded(3), Usage: "RPUSH key value"},
		"INSPECT":     {MinTokens: 1, MaxTokens: bounded(1), Usage: "INSPECT"},
		"CREATECACHE": {MinTokens: 2, MaxTokens: bounded(2), Usage: "CREATECACHE name"},
		"DELETECACHE": {MinTokens: 2, MaxTokens: bounded(2), Usage: "DELETECACHE name"},
		"LISTCACHES":  {MinTokens: 1, MaxTokens: bounded(1), Usage: "LISTCACHES"},
		"CACHESET":    {MinTokens: 4, MaxTokens: bounded(4), Usage: "CACHESET cache key value"},
		"CACHEGET":    {MinTokens: 3, MaxTokens: bounded(3), Usage: "CACHEGET cache key"},
		"CACHEDEL":    {MinTokens: 3, MaxTokens: bounded(3), Usage: "CACHEDEL cache key"},
		"CACHEKEYS":   {MinTokens: 2, MaxTokens: bounded(2), Usage: "CACHEKEYS cache"},
		"CACHEGETALL": {MinTokens: 2, MaxTokens: bounded(2), Usage: "CACHEGETALL cache"},
	}
}

// Registry holds one Spec per verb, keyed by its uppercased name. The
// built-in table is fixed at construction but can be extended at
// runtime via RegisterCommand — useful for tests that need a verb the
// built-in table doesn't carry.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry returns a Registry seeded with every built-in verb.
func NewRegistry() *Registry {
	return &Registry{specs: defaultSpecs()}
}

// Lookup returns the Spec for verb (already uppercased by the
// caller) and whether it is registered.
func (r *Registry) Lookup(verb string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[verb]
	return spec, ok
}

// RegisterCommand adds or overwrites the spec for verb.
func (r *Registry) RegisterCommand(verb string, spec Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[verb] = spec
}

// Usage returns the usage string for verb, or an unknown-command
// message if it isn't registered.
func (r *Registry) Usage(verb string) string {
	spec, ok := r.Lookup(verb)
	if !ok {
		return "Unknown command: " + verb
	}
	return spec.Usage
}
