package cachemgr

import (
	"encoding/json"
	"regexp"

	"github.com/gobwas/glob"
	"github.com/tidwall/gjson"
)

// Predicate reports whether a (key, value) pair matches a search.
type Predicate func(key string, value any) bool

// Search returns every (key, value) pair in cacheName for which
// predicate is truthy, in the cache's key order. It returns nil if
// the cache doesn't exist.
func (m *Manager) Search(cacheName string, predicate Predicate) []KV {
	inner, ok := m.innerStore(cacheName)
	if !ok {
		return nil
	}

	var out []KV
	for _, key := range inner.Keys() {
		missing := &struct{}{}
		value := inner.Get(key, missing)
		if value == missing {
			continue // expired between Keys() and Get()
		}
		if predicate(key, value) {
			out = append(out, KV{Key: key, Value: value})
		}
	}
	return out
}

// KV is a single search result.
type KV struct {
	Key   string
	Value any
}

// SearchByPattern matches keys against a glob (Unix shell-style: *,
// ?, […]) or, when regex is true, a regular expression. An empty
// pattern matches every key.
func (m *Manager) SearchByPattern(cacheName, pattern string, regex bool) ([]KV, error) {
	if pattern == "" {
		return m.Search(cacheName, func(string, any) bool { return true }), nil
	}

	if regex {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return m.Search(cacheName, func(k string, _ any) bool { return re.MatchString(k) }), nil
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return m.Search(cacheName, func(k string, _ any) bool { return g.Match(k) }), nil
}

// SearchJSONPath matches values by navigating a dotted path with "*"
// wildcards matching any key at that level. A value matches if the
// path resolves to something defined. Values are matched by marshaling
// to JSON and evaluating the path with gjson, so the path follows
// gjson's syntax: a numeric component indexes into an array (an array
// intermediate node can therefore match), "*" and "?" inside a
// component glob-match key names, and gjson's other special
// characters keep their gjson meaning. Scalar intermediate nodes are
// a non-match.
func (m *Manager) SearchJSONPath(cacheName, dottedPath string) []KV {
	return m.Search(cacheName, func(_ string, v any) bool {
		body, err := json.Marshal(v)
		if err != nil {
			return false
		}
		return gjson.GetBytes(body, dottedPath).Exists()
	})
}

// FindByValue returns the keys whose value matches template: for
// mappings, every template key must exist in the stored value and
// match recursively; for scalars, equality.
func (m *Manager) FindByValue(cacheName string, template any) []string {
	matches := m.Search(cacheName, func(_ string, v any) bool {
		return matchTemplate(template, v)
	})
	keys := make([]string, len(matches))
	for i, kv := range matches {
		keys[i] = kv.Key
	}
	return keys
}

func matchTemplate(template, value any) bool {
	tmap, tIsMap := template.(map[string]any)
	if !tIsMap {
		return template == value
	}
	vmap, vIsMap := value.(map[string]any)
	if !vIsMap {
		return false
	}
	for k, tv := range tmap {
		vv, ok := vmap[k]
		if !ok || !matchTemplate(tv, vv) {
			return false
		}
	}
	return true
}
