package cachemgr

import (
	"sync"
	"time"
)

// Event identifies the kind of change an observer can subscribe to.
// The manager only ever emits the kinds listed below; On accepts any
// Event value, but a registration for a kind outside this list is
// never triggered.
type Event string

const (
	EventGet         Event = "get"
	EventSet         Event = "set"
	EventDelete      Event = "delete"
	EventExpire      Event = "expire"
	EventClear       Event = "clear"
	EventCreateCache Event = "create_cache"
	EventDeleteCache Event = "delete_cache"
)

// EventContext carries everything an observer might need about a
// single occurrence of an Event.
type EventContext struct {
	CacheName string
	Key       string // empty when the event isn't key-scoped
	NewValue  any
	OldValue  any
	Kind      Event
	Timestamp time.Time
}

// Callback is a user-supplied observer. A panicking callback is
// isolated by the event bus: it never reaches the triggering
// operation and never prevents other observers from running.
//
// Callbacks run synchronously on the goroutine of the triggering
// operation, after that operation has released the manager's and the
// store's locks. Callbacks MUST NOT call back into the manager's
// mutating methods (Set, Delete, ClearCache, DeleteCache, ...) on the
// cache they are observing: the nested call runs inside the outer one
// and triggers its own events in turn. If a callback
// needs to mutate state, it must hand the work to a separate
// goroutine instead.
type Callback func(EventContext)

type handlerSet map[*Callback]Callback

type eventBus struct {
	mu      sync.RWMutex
	scoped  map[scopedKey]handlerSet
	global  map[Event]handlerSet
}

type scopedKey struct {
	cache string
	kind  Event
}

func newEventBus() *eventBus {
	return &eventBus{
		scoped: make(map[scopedKey]handlerSet),
		global: make(map[Event]handlerSet),
	}
}

// on registers cb for kind, scoped to cacheName if non-empty or
// global otherwise. It returns a handle usable with off.
func (b *eventBus) on(kind Event, cacheName string, cb Callback) *Callback {
	handle := &cb
	b.mu.Lock()
	defer b.mu.Unlock()

	if cacheName != "" {
		key := scopedKey{cacheName, kind}
		set, ok := b.scoped[key]
		if !ok {
			set = make(handlerSet)
			b.scoped[key] = set
		}
		set[handle] = cb
		return handle
	}

	set, ok := b.global[kind]
	if !ok {
		set = make(handlerSet)
		b.global[kind] = set
	}
	set[handle] = cb
	return handle
}

// off removes a previously registered handle. It reports false,
// rather than erroring, when the handle is not (or no longer)
// registered.
func (b *eventBus) off(kind Event, cacheName string, handle *Callback) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	var set handlerSet
	var ok bool
	if cacheName != "" {
		set, ok = b.scoped[scopedKey{cacheName, kind}]
	} else {
		set, ok = b.global[kind]
	}
	if !ok {
		return false
	}
	if _, present := set[handle]; !present {
		return false
	}
	delete(set, handle)
	return true
}

// trigger delivers ctx to cache-scoped observers first, then global
// ones. Each observer runs under a recover guard so a panicking
// observer can't take down the caller.
func (b *eventBus) trigger(ctx EventContext) {
	b.mu.RLock()
	scoped := b.scoped[scopedKey{ctx.CacheName, ctx.Kind}]
	global := b.global[ctx.Kind]
	handlers := make([]Callback, 0, len(scoped)+len(global))
	for _, cb := range scoped {
		handlers = append(handlers, cb)
	}
	for _, cb := range global {
		handlers = append(handlers, cb)
	}
	b.mu.RUnlock()

	for _, cb := range handlers {
		deliver(cb, ctx)
	}
}

func deliver(cb Callback, ctx EventContext) {
	defer func() { _ = recover() }()
	cb(ctx)
}
