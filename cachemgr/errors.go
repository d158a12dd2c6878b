package cachemgr

import "errors"

// Sentinel errors naming the manager's failure conditions. The
// Manager's own methods report these conditions as boolean or default
// results (CreateCache returns false for a taken name, Get returns the
// caller's default, and so on) and do not return these values.
var (
	// ErrAlreadyExists names the condition of creating a cache whose
	// name is taken.
	ErrAlreadyExists = errors.New("cachemgr: cache already exists")
	// ErrNotFound names the condition of a named cache not existing.
	ErrNotFound = errors.New("cachemgr: cache not found")
	// ErrKeyNotFound names the condition of a key not existing in a
	// cache that itself exists.
	ErrKeyNotFound = errors.New("cachemgr: key not found")
)
