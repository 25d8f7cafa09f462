// Package callctx is the rendezvous point for the asynchronous events
// that make up one telephone call.  The initial call handler, the live
// audio stream and later provider status callbacks all arrive
// independently carrying different identifiers; the store lets each of
// them reach the same shared record.
package callctx

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"clinic-frontdesk/pkg"
)

// ErrNotFound is returned when no context is registered under a key.
var ErrNotFound = errors.New("callctx: no context for key")

// Store maps every identifier ever assigned to a call onto one shared
// CallContext record.  Aliased keys observe each other's mutations;
// records are never copied.  Access is atomic per record, not globally
// serialized.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	ctx *pkg.CallContext
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Put registers a context under its first key.
func (s *Store) Put(key string, ctx *pkg.CallContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry{ctx: ctx}
}

// Alias registers an additional lookup key for an existing context,
// typically once the provider assigns its call id.  Both keys resolve to
// the same record afterwards.
func (s *Store) Alias(existingKey, newKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[existingKey]
	if !ok {
		return fmt.Errorf("alias %q: %w", existingKey, ErrNotFound)
	}
	s.entries[newKey] = e
	return nil
}

// Get returns the context registered under any of its keys.
func (s *Store) Get(key string) (*pkg.CallContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.ctx, true
}

// Update runs fn with exclusive access to the record behind key.  Use it
// for every lookup-then-mutate sequence, e.g. attaching the provider
// call id once it becomes known.
func (s *Store) Update(key string, fn func(*pkg.CallContext)) error {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("update %q: %w", key, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.ctx)
	return nil
}

// NewKey mints a context key from the call direction and a unique
// suffix (normally the communication-log row id).
func NewKey(direction pkg.CallDirection, suffix string) string {
	return string(direction) + "_" + suffix
}

// KeyFromLogID builds the suffix from a persisted call-log row id.
func KeyFromLogID(direction pkg.CallDirection, logID int64) string {
	return NewKey(direction, strconv.FormatInt(logID, 10))
}

// FallbackKey mints a time-based key for when writing the call log
// failed; a logging failure must never block call setup.
func FallbackKey(direction pkg.CallDirection) string {
	return NewKey(direction, strconv.FormatInt(time.Now().UnixNano(), 10))
}
