// Package store holds the canonical in-memory collections of approval
// requests and notifies subscribers after every change.
package store

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bturcanu/fleetgov/pkg/governance"
)

// Listener is invoked once per completed mutation, after the new collection
// is in place. Listeners run synchronously on the mutating goroutine and
// must not call Mutate or Insert themselves.
type Listener func()

// UpdateFunc derives a new record from the current one. Returning an error
// aborts the mutation.
type UpdateFunc func(governance.ApprovalRequest) (governance.ApprovalRequest, error)

type listenerEntry struct {
	id uint64
	fn Listener
}

type collection struct {
	requests []governance.ApprovalRequest
	version  uint64
}

// Store owns the bus and route collections. Collections are replaced
// wholesale on every change (copy-on-write), so a slice returned by
// Snapshot is never written to afterwards.
type Store struct {
	// writeMu serializes mutations together with their notifications.
	writeMu sync.Mutex

	mu          sync.RWMutex
	collections map[governance.Kind]*collection
	listeners   []listenerEntry
	nextID      uint64

	log *slog.Logger
}

// New creates an empty store. A nil logger falls back to slog.Default.
func New(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		collections: make(map[governance.Kind]*collection, len(governance.Kinds)),
		log:         log,
	}
	for _, k := range governance.Kinds {
		s.collections[k] = &collection{requests: []governance.ApprovalRequest{}}
	}
	return s
}

// Snapshot returns the current collection for kind. Between mutations of
// that collection every call returns the same slice. Callers must treat it
// as read-only. Unknown kinds yield nil.
func (s *Store) Snapshot(kind governance.Kind) []governance.ApprovalRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[kind]
	if !ok {
		return nil
	}
	return c.requests
}

// Version returns a counter that increases with every change to kind.
func (s *Store) Version(kind governance.Kind) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[kind]; ok {
		return c.version
	}
	return 0
}

// Get returns the request with id from kind.
func (s *Store) Get(kind governance.Kind, id string) (governance.ApprovalRequest, bool) {
	for _, r := range s.Snapshot(kind) {
		if r.ID == id {
			return r, true
		}
	}
	return governance.ApprovalRequest{}, false
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			kept := make([]listenerEntry, 0, len(s.listeners))
			for _, l := range s.listeners {
				if l.id != id {
					kept = append(kept, l)
				}
			}
			s.listeners = kept
		})
	}
}

// Mutate applies update to the request with id in kind, swaps in a new
// collection holding the result, then notifies every listener in
// registration order. When the id is absent, or update fails or panics,
// the store is left untouched and nobody is notified.
func (s *Store) Mutate(kind governance.Kind, id string, update UpdateFunc) (governance.ApprovalRequest, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	c, ok := s.collections[kind]
	var current []governance.ApprovalRequest
	if ok {
		current = c.requests
	}
	s.mu.RUnlock()
	if !ok {
		return governance.ApprovalRequest{}, fmt.Errorf("store.Mutate: %w %q", governance.ErrUnknownKind, kind)
	}

	idx := -1
	for i := range current {
		if current[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return governance.ApprovalRequest{}, fmt.Errorf("store.Mutate %s %s: %w", kind, id, governance.ErrNotFound)
	}

	updated, err := applyUpdate(update, current[idx])
	if err != nil {
		return governance.ApprovalRequest{}, err
	}
	if updated.ID != id {
		return governance.ApprovalRequest{}, fmt.Errorf("store.Mutate: %w: update changed id %q to %q", governance.ErrMutationAborted, id, updated.ID)
	}

	next := make([]governance.ApprovalRequest, len(current))
	copy(next, current)
	next[idx] = updated

	s.commit(kind, next)
	return updated, nil
}

// Insert appends a new request to kind and notifies listeners. Ids must be
// unique within the collection.
func (s *Store) Insert(kind governance.Kind, req governance.ApprovalRequest) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	c, ok := s.collections[kind]
	var current []governance.ApprovalRequest
	if ok {
		current = c.requests
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("store.Insert: %w %q", governance.ErrUnknownKind, kind)
	}
	if req.ID == "" {
		return fmt.Errorf("store.Insert: %w: id is required", governance.ErrInvalidInput)
	}
	for i := range current {
		if current[i].ID == req.ID {
			return fmt.Errorf("store.Insert %s %s: %w", kind, req.ID, governance.ErrConflict)
		}
	}

	next := make([]governance.ApprovalRequest, len(current), len(current)+1)
	copy(next, current)
	next = append(next, req)

	s.commit(kind, next)
	return nil
}

// commit installs next as the collection for kind and fans out to
// listeners. Callers hold writeMu.
func (s *Store) commit(kind governance.Kind, next []governance.ApprovalRequest) {
	s.mu.Lock()
	c := s.collections[kind]
	c.requests = next
	c.version++
	listeners := make([]listenerEntry, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		s.notify(l)
	}
}

func (s *Store) notify(l listenerEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("store listener panicked", "listener_id", l.id, "panic", r)
		}
	}()
	l.fn()
}

func applyUpdate(update UpdateFunc, current governance.ApprovalRequest) (updated governance.ApprovalRequest, err error) {
	defer func() {
		if r := recover(); r != nil {
			updated = governance.ApprovalRequest{}
			err = fmt.Errorf("store.Mutate: %w: %v", governance.ErrMutationAborted, r)
		}
	}()
	return update(current)
}
