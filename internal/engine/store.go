package engine

import (
	"sort"
	"strings"
	"sync"

	"github.com/kingrea/reefcomp/internal/composite"
)

type storeKey struct {
	region    string
	reference composite.Reference
}

// Store holds the current composite of every region and reference tier.
// Publishing a new composite for the same pair replaces the old one
// wholesale, and its handle stops resolving.
type Store struct {
	mu       sync.RWMutex
	byHandle map[string]*composite.Composite
	current  map[storeKey]string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		byHandle: make(map[string]*composite.Composite),
		current:  make(map[storeKey]string),
	}
}

// Put publishes c under handle and returns the handle it replaced, if any.
func (s *Store) Put(handle string, c *composite.Composite) string {
	key := storeKey{region: strings.ToLower(c.Region), reference: c.Reference}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current[key]
	if prev != "" {
		delete(s.byHandle, prev)
	}
	s.byHandle[handle] = c
	s.current[key] = handle
	return prev
}

// Get resolves a composite handle.
func (s *Store) Get(handle string) (*composite.Composite, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byHandle[handle]
	return c, ok
}

// Current returns the live composite for region and reference.
func (s *Store) Current(region string, ref composite.Reference) (*composite.Composite, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	handle, ok := s.current[storeKey{region: strings.ToLower(region), reference: ref}]
	if !ok {
		return nil, false
	}
	return s.byHandle[handle], true
}

// Handles lists live handles in sorted order.
func (s *Store) Handles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byHandle))
	for h := range s.byHandle {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
