// Package lockset provides mutexes keyed by string. Entries are reference
// counted and dropped once no caller holds or waits on them.
package lockset

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Set is a collection of keyed mutexes. The zero value is ready to use.
type Set struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Lock acquires the mutex for key and returns its unlock function.
func (s *Set) Lock(key string) (unlock func()) {
	s.mu.Lock()
	if s.entries == nil {
		s.entries = make(map[string]*entry)
	}
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			s.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(s.entries, key)
			}
			s.mu.Unlock()
		})
	}
}

// With runs fn while holding the mutex for key.
func (s *Set) With(key string, fn func() error) error {
	unlock := s.Lock(key)
	defer unlock()
	return fn()
}

// Len reports how many keys are currently held or awaited.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
