// Package framestore holds the frames published by the progressive loader.
// One goroutine writes; any number read.
package framestore

import (
	"image"
	"sync"
	"time"
)

// Record is one published frame.
type Record struct {
	Index     int
	Image     *image.Gray
	Raw       []byte // stored sample bytes, nil when unavailable
	DecodedAt time.Time
}

// Store maps frame indices to published records.
type Store struct {
	mu      sync.RWMutex
	session string
	frames  map[int]Record
}

// New creates an empty store.
func New() *Store {
	return &Store{frames: make(map[int]Record)}
}

// Reset empties the store and binds it to session.
func (s *Store) Reset(session string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	clear(s.frames)
}

// Session returns the session the store is bound to.
func (s *Store) Session() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Put publishes a frame. Records for another session are dropped and Put
// reports false.
func (s *Store) Put(session string, r Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session != s.session {
		return false
	}
	if r.DecodedAt.IsZero() {
		r.DecodedAt = time.Now()
	}
	s.frames[r.Index] = r
	return true
}

// IsFrameReady reports whether index has been published.
func (s *Store) IsFrameReady(index int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.frames[index]
	return ok
}

// Frame returns the published bitmap for index.
func (s *Store) Frame(index int) (*image.Gray, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.frames[index]
	return r.Image, ok
}

// Record returns the full published record for index.
func (s *Store) Record(index int) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.frames[index]
	return r, ok
}

// OriginalData returns the raw sample bytes for index, if any were stored.
func (s *Store) OriginalData(index int) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.frames[index]
	if !ok || r.Raw == nil {
		return nil, false
	}
	return r.Raw, true
}

// Len returns the number of published frames.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}
