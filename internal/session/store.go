package session

import (
	"sync"
	"time"
)

// record holds the state for a single session: its fields plus the last
// time any write touched it.
type record struct {
	fields      map[string]any
	lastTouched time.Time
}

// Store keeps all live sessions in memory behind a single RWMutex. Every
// write (Touch, SetField) refreshes the session's activity timestamp;
// reads never create sessions and never refresh activity, so a client
// that only polls cannot keep its session alive forever.
//
// State is process-local and lost on restart. Clients recover by starting
// a fresh session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*record
	now      func() time.Time // swapped out in tests
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*record),
		now:      time.Now,
	}
}

// Touch marks the session as active, creating it with no fields if it does
// not exist. Existing fields are preserved.
func (s *Store) Touch(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		rec = &record{fields: make(map[string]any)}
		s.sessions[sessionID] = rec
	}
	rec.lastTouched = s.now()
}

// SetField stores value under field for the session, creating the session
// if it does not exist, and marks the session as active. Setting the same
// field again overwrites the previous value.
func (s *Store) SetField(sessionID, field string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		rec = &record{fields: make(map[string]any)}
		s.sessions[sessionID] = rec
	}
	rec.fields[field] = value
	rec.lastTouched = s.now()
}

// GetField returns the value stored under field for the session. The
// second return is false when the session does not exist or the field was
// never set. Absence is not an error: pollers call this repeatedly until
// the writer shows up.
func (s *Store) GetField(sessionID, field string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	v, ok := rec.fields[field]
	if !ok {
		return nil, false
	}
	return v, true
}

// GetString is GetField narrowed to string values. It returns ("", false)
// when the field is missing or holds a non-string.
func (s *Store) GetString(sessionID, field string) (string, bool) {
	v, ok := s.GetField(sessionID, field)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	if !ok {
		return "", false
	}
	return str, true
}

// GetBool is GetField narrowed to bool values. It returns (false, false)
// when the field is missing or holds a non-bool.
func (s *Store) GetBool(sessionID, field string) (bool, bool) {
	v, ok := s.GetField(sessionID, field)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	if !ok {
		return false, false
	}
	return b, true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}

// sweep removes every session whose last activity is strictly before
// cutoff and returns the number removed. A session touched exactly at the
// cutoff survives.
func (s *Store) sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.sessions {
		if rec.lastTouched.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
