package session

import (
	"maps"
	"sync"

	"github.com/voxline-ai/voxline/pkg/transport"
)

// Snapshot is an immutable view of the shared session context at one point
// in time.
type Snapshot struct {
	// SessionID is the externally-assigned session identifier, if any.
	SessionID string

	// Research is the opaque research/user context blob forwarded verbatim
	// with the session handshake.
	Research map[string]any

	// Location is the cached geolocation pair, if known.
	Location *transport.LatLng
}

// ContextStore is the cross-cutting session context shared between the voice
// client and its host collaborators. Instead of a mutable global, the store
// is passed explicitly into the client configuration and exposes an explicit
// snapshot-and-subscribe boundary: readers take consistent snapshots,
// observers register for change notifications.
//
// Safe for concurrent use. Subscribers are invoked synchronously on the
// mutating goroutine and must not block.
type ContextStore struct {
	mu     sync.Mutex
	snap   Snapshot
	subs   map[int]func(Snapshot)
	nextID int
}

// NewContextStore creates an empty store.
func NewContextStore() *ContextStore {
	return &ContextStore{subs: make(map[int]func(Snapshot))}
}

// Snapshot returns a copy of the current context. The research map is cloned
// so callers cannot mutate shared state through it.
func (s *ContextStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneLocked()
}

// Subscribe registers fn for change notifications and returns a cancel
// function. fn is immediately invoked once with the current snapshot so
// subscribers never start stale.
func (s *ContextStore) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	snap := s.cloneLocked()
	s.mu.Unlock()

	fn(snap)

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// SetSessionID updates the session identifier and notifies subscribers.
func (s *ContextStore) SetSessionID(id string) {
	s.mu.Lock()
	s.snap.SessionID = id
	s.notifyLocked()
}

// SetResearch replaces the research blob and notifies subscribers.
func (s *ContextStore) SetResearch(research map[string]any) {
	s.mu.Lock()
	s.snap.Research = maps.Clone(research)
	s.notifyLocked()
}

// SetLocation updates the cached geolocation and notifies subscribers.
func (s *ContextStore) SetLocation(loc transport.LatLng) {
	s.mu.Lock()
	s.snap.Location = &loc
	s.notifyLocked()
}

// notifyLocked snapshots the subscriber list, releases the lock, and fans the
// new snapshot out. Callers must hold s.mu.
func (s *ContextStore) notifyLocked() {
	snap := s.cloneLocked()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (s *ContextStore) cloneLocked() Snapshot {
	snap := s.snap
	snap.Research = maps.Clone(s.snap.Research)
	if s.snap.Location != nil {
		loc := *s.snap.Location
		snap.Location = &loc
	}
	return snap
}
