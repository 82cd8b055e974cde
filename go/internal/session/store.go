package session

import "sync"

// Store holds one session record: the authoritative copy on the relay, or a
// client's local mirror. Each setter replaces exactly one field; there is no
// cross-field transaction.
type Store struct {
	mu    sync.RWMutex
	state State
}

// NewStore creates a store seeded with the default session
func NewStore() *Store {
	return NewStoreWithState(Default())
}

// NewStoreWithState creates a store seeded with state
func NewStoreWithState(state State) *Store {
	return &Store{state: state.Clone()}
}

// Get returns a snapshot of the current session
func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Map returns the active map descriptor
func (s *Store) Map() MapDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.state.Map.Clone()
}

func (s *Store) update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Replace swaps the whole record, as on a session-state snapshot
func (s *Store) Replace(state State) {
	s.update(func(st *State) { *st = state.Clone() })
}

func (s *Store) SetGrid(grid GridSettings) {
	s.update(func(st *State) { st.Grid = *grid.Clone() })
}

func (s *Store) SetMap(m MapDescriptor) {
	s.update(func(st *State) { st.Map = *m.Clone() })
}

// SetMapWithGrid sets the active map and the session grid in one step
func (s *Store) SetMapWithGrid(m MapDescriptor, grid GridSettings) {
	s.update(func(st *State) {
		st.Map = *m.Clone()
		st.Grid = *grid.Clone()
	})
}

func (s *Store) SetArtwork(artwork *MapDescriptor) {
	s.update(func(st *State) { st.Artwork = artwork.Clone() })
}

func (s *Store) SetLocked(locked bool) {
	s.update(func(st *State) { st.Locked = locked })
}

func (s *Store) SetViewport(v ViewportState) {
	s.update(func(st *State) { st.Viewport = cloneViewport(&v) })
}

func (s *Store) SetTableViewport(v ViewportState) {
	s.update(func(st *State) { st.TableViewport = cloneViewport(&v) })
}

func (s *Store) SetTableSize(d Dimensions) {
	s.update(func(st *State) { st.TableSize = &d })
}
