package store

import (
	"sync"

	"github.com/rankland/broadcast-hub/internal/core"
)

// ShotStore is the process-local registry of shot source state, keyed
// by (alias, shotID). Unlike broadcaster state it is not durable and
// is lost on restart; shots reconnect and re-confirm on their own.
type ShotStore struct {
	mu     sync.RWMutex
	states map[string]map[string]*core.BroadcastState
}

func NewShotStore() *ShotStore {
	return &ShotStore{
		states: make(map[string]map[string]*core.BroadcastState),
	}
}

func (s *ShotStore) Set(alias, shotID string, state *core.BroadcastState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shots := s.states[alias]
	if shots == nil {
		shots = make(map[string]*core.BroadcastState)
		s.states[alias] = shots
	}
	shots[shotID] = state.Clone()
}

// Get returns a copy of the stored state; callers mutate it freely
// and write the result back with Set.
func (s *ShotStore) Get(alias, shotID string) *core.BroadcastState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := s.states[alias][shotID]
	if state == nil {
		return nil
	}
	return state.Clone()
}

// GetAll returns a snapshot of every shot's state for an alias.
func (s *ShotStore) GetAll(alias string) map[string]*core.BroadcastState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]*core.BroadcastState, len(s.states[alias]))
	for shotID, state := range s.states[alias] {
		snapshot[shotID] = state.Clone()
	}
	return snapshot
}

func (s *ShotStore) Delete(alias, shotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states[alias], shotID)
	if len(s.states[alias]) == 0 {
		delete(s.states, alias)
	}
}
