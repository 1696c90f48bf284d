// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rtc

import (
	"sync"

	"github.com/plainclass/plain-rtc/pkg/rtc/types"
)

type roomStates struct {
	lock   sync.RWMutex
	states map[string]types.ParticipantState
}

// ParticipantStateStore keeps per-participant media state. An entry can only
// be written for a current member of the room in the registry.
type ParticipantStateStore struct {
	registry *RoomRegistry

	lock  sync.RWMutex
	rooms map[string]*roomStates
}

func NewParticipantStateStore(registry *RoomRegistry) *ParticipantStateStore {
	return &ParticipantStateStore{
		registry: registry,
		rooms:    make(map[string]*roomStates),
	}
}

func (s *ParticipantStateStore) getOrCreateRoom(roomID string) *roomStates {
	s.lock.RLock()
	rs, ok := s.rooms[roomID]
	s.lock.RUnlock()
	if ok {
		return rs
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if rs, ok = s.rooms[roomID]; ok {
		return rs
	}
	rs = &roomStates{states: make(map[string]types.ParticipantState)}
	s.rooms[roomID] = rs
	return rs
}

func (s *ParticipantStateStore) getRoom(roomID string) *roomStates {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.rooms[roomID]
}

// Upsert fails with ErrNotAParticipant for non-members. The write happens
// while membership is held, so it cannot outlive a concurrent Drop.
func (s *ParticipantStateStore) Upsert(roomID, participantID, displayName string, muted, videoOff bool) error {
	return s.registry.WithMember(roomID, participantID, func() {
		rs := s.getOrCreateRoom(roomID)
		rs.lock.Lock()
		rs.states[participantID] = types.ParticipantState{
			RoomID:        roomID,
			ParticipantID: participantID,
			DisplayName:   displayName,
			Muted:         muted,
			VideoOff:      videoOff,
		}
		rs.lock.Unlock()
	})
}

func (s *ParticipantStateStore) Get(roomID, participantID string) (types.ParticipantState, bool) {
	rs := s.getRoom(roomID)
	if rs == nil {
		return types.ParticipantState{}, false
	}
	rs.lock.RLock()
	defer rs.lock.RUnlock()
	state, ok := rs.states[participantID]
	return state, ok
}

// List returns states in registry join order, skipping participants without an entry.
func (s *ParticipantStateStore) List(roomID string) ([]types.ParticipantState, error) {
	ids, err := s.registry.List(roomID)
	if err != nil {
		return nil, err
	}

	states := make([]types.ParticipantState, 0, len(ids))
	rs := s.getRoom(roomID)
	if rs == nil {
		return states, nil
	}

	rs.lock.RLock()
	defer rs.lock.RUnlock()
	for _, id := range ids {
		if state, ok := rs.states[id]; ok {
			states = append(states, state)
		}
	}
	return states, nil
}

func (s *ParticipantStateStore) RemoveOne(roomID, participantID string) {
	rs := s.getRoom(roomID)
	if rs == nil {
		return
	}
	rs.lock.Lock()
	delete(rs.states, participantID)
	rs.lock.Unlock()
}

// RemoveAll is final only after the room is dropped from the registry.
func (s *ParticipantStateStore) RemoveAll(roomID string) {
	s.lock.Lock()
	delete(s.rooms, roomID)
	s.lock.Unlock()
}

func (s *ParticipantStateStore) HasRoom(roomID string) bool {
	return s.getRoom(roomID) != nil
}
