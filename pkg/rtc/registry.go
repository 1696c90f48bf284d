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
	"time"

	"github.com/elliotchance/orderedmap/v2"
)

type roomMembers struct {
	lock sync.RWMutex
	// set once the room is dropped; holders of a stale pointer must not mutate it
	dead    bool
	members *orderedmap.OrderedMap[string, time.Time]
}

// RoomRegistry tracks which participants are in which room, in join order.
// The registry lock guards the room map only; each room has its own lock so
// activity in one room never blocks another.
type RoomRegistry struct {
	lock  sync.RWMutex
	rooms map[string]*roomMembers
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]*roomMembers),
	}
}

// Create is a no-op when the room already exists.
func (r *RoomRegistry) Create(roomID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.rooms[roomID]; ok {
		return
	}
	r.rooms[roomID] = &roomMembers{
		members: orderedmap.NewOrderedMap[string, time.Time](),
	}
}

func (r *RoomRegistry) getRoom(roomID string) (*roomMembers, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	m, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return m, nil
}

func (r *RoomRegistry) Add(roomID, participantID string) error {
	m, err := r.getRoom(roomID)
	if err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.dead {
		return ErrRoomNotFound
	}
	if _, ok := m.members.Get(participantID); ok {
		return ErrAlreadyJoined
	}
	m.members.Set(participantID, time.Now())
	return nil
}

// Remove is a no-op for non-members.
func (r *RoomRegistry) Remove(roomID, participantID string) error {
	m, err := r.getRoom(roomID)
	if err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.dead {
		return ErrRoomNotFound
	}
	m.members.Delete(participantID)
	return nil
}

func (r *RoomRegistry) List(roomID string) ([]string, error) {
	m, err := r.getRoom(roomID)
	if err != nil {
		return nil, err
	}

	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.dead {
		return nil, ErrRoomNotFound
	}
	return m.members.Keys(), nil
}

func (r *RoomRegistry) IsMember(roomID, participantID string) (bool, error) {
	m, err := r.getRoom(roomID)
	if err != nil {
		return false, err
	}

	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.dead {
		return false, ErrRoomNotFound
	}
	_, ok := m.members.Get(participantID)
	return ok, nil
}

// WithMember runs f while the participant's membership is held stable.
// Drop waits for f to return. f must not call back into the registry.
func (r *RoomRegistry) WithMember(roomID, participantID string, f func()) error {
	m, err := r.getRoom(roomID)
	if err != nil {
		return err
	}

	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.dead {
		return ErrRoomNotFound
	}
	if _, ok := m.members.Get(participantID); !ok {
		return ErrNotAParticipant
	}
	f()
	return nil
}

func (r *RoomRegistry) JoinedAt(roomID, participantID string) (time.Time, error) {
	m, err := r.getRoom(roomID)
	if err != nil {
		return time.Time{}, err
	}

	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.dead {
		return time.Time{}, ErrRoomNotFound
	}
	joinedAt, ok := m.members.Get(participantID)
	if !ok {
		return time.Time{}, ErrNotAParticipant
	}
	return joinedAt, nil
}

func (r *RoomRegistry) IsEmpty(roomID string) (bool, error) {
	m, err := r.getRoom(roomID)
	if err != nil {
		return false, err
	}

	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.dead {
		return false, ErrRoomNotFound
	}
	return m.members.Len() == 0, nil
}

func (r *RoomRegistry) Drop(roomID string) error {
	r.lock.Lock()
	m, ok := r.rooms[roomID]
	delete(r.rooms, roomID)
	r.lock.Unlock()
	if !ok {
		return ErrRoomNotFound
	}

	m.lock.Lock()
	m.dead = true
	m.members = orderedmap.NewOrderedMap[string, time.Time]()
	m.lock.Unlock()
	return nil
}

func (r *RoomRegistry) Rooms() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}
