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

package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/plainclass/plain-rtc/pkg/config"
	"github.com/plainclass/plain-rtc/pkg/rtc"
	"github.com/plainclass/plain-rtc/pkg/rtc/types"
)

// LocalRoomStore keeps everything in memory, used when redis is not configured.
type LocalRoomStore struct {
	historyLimit int64

	lock sync.RWMutex
	// map of roomID => room
	rooms map[string]*types.Room
	// map of roomID => participant ids in join order
	participants map[string][]string
	// map of roomID => { participantID: state }
	states map[string]map[string]types.ParticipantState
	chat   map[string][]types.MeetingChatMessage
}

func NewLocalRoomStore(conf config.RoomConfig) *LocalRoomStore {
	return &LocalRoomStore{
		historyLimit: conf.ChatHistoryLimit,
		rooms:        make(map[string]*types.Room),
		participants: make(map[string][]string),
		states:       make(map[string]map[string]types.ParticipantState),
		chat:         make(map[string][]types.MeetingChatMessage),
	}
}

func (s *LocalRoomStore) StoreRoom(_ context.Context, room *types.Room) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	stored := *room
	s.lock.Lock()
	s.rooms[room.ID] = &stored
	s.lock.Unlock()
	return nil
}

func (s *LocalRoomStore) LoadRoom(_ context.Context, roomID string) (*types.Room, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	room := s.rooms[roomID]
	if room == nil {
		return nil, rtc.ErrRoomNotFound
	}
	loaded := *room
	return &loaded, nil
}

func (s *LocalRoomStore) ListRooms(_ context.Context) ([]*types.Room, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	rooms := make([]*types.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		room := *r
		rooms = append(rooms, &room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms, nil
}

func (s *LocalRoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	if err := s.DeleteRoomState(ctx, roomID); err != nil {
		return err
	}
	s.lock.Lock()
	delete(s.rooms, roomID)
	s.lock.Unlock()
	return nil
}

func (s *LocalRoomStore) StoreParticipants(_ context.Context, roomID string, participantIDs []string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(participantIDs) == 0 {
		delete(s.participants, roomID)
		return nil
	}
	s.participants[roomID] = append([]string(nil), participantIDs...)
	return nil
}

func (s *LocalRoomStore) LoadParticipants(_ context.Context, roomID string) ([]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]string(nil), s.participants[roomID]...), nil
}

func (s *LocalRoomStore) StoreParticipantState(_ context.Context, state types.ParticipantState) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	roomStates := s.states[state.RoomID]
	if roomStates == nil {
		roomStates = make(map[string]types.ParticipantState)
		s.states[state.RoomID] = roomStates
	}
	roomStates[state.ParticipantID] = state
	return nil
}

func (s *LocalRoomStore) DeleteParticipantState(_ context.Context, roomID, participantID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if roomStates := s.states[roomID]; roomStates != nil {
		delete(roomStates, participantID)
	}
	return nil
}

func (s *LocalRoomStore) LoadParticipantStates(_ context.Context, roomID string) ([]types.ParticipantState, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	roomStates := s.states[roomID]
	items := make([]types.ParticipantState, 0, len(roomStates))
	for _, st := range roomStates {
		items = append(items, st)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ParticipantID < items[j].ParticipantID
	})
	return items, nil
}

func (s *LocalRoomStore) AppendChatMessage(_ context.Context, msg types.MeetingChatMessage) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	history := append(s.chat[msg.RoomID], msg)
	if s.historyLimit > 0 && int64(len(history)) > s.historyLimit {
		history = history[int64(len(history))-s.historyLimit:]
	}
	s.chat[msg.RoomID] = history
	return nil
}

func (s *LocalRoomStore) ListChatMessages(_ context.Context, roomID string) ([]types.MeetingChatMessage, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]types.MeetingChatMessage(nil), s.chat[roomID]...), nil
}

func (s *LocalRoomStore) DeleteRoomState(_ context.Context, roomID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.participants, roomID)
	delete(s.states, roomID)
	delete(s.chat, roomID)
	return nil
}
