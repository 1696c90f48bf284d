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
	"sync"

	"github.com/plainclass/plain-rtc/pkg/rtc/types"
)

type sessionKey struct {
	protocol types.Protocol
	roomID   string
}

type roomSessions struct {
	// connectionID => sink
	sinks map[string]types.MessageSink
	// participantID => number of live connections
	participants map[string]int
}

// SessionIndex tracks live sockets per (protocol, room) so that broadcasts
// only touch the members of one room.
type SessionIndex struct {
	lock  sync.RWMutex
	rooms map[sessionKey]*roomSessions
}

func NewSessionIndex() *SessionIndex {
	return &SessionIndex{
		rooms: make(map[sessionKey]*roomSessions),
	}
}

// Add reports whether sink is the participant's first connection in the room.
func (s *SessionIndex) Add(protocol types.Protocol, roomID string, sink types.MessageSink) bool {
	key := sessionKey{protocol, roomID}
	s.lock.Lock()
	defer s.lock.Unlock()

	rs := s.rooms[key]
	if rs == nil {
		rs = &roomSessions{
			sinks:        make(map[string]types.MessageSink),
			participants: make(map[string]int),
		}
		s.rooms[key] = rs
	}
	if _, ok := rs.sinks[sink.ConnectionID()]; ok {
		return false
	}
	rs.sinks[sink.ConnectionID()] = sink
	rs.participants[sink.ParticipantID()]++
	return rs.participants[sink.ParticipantID()] == 1
}

// Remove reports whether sink was indexed and whether it was the participant's
// last connection in the room.
func (s *SessionIndex) Remove(protocol types.Protocol, roomID string, sink types.MessageSink) (removed bool, last bool) {
	key := sessionKey{protocol, roomID}
	s.lock.Lock()
	defer s.lock.Unlock()

	rs := s.rooms[key]
	if rs == nil {
		return false, false
	}
	if _, ok := rs.sinks[sink.ConnectionID()]; !ok {
		return false, false
	}
	delete(rs.sinks, sink.ConnectionID())

	pid := sink.ParticipantID()
	rs.participants[pid]--
	if rs.participants[pid] <= 0 {
		delete(rs.participants, pid)
		last = true
	}
	if len(rs.sinks) == 0 {
		delete(s.rooms, key)
	}
	return true, last
}

func (s *SessionIndex) Snapshot(protocol types.Protocol, roomID string) []types.MessageSink {
	s.lock.RLock()
	defer s.lock.RUnlock()

	rs := s.rooms[sessionKey{protocol, roomID}]
	if rs == nil {
		return nil
	}
	sinks := make([]types.MessageSink, 0, len(rs.sinks))
	for _, sink := range rs.sinks {
		sinks = append(sinks, sink)
	}
	return sinks
}

func (s *SessionIndex) ParticipantSinks(protocol types.Protocol, roomID, participantID string) []types.MessageSink {
	s.lock.RLock()
	defer s.lock.RUnlock()

	rs := s.rooms[sessionKey{protocol, roomID}]
	if rs == nil || rs.participants[participantID] == 0 {
		return nil
	}
	var sinks []types.MessageSink
	for _, sink := range rs.sinks {
		if sink.ParticipantID() == participantID {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}

func (s *SessionIndex) Count(protocol types.Protocol, roomID string) int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if rs := s.rooms[sessionKey{protocol, roomID}]; rs != nil {
		return len(rs.sinks)
	}
	return 0
}

func (s *SessionIndex) ParticipantConnections(protocol types.Protocol, roomID, participantID string) int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if rs := s.rooms[sessionKey{protocol, roomID}]; rs != nil {
		return rs.participants[participantID]
	}
	return 0
}

func (s *SessionIndex) Rooms(protocol types.Protocol) []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	var ids []string
	for key := range s.rooms {
		if key.protocol == protocol {
			ids = append(ids, key.roomID)
		}
	}
	return ids
}

// CloseRoom unindexes every socket of the room and returns them for the caller to close.
func (s *SessionIndex) CloseRoom(protocol types.Protocol, roomID string) []types.MessageSink {
	key := sessionKey{protocol, roomID}
	s.lock.Lock()
	rs := s.rooms[key]
	delete(s.rooms, key)
	s.lock.Unlock()

	if rs == nil {
		return nil
	}
	sinks := make([]types.MessageSink, 0, len(rs.sinks))
	for _, sink := range rs.sinks {
		sinks = append(sinks, sink)
	}
	return sinks
}
