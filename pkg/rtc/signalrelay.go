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

	"github.com/gammazero/deque"
)

type signalRecord struct {
	lock       sync.Mutex
	offer      *string
	answer     *string
	candidates *deque.Deque[string]
}

// SignalingRelay stores the latest offer and answer per room, and every ICE
// candidate in arrival order, so that late joiners can catch up.
type SignalingRelay struct {
	lock    sync.RWMutex
	records map[string]*signalRecord
}

func NewSignalingRelay() *SignalingRelay {
	return &SignalingRelay{
		records: make(map[string]*signalRecord),
	}
}

func (s *SignalingRelay) getOrCreate(roomID string) *signalRecord {
	s.lock.RLock()
	rec, ok := s.records[roomID]
	s.lock.RUnlock()
	if ok {
		return rec
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if rec, ok = s.records[roomID]; ok {
		return rec
	}
	rec = &signalRecord{candidates: deque.New[string]()}
	s.records[roomID] = rec
	return rec
}

func (s *SignalingRelay) get(roomID string) *signalRecord {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.records[roomID]
}

func (s *SignalingRelay) SetOffer(roomID, sdp string) {
	rec := s.getOrCreate(roomID)
	rec.lock.Lock()
	rec.offer = &sdp
	rec.lock.Unlock()
}

func (s *SignalingRelay) GetOffer(roomID string) (string, bool) {
	rec := s.get(roomID)
	if rec == nil {
		return "", false
	}
	rec.lock.Lock()
	defer rec.lock.Unlock()
	if rec.offer == nil {
		return "", false
	}
	return *rec.offer, true
}

func (s *SignalingRelay) SetAnswer(roomID, sdp string) {
	rec := s.getOrCreate(roomID)
	rec.lock.Lock()
	rec.answer = &sdp
	rec.lock.Unlock()
}

func (s *SignalingRelay) GetAnswer(roomID string) (string, bool) {
	rec := s.get(roomID)
	if rec == nil {
		return "", false
	}
	rec.lock.Lock()
	defer rec.lock.Unlock()
	if rec.answer == nil {
		return "", false
	}
	return *rec.answer, true
}

func (s *SignalingRelay) AddCandidate(roomID, candidate string) {
	rec := s.getOrCreate(roomID)
	rec.lock.Lock()
	rec.candidates.PushBack(candidate)
	rec.lock.Unlock()
}

// ListCandidates returns a copy in append order.
func (s *SignalingRelay) ListCandidates(roomID string) []string {
	rec := s.get(roomID)
	if rec == nil {
		return []string{}
	}
	rec.lock.Lock()
	defer rec.lock.Unlock()
	out := make([]string, 0, rec.candidates.Len())
	for i := 0; i < rec.candidates.Len(); i++ {
		out = append(out, rec.candidates.At(i))
	}
	return out
}

func (s *SignalingRelay) Clear(roomID string) {
	s.lock.Lock()
	rec, ok := s.records[roomID]
	delete(s.records, roomID)
	s.lock.Unlock()
	if ok {
		rec.lock.Lock()
		rec.offer = nil
		rec.answer = nil
		rec.candidates.Clear()
		rec.lock.Unlock()
	}
}

func (s *SignalingRelay) HasRoom(roomID string) bool {
	return s.get(roomID) != nil
}
