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
	"encoding/json"
	"sort"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/plainclass/plain-rtc/pkg/config"
	"github.com/plainclass/plain-rtc/pkg/logger"
	"github.com/plainclass/plain-rtc/pkg/rtc"
	"github.com/plainclass/plain-rtc/pkg/rtc/types"
	"github.com/plainclass/plain-rtc/version"
)

const (
	VersionKey = "plainrtc_version"

	// RoomsKey is hash of room_id => Room json
	RoomsKey = "rooms"

	roomKeyPrefix = "room:"
)

// list of participant ids in join order
func roomParticipantsKey(roomID string) string {
	return roomKeyPrefix + roomID + ":participants"
}

// hash of participant_id => ParticipantState json
func roomStatesKey(roomID string) string {
	return roomKeyPrefix + roomID + ":states"
}

// list of MeetingChatMessage json, oldest first
func roomChatKey(roomID string) string {
	return roomKeyPrefix + roomID + ":chat"
}

type RedisRoomStore struct {
	rc           redis.UniversalClient
	historyLimit int64
}

func NewRedisRoomStore(rc redis.UniversalClient, conf config.RoomConfig) *RedisRoomStore {
	return &RedisRoomStore{
		rc:           rc,
		historyLimit: conf.ChatHistoryLimit,
	}
}

// Start refuses data written by a newer major version and stamps the current one.
func (s *RedisRoomStore) Start(ctx context.Context) error {
	current, err := s.rc.Get(ctx, VersionKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if current == "" {
		current = "0.0.0"
	}

	stored, err := goversion.NewVersion(current)
	if err != nil {
		return errors.Wrapf(err, "invalid store version %q", current)
	}
	running, err := goversion.NewVersion(version.Version)
	if err != nil {
		return err
	}
	if stored.Segments()[0] > running.Segments()[0] {
		return ErrIncompatibleStore
	}
	if stored.LessThan(running) {
		logger.Infow("updating store version", "from", stored.String(), "to", running.String())
		if err = s.rc.Set(ctx, VersionKey, version.Version, 0).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisRoomStore) StoreRoom(ctx context.Context, room *types.Room) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}

	data, err := json.Marshal(room)
	if err != nil {
		return err
	}

	if err = s.rc.HSet(ctx, RoomsKey, room.ID, data).Err(); err != nil {
		return errors.Wrap(err, "could not store room")
	}
	return nil
}

func (s *RedisRoomStore) LoadRoom(ctx context.Context, roomID string) (*types.Room, error) {
	data, err := s.rc.HGet(ctx, RoomsKey, roomID).Result()
	if err != nil {
		if err == redis.Nil {
			err = rtc.ErrRoomNotFound
		}
		return nil, err
	}

	room := types.Room{}
	if err = json.Unmarshal([]byte(data), &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *RedisRoomStore) ListRooms(ctx context.Context) ([]*types.Room, error) {
	items, err := s.rc.HVals(ctx, RoomsKey).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "could not get rooms")
	}

	rooms := make([]*types.Room, 0, len(items))
	for _, item := range items {
		room := types.Room{}
		if err := json.Unmarshal([]byte(item), &room); err != nil {
			return nil, err
		}
		rooms = append(rooms, &room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms, nil
}

func (s *RedisRoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	pp := s.rc.TxPipeline()
	pp.HDel(ctx, RoomsKey, roomID)
	pp.Del(ctx, roomParticipantsKey(roomID), roomStatesKey(roomID), roomChatKey(roomID))

	if _, err := pp.Exec(ctx); err != nil {
		return errors.Wrap(err, "could not delete room")
	}
	return nil
}

func (s *RedisRoomStore) StoreParticipants(ctx context.Context, roomID string, participantIDs []string) error {
	key := roomParticipantsKey(roomID)
	pp := s.rc.TxPipeline()
	pp.Del(ctx, key)
	if len(participantIDs) > 0 {
		values := make([]interface{}, 0, len(participantIDs))
		for _, id := range participantIDs {
			values = append(values, id)
		}
		pp.RPush(ctx, key, values...)
	}

	if _, err := pp.Exec(ctx); err != nil {
		return errors.Wrap(err, "could not store participants")
	}
	return nil
}

func (s *RedisRoomStore) LoadParticipants(ctx context.Context, roomID string) ([]string, error) {
	ids, err := s.rc.LRange(ctx, roomParticipantsKey(roomID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "could not load participants")
	}
	return ids, nil
}

func (s *RedisRoomStore) StoreParticipantState(ctx context.Context, state types.ParticipantState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.rc.HSet(ctx, roomStatesKey(state.RoomID), state.ParticipantID, data).Err()
}

func (s *RedisRoomStore) DeleteParticipantState(ctx context.Context, roomID, participantID string) error {
	return s.rc.HDel(ctx, roomStatesKey(roomID), participantID).Err()
}

func (s *RedisRoomStore) LoadParticipantStates(ctx context.Context, roomID string) ([]types.ParticipantState, error) {
	items, err := s.rc.HVals(ctx, roomStatesKey(roomID)).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "could not load participant states")
	}

	states := make([]types.ParticipantState, 0, len(items))
	for _, item := range items {
		st := types.ParticipantState{}
		if err := json.Unmarshal([]byte(item), &st); err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].ParticipantID < states[j].ParticipantID
	})
	return states, nil
}

func (s *RedisRoomStore) AppendChatMessage(ctx context.Context, msg types.MeetingChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := roomChatKey(msg.RoomID)
	pp := s.rc.TxPipeline()
	pp.RPush(ctx, key, data)
	if s.historyLimit > 0 {
		pp.LTrim(ctx, key, -s.historyLimit, -1)
	}
	if _, err = pp.Exec(ctx); err != nil {
		return errors.Wrap(err, "could not append chat message")
	}
	return nil
}

func (s *RedisRoomStore) ListChatMessages(ctx context.Context, roomID string) ([]types.MeetingChatMessage, error) {
	items, err := s.rc.LRange(ctx, roomChatKey(roomID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "could not load chat messages")
	}

	messages := make([]types.MeetingChatMessage, 0, len(items))
	for _, item := range items {
		msg := types.MeetingChatMessage{}
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *RedisRoomStore) DeleteRoomState(ctx context.Context, roomID string) error {
	err := s.rc.Del(ctx, roomParticipantsKey(roomID), roomStatesKey(roomID), roomChatKey(roomID)).Err()
	if err != nil {
		return errors.Wrap(err, "could not delete room state")
	}
	return nil
}
