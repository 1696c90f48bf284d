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

	"github.com/plainclass/plain-rtc/pkg/auth"
	"github.com/plainclass/plain-rtc/pkg/rtc/types"
)

// RoomStore persists room records and mirrors room-scoped state so that
// operators and other nodes can inspect it. The in-memory components in
// pkg/rtc remain the source of truth while a room is active.
type RoomStore interface {
	StoreRoom(ctx context.Context, room *types.Room) error
	LoadRoom(ctx context.Context, roomID string) (*types.Room, error)
	ListRooms(ctx context.Context) ([]*types.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error

	StoreParticipants(ctx context.Context, roomID string, participantIDs []string) error
	LoadParticipants(ctx context.Context, roomID string) ([]string, error)
	StoreParticipantState(ctx context.Context, state types.ParticipantState) error
	DeleteParticipantState(ctx context.Context, roomID, participantID string) error
	LoadParticipantStates(ctx context.Context, roomID string) ([]types.ParticipantState, error)

	// AppendChatMessage keeps at most the configured history length per room.
	AppendChatMessage(ctx context.Context, msg types.MeetingChatMessage) error
	ListChatMessages(ctx context.Context, roomID string) ([]types.MeetingChatMessage, error)

	// DeleteRoomState removes everything room-scoped except the room record itself.
	DeleteRoomState(ctx context.Context, roomID string) error
}

// ChatStore persists classroom chat rooms, their members and messages.
type ChatStore interface {
	CreateChatRoom(ctx context.Context, room types.ChatRoom) error
	// LoadChatRoom returns DELETED rooms as well.
	LoadChatRoom(ctx context.Context, chatID string) (*types.ChatRoom, error)
	ListChatRoomsByLecture(ctx context.Context, lectureID string) ([]*types.ChatRoom, error)
	SetChatRoomStatus(ctx context.Context, chatID string, status types.ChatRoomStatus) error

	AddMember(ctx context.Context, chatID, userID string) error
	RemoveMember(ctx context.Context, chatID, userID string) error
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	// ListMemberRooms fills in UnreadCount for userID.
	ListMemberRooms(ctx context.Context, userID string) ([]*types.ChatRoom, error)

	InsertMessage(ctx context.Context, msg types.ChatMessage) error
	// ListMessages returns newest first, Checked as seen by viewerID.
	ListMessages(ctx context.Context, chatID, viewerID string, limit int) ([]*types.ChatMessage, error)
	ListUnreadMessages(ctx context.Context, chatID, userID string) ([]*types.ChatMessage, error)
	MarkRead(ctx context.Context, chatID, userID string) error

	Close() error
}

// TokenValidator turns a bearer token into the caller's grants.
type TokenValidator interface {
	Validate(token string) (*auth.ClaimGrants, error)
}
