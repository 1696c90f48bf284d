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

package service_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plainclass/plain-rtc/pkg/config"
	"github.com/plainclass/plain-rtc/pkg/rtc"
	"github.com/plainclass/plain-rtc/pkg/rtc/types"
	"github.com/plainclass/plain-rtc/pkg/service"
)

func newTestChatService(t *testing.T) *service.ChatService {
	store, err := service.NewSQLChatStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	conf, err := config.NewConfig("", true, nil, nil)
	require.NoError(t, err)
	return service.NewChatService(store, conf)
}

func TestChatService_Rooms(t *testing.T) {
	ctx := context.Background()
	s := newTestChatService(t)

	_, err := s.CreateChatRoom(ctx, "", "general")
	require.ErrorIs(t, err, service.ErrBadRequest)

	room, err := s.CreateChatRoom(ctx, "lecture1", "general")
	require.NoError(t, err)
	require.Equal(t, types.ChatRoomStatusActive, room.Status)
	_, err = s.CreateChatRoom(ctx, "lecture1", "questions")
	require.NoError(t, err)
	_, err = s.CreateChatRoom(ctx, "lecture2", "other")
	require.NoError(t, err)

	loaded, err := s.GetChatRoom(ctx, room.ChatID)
	require.NoError(t, err)
	require.Equal(t, "general", loaded.Name)

	rooms, err := s.ListChatRoomsByLecture(ctx, "lecture1")
	require.NoError(t, err)
	require.Len(t, rooms, 2)

	require.NoError(t, s.DeleteChatRoom(ctx, room.ChatID))
	_, err = s.GetChatRoom(ctx, room.ChatID)
	require.ErrorIs(t, err, rtc.ErrRoomNotFound)
	require.ErrorIs(t, s.DeleteChatRoom(ctx, room.ChatID), rtc.ErrRoomNotFound)
	require.ErrorIs(t, s.JoinChatRoom(ctx, room.ChatID, "u1"), rtc.ErrRoomNotFound)

	rooms, err = s.ListChatRoomsByLecture(ctx, "lecture1")
	require.NoError(t, err)
	require.Len(t, rooms, 1)

	_, err = s.GetChatRoom(ctx, "missing")
	require.ErrorIs(t, err, rtc.ErrRoomNotFound)
}

func TestChatService_Membership(t *testing.T) {
	ctx := context.Background()
	s := newTestChatService(t)
	room, err := s.CreateChatRoom(ctx, "lecture1", "general")
	require.NoError(t, err)

	_, err = s.SendMessage(ctx, room.ChatID, "u1", "Uma", "hi")
	require.ErrorIs(t, err, rtc.ErrNotAParticipant)

	require.NoError(t, s.JoinChatRoom(ctx, room.ChatID, "u1"))
	require.ErrorIs(t, s.JoinChatRoom(ctx, room.ChatID, "u1"), rtc.ErrAlreadyJoined)

	mine, err := s.MyChatRooms(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 1)

	require.NoError(t, s.LeaveChatRoom(ctx, room.ChatID, "u1"))
	require.ErrorIs(t, s.LeaveChatRoom(ctx, room.ChatID, "u1"), rtc.ErrNotAParticipant)

	mine, err = s.MyChatRooms(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, mine)
}

func TestChatService_Messages(t *testing.T) {
	ctx := context.Background()
	s := newTestChatService(t)
	room, err := s.CreateChatRoom(ctx, "lecture1", "general")
	require.NoError(t, err)
	require.NoError(t, s.JoinChatRoom(ctx, room.ChatID, "u1"))
	require.NoError(t, s.JoinChatRoom(ctx, room.ChatID, "u2"))

	_, err = s.SendMessage(ctx, room.ChatID, "u1", "Uma", "")
	require.ErrorIs(t, err, service.ErrBadRequest)

	for _, content := range []string{"first", "second", "third"} {
		_, err = s.SendMessage(ctx, room.ChatID, "u1", "Uma", content)
		require.NoError(t, err)
	}

	messages, err := s.Messages(ctx, room.ChatID, "u2")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, "third", messages[0].Content)
	require.Equal(t, "first", messages[2].Content)
	require.False(t, messages[0].Checked)

	// own messages are never unread
	unread, err := s.UnreadMessages(ctx, room.ChatID, "u1")
	require.NoError(t, err)
	require.Empty(t, unread)

	unread, err = s.UnreadMessages(ctx, room.ChatID, "u2")
	require.NoError(t, err)
	require.Len(t, unread, 3)

	mine, err := s.MyChatRooms(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, 3, mine[0].UnreadCount)

	require.NoError(t, s.MarkRead(ctx, room.ChatID, "u2"))
	unread, err = s.UnreadMessages(ctx, room.ChatID, "u2")
	require.NoError(t, err)
	require.Empty(t, unread)

	messages, err = s.Messages(ctx, room.ChatID, "u2")
	require.NoError(t, err)
	require.True(t, messages[0].Checked)

	_, err = s.UnreadMessages(ctx, room.ChatID, "stranger")
	require.ErrorIs(t, err, rtc.ErrNotAParticipant)
	require.ErrorIs(t, s.MarkRead(ctx, room.ChatID, "stranger"), rtc.ErrNotAParticipant)
}
