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
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plainclass/plain-rtc/pkg/config"
	"github.com/plainclass/plain-rtc/pkg/logger"
	"github.com/plainclass/plain-rtc/pkg/rtc"
	"github.com/plainclass/plain-rtc/pkg/rtc/types"
	"github.com/plainclass/plain-rtc/pkg/telemetry/prometheus"
)

// ChatService implements classroom chat rooms on top of a ChatStore.
type ChatService struct {
	store        ChatStore
	messageLimit int
	logger       logger.Logger

	listenerLock sync.RWMutex
	onDeleted    []func(chatID string)
}

func NewChatService(store ChatStore, conf *config.Config) *ChatService {
	return &ChatService{
		store:        store,
		messageLimit: conf.Chat.MessageLimit,
		logger:       logger.GetLogger().WithName("chatservice"),
	}
}

func (s *ChatService) CreateChatRoom(ctx context.Context, lectureID, name string) (*types.ChatRoom, error) {
	lectureID = strings.TrimSpace(lectureID)
	name = strings.TrimSpace(name)
	if lectureID == "" || name == "" {
		return nil, ErrBadRequest
	}

	room := types.ChatRoom{
		ChatID:    uuid.NewString(),
		LectureID: lectureID,
		Name:      name,
		Status:    types.ChatRoomStatusActive,
		UpdatedAt: time.Now().UTC(),
	}
	err := s.store.CreateChatRoom(ctx, room)
	prometheus.RecordServiceOperation("create_chat_room", err, "")
	if err != nil {
		return nil, err
	}
	s.logger.Infow("chat room created", "chatID", room.ChatID, "lectureID", lectureID)
	return &room, nil
}

// GetChatRoom reports DELETED rooms as not found.
func (s *ChatService) GetChatRoom(ctx context.Context, chatID string) (*types.ChatRoom, error) {
	room, err := s.store.LoadChatRoom(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if room.Status != types.ChatRoomStatusActive {
		return nil, rtc.ErrRoomNotFound
	}
	return room, nil
}

func (s *ChatService) ListChatRoomsByLecture(ctx context.Context, lectureID string) ([]*types.ChatRoom, error) {
	return s.store.ListChatRoomsByLecture(ctx, lectureID)
}

func (s *ChatService) DeleteChatRoom(ctx context.Context, chatID string) error {
	if _, err := s.GetChatRoom(ctx, chatID); err != nil {
		return err
	}
	err := s.store.SetChatRoomStatus(ctx, chatID, types.ChatRoomStatusDeleted)
	prometheus.RecordServiceOperation("delete_chat_room", err, "")
	if err != nil {
		return err
	}
	s.logger.Infow("chat room deleted", "chatID", chatID)

	s.listenerLock.RLock()
	listeners := s.onDeleted
	s.listenerLock.RUnlock()
	for _, f := range listeners {
		f(chatID)
	}
	return nil
}

// OnChatRoomDeleted registers a callback invoked after a room is marked DELETED.
func (s *ChatService) OnChatRoomDeleted(f func(chatID string)) {
	s.listenerLock.Lock()
	s.onDeleted = append(s.onDeleted, f)
	s.listenerLock.Unlock()
}

func (s *ChatService) JoinChatRoom(ctx context.Context, chatID, userID string) error {
	if _, err := s.GetChatRoom(ctx, chatID); err != nil {
		return err
	}
	return s.store.AddMember(ctx, chatID, userID)
}

func (s *ChatService) LeaveChatRoom(ctx context.Context, chatID, userID string) error {
	return s.store.RemoveMember(ctx, chatID, userID)
}

// SendMessage requires the sender to have joined the room.
func (s *ChatService) SendMessage(ctx context.Context, chatID, senderID, senderName, content string) (*types.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrBadRequest
	}
	if _, err := s.GetChatRoom(ctx, chatID); err != nil {
		return nil, err
	}
	if err := s.ensureMember(ctx, chatID, senderID); err != nil {
		return nil, err
	}

	msg := types.ChatMessage{
		MessageID:  uuid.NewString(),
		ChatID:     chatID,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
		Checked:    true,
	}
	err := s.store.InsertMessage(ctx, msg)
	prometheus.RecordServiceOperation("send_chat_message", err, "")
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Messages returns the most recent messages, newest first.
func (s *ChatService) Messages(ctx context.Context, chatID, viewerID string) ([]*types.ChatMessage, error) {
	if _, err := s.GetChatRoom(ctx, chatID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, chatID, viewerID, s.messageLimit)
}

func (s *ChatService) UnreadMessages(ctx context.Context, chatID, userID string) ([]*types.ChatMessage, error) {
	if _, err := s.GetChatRoom(ctx, chatID); err != nil {
		return nil, err
	}
	if err := s.ensureMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.store.ListUnreadMessages(ctx, chatID, userID)
}

func (s *ChatService) MarkRead(ctx context.Context, chatID, userID string) error {
	if _, err := s.GetChatRoom(ctx, chatID); err != nil {
		return err
	}
	return s.store.MarkRead(ctx, chatID, userID)
}

func (s *ChatService) MyChatRooms(ctx context.Context, userID string) ([]*types.ChatRoom, error) {
	return s.store.ListMemberRooms(ctx, userID)
}

func (s *ChatService) ensureMember(ctx context.Context, chatID, userID string) error {
	isMember, err := s.store.IsMember(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !isMember {
		return rtc.ErrNotAParticipant
	}
	return nil
}
