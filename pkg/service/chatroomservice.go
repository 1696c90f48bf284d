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
	"net/http"

	"github.com/pkg/errors"

	"github.com/plainclass/plain-rtc/pkg/rtc/types"
)

type CreateChatRoomRequest struct {
	LectureID string `json:"lectureId"`
	Name      string `json:"chatName"`
}

// ChatRoomService exposes ChatService over HTTP. The caller's identity always
// comes from the access token.
type ChatRoomService struct {
	chat *ChatService
}

func NewChatRoomService(chat *ChatService) *ChatRoomService {
	return &ChatRoomService{
		chat: chat,
	}
}

func (s *ChatRoomService) CreateChatRoom(ctx context.Context, req *CreateChatRoomRequest) (*types.ChatRoom, error) {
	if _, err := EnsureCreatePermission(ctx); err != nil {
		return nil, err
	}
	return s.chat.CreateChatRoom(ctx, req.LectureID, req.Name)
}

func (s *ChatRoomService) DeleteChatRoom(ctx context.Context, chatID string) error {
	if _, err := EnsureCreatePermission(ctx); err != nil {
		return err
	}
	return s.chat.DeleteChatRoom(ctx, chatID)
}

func (s *ChatRoomService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/chat/rooms", s.handleCreateChatRoom)
	mux.HandleFunc("GET /api/v1/chat/rooms/my", s.withIdentity(func(ctx context.Context, identity string, r *http.Request) (interface{}, error) {
		return s.chat.MyChatRooms(ctx, identity)
	}))
	mux.HandleFunc("GET /api/v1/chat/rooms/{chatId}", s.withIdentity(func(ctx context.Context, _ string, r *http.Request) (interface{}, error) {
		return s.chat.GetChatRoom(ctx, r.PathValue("chatId"))
	}))
	mux.HandleFunc("DELETE /api/v1/chat/rooms/{chatId}", func(w http.ResponseWriter, r *http.Request) {
		respondNoContent(w, r, s.DeleteChatRoom(r.Context(), r.PathValue("chatId")))
	})
	mux.HandleFunc("GET /api/v1/chat/lectures/{lectureId}/rooms", s.withIdentity(func(ctx context.Context, _ string, r *http.Request) (interface{}, error) {
		return s.chat.ListChatRoomsByLecture(ctx, r.PathValue("lectureId"))
	}))
	mux.HandleFunc("GET /api/v1/chat/rooms/{chatId}/messages", s.withIdentity(func(ctx context.Context, identity string, r *http.Request) (interface{}, error) {
		return s.chat.Messages(ctx, r.PathValue("chatId"), identity)
	}))
	mux.HandleFunc("GET /api/v1/chat/rooms/{chatId}/messages/unread", s.withIdentity(func(ctx context.Context, identity string, r *http.Request) (interface{}, error) {
		return s.chat.UnreadMessages(ctx, r.PathValue("chatId"), identity)
	}))
	mux.HandleFunc("POST /api/v1/chat/rooms/{chatId}/join", s.withIdentityNoContent(func(ctx context.Context, identity string, r *http.Request) error {
		return s.chat.JoinChatRoom(ctx, r.PathValue("chatId"), identity)
	}))
	mux.HandleFunc("POST /api/v1/chat/rooms/{chatId}/leave", s.withIdentityNoContent(func(ctx context.Context, identity string, r *http.Request) error {
		return s.chat.LeaveChatRoom(ctx, r.PathValue("chatId"), identity)
	}))
	mux.HandleFunc("POST /api/v1/chat/rooms/{chatId}/messages/read", s.withIdentityNoContent(func(ctx context.Context, identity string, r *http.Request) error {
		return s.chat.MarkRead(ctx, r.PathValue("chatId"), identity)
	}))
}

func (s *ChatRoomService) handleCreateChatRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleError(w, r, http.StatusBadRequest, errors.Wrap(ErrBadRequest, err.Error()))
		return
	}
	room, err := s.CreateChatRoom(r.Context(), &req)
	if err != nil {
		handleError(w, r, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

type identityHandler func(ctx context.Context, identity string, r *http.Request) (interface{}, error)

func (s *ChatRoomService) withIdentity(h identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := EnsureAuthenticated(r.Context())
		if err != nil {
			handleError(w, r, http.StatusUnauthorized, err)
			return
		}
		res, err := h(r.Context(), claims.Identity, r)
		respond(w, r, res, err)
	}
}

func (s *ChatRoomService) withIdentityNoContent(h func(ctx context.Context, identity string, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := EnsureAuthenticated(r.Context())
		if err != nil {
			handleError(w, r, http.StatusUnauthorized, err)
			return
		}
		respondNoContent(w, r, h(r.Context(), claims.Identity, r))
	}
}
