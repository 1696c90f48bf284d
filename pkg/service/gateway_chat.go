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
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/plainclass/plain-rtc/pkg/logger"
	"github.com/plainclass/plain-rtc/pkg/rtc"
	"github.com/plainclass/plain-rtc/pkg/rtc/types"
	"github.com/plainclass/plain-rtc/pkg/telemetry/prometheus"
)

const userIDParam = "userId"

type chatSession struct {
	chatID   string
	identity string
	name     string
	conn     *WSSignalConnection
	logger   logger.Logger
}

// ServeChat handles /ws/chat/{chatId}.
func (g *ConnectionGateway) ServeChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatId")

	var identity, name string
	if claims := GetGrants(r.Context()); claims != nil && claims.Identity != "" {
		identity, name = claims.Identity, claims.DisplayName()
	} else if g.conf.WebSocket.AuthenticateChat {
		handleError(w, r, http.StatusUnauthorized, rtc.ErrAuthenticationFailed, "chatID", chatID)
		return
	} else if identity = r.URL.Query().Get(userIDParam); identity == "" {
		handleError(w, r, http.StatusBadRequest, fmt.Errorf("%w: missing %s", ErrBadRequest, userIDParam), "chatID", chatID)
		return
	}

	if _, err := g.chat.GetChatRoom(r.Context(), chatID); err != nil {
		handleError(w, r, statusForError(err), err, "chatID", chatID)
		return
	}

	l := g.logger.WithValues("chatID", chatID, "participant", identity, "protocol", types.ProtocolChat, "remote", GetClientIP(r))
	conn, ok := g.upgrade(w, r, identity, l)
	if !ok {
		return
	}
	defer conn.Close()

	g.sessions.Add(types.ProtocolChat, chatID, conn)
	connectedAt := time.Now()
	prometheus.AddConnection(string(types.ProtocolChat))
	l.Infow("new client WS connected", "connectionID", conn.ConnectionID())

	defer func() {
		prometheus.SubConnection(string(types.ProtocolChat), connectedAt)
		g.sessions.Remove(types.ProtocolChat, chatID, conn)
		l.Infow("WS connection closed", "connectionID", conn.ConnectionID())
	}()

	s := &chatSession{
		chatID:   chatID,
		identity: identity,
		name:     name,
		conn:     conn,
		logger:   l,
	}
	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			g.logReadError(l, err)
			return
		}

		req, err := types.ParseChatRequest(payload)
		if err != nil {
			l.Warnw("dropping frame", fmt.Errorf("%w: %v", rtc.ErrMalformedMessage, err))
			prometheus.MessageReceived(string(types.ProtocolChat), "unknown", "malformed")
			continue
		}

		if !g.handleChatRequest(s, req) {
			return
		}
	}
}

// handleChatRequest returns false when the connection should end.
func (g *ConnectionGateway) handleChatRequest(s *chatSession, req types.ChatRequest) bool {
	sender := req.Sender()
	name := s.name
	if name == "" {
		name = sender.SenderName
	}
	if name == "" {
		name = s.identity
	}

	ctx, cancel := storeContext()
	defer cancel()

	var (
		msgType types.ChatMessageType
		err     error
		keep    = true
	)
	switch m := req.(type) {
	case types.ChatEnter:
		msgType = types.ChatMessageEnter
		err = g.chat.JoinChatRoom(ctx, s.chatID, s.identity)
		if errors.Is(err, rtc.ErrAlreadyJoined) {
			// reconnecting member
			err = nil
		}
		if err == nil {
			g.chats.Broadcast(s.chatID, &types.ChatResponse{
				Type:      types.ChatMessageEnter,
				ChatID:    s.chatID,
				SenderID:  types.SystemSenderID,
				Content:   name + " entered",
				Timestamp: time.Now(),
			}, "")
		}

	case types.ChatTalk:
		msgType = types.ChatMessageTalk
		var msg *types.ChatMessage
		msg, err = g.chat.SendMessage(ctx, s.chatID, s.identity, name, m.Content)
		if err == nil {
			g.chats.Broadcast(s.chatID, &types.ChatResponse{
				Type:       types.ChatMessageTalk,
				ChatID:     s.chatID,
				MessageID:  msg.MessageID,
				SenderID:   msg.SenderID,
				SenderName: msg.SenderName,
				Content:    msg.Content,
				Timestamp:  msg.CreatedAt,
			}, "")
		}

	case types.ChatLeave:
		msgType = types.ChatMessageLeave
		keep = false
		err = g.chat.LeaveChatRoom(ctx, s.chatID, s.identity)
		if err == nil {
			g.chats.Broadcast(s.chatID, &types.ChatResponse{
				Type:      types.ChatMessageLeave,
				ChatID:    s.chatID,
				SenderID:  types.SystemSenderID,
				Content:   name + " left",
				Timestamp: time.Now(),
			}, s.identity)
		}

	case types.ChatRead:
		msgType = types.ChatMessageRead
		err = g.chat.MarkRead(ctx, s.chatID, s.identity)
		if err == nil {
			g.chats.Broadcast(s.chatID, &types.ChatResponse{
				Type:      types.ChatMessageRead,
				ChatID:    s.chatID,
				SenderID:  s.identity,
				Timestamp: time.Now(),
			}, s.identity)
		}
	}

	if err != nil {
		prometheus.MessageReceived(string(types.ProtocolChat), string(msgType), "error")
		s.logger.Infow("could not handle message", "error", err, "type", msgType)
		if errors.Is(err, rtc.ErrRoomNotFound) {
			return false
		}
		return keep
	}
	prometheus.MessageReceived(string(types.ProtocolChat), string(msgType), "success")
	return keep
}
