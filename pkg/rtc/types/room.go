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

package types

import (
	"time"
)

type RoomStatus string

const (
	RoomStatusActive RoomStatus = "ACTIVE"
	RoomStatusClosed RoomStatus = "CLOSED"
)

type Room struct {
	ID        string     `json:"roomId"`
	HostID    string     `json:"hostId"`
	Title     string     `json:"title"`
	Status    RoomStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

func (r *Room) IsActive() bool {
	return r != nil && r.Status == RoomStatusActive
}

type ParticipantState struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"userId"`
	DisplayName   string `json:"userName"`
	Muted         bool   `json:"muted"`
	VideoOff      bool   `json:"videoOff"`
}

// MeetingChatMessage is an in-call chat line. History is dropped when the room closes.
type MeetingChatMessage struct {
	RoomID     string    `json:"roomId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

type ChatRoomStatus string

const (
	ChatRoomStatusActive  ChatRoomStatus = "ACTIVE"
	ChatRoomStatusDeleted ChatRoomStatus = "DELETED"
)

type ChatRoom struct {
	ChatID      string         `json:"chatId"`
	LectureID   string         `json:"lectureId"`
	Name        string         `json:"chatName"`
	Status      ChatRoomStatus `json:"chatStatus"`
	UpdatedAt   time.Time      `json:"chatStamp"`
	UnreadCount int            `json:"unreadCount"`
}

type ChatMessage struct {
	MessageID  string    `json:"messageId"`
	ChatID     string    `json:"chatId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"messageStamp"`
	Checked    bool      `json:"isChecked"`
}

// Protocol distinguishes the two socket endpoints sharing the session index.
type Protocol string

const (
	ProtocolMeeting Protocol = "meeting"
	ProtocolChat    Protocol = "chat"
)
