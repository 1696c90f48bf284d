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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const SystemSenderID = "SYSTEM"

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMissingField       = errors.New("required field missing")
)

// ---------------------------------------------
// chat

type ChatMessageType string

const (
	ChatMessageEnter ChatMessageType = "ENTER"
	ChatMessageTalk  ChatMessageType = "TALK"
	ChatMessageLeave ChatMessageType = "LEAVE"
	ChatMessageRead  ChatMessageType = "READ"
)

// ChatRequest is one of ChatEnter, ChatTalk, ChatLeave or ChatRead.
type ChatRequest interface {
	isChatRequest()
	Sender() ChatSender
}

type ChatSender struct {
	ChatID     string
	SenderID   string
	SenderName string
}

func (s ChatSender) Sender() ChatSender { return s }

type ChatEnter struct{ ChatSender }

type ChatTalk struct {
	ChatSender
	Content string
}

type ChatLeave struct{ ChatSender }

type ChatRead struct{ ChatSender }

func (ChatEnter) isChatRequest() {}
func (ChatTalk) isChatRequest()  {}
func (ChatLeave) isChatRequest() {}
func (ChatRead) isChatRequest()  {}

type chatFrame struct {
	Type       ChatMessageType `json:"type"`
	ChatID     string          `json:"chatId"`
	SenderID   string          `json:"senderId"`
	SenderName string          `json:"senderName"`
	Content    string          `json:"content"`
}

func ParseChatRequest(payload []byte) (ChatRequest, error) {
	var f chatFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, err
	}
	s := ChatSender{ChatID: f.ChatID, SenderID: f.SenderID, SenderName: f.SenderName}
	switch f.Type {
	case ChatMessageEnter:
		return ChatEnter{s}, nil
	case ChatMessageTalk:
		if f.Content == "" {
			return nil, fmt.Errorf("%w: content", ErrMissingField)
		}
		return ChatTalk{ChatSender: s, Content: f.Content}, nil
	case ChatMessageLeave:
		return ChatLeave{s}, nil
	case ChatMessageRead:
		return ChatRead{s}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, f.Type)
	}
}

type ChatResponse struct {
	Type       ChatMessageType `json:"type"`
	ChatID     string          `json:"chatId"`
	MessageID  string          `json:"messageId,omitempty"`
	SenderID   string          `json:"senderId"`
	SenderName string          `json:"senderName,omitempty"`
	Content    string          `json:"content,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ---------------------------------------------
// meeting

type MeetingMessageType string

const (
	MeetingMessageOffer     MeetingMessageType = "offer"
	MeetingMessageAnswer    MeetingMessageType = "answer"
	MeetingMessageCandidate MeetingMessageType = "candidate"
	MeetingMessageChat      MeetingMessageType = "chat"
	MeetingMessageState     MeetingMessageType = "state"
	MeetingMessageLeave     MeetingMessageType = "leave"

	// server originated
	MeetingMessageJoined       MeetingMessageType = "joined"
	MeetingMessageLeft         MeetingMessageType = "left"
	MeetingMessageParticipants MeetingMessageType = "participants"
	MeetingMessageClosed       MeetingMessageType = "closed"
)

// MeetingRequest is one of MeetingOffer, MeetingAnswer, MeetingCandidate,
// MeetingChat, MeetingState or MeetingLeave.
type MeetingRequest interface {
	isMeetingRequest()
	Envelope() MeetingEnvelope
}

type MeetingEnvelope struct {
	RoomID       string
	SenderID     string
	TargetUserID string
	// Data is the payload as received, forwarded untouched to recipients.
	Data json.RawMessage
}

func (e MeetingEnvelope) Envelope() MeetingEnvelope { return e }

type MeetingOffer struct {
	MeetingEnvelope
	SDP string
}

type MeetingAnswer struct {
	MeetingEnvelope
	SDP string
}

type MeetingCandidate struct {
	MeetingEnvelope
	Candidate string
}

type MeetingChat struct {
	MeetingEnvelope
	Content string
}

type MeetingState struct {
	MeetingEnvelope
	DisplayName string
	Muted       bool
	VideoOff    bool
}

type MeetingLeave struct{ MeetingEnvelope }

func (MeetingOffer) isMeetingRequest()     {}
func (MeetingAnswer) isMeetingRequest()    {}
func (MeetingCandidate) isMeetingRequest() {}
func (MeetingChat) isMeetingRequest()      {}
func (MeetingState) isMeetingRequest()     {}
func (MeetingLeave) isMeetingRequest()     {}

type meetingFrame struct {
	Type         MeetingMessageType `json:"type"`
	RoomID       string             `json:"roomId"`
	SenderID     string             `json:"senderId"`
	TargetUserID string             `json:"targetUserId"`
	Data         json.RawMessage    `json:"data"`
	Content      string             `json:"content"`
}

type statePayload struct {
	DisplayName string `json:"userName"`
	Muted       bool   `json:"muted"`
	VideoOff    bool   `json:"videoOff"`
}

func ParseMeetingRequest(payload []byte) (MeetingRequest, error) {
	var f meetingFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, err
	}
	env := MeetingEnvelope{
		RoomID:       f.RoomID,
		SenderID:     f.SenderID,
		TargetUserID: f.TargetUserID,
		Data:         f.Data,
	}

	switch f.Type {
	case MeetingMessageOffer, MeetingMessageAnswer, MeetingMessageCandidate:
		data, ok := DataString(f.Data)
		if !ok {
			return nil, fmt.Errorf("%w: data", ErrMissingField)
		}
		switch f.Type {
		case MeetingMessageOffer:
			return MeetingOffer{MeetingEnvelope: env, SDP: data}, nil
		case MeetingMessageAnswer:
			return MeetingAnswer{MeetingEnvelope: env, SDP: data}, nil
		default:
			return MeetingCandidate{MeetingEnvelope: env, Candidate: data}, nil
		}

	case MeetingMessageChat:
		content := f.Content
		if content == "" {
			content, _ = DataString(f.Data)
		}
		if content == "" {
			return nil, fmt.Errorf("%w: content", ErrMissingField)
		}
		return MeetingChat{MeetingEnvelope: env, Content: content}, nil

	case MeetingMessageState:
		var s statePayload
		if len(f.Data) == 0 {
			return nil, fmt.Errorf("%w: data", ErrMissingField)
		}
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return nil, err
		}
		return MeetingState{MeetingEnvelope: env, DisplayName: s.DisplayName, Muted: s.Muted, VideoOff: s.VideoOff}, nil

	case MeetingMessageLeave:
		return MeetingLeave{env}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, f.Type)
	}
}

// DataString returns a JSON string payload unquoted, and any other JSON value
// as its raw text. ok is false when data is absent or null.
func DataString(data json.RawMessage) (string, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", false
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", false
		}
		return s, s != ""
	}
	return string(data), true
}

// StringData encodes s as a JSON string for MeetingResponse.Data.
func StringData(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

type MeetingResponse struct {
	Type         MeetingMessageType `json:"type"`
	RoomID       string             `json:"roomId"`
	SenderID     string             `json:"senderId,omitempty"`
	TargetUserID string             `json:"targetUserId,omitempty"`
	Data         json.RawMessage    `json:"data,omitempty"`
	Content      string             `json:"content,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}
