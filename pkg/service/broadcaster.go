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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/plainclass/plain-rtc/pkg/logger"
	"github.com/plainclass/plain-rtc/pkg/routing"
	"github.com/plainclass/plain-rtc/pkg/rtc"
	"github.com/plainclass/plain-rtc/pkg/rtc/types"
	"github.com/plainclass/plain-rtc/pkg/telemetry/prometheus"
)

type broadcaster struct {
	protocol types.Protocol
	sessions *SessionIndex
	logger   logger.Logger
}

func (b *broadcaster) broadcast(roomID string, msg interface{}, exclude string) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Errorw("could not encode message", err, "roomID", roomID)
		return 0
	}

	sinks := b.sessions.Snapshot(b.protocol, roomID)
	recipients := sinks[:0]
	for _, sink := range sinks {
		if exclude != "" && sink.ParticipantID() == exclude {
			continue
		}
		recipients = append(recipients, sink)
	}
	return b.deliver(roomID, recipients, payload)
}

func (b *broadcaster) sendTo(roomID, participantID string, msg interface{}) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Errorw("could not encode message", err, "roomID", roomID)
		return 0
	}
	return b.deliver(roomID, b.sessions.ParticipantSinks(b.protocol, roomID, participantID), payload)
}

// deliver enqueues payload on every sink. Failures stay local to the recipient.
func (b *broadcaster) deliver(roomID string, sinks []types.MessageSink, payload []byte) int {
	sent := 0
	for _, sink := range sinks {
		err := sink.WriteMessage(payload)
		if err == nil {
			sent++
			continue
		}

		reason := "closed"
		if errors.Is(err, routing.ErrChannelFull) {
			reason = "full"
			// a reader this far behind is dropped, its read loop runs the leave path
			b.logger.Warnw("closing slow connection", fmt.Errorf("%w: %v", rtc.ErrTransport, err),
				"roomID", roomID,
				"participant", sink.ParticipantID(),
				"connectionID", sink.ConnectionID(),
			)
			sink.Close()
		} else {
			b.logger.Debugw("skipping recipient", "error", err,
				"roomID", roomID,
				"participant", sink.ParticipantID(),
				"connectionID", sink.ConnectionID(),
			)
		}
		prometheus.DeliveryFailed(string(b.protocol), reason)
	}
	prometheus.MessagesSent(sent)
	return sent
}

// ChatBroadcaster fans chat frames out to the sockets of one chat room.
type ChatBroadcaster struct {
	broadcaster
}

func NewChatBroadcaster(sessions *SessionIndex) *ChatBroadcaster {
	return &ChatBroadcaster{broadcaster{
		protocol: types.ProtocolChat,
		sessions: sessions,
		logger:   logger.GetLogger().WithName("chatbroadcaster"),
	}}
}

// Broadcast returns the number of sockets the message was queued on.
func (b *ChatBroadcaster) Broadcast(chatID string, msg *types.ChatResponse, exclude string) int {
	return b.broadcast(chatID, msg, exclude)
}

// SignalBroadcaster fans meeting frames out to the sockets of one meeting room.
type SignalBroadcaster struct {
	broadcaster
}

func NewSignalBroadcaster(sessions *SessionIndex) *SignalBroadcaster {
	return &SignalBroadcaster{broadcaster{
		protocol: types.ProtocolMeeting,
		sessions: sessions,
		logger:   logger.GetLogger().WithName("signalbroadcaster"),
	}}
}

func (b *SignalBroadcaster) Broadcast(roomID string, msg *types.MeetingResponse, exclude string) int {
	return b.broadcast(roomID, msg, exclude)
}

// SendTo delivers to every socket of one participant.
func (b *SignalBroadcaster) SendTo(roomID, participantID string, msg *types.MeetingResponse) int {
	return b.sendTo(roomID, participantID, msg)
}
