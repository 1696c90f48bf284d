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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plainclass/plain-rtc/pkg/routing"
	"github.com/plainclass/plain-rtc/pkg/rtc/types"
	"github.com/plainclass/plain-rtc/pkg/service"
)

func TestChatBroadcaster(t *testing.T) {
	idx := service.NewSessionIndex()
	b := service.NewChatBroadcaster(idx)

	sender := &testSink{connectionID: "CO_1", participantID: "a"}
	peer := &testSink{connectionID: "CO_2", participantID: "b"}
	gone := &testSink{connectionID: "CO_3", participantID: "c"}
	for _, s := range []*testSink{sender, peer, gone} {
		idx.Add(types.ProtocolChat, "chat1", s)
	}
	gone.Close()

	msg := &types.ChatResponse{
		Type:      types.ChatMessageTalk,
		ChatID:    "chat1",
		SenderID:  "a",
		Content:   "hello",
		Timestamp: time.Now(),
	}

	t.Run("reaches everyone still connected", func(t *testing.T) {
		sent := b.Broadcast("chat1", msg, "")
		require.Equal(t, 2, sent)
		require.Len(t, sender.Messages(), 1)
		require.Len(t, peer.Messages(), 1)

		var decoded types.ChatResponse
		require.NoError(t, json.Unmarshal(peer.Messages()[0], &decoded))
		require.Equal(t, "hello", decoded.Content)
		require.Equal(t, types.ChatMessageTalk, decoded.Type)
	})

	t.Run("excludes the sender", func(t *testing.T) {
		sent := b.Broadcast("chat1", msg, "a")
		require.Equal(t, 1, sent)
		require.Len(t, sender.Messages(), 1)
		require.Len(t, peer.Messages(), 2)
	})

	t.Run("other rooms are untouched", func(t *testing.T) {
		require.Equal(t, 0, b.Broadcast("chat2", msg, ""))
	})
}

func TestSignalBroadcaster(t *testing.T) {
	idx := service.NewSessionIndex()
	b := service.NewSignalBroadcaster(idx)

	a := &testSink{connectionID: "CO_1", participantID: "a"}
	b1 := &testSink{connectionID: "CO_2", participantID: "b"}
	b2 := &testSink{connectionID: "CO_3", participantID: "b"}
	slow := &testSink{connectionID: "CO_4", participantID: "s", writeErr: routing.ErrChannelFull}
	for _, s := range []*testSink{a, b1, b2, slow} {
		idx.Add(types.ProtocolMeeting, "r1", s)
	}

	offer := &types.MeetingResponse{
		Type:     types.MeetingMessageOffer,
		RoomID:   "r1",
		SenderID: "a",
		Data:     types.StringData("sdp-A"),
	}

	t.Run("send to a single participant", func(t *testing.T) {
		require.Equal(t, 2, b.SendTo("r1", "b", offer))
		require.Empty(t, a.Messages())
		require.Len(t, b1.Messages(), 1)
		require.Len(t, b2.Messages(), 1)
		require.Equal(t, 0, b.SendTo("r1", "nobody", offer))
	})

	t.Run("slow recipient is closed", func(t *testing.T) {
		sent := b.Broadcast("r1", offer, "a")
		require.Equal(t, 2, sent)
		require.True(t, slow.IsClosed())
		require.False(t, b1.IsClosed())
	})
}
