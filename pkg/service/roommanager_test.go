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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/plainclass/plain-rtc/pkg/config"
	"github.com/plainclass/plain-rtc/pkg/rtc"
	"github.com/plainclass/plain-rtc/pkg/rtc/types"
	"github.com/plainclass/plain-rtc/pkg/service"
)

type testRoomManager struct {
	*service.RoomManager
	registry *rtc.RoomRegistry
	states   *rtc.ParticipantStateStore
	relay    *rtc.SignalingRelay
	store    *service.LocalRoomStore
	sessions *service.SessionIndex
}

func newTestRoomManager(t *testing.T, modify ...func(conf *config.Config)) *testRoomManager {
	conf, err := config.NewConfig("", true, nil, nil)
	require.NoError(t, err)
	for _, m := range modify {
		m(conf)
	}

	registry := rtc.NewRoomRegistry()
	states := rtc.NewParticipantStateStore(registry)
	relay := rtc.NewSignalingRelay()
	store := service.NewLocalRoomStore(conf.Room)
	sessions := service.NewSessionIndex()
	rm := service.NewRoomManager(conf, registry, states, relay, store, sessions)
	t.Cleanup(rm.Stop)

	return &testRoomManager{
		RoomManager: rm,
		registry:    registry,
		states:      states,
		relay:       relay,
		store:       store,
		sessions:    sessions,
	}
}

func (m *testRoomManager) requireNoRoomState(t *testing.T, roomID string) {
	ctx := context.Background()
	_, err := m.registry.List(roomID)
	require.ErrorIs(t, err, rtc.ErrRoomNotFound)
	require.False(t, m.states.HasRoom(roomID))
	require.False(t, m.relay.HasRoom(roomID))

	ids, err := m.store.LoadParticipants(ctx, roomID)
	require.NoError(t, err)
	require.Empty(t, ids)
	states, err := m.store.LoadParticipantStates(ctx, roomID)
	require.NoError(t, err)
	require.Empty(t, states)
	messages, err := m.store.ListChatMessages(ctx, roomID)
	require.NoError(t, err)
	require.Empty(t, messages)

	room, err := m.store.LoadRoom(ctx, roomID)
	require.NoError(t, err)
	require.Equal(t, types.RoomStatusClosed, room.Status)
	require.NotNil(t, room.ClosedAt)
}

func TestRoomManager_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("host joins on create and last leave closes the room", func(t *testing.T) {
		rm := newTestRoomManager(t)
		var closedRooms []string
		rm.OnRoomClosed(func(room types.Room) {
			closedRooms = append(closedRooms, room.ID)
		})

		room, err := rm.CreateRoom(ctx, "host", "", "r1")
		require.NoError(t, err)
		require.Equal(t, types.RoomStatusActive, room.Status)

		ids, err := rm.ListParticipants(room.ID)
		require.NoError(t, err)
		require.Equal(t, []string{"host"}, ids)

		require.NoError(t, rm.Join(ctx, room.ID, "p1", "Pat"))
		ids, err = rm.ListParticipants(room.ID)
		require.NoError(t, err)
		require.Equal(t, []string{"host", "p1"}, ids)

		states, err := rm.ListStates(room.ID)
		require.NoError(t, err)
		require.Len(t, states, 2)
		require.Equal(t, "host", states[0].DisplayName)
		require.Equal(t, "Pat", states[1].DisplayName)
		require.False(t, states[1].Muted)

		require.NoError(t, rm.Leave(ctx, room.ID, "host"))
		require.Empty(t, closedRooms)
		require.NoError(t, rm.Leave(ctx, room.ID, "p1"))
		require.Equal(t, []string{room.ID}, closedRooms)

		_, err = rm.ListParticipants(room.ID)
		require.ErrorIs(t, err, rtc.ErrRoomNotFound)
		rm.requireNoRoomState(t, room.ID)

		loaded, err := rm.GetRoom(ctx, room.ID)
		require.NoError(t, err)
		require.Equal(t, types.RoomStatusClosed, loaded.Status)
	})

	t.Run("join on closed or missing room", func(t *testing.T) {
		rm := newTestRoomManager(t)
		require.ErrorIs(t, rm.Join(ctx, "missing", "p1", ""), rtc.ErrRoomNotFound)

		room, err := rm.CreateRoom(ctx, "host", "", "r1")
		require.NoError(t, err)
		require.NoError(t, rm.CloseRoom(ctx, room.ID))
		require.ErrorIs(t, rm.Join(ctx, room.ID, "p1", ""), rtc.ErrRoomNotFound)
	})

	t.Run("duplicate join", func(t *testing.T) {
		rm := newTestRoomManager(t)
		room, err := rm.CreateRoom(ctx, "host", "", "r1")
		require.NoError(t, err)
		require.ErrorIs(t, rm.Join(ctx, room.ID, "host", ""), rtc.ErrAlreadyJoined)
	})

	t.Run("leave of non member is a no-op", func(t *testing.T) {
		rm := newTestRoomManager(t)
		room, err := rm.CreateRoom(ctx, "host", "", "r1")
		require.NoError(t, err)
		require.NoError(t, rm.Leave(ctx, room.ID, "stranger"))

		ids, err := rm.ListParticipants(room.ID)
		require.NoError(t, err)
		require.Equal(t, []string{"host"}, ids)
	})

	t.Run("close is idempotent and cascades", func(t *testing.T) {
		rm := newTestRoomManager(t)
		closeCount := atomic.NewInt32(0)
		rm.OnRoomClosed(func(room types.Room) {
			closeCount.Inc()
		})

		room, err := rm.CreateRoom(ctx, "host", "", "r1")
		require.NoError(t, err)
		require.NoError(t, rm.Join(ctx, room.ID, "p1", ""))
		require.NoError(t, rm.RecordOffer(room.ID, "sdp-A"))
		require.NoError(t, rm.RecordAnswer(room.ID, "sdp-B"))
		require.NoError(t, rm.AddCandidate(room.ID, "c1"))
		require.NoError(t, rm.SaveChatMessage(ctx, types.MeetingChatMessage{RoomID: room.ID, SenderID: "p1", Content: "hi"}))

		require.NoError(t, rm.CloseRoom(ctx, room.ID))
		require.NoError(t, rm.CloseRoom(ctx, room.ID))
		require.Equal(t, int32(1), closeCount.Load())
		rm.requireNoRoomState(t, room.ID)

		_, _, err = rm.GetOffer(room.ID)
		require.ErrorIs(t, err, rtc.ErrRoomNotFound)
		_, err = rm.ListCandidates(room.ID)
		require.ErrorIs(t, err, rtc.ErrRoomNotFound)
		require.ErrorIs(t, rm.RecordOffer(room.ID, "late"), rtc.ErrRoomNotFound)
		require.False(t, rm.relay.HasRoom(room.ID))

		require.ErrorIs(t, rm.CloseRoom(ctx, "missing"), rtc.ErrRoomNotFound)
	})

	t.Run("state updates require membership", func(t *testing.T) {
		rm := newTestRoomManager(t)
		room, err := rm.CreateRoom(ctx, "host", "Hana", "r1")
		require.NoError(t, err)

		state, err := rm.UpdateState(ctx, room.ID, "host", "", true, false)
		require.NoError(t, err)
		require.Equal(t, "Hana", state.DisplayName)
		require.True(t, state.Muted)

		_, err = rm.UpdateState(ctx, room.ID, "stranger", "", true, true)
		require.ErrorIs(t, err, rtc.ErrNotAParticipant)

		stored, err := rm.store.LoadParticipantStates(ctx, room.ID)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		require.True(t, stored[0].Muted)
	})

	t.Run("chat history requires membership", func(t *testing.T) {
		rm := newTestRoomManager(t)
		room, err := rm.CreateRoom(ctx, "host", "", "r1")
		require.NoError(t, err)

		err = rm.SaveChatMessage(ctx, types.MeetingChatMessage{RoomID: room.ID, SenderID: "stranger", Content: "hi"})
		require.ErrorIs(t, err, rtc.ErrNotAParticipant)
		require.NoError(t, rm.SaveChatMessage(ctx, types.MeetingChatMessage{RoomID: room.ID, SenderID: "host", Content: "hi"}))

		messages, err := rm.ChatMessages(ctx, room.ID)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		require.False(t, messages[0].Timestamp.IsZero())
	})
}

func TestRoomManager_Signaling(t *testing.T) {
	rm := newTestRoomManager(t)
	room, err := rm.CreateRoom(context.Background(), "host", "", "r1")
	require.NoError(t, err)

	_, ok, err := rm.GetOffer(room.ID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, rm.RecordOffer(room.ID, "sdp-A"))
	sdp, ok, err := rm.GetOffer(room.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sdp-A", sdp)

	require.NoError(t, rm.RecordOffer(room.ID, "sdp-B"))
	sdp, _, _ = rm.GetOffer(room.ID)
	require.Equal(t, "sdp-B", sdp)

	require.NoError(t, rm.AddCandidate(room.ID, "c1"))
	require.NoError(t, rm.AddCandidate(room.ID, "c2"))
	candidates, err := rm.ListCandidates(room.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "c2"}, candidates)
}

func TestRoomManager_ConcurrentJoinLeave(t *testing.T) {
	ctx := context.Background()

	t.Run("concurrent duplicate join", func(t *testing.T) {
		rm := newTestRoomManager(t)
		room, err := rm.CreateRoom(ctx, "host", "", "r1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		succeeded := atomic.NewInt32(0)
		duplicates := atomic.NewInt32(0)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				switch err := rm.Join(ctx, room.ID, "p1", ""); err {
				case nil:
					succeeded.Inc()
				case rtc.ErrAlreadyJoined:
					duplicates.Inc()
				}
			}()
		}
		wg.Wait()

		require.Equal(t, int32(1), succeeded.Load())
		require.Equal(t, int32(9), duplicates.Load())
		ids, err := rm.ListParticipants(room.ID)
		require.NoError(t, err)
		require.Equal(t, []string{"host", "p1"}, ids)
	})

	t.Run("registry is empty once every join has left", func(t *testing.T) {
		rm := newTestRoomManager(t)
		room, err := rm.CreateRoom(ctx, "host", "", "r1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			pid := string(rune('a' + i))
			wg.Add(1)
			go func() {
				defer wg.Done()
				if rm.Join(ctx, room.ID, pid, "") == nil {
					_ = rm.Leave(ctx, room.ID, pid)
				}
			}()
		}
		wg.Wait()

		// only the host remains
		empty, err := rm.registry.IsEmpty(room.ID)
		require.NoError(t, err)
		require.False(t, empty)
		require.NoError(t, rm.Leave(ctx, room.ID, "host"))
		rm.requireNoRoomState(t, room.ID)
	})

	t.Run("join racing close never lands in a closed room", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			rm := newTestRoomManager(t)
			room, err := rm.CreateRoom(ctx, "host", "", "r1")
			require.NoError(t, err)

			var wg sync.WaitGroup
			wg.Add(2)
			var joinErr error
			go func() {
				defer wg.Done()
				joinErr = rm.Join(ctx, room.ID, "late", "")
			}()
			go func() {
				defer wg.Done()
				_ = rm.CloseRoom(ctx, room.ID)
			}()
			wg.Wait()

			if joinErr != nil {
				require.ErrorIs(t, joinErr, rtc.ErrRoomNotFound)
			}
			rm.requireNoRoomState(t, room.ID)
		}
	})
}

func TestRoomManager_ConnectDisconnect(t *testing.T) {
	ctx := context.Background()

	requireConnected := func(t *testing.T, rm *testRoomManager, roomID, pid string, connections int) {
		ok, err := rm.IsMember(roomID, pid)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, connections, rm.sessions.ParticipantConnections(types.ProtocolMeeting, roomID, pid))
		_, err = rm.UpdateState(ctx, roomID, pid, "Pat", true, false)
		require.NoError(t, err)
	}

	t.Run("second socket keeps membership when the first closes", func(t *testing.T) {
		rm := newTestRoomManager(t)
		room, err := rm.CreateRoom(ctx, "host", "", "r1")
		require.NoError(t, err)
		s1 := &testSink{connectionID: "CO_1", participantID: "p1"}
		s2 := &testSink{connectionID: "CO_2", participantID: "p1"}

		first, err := rm.Connect(ctx, room.ID, "p1", "Pat", s1)
		require.NoError(t, err)
		require.True(t, first)
		first, err = rm.Connect(ctx, room.ID, "p1", "Pat", s2)
		require.NoError(t, err)
		require.False(t, first)

		left, err := rm.Disconnect(ctx, room.ID, "p1", s1)
		require.NoError(t, err)
		require.False(t, left)
		requireConnected(t, rm, room.ID, "p1", 1)

		left, err = rm.Disconnect(ctx, room.ID, "p1", s2)
		require.NoError(t, err)
		require.True(t, left)
		ok, err := rm.IsMember(room.ID, "p1")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("reconnect after the last socket closed rejoins", func(t *testing.T) {
		rm := newTestRoomManager(t)
		room, err := rm.CreateRoom(ctx, "host", "", "r1")
		require.NoError(t, err)
		s1 := &testSink{connectionID: "CO_1", participantID: "p1"}
		s2 := &testSink{connectionID: "CO_2", participantID: "p1"}

		_, err = rm.Connect(ctx, room.ID, "p1", "Pat", s1)
		require.NoError(t, err)
		left, err := rm.Disconnect(ctx, room.ID, "p1", s1)
		require.NoError(t, err)
		require.True(t, left)

		first, err := rm.Connect(ctx, room.ID, "p1", "Pat", s2)
		require.NoError(t, err)
		require.True(t, first)
		requireConnected(t, rm, room.ID, "p1", 1)
	})

	t.Run("concurrent reconnect and disconnect", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			rm := newTestRoomManager(t)
			room, err := rm.CreateRoom(ctx, "host", "", "r1")
			require.NoError(t, err)
			s1 := &testSink{connectionID: "CO_1", participantID: "p1"}
			s2 := &testSink{connectionID: "CO_2", participantID: "p1"}
			_, err = rm.Connect(ctx, room.ID, "p1", "Pat", s1)
			require.NoError(t, err)

			var wg sync.WaitGroup
			var connectErr, disconnectErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, connectErr = rm.Connect(ctx, room.ID, "p1", "Pat", s2)
			}()
			go func() {
				defer wg.Done()
				_, disconnectErr = rm.Disconnect(ctx, room.ID, "p1", s1)
			}()
			wg.Wait()

			require.NoError(t, connectErr)
			require.NoError(t, disconnectErr)
			requireConnected(t, rm, room.ID, "p1", 1)
		}
	})

	t.Run("closed room", func(t *testing.T) {
		rm := newTestRoomManager(t)
		room, err := rm.CreateRoom(ctx, "host", "", "r1")
		require.NoError(t, err)
		s1 := &testSink{connectionID: "CO_1", participantID: "host"}
		_, err = rm.Connect(ctx, room.ID, "host", "", s1)
		require.NoError(t, err)

		require.NoError(t, rm.CloseRoom(ctx, room.ID))
		_, err = rm.Connect(ctx, room.ID, "host", "", &testSink{connectionID: "CO_2", participantID: "host"})
		require.ErrorIs(t, err, rtc.ErrRoomNotFound)

		left, err := rm.Disconnect(ctx, room.ID, "host", s1)
		require.ErrorIs(t, err, rtc.ErrRoomNotFound)
		require.False(t, left)
		require.Zero(t, rm.sessions.Count(types.ProtocolMeeting, room.ID))
		rm.requireNoRoomState(t, room.ID)
	})
}

func TestRoomManager_CloseIdleRooms(t *testing.T) {
	ctx := context.Background()
	rm := newTestRoomManager(t, func(conf *config.Config) {
		conf.Room.IdleTimeout = 10 * time.Millisecond
	})

	idle, err := rm.CreateRoom(ctx, "host", "", "idle")
	require.NoError(t, err)
	busy, err := rm.CreateRoom(ctx, "host", "", "busy")
	require.NoError(t, err)
	sink := &testSink{connectionID: "CO_1", participantID: "host"}
	rm.sessions.Add(types.ProtocolMeeting, busy.ID, sink)

	time.Sleep(20 * time.Millisecond)
	rm.CloseIdleRooms(ctx)

	rm.requireNoRoomState(t, idle.ID)
	ids, err := rm.ListParticipants(busy.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"host"}, ids)
	require.Len(t, rm.ListRooms(), 1)
}

func TestRoomManager_Cleanup(t *testing.T) {
	ctx := context.Background()
	rm := newTestRoomManager(t)

	stale := &types.Room{ID: "stale", HostID: "host", Status: types.RoomStatusActive}
	require.NoError(t, rm.store.StoreRoom(ctx, stale))
	require.NoError(t, rm.store.StoreParticipants(ctx, "stale", []string{"host"}))

	live, err := rm.CreateRoom(ctx, "host", "", "live")
	require.NoError(t, err)

	require.NoError(t, rm.Cleanup(ctx))

	loaded, err := rm.store.LoadRoom(ctx, "stale")
	require.NoError(t, err)
	require.Equal(t, types.RoomStatusClosed, loaded.Status)
	ids, err := rm.store.LoadParticipants(ctx, "stale")
	require.NoError(t, err)
	require.Empty(t, ids)

	loaded, err = rm.store.LoadRoom(ctx, live.ID)
	require.NoError(t, err)
	require.True(t, loaded.IsActive())
}
