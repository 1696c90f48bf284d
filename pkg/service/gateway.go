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
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/gammazero/workerpool"
	"github.com/gorilla/websocket"

	"github.com/plainclass/plain-rtc/pkg/config"
	"github.com/plainclass/plain-rtc/pkg/logger"
	"github.com/plainclass/plain-rtc/pkg/rtc/types"
)

const maxShutdownWorkers = 16

// ConnectionGateway terminates the meeting and chat websockets. Each socket
// gets one read loop running on the handler goroutine, so frames of a
// connection are processed in arrival order.
type ConnectionGateway struct {
	conf        *config.Config
	roomManager *RoomManager
	chat        *ChatService
	sessions    *SessionIndex
	signals     *SignalBroadcaster
	chats       *ChatBroadcaster
	upgrader    websocket.Upgrader
	logger      logger.Logger

	rosterLock sync.Mutex
	rosters    map[string]func(func())
}

func NewConnectionGateway(
	conf *config.Config,
	roomManager *RoomManager,
	chat *ChatService,
	sessions *SessionIndex,
	signals *SignalBroadcaster,
	chats *ChatBroadcaster,
) *ConnectionGateway {
	g := &ConnectionGateway{
		conf:        conf,
		roomManager: roomManager,
		chat:        chat,
		sessions:    sessions,
		signals:     signals,
		chats:       chats,
		upgrader: websocket.Upgrader{
			// origins are enforced by the CORS middleware and access tokens
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.GetLogger().WithName("gateway"),
		rosters: make(map[string]func(func())),
	}

	roomManager.OnRoomClosed(g.onRoomClosed)
	chat.OnChatRoomDeleted(g.onChatRoomDeleted)
	return g
}

// Stop closes every live socket. Read loops unwind on their own.
func (g *ConnectionGateway) Stop() {
	var sinks []types.MessageSink
	for _, protocol := range []types.Protocol{types.ProtocolMeeting, types.ProtocolChat} {
		for _, roomID := range g.sessions.Rooms(protocol) {
			sinks = append(sinks, g.sessions.Snapshot(protocol, roomID)...)
		}
	}
	if len(sinks) == 0 {
		return
	}

	g.logger.Infow("closing connections", "count", len(sinks))
	wp := workerpool.New(min(len(sinks), maxShutdownWorkers))
	for _, sink := range sinks {
		wp.Submit(sink.Close)
	}
	wp.StopWait()
}

func (g *ConnectionGateway) onRoomClosed(room types.Room) {
	g.rosterLock.Lock()
	delete(g.rosters, room.ID)
	g.rosterLock.Unlock()

	sinks := g.sessions.CloseRoom(types.ProtocolMeeting, room.ID)
	if len(sinks) == 0 {
		return
	}
	payload, err := json.Marshal(&types.MeetingResponse{
		Type:      types.MeetingMessageClosed,
		RoomID:    room.ID,
		SenderID:  types.SystemSenderID,
		Timestamp: time.Now(),
	})
	if err != nil {
		g.logger.Errorw("could not encode message", err, "roomID", room.ID)
		for _, sink := range sinks {
			sink.Close()
		}
		return
	}
	for _, sink := range sinks {
		_ = sink.WriteMessage(payload)
		sink.Close()
	}
	g.logger.Debugw("closed room connections", "roomID", room.ID, "count", len(sinks))
}

func (g *ConnectionGateway) onChatRoomDeleted(chatID string) {
	for _, sink := range g.sessions.CloseRoom(types.ProtocolChat, chatID) {
		sink.Close()
	}
}

// scheduleRoster sends the participant roster of a room once changes settle.
func (g *ConnectionGateway) scheduleRoster(roomID string) {
	wait := g.conf.Room.RosterDebounce
	if wait <= 0 {
		g.sendRoster(roomID)
		return
	}

	g.rosterLock.Lock()
	debounced, ok := g.rosters[roomID]
	if !ok {
		debounced = debounce.New(wait)
		g.rosters[roomID] = debounced
	}
	g.rosterLock.Unlock()

	debounced(func() { g.sendRoster(roomID) })
}

func (g *ConnectionGateway) sendRoster(roomID string) {
	states, err := g.roomManager.ListStates(roomID)
	if err != nil {
		// room is gone
		return
	}
	data, err := json.Marshal(states)
	if err != nil {
		g.logger.Errorw("could not encode roster", err, "roomID", roomID)
		return
	}
	g.signals.Broadcast(roomID, &types.MeetingResponse{
		Type:      types.MeetingMessageParticipants,
		RoomID:    roomID,
		SenderID:  types.SystemSenderID,
		Data:      data,
		Timestamp: time.Now(),
	}, "")
}

func (g *ConnectionGateway) upgrade(w http.ResponseWriter, r *http.Request, participantID string, l logger.Logger) (*WSSignalConnection, bool) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		l.Warnw("could not upgrade to WS", err)
		return nil, false
	}
	return NewWSSignalConnection(conn, participantID, g.conf.WebSocket, l), true
}

func (g *ConnectionGateway) logReadError(l logger.Logger, err error) {
	if IsWebSocketCloseError(err) {
		l.Debugw("websocket closed", "error", err)
		return
	}
	l.Infow("error reading from websocket", "error", err)
}

// storeContext bounds store calls made outside of a request.
func storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}
