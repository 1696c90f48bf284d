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
	"net/http"
	"time"

	"github.com/plainclass/plain-rtc/pkg/auth"
	"github.com/plainclass/plain-rtc/pkg/rtc"
	"github.com/plainclass/plain-rtc/pkg/rtc/types"
	"github.com/plainclass/plain-rtc/pkg/telemetry/prometheus"
)

// ServeMeeting handles /ws/meeting/{roomId}.
func (g *ConnectionGateway) ServeMeeting(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	claims, err := EnsureJoinPermission(r.Context(), roomID)
	if err != nil {
		handleError(w, r, statusForError(err), err, "roomID", roomID)
		return
	}
	identity := claims.Identity

	// reject before upgrading so clients see a plain 404
	room, err := g.roomManager.GetRoom(r.Context(), roomID)
	if err == nil && !room.IsActive() {
		err = rtc.ErrRoomNotFound
	}
	if err != nil {
		handleError(w, r, statusForError(err), err, "roomID", roomID)
		return
	}

	l := g.logger.WithValues("roomID", roomID, "participant", identity, "protocol", types.ProtocolMeeting, "remote", GetClientIP(r))
	conn, ok := g.upgrade(w, r, identity, l)
	if !ok {
		return
	}
	defer conn.Close()

	ctx, cancel := storeContext()
	first, err := g.roomManager.Connect(ctx, roomID, identity, claims.DisplayName(), conn)
	cancel()
	if err != nil {
		l.Infow("could not join room", "error", err)
		_ = conn.WriteResponse(&types.MeetingResponse{
			Type:      types.MeetingMessageClosed,
			RoomID:    roomID,
			SenderID:  types.SystemSenderID,
			Timestamp: time.Now(),
		})
		return
	}

	connectedAt := time.Now()
	prometheus.AddConnection(string(types.ProtocolMeeting))
	l.Infow("new client WS connected", "connectionID", conn.ConnectionID(), "first", first)

	defer func() {
		prometheus.SubConnection(string(types.ProtocolMeeting), connectedAt)
		g.disconnectMeeting(roomID, identity, conn)
		l.Infow("WS connection closed", "connectionID", conn.ConnectionID())
	}()

	g.sendJoined(roomID, identity, conn, first)
	if g.conf.Room.ReplaySignalState {
		g.replaySignalState(roomID, conn)
	}

	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			g.logReadError(l, err)
			return
		}

		req, err := types.ParseMeetingRequest(payload)
		if err != nil {
			l.Warnw("dropping frame", fmt.Errorf("%w: %v", rtc.ErrMalformedMessage, err))
			prometheus.MessageReceived(string(types.ProtocolMeeting), "unknown", "malformed")
			continue
		}

		if !g.handleMeetingRequest(roomID, claims, req) {
			return
		}
	}
}

// handleMeetingRequest returns false when the connection should end.
func (g *ConnectionGateway) handleMeetingRequest(roomID string, claims *auth.ClaimGrants, req types.MeetingRequest) bool {
	identity := claims.Identity
	env := req.Envelope()
	resp := &types.MeetingResponse{
		RoomID:       roomID,
		SenderID:     identity,
		TargetUserID: env.TargetUserID,
		Data:         env.Data,
		Timestamp:    time.Now(),
	}

	var err error
	switch m := req.(type) {
	case types.MeetingOffer:
		resp.Type = types.MeetingMessageOffer
		if err = g.roomManager.RecordOffer(roomID, m.SDP); err == nil {
			g.relaySignal(roomID, resp)
		}

	case types.MeetingAnswer:
		resp.Type = types.MeetingMessageAnswer
		if err = g.roomManager.RecordAnswer(roomID, m.SDP); err == nil {
			g.relaySignal(roomID, resp)
		}

	case types.MeetingCandidate:
		resp.Type = types.MeetingMessageCandidate
		if err = g.roomManager.AddCandidate(roomID, m.Candidate); err == nil {
			g.relaySignal(roomID, resp)
		}

	case types.MeetingChat:
		resp.Type = types.MeetingMessageChat
		resp.Data = nil
		resp.Content = m.Content
		ctx, cancel := storeContext()
		err = g.roomManager.SaveChatMessage(ctx, types.MeetingChatMessage{
			RoomID:     roomID,
			SenderID:   identity,
			SenderName: claims.DisplayName(),
			Content:    m.Content,
			Timestamp:  resp.Timestamp,
		})
		cancel()
		if err == nil {
			g.signals.Broadcast(roomID, resp, "")
		}

	case types.MeetingState:
		resp.Type = types.MeetingMessageState
		var state types.ParticipantState
		ctx, cancel := storeContext()
		state, err = g.roomManager.UpdateState(ctx, roomID, identity, m.DisplayName, m.Muted, m.VideoOff)
		cancel()
		if err == nil {
			if resp.Data, err = json.Marshal(state); err == nil {
				g.signals.Broadcast(roomID, resp, "")
				g.scheduleRoster(roomID)
			}
		}

	case types.MeetingLeave:
		prometheus.MessageReceived(string(types.ProtocolMeeting), string(types.MeetingMessageLeave), "success")
		return false
	}

	msgType := string(resp.Type)
	if err != nil {
		prometheus.MessageReceived(string(types.ProtocolMeeting), msgType, "error")
		g.logger.Infow("could not handle message", "error", err, "roomID", roomID, "participant", identity, "type", msgType)
		// the room is gone, its close listener has already notified the socket
		return !errors.Is(err, rtc.ErrRoomNotFound)
	}
	prometheus.MessageReceived(string(types.ProtocolMeeting), msgType, "success")
	return true
}

// relaySignal forwards to the target when one is named, otherwise to everyone
// but the sender.
func (g *ConnectionGateway) relaySignal(roomID string, resp *types.MeetingResponse) {
	if resp.TargetUserID != "" {
		if g.signals.SendTo(roomID, resp.TargetUserID, resp) == 0 {
			g.logger.Debugw("signal target not connected", "roomID", roomID, "target", resp.TargetUserID)
		}
		return
	}
	g.signals.Broadcast(roomID, resp, resp.SenderID)
}

func (g *ConnectionGateway) sendJoined(roomID, identity string, conn *WSSignalConnection, first bool) {
	resp := &types.MeetingResponse{
		Type:      types.MeetingMessageJoined,
		RoomID:    roomID,
		SenderID:  identity,
		Timestamp: time.Now(),
	}
	if states, err := g.roomManager.ListStates(roomID); err == nil {
		resp.Data, _ = json.Marshal(states)
	}
	_ = conn.WriteResponse(resp)

	if first {
		resp.Data = nil
		g.signals.Broadcast(roomID, resp, identity)
		g.scheduleRoster(roomID)
	}
}

// replaySignalState brings a late joiner up to date with the negotiation so far.
func (g *ConnectionGateway) replaySignalState(roomID string, conn *WSSignalConnection) {
	now := time.Now()
	if sdp, ok, err := g.roomManager.GetOffer(roomID); err == nil && ok {
		_ = conn.WriteResponse(&types.MeetingResponse{
			Type:      types.MeetingMessageOffer,
			RoomID:    roomID,
			Data:      types.StringData(sdp),
			Timestamp: now,
		})
	}
	if sdp, ok, err := g.roomManager.GetAnswer(roomID); err == nil && ok {
		_ = conn.WriteResponse(&types.MeetingResponse{
			Type:      types.MeetingMessageAnswer,
			RoomID:    roomID,
			Data:      types.StringData(sdp),
			Timestamp: now,
		})
	}
	candidates, err := g.roomManager.ListCandidates(roomID)
	if err != nil {
		return
	}
	for _, candidate := range candidates {
		_ = conn.WriteResponse(&types.MeetingResponse{
			Type:      types.MeetingMessageCandidate,
			RoomID:    roomID,
			Data:      types.StringData(candidate),
			Timestamp: now,
		})
	}
}

// disconnectMeeting announces the leave once the participant's last socket is gone.
func (g *ConnectionGateway) disconnectMeeting(roomID, identity string, conn *WSSignalConnection) {
	ctx, cancel := storeContext()
	defer cancel()
	left, err := g.roomManager.Disconnect(ctx, roomID, identity, conn)
	if err != nil {
		if !errors.Is(err, rtc.ErrRoomNotFound) {
			g.logger.Warnw("could not leave room", err, "roomID", roomID, "participant", identity)
		}
		return
	}
	if !left {
		return
	}

	g.signals.Broadcast(roomID, &types.MeetingResponse{
		Type:      types.MeetingMessageLeft,
		RoomID:    roomID,
		SenderID:  identity,
		Timestamp: time.Now(),
	}, "")
	g.scheduleRoster(roomID)
}
