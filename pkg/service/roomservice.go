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
	"strings"

	"github.com/pkg/errors"

	"github.com/plainclass/plain-rtc/pkg/rtc/types"
	"github.com/plainclass/plain-rtc/pkg/telemetry/prometheus"
)

type CreateRoomRequest struct {
	HostID   string `json:"hostId"`
	HostName string `json:"hostName"`
	Title    string `json:"title"`
}

type SignalStateResponse struct {
	RoomID string `json:"roomId"`
	SDP    string `json:"sdp"`
}

type CandidatesResponse struct {
	RoomID     string   `json:"roomId"`
	Candidates []string `json:"candidates"`
}

type ParticipantsResponse struct {
	RoomID       string   `json:"roomId"`
	Participants []string `json:"participants"`
}

// RoomService is the meeting control plane on top of RoomManager.
type RoomService struct {
	roomManager *RoomManager
}

func NewRoomService(roomManager *RoomManager) *RoomService {
	return &RoomService{
		roomManager: roomManager,
	}
}

// CreateRoom hosts the room as the caller unless an admin names another host.
func (s *RoomService) CreateRoom(ctx context.Context, req *CreateRoomRequest) (*types.Room, error) {
	claims, err := EnsureCreatePermission(ctx)
	if err != nil {
		return nil, err
	}

	hostID := strings.TrimSpace(req.HostID)
	hostName := req.HostName
	if hostID == "" {
		hostID = claims.Identity
	}
	if hostID != claims.Identity && !claims.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	if hostName == "" && hostID == claims.Identity {
		hostName = claims.DisplayName()
	}

	room, err := s.roomManager.CreateRoom(ctx, hostID, hostName, strings.TrimSpace(req.Title))
	prometheus.RecordServiceOperation("create_room", err, "")
	if err != nil {
		return nil, errors.Wrap(err, "could not create room")
	}
	return room, nil
}

func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*types.Room, error) {
	if _, err := EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	return s.roomManager.GetRoom(ctx, roomID)
}

// ListRooms returns the live rooms, or every stored room when all is set.
func (s *RoomService) ListRooms(ctx context.Context, all bool) ([]types.Room, error) {
	if _, err := EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	if !all {
		return s.roomManager.ListRooms(), nil
	}

	stored, err := s.roomManager.ListStoredRooms(ctx)
	if err != nil {
		return nil, err
	}
	rooms := make([]types.Room, 0, len(stored))
	for _, room := range stored {
		rooms = append(rooms, *room)
	}
	return rooms, nil
}

func (s *RoomService) CloseRoom(ctx context.Context, roomID string) error {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err = EnsureHostOrAdminPermission(ctx, room.HostID); err != nil {
		return err
	}
	err = s.roomManager.CloseRoom(ctx, roomID)
	prometheus.RecordServiceOperation("close_room", err, "")
	return err
}

func (s *RoomService) ListParticipants(ctx context.Context, roomID string) (*ParticipantsResponse, error) {
	if _, err := EnsureJoinPermission(ctx, roomID); err != nil {
		return nil, err
	}
	ids, err := s.roomManager.ListParticipants(roomID)
	if err != nil {
		return nil, err
	}
	return &ParticipantsResponse{RoomID: roomID, Participants: ids}, nil
}

func (s *RoomService) ListStates(ctx context.Context, roomID string) ([]types.ParticipantState, error) {
	if _, err := EnsureJoinPermission(ctx, roomID); err != nil {
		return nil, err
	}
	return s.roomManager.ListStates(roomID)
}

func (s *RoomService) GetOffer(ctx context.Context, roomID string) (*SignalStateResponse, error) {
	if _, err := EnsureJoinPermission(ctx, roomID); err != nil {
		return nil, err
	}
	sdp, _, err := s.roomManager.GetOffer(roomID)
	if err != nil {
		return nil, err
	}
	return &SignalStateResponse{RoomID: roomID, SDP: sdp}, nil
}

func (s *RoomService) GetAnswer(ctx context.Context, roomID string) (*SignalStateResponse, error) {
	if _, err := EnsureJoinPermission(ctx, roomID); err != nil {
		return nil, err
	}
	sdp, _, err := s.roomManager.GetAnswer(roomID)
	if err != nil {
		return nil, err
	}
	return &SignalStateResponse{RoomID: roomID, SDP: sdp}, nil
}

func (s *RoomService) ListCandidates(ctx context.Context, roomID string) (*CandidatesResponse, error) {
	if _, err := EnsureJoinPermission(ctx, roomID); err != nil {
		return nil, err
	}
	candidates, err := s.roomManager.ListCandidates(roomID)
	if err != nil {
		return nil, err
	}
	if candidates == nil {
		candidates = []string{}
	}
	return &CandidatesResponse{RoomID: roomID, Candidates: candidates}, nil
}

func (s *RoomService) ChatMessages(ctx context.Context, roomID string) ([]types.MeetingChatMessage, error) {
	if _, err := EnsureJoinPermission(ctx, roomID); err != nil {
		return nil, err
	}
	return s.roomManager.ChatMessages(ctx, roomID)
}

// RegisterRoutes mounts the meeting endpoints on mux.
func (s *RoomService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/meetings", s.handleCreateRoom)
	mux.HandleFunc("GET /api/meetings", func(w http.ResponseWriter, r *http.Request) {
		rooms, err := s.ListRooms(r.Context(), boolValue(r.URL.Query().Get("all")))
		respond(w, r, rooms, err)
	})
	mux.HandleFunc("GET /api/meetings/{roomId}", func(w http.ResponseWriter, r *http.Request) {
		room, err := s.GetRoom(r.Context(), r.PathValue("roomId"))
		respond(w, r, room, err)
	})
	mux.HandleFunc("DELETE /api/meetings/{roomId}", func(w http.ResponseWriter, r *http.Request) {
		err := s.CloseRoom(r.Context(), r.PathValue("roomId"))
		respondNoContent(w, r, err)
	})
	mux.HandleFunc("GET /api/meetings/{roomId}/participants", func(w http.ResponseWriter, r *http.Request) {
		res, err := s.ListParticipants(r.Context(), r.PathValue("roomId"))
		respond(w, r, res, err)
	})
	mux.HandleFunc("GET /api/meetings/{roomId}/states", func(w http.ResponseWriter, r *http.Request) {
		res, err := s.ListStates(r.Context(), r.PathValue("roomId"))
		respond(w, r, res, err)
	})
	mux.HandleFunc("GET /api/meetings/{roomId}/offer", func(w http.ResponseWriter, r *http.Request) {
		res, err := s.GetOffer(r.Context(), r.PathValue("roomId"))
		respond(w, r, res, err)
	})
	mux.HandleFunc("GET /api/meetings/{roomId}/answer", func(w http.ResponseWriter, r *http.Request) {
		res, err := s.GetAnswer(r.Context(), r.PathValue("roomId"))
		respond(w, r, res, err)
	})
	mux.HandleFunc("GET /api/meetings/{roomId}/candidates", func(w http.ResponseWriter, r *http.Request) {
		res, err := s.ListCandidates(r.Context(), r.PathValue("roomId"))
		respond(w, r, res, err)
	})
	mux.HandleFunc("GET /api/meetings/{roomId}/messages", func(w http.ResponseWriter, r *http.Request) {
		res, err := s.ChatMessages(r.Context(), r.PathValue("roomId"))
		respond(w, r, res, err)
	})
}

func (s *RoomService) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleError(w, r, http.StatusBadRequest, errors.Wrap(ErrBadRequest, err.Error()))
		return
	}
	room, err := s.CreateRoom(r.Context(), &req)
	if err != nil {
		handleError(w, r, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}
