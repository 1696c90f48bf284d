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
	"errors"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/google/uuid"

	"github.com/plainclass/plain-rtc/pkg/config"
	"github.com/plainclass/plain-rtc/pkg/logger"
	"github.com/plainclass/plain-rtc/pkg/rtc"
	"github.com/plainclass/plain-rtc/pkg/rtc/types"
	"github.com/plainclass/plain-rtc/pkg/telemetry/prometheus"
)

const (
	minIdleCheckInterval = time.Second
	storeTimeout         = 3 * time.Second
)

type managedRoom struct {
	lock       sync.Mutex
	room       *types.Room
	lastActive time.Time
	closed     bool
}

// RoomManager owns the lifecycle of meeting rooms. Every mutation of a room
// runs under that room's lock, so a close can never interleave with a join.
type RoomManager struct {
	conf     config.RoomConfig
	registry *rtc.RoomRegistry
	states   *rtc.ParticipantStateStore
	relay    *rtc.SignalingRelay
	store    RoomStore
	sessions *SessionIndex
	logger   logger.Logger

	lock  sync.RWMutex
	rooms map[string]*managedRoom

	listenerLock sync.RWMutex
	onClosed     []func(room types.Room)

	stopped core.Fuse
}

func NewRoomManager(
	conf *config.Config,
	registry *rtc.RoomRegistry,
	states *rtc.ParticipantStateStore,
	relay *rtc.SignalingRelay,
	store RoomStore,
	sessions *SessionIndex,
) *RoomManager {
	return &RoomManager{
		conf:     conf.Room,
		registry: registry,
		states:   states,
		relay:    relay,
		store:    store,
		sessions: sessions,
		logger:   logger.GetLogger().WithName("roommanager"),
		rooms:    make(map[string]*managedRoom),
	}
}

// Start launches the idle room reaper.
func (r *RoomManager) Start() {
	if r.conf.IdleTimeout <= 0 {
		return
	}
	go r.idleWorker()
}

func (r *RoomManager) Stop() {
	r.stopped.Break()
}

// OnRoomClosed registers a callback invoked after a room has been torn down,
// outside of the room lock.
func (r *RoomManager) OnRoomClosed(f func(room types.Room)) {
	r.listenerLock.Lock()
	r.onClosed = append(r.onClosed, f)
	r.listenerLock.Unlock()
}

// Cleanup marks rooms left ACTIVE by a previous process as CLOSED, since their
// in-memory state is gone.
func (r *RoomManager) Cleanup(ctx context.Context) error {
	rooms, err := r.store.ListRooms(ctx)
	if err != nil {
		return err
	}

	for _, room := range rooms {
		if !room.IsActive() || r.getRoom(room.ID) != nil {
			continue
		}
		r.logger.Infow("closing stale room", "roomID", room.ID)
		now := time.Now()
		room.Status = types.RoomStatusClosed
		room.ClosedAt = &now
		if err := r.store.DeleteRoomState(ctx, room.ID); err != nil {
			r.logger.Warnw("could not delete stale room state", err, "roomID", room.ID)
		}
		if err := r.store.StoreRoom(ctx, room); err != nil {
			r.logger.Warnw("could not close stale room", err, "roomID", room.ID)
		}
	}
	return nil
}

// CreateRoom allocates a new ACTIVE room and joins the host to it.
func (r *RoomManager) CreateRoom(ctx context.Context, hostID, hostName, title string) (*types.Room, error) {
	room := &types.Room{
		ID:        uuid.NewString(),
		HostID:    hostID,
		Title:     title,
		Status:    types.RoomStatusActive,
		CreatedAt: time.Now(),
	}
	if err := r.store.StoreRoom(ctx, room); err != nil {
		return nil, err
	}

	r.registry.Create(room.ID)
	mr := &managedRoom{
		room:       room,
		lastActive: time.Now(),
	}
	r.lock.Lock()
	r.rooms[room.ID] = mr
	r.lock.Unlock()
	prometheus.RoomStarted()

	r.logger.Infow("room created", "roomID", room.ID, "hostID", hostID, "title", title)

	if err := r.Join(ctx, room.ID, hostID, hostName); err != nil {
		return nil, err
	}
	created := *room
	return &created, nil
}

// GetRoom falls back to the store so that CLOSED rooms remain visible.
func (r *RoomManager) GetRoom(ctx context.Context, roomID string) (*types.Room, error) {
	if mr := r.getRoom(roomID); mr != nil {
		mr.lock.Lock()
		room := *mr.room
		mr.lock.Unlock()
		return &room, nil
	}
	return r.store.LoadRoom(ctx, roomID)
}

// ListRooms returns the rooms this node is serving.
func (r *RoomManager) ListRooms() []types.Room {
	r.lock.RLock()
	managed := make([]*managedRoom, 0, len(r.rooms))
	for _, mr := range r.rooms {
		managed = append(managed, mr)
	}
	r.lock.RUnlock()

	rooms := make([]types.Room, 0, len(managed))
	for _, mr := range managed {
		mr.lock.Lock()
		if !mr.closed {
			rooms = append(rooms, *mr.room)
		}
		mr.lock.Unlock()
	}
	return rooms
}

// ListStoredRooms returns every room the store knows about, CLOSED ones included.
func (r *RoomManager) ListStoredRooms(ctx context.Context) ([]*types.Room, error) {
	return r.store.ListRooms(ctx)
}

// Join fails with ErrRoomNotFound unless the room is ACTIVE, and with
// ErrAlreadyJoined when the participant is already a member.
func (r *RoomManager) Join(ctx context.Context, roomID, participantID, displayName string) error {
	mr, err := r.lockActive(roomID)
	if err != nil {
		return err
	}
	defer mr.lock.Unlock()
	return r.joinLocked(ctx, mr, roomID, participantID, displayName)
}

// Leave is a no-op for non-members. The room closes once its last member leaves.
func (r *RoomManager) Leave(ctx context.Context, roomID, participantID string) error {
	mr, err := r.lockActive(roomID)
	if err != nil {
		return err
	}
	_, closed, err := r.leaveLocked(ctx, mr, roomID, participantID)
	mr.lock.Unlock()

	if closed != nil {
		r.notifyClosed(*closed)
	}
	return err
}

// Connect joins the participant unless already a member and indexes the
// socket in the same room lock section as the membership change. first
// reports whether this is the participant's only live socket.
func (r *RoomManager) Connect(ctx context.Context, roomID, participantID, displayName string, sink types.MessageSink) (bool, error) {
	mr, err := r.lockActive(roomID)
	if err != nil {
		return false, err
	}
	defer mr.lock.Unlock()

	err = r.joinLocked(ctx, mr, roomID, participantID, displayName)
	if err != nil && !errors.Is(err, rtc.ErrAlreadyJoined) {
		return false, err
	}
	r.sessions.Add(types.ProtocolMeeting, roomID, sink)
	return r.sessions.ParticipantConnections(types.ProtocolMeeting, roomID, participantID) == 1, nil
}

// Disconnect unindexes the socket and, when it was the participant's last
// one, runs the leave before the room lock is released. left reports whether
// the participant left a room that is still ACTIVE.
func (r *RoomManager) Disconnect(ctx context.Context, roomID, participantID string, sink types.MessageSink) (bool, error) {
	mr := r.getRoom(roomID)
	if mr == nil {
		r.sessions.Remove(types.ProtocolMeeting, roomID, sink)
		return false, rtc.ErrRoomNotFound
	}

	mr.lock.Lock()
	removed, last := r.sessions.Remove(types.ProtocolMeeting, roomID, sink)
	if mr.closed {
		mr.lock.Unlock()
		return false, rtc.ErrRoomNotFound
	}
	if !removed || !last {
		mr.lock.Unlock()
		return false, nil
	}
	left, closed, err := r.leaveLocked(ctx, mr, roomID, participantID)
	mr.lock.Unlock()

	if closed != nil {
		r.notifyClosed(*closed)
		return false, nil
	}
	return left, err
}

// joinLocked adds a member. Callers hold mr.lock on an ACTIVE room.
func (r *RoomManager) joinLocked(ctx context.Context, mr *managedRoom, roomID, participantID, displayName string) error {
	if err := r.registry.Add(roomID, participantID); err != nil {
		return err
	}
	if displayName == "" {
		displayName = participantID
	}
	if err := r.states.Upsert(roomID, participantID, displayName, false, false); err != nil {
		return err
	}
	mr.lastActive = time.Now()
	prometheus.AddParticipant()

	r.logger.Infow("participant joined", "roomID", roomID, "participant", participantID)
	r.persistParticipants(ctx, roomID)
	if state, ok := r.states.Get(roomID, participantID); ok {
		r.persistState(ctx, state)
	}
	return nil
}

// leaveLocked removes a member and closes the room when it empties. Callers
// hold mr.lock on an ACTIVE room and fire notifyClosed for a returned room
// after unlocking.
func (r *RoomManager) leaveLocked(ctx context.Context, mr *managedRoom, roomID, participantID string) (bool, *types.Room, error) {
	isMember, err := r.registry.IsMember(roomID, participantID)
	if err != nil || !isMember {
		return false, nil, err
	}
	if err = r.registry.Remove(roomID, participantID); err != nil {
		return false, nil, err
	}
	r.states.RemoveOne(roomID, participantID)
	mr.lastActive = time.Now()
	prometheus.SubParticipant()
	r.logger.Infow("participant left", "roomID", roomID, "participant", participantID)

	if empty, _ := r.registry.IsEmpty(roomID); empty {
		return true, r.closeLocked(ctx, mr, "empty"), nil
	}
	r.persistParticipants(ctx, roomID)
	r.deleteState(ctx, roomID, participantID)
	return true, nil, nil
}

// CloseRoom is idempotent for rooms that are already CLOSED.
func (r *RoomManager) CloseRoom(ctx context.Context, roomID string) error {
	mr := r.getRoom(roomID)
	if mr == nil {
		room, err := r.store.LoadRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if room.IsActive() {
			// left over from a previous process
			now := time.Now()
			room.Status = types.RoomStatusClosed
			room.ClosedAt = &now
			_ = r.store.DeleteRoomState(ctx, roomID)
			return r.store.StoreRoom(ctx, room)
		}
		return nil
	}

	mr.lock.Lock()
	if mr.closed {
		mr.lock.Unlock()
		return nil
	}
	closed := r.closeLocked(ctx, mr, "closed")
	mr.lock.Unlock()

	r.notifyClosed(*closed)
	return nil
}

func (r *RoomManager) UpdateState(ctx context.Context, roomID, participantID, displayName string, muted, videoOff bool) (types.ParticipantState, error) {
	mr, err := r.lockActive(roomID)
	if err != nil {
		return types.ParticipantState{}, err
	}
	defer mr.lock.Unlock()

	if displayName == "" {
		if current, ok := r.states.Get(roomID, participantID); ok {
			displayName = current.DisplayName
		} else {
			displayName = participantID
		}
	}
	if err = r.states.Upsert(roomID, participantID, displayName, muted, videoOff); err != nil {
		return types.ParticipantState{}, err
	}
	mr.lastActive = time.Now()

	state, _ := r.states.Get(roomID, participantID)
	r.persistState(ctx, state)
	return state, nil
}

func (r *RoomManager) RecordOffer(roomID, sdp string) error {
	mr, err := r.lockActive(roomID)
	if err != nil {
		return err
	}
	defer mr.lock.Unlock()
	r.relay.SetOffer(roomID, sdp)
	mr.lastActive = time.Now()
	return nil
}

func (r *RoomManager) RecordAnswer(roomID, sdp string) error {
	mr, err := r.lockActive(roomID)
	if err != nil {
		return err
	}
	defer mr.lock.Unlock()
	r.relay.SetAnswer(roomID, sdp)
	mr.lastActive = time.Now()
	return nil
}

func (r *RoomManager) AddCandidate(roomID, candidate string) error {
	mr, err := r.lockActive(roomID)
	if err != nil {
		return err
	}
	defer mr.lock.Unlock()
	r.relay.AddCandidate(roomID, candidate)
	mr.lastActive = time.Now()
	return nil
}

func (r *RoomManager) GetOffer(roomID string) (string, bool, error) {
	if !r.isActive(roomID) {
		return "", false, rtc.ErrRoomNotFound
	}
	sdp, ok := r.relay.GetOffer(roomID)
	return sdp, ok, nil
}

func (r *RoomManager) GetAnswer(roomID string) (string, bool, error) {
	if !r.isActive(roomID) {
		return "", false, rtc.ErrRoomNotFound
	}
	sdp, ok := r.relay.GetAnswer(roomID)
	return sdp, ok, nil
}

func (r *RoomManager) ListCandidates(roomID string) ([]string, error) {
	if !r.isActive(roomID) {
		return nil, rtc.ErrRoomNotFound
	}
	return r.relay.ListCandidates(roomID), nil
}

func (r *RoomManager) ListParticipants(roomID string) ([]string, error) {
	return r.registry.List(roomID)
}

func (r *RoomManager) ListStates(roomID string) ([]types.ParticipantState, error) {
	return r.states.List(roomID)
}

func (r *RoomManager) IsMember(roomID, participantID string) (bool, error) {
	return r.registry.IsMember(roomID, participantID)
}

// SaveChatMessage requires the sender to be a member of an ACTIVE room.
func (r *RoomManager) SaveChatMessage(ctx context.Context, msg types.MeetingChatMessage) error {
	mr, err := r.lockActive(msg.RoomID)
	if err != nil {
		return err
	}
	defer mr.lock.Unlock()

	isMember, err := r.registry.IsMember(msg.RoomID, msg.SenderID)
	if err != nil {
		return err
	}
	if !isMember {
		return rtc.ErrNotAParticipant
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	mr.lastActive = time.Now()
	return r.store.AppendChatMessage(ctx, msg)
}

func (r *RoomManager) ChatMessages(ctx context.Context, roomID string) ([]types.MeetingChatMessage, error) {
	if !r.isActive(roomID) {
		return nil, rtc.ErrRoomNotFound
	}
	return r.store.ListChatMessages(ctx, roomID)
}

// CloseIdleRooms closes rooms without any live meeting connection that have
// seen no activity for the configured idle timeout.
func (r *RoomManager) CloseIdleRooms(ctx context.Context) {
	if r.conf.IdleTimeout <= 0 {
		return
	}

	r.lock.RLock()
	candidates := make([]*managedRoom, 0, len(r.rooms))
	for _, mr := range r.rooms {
		candidates = append(candidates, mr)
	}
	r.lock.RUnlock()

	for _, mr := range candidates {
		mr.lock.Lock()
		if mr.closed ||
			time.Since(mr.lastActive) < r.conf.IdleTimeout ||
			(r.sessions != nil && r.sessions.Count(types.ProtocolMeeting, mr.room.ID) > 0) {
			mr.lock.Unlock()
			continue
		}
		closed := r.closeLocked(ctx, mr, "idle")
		mr.lock.Unlock()
		r.notifyClosed(*closed)
	}
}

func (r *RoomManager) idleWorker() {
	interval := r.conf.IdleTimeout / 2
	if interval < minIdleCheckInterval {
		interval = minIdleCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopped.Watch():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			r.CloseIdleRooms(ctx)
			cancel()
		}
	}
}

// closeLocked tears the room down. Callers hold mr.lock.
func (r *RoomManager) closeLocked(ctx context.Context, mr *managedRoom, reason string) *types.Room {
	roomID := mr.room.ID
	if remaining, err := r.registry.List(roomID); err == nil {
		for range remaining {
			prometheus.SubParticipant()
		}
	}

	_ = r.registry.Drop(roomID)
	r.states.RemoveAll(roomID)
	r.relay.Clear(roomID)

	now := time.Now()
	mr.closed = true
	mr.room.Status = types.RoomStatusClosed
	mr.room.ClosedAt = &now

	r.lock.Lock()
	delete(r.rooms, roomID)
	r.lock.Unlock()

	if err := r.store.DeleteRoomState(ctx, roomID); err != nil {
		r.logger.Warnw("could not delete room state", err, "roomID", roomID)
	}
	if err := r.store.StoreRoom(ctx, mr.room); err != nil {
		r.logger.Warnw("could not store closed room", err, "roomID", roomID)
	}
	prometheus.RoomEnded(mr.room.CreatedAt)

	r.logger.Infow("room closed", "roomID", roomID, "reason", reason)
	closed := *mr.room
	return &closed
}

func (r *RoomManager) notifyClosed(room types.Room) {
	r.listenerLock.RLock()
	listeners := r.onClosed
	r.listenerLock.RUnlock()
	for _, f := range listeners {
		f(room)
	}
}

func (r *RoomManager) getRoom(roomID string) *managedRoom {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.rooms[roomID]
}

func (r *RoomManager) isActive(roomID string) bool {
	mr := r.getRoom(roomID)
	if mr == nil {
		return false
	}
	mr.lock.Lock()
	defer mr.lock.Unlock()
	return !mr.closed
}

// lockActive returns the room locked, or ErrRoomNotFound.
func (r *RoomManager) lockActive(roomID string) (*managedRoom, error) {
	mr := r.getRoom(roomID)
	if mr == nil {
		return nil, rtc.ErrRoomNotFound
	}
	mr.lock.Lock()
	if mr.closed {
		mr.lock.Unlock()
		return nil, rtc.ErrRoomNotFound
	}
	return mr, nil
}

func (r *RoomManager) persistParticipants(ctx context.Context, roomID string) {
	ids, err := r.registry.List(roomID)
	if err != nil {
		return
	}
	if err = r.store.StoreParticipants(ctx, roomID, ids); err != nil {
		r.logger.Warnw("could not store participants", err, "roomID", roomID)
	}
}

func (r *RoomManager) persistState(ctx context.Context, state types.ParticipantState) {
	if err := r.store.StoreParticipantState(ctx, state); err != nil {
		r.logger.Warnw("could not store participant state", err, "roomID", state.RoomID, "participant", state.ParticipantID)
	}
}

func (r *RoomManager) deleteState(ctx context.Context, roomID, participantID string) {
	if err := r.store.DeleteParticipantState(ctx, roomID, participantID); err != nil {
		r.logger.Warnw("could not delete participant state", err, "roomID", roomID, "participant", participantID)
	}
}
