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

package auth

type RoomGrant struct {
	// may create meeting rooms and chat rooms
	RoomCreate bool `json:"roomCreate,omitempty"`
	// may close or delete any room
	RoomAdmin bool `json:"roomAdmin,omitempty"`
	// limits joining to a single room when set
	Room string `json:"room,omitempty"`
}

type ClaimGrants struct {
	Identity string     `json:"-"`
	Name     string     `json:"name,omitempty"`
	Room     *RoomGrant `json:"grant,omitempty"`
}

// CanJoin reports whether the holder may join roomID. Tokens without a room
// restriction may join any room.
func (c *ClaimGrants) CanJoin(roomID string) bool {
	if c == nil || c.Identity == "" {
		return false
	}
	return c.Room == nil || c.Room.Room == "" || c.Room.Room == roomID
}

func (c *ClaimGrants) CanCreate() bool {
	return c != nil && c.Room != nil && (c.Room.RoomCreate || c.Room.RoomAdmin)
}

func (c *ClaimGrants) IsAdmin() bool {
	return c != nil && c.Room != nil && c.Room.RoomAdmin
}

// DisplayName falls back to the identity when no name was issued.
func (c *ClaimGrants) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Identity
}
