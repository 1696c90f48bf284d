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

package rtc

import "errors"

var (
	ErrRoomNotFound         = errors.New("room not found")
	ErrAlreadyJoined        = errors.New("a participant with the same identity is already in the room")
	ErrNotAParticipant      = errors.New("participant is not a member of the room")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrTransport            = errors.New("could not deliver message to connection")
	ErrMalformedMessage     = errors.New("malformed message")
)
