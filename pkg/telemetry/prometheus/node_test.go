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

package prometheus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNodeStats(t *testing.T) {
	Init("test-node")
	// second init is a no-op and must not panic on duplicate registration
	Init("test-node")

	prev := &NodeStats{StartedAt: time.Now().Unix()}
	base, err := GetUpdatedNodeStats(prev)
	require.NoError(t, err)

	RoomStarted()
	AddParticipant()
	AddConnection("meeting")
	MessageReceived("meeting", "offer", "success")
	MessagesSent(3)
	defer func() {
		SubConnection("meeting", time.Now())
		SubParticipant()
		RoomEnded(time.Time{})
	}()

	stats, err := GetUpdatedNodeStats(base)
	require.NoError(t, err)
	require.Equal(t, base.NumRooms+1, stats.NumRooms)
	require.Equal(t, base.NumParticipants+1, stats.NumParticipants)
	require.Equal(t, base.NumConnections+1, stats.NumConnections)
	require.Equal(t, base.MessagesIn+1, stats.MessagesIn)
	require.Equal(t, base.MessagesOut+3, stats.MessagesOut)
	require.Equal(t, prev.StartedAt, stats.StartedAt)
	require.NotZero(t, stats.NumCPUs)
}
