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

package rtc_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plainclass/plain-rtc/pkg/rtc"
)

func TestParticipantStateStore(t *testing.T) {
	setup := func(t *testing.T, members ...string) (*rtc.RoomRegistry, *rtc.ParticipantStateStore, string) {
		reg := rtc.NewRoomRegistry()
		roomID := newRoomID()
		reg.Create(roomID)
		for _, m := range members {
			require.NoError(t, reg.Add(roomID, m))
		}
		return reg, rtc.NewParticipantStateStore(reg), roomID
	}

	t.Run("upsert requires membership", func(t *testing.T) {
		_, states, roomID := setup(t, "A")

		require.ErrorIs(t, states.Upsert(roomID, "B", "B", false, false), rtc.ErrNotAParticipant)
		require.ErrorIs(t, states.Upsert(newRoomID(), "A", "A", false, false), rtc.ErrRoomNotFound)

		list, err := states.List(roomID)
		require.NoError(t, err)
		require.Empty(t, list)
	})

	t.Run("list follows join order", func(t *testing.T) {
		_, states, roomID := setup(t, "B", "A", "C")
		require.NoError(t, states.Upsert(roomID, "A", "Anna", false, false))
		require.NoError(t, states.Upsert(roomID, "C", "Cho", true, false))
		require.NoError(t, states.Upsert(roomID, "B", "Bo", false, true))

		list, err := states.List(roomID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		require.Equal(t, "B", list[0].ParticipantID)
		require.Equal(t, "A", list[1].ParticipantID)
		require.Equal(t, "C", list[2].ParticipantID)
		require.True(t, list[2].Muted)
		require.True(t, list[0].VideoOff)
	})

	t.Run("upsert overwrites", func(t *testing.T) {
		_, states, roomID := setup(t, "A")
		require.NoError(t, states.Upsert(roomID, "A", "Anna", false, false))
		require.NoError(t, states.Upsert(roomID, "A", "Anna", true, true))

		state, ok := states.Get(roomID, "A")
		require.True(t, ok)
		require.True(t, state.Muted)
		require.True(t, state.VideoOff)
	})

	t.Run("list drops entries for departed members", func(t *testing.T) {
		reg, states, roomID := setup(t, "A", "B")
		require.NoError(t, states.Upsert(roomID, "A", "A", false, false))
		require.NoError(t, states.Upsert(roomID, "B", "B", false, false))
		require.NoError(t, reg.Remove(roomID, "A"))

		list, err := states.List(roomID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, "B", list[0].ParticipantID)
	})

	t.Run("remove", func(t *testing.T) {
		_, states, roomID := setup(t, "A", "B")
		require.NoError(t, states.Upsert(roomID, "A", "A", false, false))
		require.NoError(t, states.Upsert(roomID, "B", "B", false, false))

		states.RemoveOne(roomID, "A")
		_, ok := states.Get(roomID, "A")
		require.False(t, ok)

		states.RemoveAll(roomID)
		require.False(t, states.HasRoom(roomID))
		_, ok = states.Get(roomID, "B")
		require.False(t, ok)
	})
	t.Run("upsert racing a drop leaves no state behind", func(t *testing.T) {
		reg, states, roomID := setup(t, "A")

		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					if err := states.Upsert(roomID, "A", "A", j%2 == 0, false); err != nil {
						errs <- err
						return
					}
				}
			}()
		}

		require.NoError(t, reg.Drop(roomID))
		states.RemoveAll(roomID)
		wg.Wait()
		close(errs)
		for err := range errs {
			require.ErrorIs(t, err, rtc.ErrRoomNotFound)
		}

		require.False(t, states.HasRoom(roomID))
		require.ErrorIs(t, states.Upsert(roomID, "A", "A", false, false), rtc.ErrRoomNotFound)
		require.False(t, states.HasRoom(roomID))
	})
}
