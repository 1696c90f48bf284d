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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plainclass/plain-rtc/pkg/rtc"
)

func TestSignalingRelay(t *testing.T) {
	t.Run("unset values", func(t *testing.T) {
		relay := rtc.NewSignalingRelay()
		roomID := newRoomID()

		_, ok := relay.GetOffer(roomID)
		require.False(t, ok)
		_, ok = relay.GetAnswer(roomID)
		require.False(t, ok)
		require.Empty(t, relay.ListCandidates(roomID))
	})

	t.Run("last write wins", func(t *testing.T) {
		relay := rtc.NewSignalingRelay()
		roomID := newRoomID()

		relay.SetOffer(roomID, "offer-1")
		relay.SetOffer(roomID, "offer-2")
		relay.SetAnswer(roomID, "answer-1")

		offer, ok := relay.GetOffer(roomID)
		require.True(t, ok)
		require.Equal(t, "offer-2", offer)
		answer, ok := relay.GetAnswer(roomID)
		require.True(t, ok)
		require.Equal(t, "answer-1", answer)
	})

	t.Run("candidates keep order and are copied", func(t *testing.T) {
		relay := rtc.NewSignalingRelay()
		roomID := newRoomID()
		relay.AddCandidate(roomID, "c1")
		relay.AddCandidate(roomID, "c2")
		relay.AddCandidate(roomID, "c3")

		list := relay.ListCandidates(roomID)
		require.Equal(t, []string{"c1", "c2", "c3"}, list)
		list[0] = "mutated"
		require.Equal(t, "c1", relay.ListCandidates(roomID)[0])
	})

	t.Run("concurrent candidates are all kept in per-sender order", func(t *testing.T) {
		relay := rtc.NewSignalingRelay()
		roomID := newRoomID()

		const senders = 8
		const perSender = 100
		var wg sync.WaitGroup
		for s := 0; s < senders; s++ {
			wg.Add(1)
			go func(s int) {
				defer wg.Done()
				for i := 0; i < perSender; i++ {
					relay.AddCandidate(roomID, fmt.Sprintf("%d:%d", s, i))
				}
			}(s)
		}
		wg.Wait()

		list := relay.ListCandidates(roomID)
		require.Len(t, list, senders*perSender)

		next := make(map[int]int)
		for _, c := range list {
			var s, i int
			_, err := fmt.Sscanf(c, "%d:%d", &s, &i)
			require.NoError(t, err)
			require.Equal(t, next[s], i)
			next[s]++
		}
	})

	t.Run("clear", func(t *testing.T) {
		relay := rtc.NewSignalingRelay()
		roomID := newRoomID()
		other := newRoomID()
		relay.SetOffer(roomID, "o")
		relay.SetAnswer(roomID, "a")
		relay.AddCandidate(roomID, "c")
		relay.AddCandidate(other, "c")

		relay.Clear(roomID)
		require.False(t, relay.HasRoom(roomID))
		_, ok := relay.GetOffer(roomID)
		require.False(t, ok)
		require.Empty(t, relay.ListCandidates(roomID))
		require.Len(t, relay.ListCandidates(other), 1)
	})
}
