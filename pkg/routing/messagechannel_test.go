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

package routing_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plainclass/plain-rtc/pkg/routing"
)

func TestMessageChannel_WriteMessageClosed(t *testing.T) {
	// ensure it doesn't panic when written to after closing
	m := routing.NewMessageChannel("c1", 8)
	go func() {
		for msg := range m.ReadChan() {
			if msg == nil {
				return
			}
		}
	}()

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = m.WriteMessage([]byte("x"))
		}
	}()
	_ = m.WriteMessage([]byte("x"))
	m.Close()
	require.ErrorIs(t, m.WriteMessage([]byte("x")), routing.ErrChannelClosed)

	wg.Wait()
}

func TestMessageChannel_Full(t *testing.T) {
	m := routing.NewMessageChannel("c1", 2)
	require.NoError(t, m.WriteMessage([]byte("1")))
	require.NoError(t, m.WriteMessage([]byte("2")))
	require.ErrorIs(t, m.WriteMessage([]byte("3")), routing.ErrChannelFull)
	require.Equal(t, 2, m.Len())

	require.Equal(t, []byte("1"), <-m.ReadChan())
	require.NoError(t, m.WriteMessage([]byte("3")))
}

func TestMessageChannel_CloseOnce(t *testing.T) {
	m := routing.NewMessageChannel("c1", 0)
	require.NoError(t, m.WriteMessage([]byte("1")))

	m.Close()
	m.Close()
	require.True(t, m.IsClosed())
	require.ErrorIs(t, m.WriteMessage([]byte("2")), routing.ErrChannelClosed)

	// queued frames still drain after close
	require.Equal(t, []byte("1"), <-m.ReadChan())

	_, ok := <-m.ReadChan()
	require.False(t, ok)
}
