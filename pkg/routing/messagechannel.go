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

package routing

import (
	"sync"
)

const DefaultMessageChannelSize = 64

// MessageChannel is a bounded outbound queue for one connection. Writers never
// block: a full queue reports ErrChannelFull and the owner decides what to do
// with the slow reader.
type MessageChannel struct {
	connectionID string
	msgChan      chan []byte

	lock     sync.RWMutex
	isClosed bool
}

func NewMessageChannel(connectionID string, size int) *MessageChannel {
	if size <= 0 {
		size = DefaultMessageChannelSize
	}
	return &MessageChannel{
		connectionID: connectionID,
		msgChan:      make(chan []byte, size),
	}
}

func (m *MessageChannel) ConnectionID() string {
	return m.connectionID
}

func (m *MessageChannel) WriteMessage(msg []byte) error {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.isClosed {
		return ErrChannelClosed
	}

	select {
	case m.msgChan <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

func (m *MessageChannel) ReadChan() <-chan []byte {
	return m.msgChan
}

func (m *MessageChannel) IsClosed() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.isClosed
}

func (m *MessageChannel) Len() int {
	return len(m.msgChan)
}

// Close is safe to call more than once.
func (m *MessageChannel) Close() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.isClosed {
		return
	}
	m.isClosed = true
	close(m.msgChan)
}
