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
	"io"
	"strings"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gorilla/websocket"

	"github.com/plainclass/plain-rtc/pkg/config"
	"github.com/plainclass/plain-rtc/pkg/logger"
	"github.com/plainclass/plain-rtc/pkg/routing"
	"github.com/plainclass/plain-rtc/pkg/rtc/types"
	"github.com/plainclass/plain-rtc/pkg/utils"
)

// WSSignalConnection owns one websocket. Reads happen on the caller's
// goroutine; every write goes through the send queue and a single writer
// goroutine, so frames from concurrent broadcasts never interleave.
type WSSignalConnection struct {
	conn          types.WebsocketClient
	connectionID  string
	participantID string
	conf          config.WebSocketConfig
	sendQueue     *routing.MessageChannel
	logger        logger.Logger

	done core.Fuse
}

func NewWSSignalConnection(conn types.WebsocketClient, participantID string, conf config.WebSocketConfig, l logger.Logger) *WSSignalConnection {
	connectionID := utils.NewGuid(utils.ConnectionPrefix)
	c := &WSSignalConnection{
		conn:          conn,
		connectionID:  connectionID,
		participantID: participantID,
		conf:          conf,
		sendQueue:     routing.NewMessageChannel(connectionID, conf.SendQueueSize),
		logger:        l.WithValues("connectionID", connectionID),
	}

	if conf.MaxMessageSize > 0 {
		conn.SetReadLimit(conf.MaxMessageSize)
	}
	c.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	go c.writeWorker()
	if conf.PingInterval > 0 {
		go c.pingWorker()
	}
	return c
}

func (c *WSSignalConnection) ConnectionID() string {
	return c.connectionID
}

func (c *WSSignalConnection) ParticipantID() string {
	return c.participantID
}

// WriteMessage queues an encoded frame. It never blocks.
func (c *WSSignalConnection) WriteMessage(payload []byte) error {
	return c.sendQueue.WriteMessage(payload)
}

func (c *WSSignalConnection) WriteResponse(msg interface{}) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.WriteMessage(payload)
}

// ReadMessage blocks until the next data frame arrives.
func (c *WSSignalConnection) ReadMessage() ([]byte, error) {
	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		c.extendReadDeadline()

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			return payload, nil
		default:
			c.logger.Debugw("unsupported message", "message", messageType)
		}
	}
}

// Close flushes queued frames, sends a close frame and closes the socket.
// Safe to call more than once.
func (c *WSSignalConnection) Close() {
	c.sendQueue.Close()
}

// Done is closed once the socket is closed.
func (c *WSSignalConnection) Done() <-chan struct{} {
	return c.done.Watch()
}

func (c *WSSignalConnection) extendReadDeadline() {
	if c.conf.PongTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.conf.PongTimeout))
	}
}

func (c *WSSignalConnection) writeWorker() {
	defer func() {
		_ = c.conn.Close()
		c.done.Break()
	}()

	for payload := range c.sendQueue.ReadChan() {
		if c.conf.WriteTimeout > 0 {
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.conf.WriteTimeout))
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			if !IsWebSocketCloseError(err) {
				c.logger.Warnw("error writing to websocket", err)
			}
			// unblock producers, remaining frames are dropped
			c.sendQueue.Close()
			return
		}
	}

	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.writeTimeout()),
	)
}

func (c *WSSignalConnection) pingWorker() {
	ticker := time.NewTicker(c.conf.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done.Watch():
			return
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, []byte(""), time.Now().Add(c.writeTimeout()))
			if err != nil {
				return
			}
		}
	}
}

func (c *WSSignalConnection) writeTimeout() time.Duration {
	if c.conf.WriteTimeout > 0 {
		return c.conf.WriteTimeout
	}
	return time.Second
}

// IsWebSocketCloseError checks that error is normal/expected closure
func IsWebSocketCloseError(err error) bool {
	return errors.Is(err, io.EOF) ||
		strings.HasSuffix(err.Error(), "use of closed network connection") ||
		strings.HasSuffix(err.Error(), "connection reset by peer") ||
		websocket.IsCloseError(
			err,
			websocket.CloseAbnormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNormalClosure,
			websocket.CloseNoStatusReceived,
		)
}
