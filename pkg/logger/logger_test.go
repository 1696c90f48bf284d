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

package logger_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/plainclass/plain-rtc/pkg/logger"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, logger.ParseLevel("debug"))
	require.Equal(t, zapcore.WarnLevel, logger.ParseLevel("warn"))
	require.Equal(t, zapcore.InfoLevel, logger.ParseLevel(""))
	require.Equal(t, zapcore.InfoLevel, logger.ParseLevel("loud"))
}

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := logger.NewZapLogger(zap.New(core)).WithName("gateway").WithValues("room", "r1")

	t.Run("error is attached", func(t *testing.T) {
		l.Warnw("send failed", errors.New("closed"), "participant", "p1")
		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		require.Equal(t, "gateway", entries[0].LoggerName)
		fields := entries[0].ContextMap()
		require.Equal(t, "r1", fields["room"])
		require.Equal(t, "p1", fields["participant"])
		require.Equal(t, "closed", fields["error"])
	})

	t.Run("nil error omitted", func(t *testing.T) {
		l.Errorw("failed", nil)
		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		_, ok := entries[0].ContextMap()["error"]
		require.False(t, ok)
	})

	t.Run("set default", func(t *testing.T) {
		prev := logger.GetLogger()
		defer logger.SetLogger(prev)

		logger.SetLogger(l)
		logger.Debugw("hello")
		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	})
}
