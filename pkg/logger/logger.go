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

package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is embedded in the server config under `logging`.
type Config struct {
	JSON  bool   `yaml:"json,omitempty"`
	Level string `yaml:"level,omitempty"`
	// enable sampling of repeated log lines
	Sample bool `yaml:"sample,omitempty"`
}

type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, err error, keysAndValues ...interface{})
	Errorw(msg string, err error, keysAndValues ...interface{})
	WithValues(keysAndValues ...interface{}) Logger
	WithName(name string) Logger
	WithCallDepth(depth int) Logger
}

var (
	mu            sync.RWMutex
	defaultLogger Logger = NewZapLogger(newDevelopment("info"))
)

// InitFromConfig replaces the process logger. Development mode switches to a
// console encoder with debug stack traces.
func InitFromConfig(conf Config, name string, development bool) {
	var zc zap.Config
	if development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if conf.JSON {
		zc.Encoding = "json"
	} else if development {
		zc.Encoding = "console"
	}
	if !conf.Sample {
		zc.Sampling = nil
	}
	zc.Level = zap.NewAtomicLevelAt(ParseLevel(conf.Level))

	l, err := zc.Build()
	if err != nil {
		Warnw("could not build logger, keeping default", err)
		return
	}
	SetLogger(NewZapLogger(l).WithName(name))
}

// ParseLevel accepts debug, info, warn, error, fatal, panic. Unknown values map to info.
func ParseLevel(level string) zapcore.Level {
	lvl := zapcore.InfoLevel
	if level != "" {
		_ = lvl.UnmarshalText([]byte(level))
	}
	return lvl
}

func SetLogger(l Logger) {
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

func Debugw(msg string, keysAndValues ...interface{}) {
	GetLogger().WithCallDepth(1).Debugw(msg, keysAndValues...)
}

func Infow(msg string, keysAndValues ...interface{}) {
	GetLogger().WithCallDepth(1).Infow(msg, keysAndValues...)
}

func Warnw(msg string, err error, keysAndValues ...interface{}) {
	GetLogger().WithCallDepth(1).Warnw(msg, err, keysAndValues...)
}

func Errorw(msg string, err error, keysAndValues ...interface{}) {
	GetLogger().WithCallDepth(1).Errorw(msg, err, keysAndValues...)
}

func newDevelopment(level string) *zap.Logger {
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	l, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

type zapLogger struct {
	zap *zap.SugaredLogger
}

func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{zap: l.Sugar()}
}

func (l *zapLogger) Debugw(msg string, keysAndValues ...interface{}) {
	l.zap.Debugw(msg, keysAndValues...)
}

func (l *zapLogger) Infow(msg string, keysAndValues ...interface{}) {
	l.zap.Infow(msg, keysAndValues...)
}

func (l *zapLogger) Warnw(msg string, err error, keysAndValues ...interface{}) {
	if err != nil {
		keysAndValues = append(keysAndValues, "error", err)
	}
	l.zap.Warnw(msg, keysAndValues...)
}

func (l *zapLogger) Errorw(msg string, err error, keysAndValues ...interface{}) {
	if err != nil {
		keysAndValues = append(keysAndValues, "error", err)
	}
	l.zap.Errorw(msg, keysAndValues...)
}

func (l *zapLogger) WithValues(keysAndValues ...interface{}) Logger {
	return &zapLogger{zap: l.zap.With(keysAndValues...)}
}

func (l *zapLogger) WithName(name string) Logger {
	if name == "" {
		return l
	}
	return &zapLogger{zap: l.zap.Named(name)}
}

func (l *zapLogger) WithCallDepth(depth int) Logger {
	return &zapLogger{zap: l.zap.WithOptions(zap.AddCallerSkip(depth))}
}
