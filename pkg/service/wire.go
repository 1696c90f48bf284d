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

//go:build wireinject
// +build wireinject

package service

import (
	"context"

	"github.com/google/wire"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/plainclass/plain-rtc/pkg/auth"
	"github.com/plainclass/plain-rtc/pkg/config"
	"github.com/plainclass/plain-rtc/pkg/routing"
	"github.com/plainclass/plain-rtc/pkg/rtc"
)

func InitializeServer(conf *config.Config, currentNode *routing.LocalNode) (*PlainRTCServer, error) {
	wire.Build(
		createKeyProvider,
		createRedisClient,
		createStore,
		createChatStore,
		rtc.NewRoomRegistry,
		rtc.NewParticipantStateStore,
		rtc.NewSignalingRelay,
		NewSessionIndex,
		NewRoomManager,
		NewChatService,
		NewSignalBroadcaster,
		NewChatBroadcaster,
		NewConnectionGateway,
		NewRoomService,
		NewChatRoomService,
		NewJWTTokenValidator,
		wire.Bind(new(TokenValidator), new(*JWTTokenValidator)),
		NewPlainRTCServer,
	)
	return &PlainRTCServer{}, nil
}

func InitializeRoomStore(conf *config.Config) (RoomStore, error) {
	wire.Build(
		createRedisClient,
		createStore,
	)
	return nil, nil
}

func createKeyProvider(conf *config.Config, rc redis.UniversalClient) (auth.KeyProvider, error) {
	static := auth.NewFileBasedKeyProviderFromMap(conf.Keys)
	if rc != nil {
		return NewRedisKeyProvider(rc, static), nil
	}
	if len(conf.Keys) == 0 {
		return nil, config.ErrKeysNotSet
	}
	return static, nil
}

func createRedisClient(conf *config.Config) (redis.UniversalClient, error) {
	return routing.GetRedisClient(&conf.Redis)
}

func createStore(conf *config.Config, rc redis.UniversalClient) (RoomStore, error) {
	if rc == nil {
		return NewLocalRoomStore(conf.Room), nil
	}
	store := NewRedisRoomStore(rc, conf.Room)
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := store.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "could not start redis room store")
	}
	return store, nil
}

func createChatStore(conf *config.Config) (ChatStore, error) {
	store, err := NewSQLChatStore(conf.Chat.DBPath)
	if err != nil {
		return nil, err
	}
	return store, nil
}
