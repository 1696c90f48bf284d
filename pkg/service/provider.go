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
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plainclass/plain-rtc/pkg/auth"
	"github.com/plainclass/plain-rtc/pkg/logger"
)

const (
	// APIKeysKey is a hash of API key => secret
	APIKeysKey = "plainrtc_keys"

	keyLookupTimeout = time.Second
)

// RedisKeyProvider resolves secrets from the configured keys first and falls
// back to the APIKeysKey hash, so keys can be issued without a restart.
type RedisKeyProvider struct {
	static auth.KeyProvider
	client redis.UniversalClient
}

func NewRedisKeyProvider(client redis.UniversalClient, static auth.KeyProvider) *RedisKeyProvider {
	return &RedisKeyProvider{
		static: static,
		client: client,
	}
}

func (p *RedisKeyProvider) GetSecret(key string) string {
	if p.static != nil {
		if secret := p.static.GetSecret(key); secret != "" {
			return secret
		}
	}
	if p.client == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), keyLookupTimeout)
	defer cancel()
	secret, err := p.client.HGet(ctx, APIKeysKey, key).Result()
	if err != nil && err != redis.Nil {
		logger.Warnw("could not look up API key", err, "apiKey", key)
	}
	return secret
}

func (p *RedisKeyProvider) NumKeys() int {
	num := 0
	if p.static != nil {
		num = p.static.NumKeys()
	}
	if p.client == nil {
		return num
	}

	ctx, cancel := context.WithTimeout(context.Background(), keyLookupTimeout)
	defer cancel()
	stored, _ := p.client.HLen(ctx, APIKeysKey).Result()
	return num + int(stored)
}
