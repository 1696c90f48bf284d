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
	"context"
	"crypto/tls"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/plainclass/plain-rtc/pkg/config"
	"github.com/plainclass/plain-rtc/pkg/logger"
)

const redisConnectTimeout = 5 * time.Second

// GetRedisClient returns nil without error when redis is not configured.
func GetRedisClient(conf *config.RedisConfig) (redis.UniversalClient, error) {
	if conf == nil || !conf.IsConfigured() {
		return nil, nil
	}

	var tlsConfig *tls.Config
	if conf.UseTLS {
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	logger.Infow("connecting to redis", "simple", true, "addr", conf.Address)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:     []string{conf.Address},
		Username:  conf.Username,
		Password:  conf.Password,
		DB:        conf.DB,
		TLSConfig: tlsConfig,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, errors.Wrap(err, "unable to connect to redis")
	}
	return rc, nil
}
