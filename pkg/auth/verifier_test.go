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

package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plainclass/plain-rtc/pkg/auth"
)

func TestAPIVerifier(t *testing.T) {
	apiKey, secret := apiKeypair()

	t.Run("cannot decode with incorrect key", func(t *testing.T) {
		token, err := auth.NewAccessToken(apiKey, secret).SetIdentity("A").ToJWT()
		require.NoError(t, err)

		v, err := auth.ParseAPIToken(token)
		require.NoError(t, err)
		assert.Equal(t, apiKey, v.APIKey())

		_, err = v.Verify("")
		assert.ErrorIs(t, err, auth.ErrKeysMissing)

		_, err = v.Verify("anothersecret")
		assert.Error(t, err)
	})

	t.Run("key has expired", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Issuer:    apiKey,
			Subject:   "A",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)

		v, err := auth.ParseAPIToken(token)
		require.NoError(t, err)
		_, err = v.Verify(secret)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("subject is required", func(t *testing.T) {
		token, err := auth.NewAccessToken(apiKey, secret).ToJWT()
		require.NoError(t, err)

		v, err := auth.ParseAPIToken(token)
		require.NoError(t, err)
		_, err = v.Verify(secret)
		assert.ErrorIs(t, err, auth.ErrIdentityMissing)
	})

	t.Run("other algorithms are rejected", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Issuer:    apiKey,
			Subject:   "A",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(secret))
		require.NoError(t, err)

		v, err := auth.ParseAPIToken(token)
		require.NoError(t, err)
		_, err = v.Verify(secret)
		assert.Error(t, err)
	})

	t.Run("unexpired token is verified", func(t *testing.T) {
		grant := &auth.RoomGrant{RoomAdmin: true}
		token, err := auth.NewAccessToken(apiKey, secret).
			SetIdentity("A").
			SetName("Anna").
			AddGrant(grant).
			SetValidFor(time.Minute).
			ToJWT()
		require.NoError(t, err)

		v, err := auth.ParseAPIToken(token)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Minute), v.Expiry(), 5*time.Second)

		decoded, err := v.Verify(secret)
		require.NoError(t, err)
		assert.Equal(t, "A", decoded.Identity)
		assert.Equal(t, "Anna", decoded.DisplayName())
		assert.Equal(t, grant, decoded.Room)
		assert.True(t, decoded.IsAdmin())
		assert.True(t, decoded.CanCreate())
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := auth.ParseAPIToken("not-a-token")
		assert.Error(t, err)
	})
}

func TestClaimGrants(t *testing.T) {
	g := &auth.ClaimGrants{Identity: "A", Room: &auth.RoomGrant{Room: "r1"}}
	assert.True(t, g.CanJoin("r1"))
	assert.False(t, g.CanJoin("r2"))
	assert.False(t, g.CanCreate())
	assert.Equal(t, "A", g.DisplayName())

	open := &auth.ClaimGrants{Identity: "B"}
	assert.True(t, open.CanJoin("anything"))

	var missing *auth.ClaimGrants
	assert.False(t, missing.CanJoin("r1"))
}
