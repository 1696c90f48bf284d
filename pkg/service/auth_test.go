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

package service_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plainclass/plain-rtc/pkg/auth"
	"github.com/plainclass/plain-rtc/pkg/config"
	"github.com/plainclass/plain-rtc/pkg/rtc"
	"github.com/plainclass/plain-rtc/pkg/service"
)

const (
	testAPIKey    = "APIabcdefg"
	testAPISecret = "somesecretencodedinbase62somesecret"
)

func newTestValidator(t *testing.T) *service.JWTTokenValidator {
	conf, err := config.NewConfig("", true, nil, nil)
	require.NoError(t, err)
	provider := auth.NewFileBasedKeyProviderFromMap(map[string]string{testAPIKey: testAPISecret})
	return service.NewJWTTokenValidator(provider, conf)
}

func TestAuthMiddleware(t *testing.T) {
	m := service.NewAPIKeyAuthMiddleware(newTestValidator(t))
	var grants *auth.ClaimGrants
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		grants = service.GetGrants(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	orig := &auth.RoomGrant{Room: "abcdefg", RoomCreate: true}
	// ensure that the original claim could be retrieved
	token, err := auth.NewAccessToken(testAPIKey, testAPISecret).
		SetIdentity("user").
		AddGrant(orig).
		ToJWT()
	assert.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/meetings", nil)
	w := httptest.NewRecorder()
	service.SetAuthorizationToken(r, token)
	m.ServeHTTP(w, r, handler)

	assert.NotNil(t, grants)
	assert.Equal(t, "user", grants.Identity)
	assert.EqualValues(t, orig, grants.Room)

	// browsers pass the token as a query parameter on websocket requests
	grants = nil
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/ws/meeting/abcdefg?access_token="+token, nil)
	m.ServeHTTP(w, r, handler)
	assert.NotNil(t, grants)

	// no authorization == no claims
	grants = nil
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/api/meetings", nil)
	m.ServeHTTP(w, r, handler)
	assert.Nil(t, grants)
	assert.Equal(t, http.StatusOK, w.Code)

	// incorrect authorization: error
	grants = nil
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/api/meetings", nil)
	service.SetAuthorizationToken(r, "invalid token")
	m.ServeHTTP(w, r, handler)
	assert.Nil(t, grants)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// not a bearer token
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/api/meetings", nil)
	r.Header.Set("Authorization", "Basic abc")
	m.ServeHTTP(w, r, handler)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTTokenValidator(t *testing.T) {
	v := newTestValidator(t)

	t.Run("valid token", func(t *testing.T) {
		token, err := auth.NewAccessToken(testAPIKey, testAPISecret).SetIdentity("user").SetName("User").ToJWT()
		require.NoError(t, err)

		grants, err := v.Validate(token)
		require.NoError(t, err)
		require.Equal(t, "user", grants.Identity)
		require.Equal(t, "User", grants.DisplayName())

		// served from cache
		cached, err := v.Validate(token)
		require.NoError(t, err)
		require.Same(t, grants, cached)
	})

	t.Run("unknown key", func(t *testing.T) {
		token, err := auth.NewAccessToken("APIunknown", testAPISecret).SetIdentity("user").ToJWT()
		require.NoError(t, err)
		_, err = v.Validate(token)
		require.ErrorIs(t, err, rtc.ErrAuthenticationFailed)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := auth.NewAccessToken(testAPIKey, "anothersecretanothersecretanother").SetIdentity("user").ToJWT()
		require.NoError(t, err)
		_, err = v.Validate(token)
		require.ErrorIs(t, err, rtc.ErrAuthenticationFailed)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := auth.NewAccessToken(testAPIKey, testAPISecret).
			SetIdentity("user").
			SetValidFor(time.Millisecond).
			ToJWT()
		require.NoError(t, err)
		time.Sleep(1100 * time.Millisecond)
		_, err = v.Validate(token)
		require.ErrorIs(t, err, rtc.ErrAuthenticationFailed)
	})
}

func TestPermissions(t *testing.T) {
	ctx := context.Background()

	_, err := service.EnsureAuthenticated(ctx)
	require.ErrorIs(t, err, rtc.ErrAuthenticationFailed)

	member := service.WithGrants(ctx, &auth.ClaimGrants{Identity: "member", Room: &auth.RoomGrant{Room: "room1"}})
	_, err = service.EnsureJoinPermission(member, "room1")
	require.NoError(t, err)
	_, err = service.EnsureJoinPermission(member, "room2")
	require.ErrorIs(t, err, service.ErrPermissionDenied)
	_, err = service.EnsureCreatePermission(member)
	require.ErrorIs(t, err, service.ErrPermissionDenied)

	host := service.WithGrants(ctx, &auth.ClaimGrants{Identity: "host", Room: &auth.RoomGrant{RoomCreate: true}})
	_, err = service.EnsureCreatePermission(host)
	require.NoError(t, err)
	require.NoError(t, service.EnsureHostOrAdminPermission(host, "host"))
	require.ErrorIs(t, service.EnsureHostOrAdminPermission(host, "someone"), service.ErrPermissionDenied)

	admin := service.WithGrants(ctx, &auth.ClaimGrants{Identity: "admin", Room: &auth.RoomGrant{RoomAdmin: true}})
	require.NoError(t, service.EnsureHostOrAdminPermission(admin, "someone"))
}
