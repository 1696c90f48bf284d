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
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/plainclass/plain-rtc/pkg/auth"
	"github.com/plainclass/plain-rtc/pkg/config"
	"github.com/plainclass/plain-rtc/pkg/rtc"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
	accessTokenParam    = "access_token"
)

type grantsKey struct{}

type cachedGrants struct {
	grants    *auth.ClaimGrants
	expiresAt time.Time
}

// JWTTokenValidator verifies HS256 tokens against the configured API keys and
// caches verified grants for a short while.
type JWTTokenValidator struct {
	provider auth.KeyProvider
	cache    *expirable.LRU[string, cachedGrants]
}

func NewJWTTokenValidator(provider auth.KeyProvider, conf *config.Config) *JWTTokenValidator {
	v := &JWTTokenValidator{
		provider: provider,
	}
	if conf.Auth.TokenCacheSize > 0 && conf.Auth.TokenCacheTTL > 0 {
		v.cache = expirable.NewLRU[string, cachedGrants](conf.Auth.TokenCacheSize, nil, conf.Auth.TokenCacheTTL)
	}
	return v
}

func (v *JWTTokenValidator) Validate(token string) (*auth.ClaimGrants, error) {
	if v.cache != nil {
		if cached, ok := v.cache.Get(token); ok && time.Now().Before(cached.expiresAt) {
			return cached.grants, nil
		}
	}

	parsed, err := auth.ParseAPIToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rtc.ErrAuthenticationFailed, ErrInvalidAuthorizationToken)
	}
	secret := v.provider.GetSecret(parsed.APIKey())
	if secret == "" {
		return nil, fmt.Errorf("%w: %v", rtc.ErrAuthenticationFailed, ErrInvalidAPIKey)
	}
	grants, err := parsed.Verify(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rtc.ErrAuthenticationFailed, err)
	}

	if v.cache != nil {
		v.cache.Add(token, cachedGrants{grants: grants, expiresAt: parsed.Expiry()})
	}
	return grants, nil
}

// APIKeyAuthMiddleware puts the caller's grants in the request context when a
// token is present. Handlers decide whether grants are required.
type APIKeyAuthMiddleware struct {
	validator TokenValidator
}

func NewAPIKeyAuthMiddleware(validator TokenValidator) *APIKeyAuthMiddleware {
	return &APIKeyAuthMiddleware{
		validator: validator,
	}
}

func (m *APIKeyAuthMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	authToken, err := tokenFromRequest(r)
	if err != nil {
		handleError(w, r, http.StatusUnauthorized, err)
		return
	}

	if authToken != "" {
		grants, err := m.validator.Validate(authToken)
		if err != nil {
			handleError(w, r, http.StatusUnauthorized, err)
			return
		}

		// set grants in context
		r = r.WithContext(WithGrants(r.Context(), grants))
	}

	next.ServeHTTP(w, r)
}

func tokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get(authorizationHeader)
	if authHeader != "" {
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			return "", ErrMissingAuthorization
		}
		return authHeader[len(bearerPrefix):], nil
	}
	// browsers cannot set headers on websocket requests
	return r.URL.Query().Get(accessTokenParam), nil
}

func GetGrants(ctx context.Context) *auth.ClaimGrants {
	val := ctx.Value(grantsKey{})
	claims, ok := val.(*auth.ClaimGrants)
	if !ok {
		return nil
	}
	return claims
}

func WithGrants(ctx context.Context, grants *auth.ClaimGrants) context.Context {
	return context.WithValue(ctx, grantsKey{}, grants)
}

func SetAuthorizationToken(r *http.Request, token string) {
	r.Header.Set(authorizationHeader, bearerPrefix+token)
}

func EnsureAuthenticated(ctx context.Context) (*auth.ClaimGrants, error) {
	claims := GetGrants(ctx)
	if claims == nil || claims.Identity == "" {
		return nil, rtc.ErrAuthenticationFailed
	}
	return claims, nil
}

func EnsureJoinPermission(ctx context.Context, roomID string) (*auth.ClaimGrants, error) {
	claims, err := EnsureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	if !claims.CanJoin(roomID) {
		return nil, ErrPermissionDenied
	}
	return claims, nil
}

func EnsureCreatePermission(ctx context.Context) (*auth.ClaimGrants, error) {
	claims, err := EnsureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	if !claims.CanCreate() {
		return nil, ErrPermissionDenied
	}
	return claims, nil
}

// EnsureHostOrAdminPermission allows the room host and room admins.
func EnsureHostOrAdminPermission(ctx context.Context, hostID string) error {
	claims, err := EnsureAuthenticated(ctx)
	if err != nil {
		return err
	}
	if claims.Identity != hostID && !claims.IsAdmin() {
		return ErrPermissionDenied
	}
	return nil
}
