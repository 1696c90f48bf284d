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

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type APIKeyTokenVerifier struct {
	raw    string
	apiKey string
	expiry time.Time
}

// ParseAPIToken reads the issuer without verifying the signature.
func ParseAPIToken(raw string) (*APIKeyTokenVerifier, error) {
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, err
	}

	v := &APIKeyTokenVerifier{
		raw:    raw,
		apiKey: claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		v.expiry = claims.ExpiresAt.Time
	}
	return v, nil
}

// APIKey returns the API key this token was signed with
func (v *APIKeyTokenVerifier) APIKey() string {
	return v.apiKey
}

func (v *APIKeyTokenVerifier) Expiry() time.Time {
	return v.expiry
}

func (v *APIKeyTokenVerifier) Verify(secret string) (*ClaimGrants, error) {
	if secret == "" {
		return nil, ErrKeysMissing
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(v.raw, &claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.apiKey),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, ErrIdentityMissing
	}

	grants := claims.ClaimGrants
	grants.Identity = claims.Subject
	return &grants, nil
}
