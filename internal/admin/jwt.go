// Copyright 2025 Tom Barlow
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

// Package admin exposes steroidsd's operator HTTP surface: an
// unauthenticated /healthz liveness probe and a bearer-token-protected
// /admin/sweep that triggers an out-of-band Wakeup pass. Tokens are HS256
// JWTs signed with the configured admin.signingSecret; there is no user
// database, just a shared secret an operator distributes to whatever is
// allowed to poke the daemon (a deploy script, an on-call runbook).
package admin

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingSigningSecret is returned by NewTokenIssuer when cfg carries no
// secret: admin auth is meant to be opt-in, never silently open.
var ErrMissingSigningSecret = errors.New("admin: signing secret is required")

// Claims identifies the bearer of an admin token. Subject is a free-form
// label (e.g. "deploy-script", "oncall") recorded for audit logging, not
// used for authorization: possession of a validly signed token is the only
// check.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies the bearer tokens that guard /admin/sweep.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewTokenIssuer builds a TokenIssuer from a signing secret and token
// lifetime. ttl == 0 defaults to 5 minutes; a negative ttl mints
// already-expired tokens, which tests use deliberately.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, ErrMissingSigningSecret
	}
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, issuer: "steroidsd"}, nil
}

// Mint issues a signed token for subject, valid for the issuer's configured TTL.
func (ti *TokenIssuer) Mint(subject string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    ti.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("admin: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates tokenString, returning its claims.
func (ti *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("admin: empty token")
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return ti.secret, nil
	}, jwt.WithIssuer(ti.issuer))
	if err != nil {
		return nil, fmt.Errorf("admin: parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("admin: invalid token")
	}
	return claims, nil
}
