// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UnivExplorer Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// DefaultTokenTTL is the validity window applied when no TTL is
// configured. Expiry is the only invalidation path; there is no
// revocation list.
const DefaultTokenTTL = 2 * time.Hour

// Claims are the identity facts embedded in an issued token.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// TokenIssuer mints and verifies HS256-signed bearer tokens. The
// signing secret is process-wide configuration; rotating it
// invalidates every previously issued token.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. The secret is required; a
// non-positive ttl is kept as-is so callers can mint pre-expired
// tokens in tests.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, oops.Code("AUTH_SECRET_REQUIRED").Errorf("signing secret is required")
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithTimeFunc overrides the clock. Test seam only.
func (i *TokenIssuer) WithTimeFunc(now func() time.Time) *TokenIssuer {
	i.now = now
	return i
}

// Issue signs a token carrying the username and optional email,
// stamped with issued-at and expiry claims.
func (i *TokenIssuer) Issue(username, email string) (string, error) {
	if username == "" {
		return "", oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}

	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Username: username,
		Email:    email,
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify checks the token's signature and expiry and returns its
// claims. Every failure carries the same AUTH_INVALID_TOKEN code; the
// wrapped cause (expired, forged, malformed) is available for
// server-side logging but must not be surfaced to clients.
func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, oops.Code("AUTH_INVALID_TOKEN").Errorf("token cannot be empty")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_TOKEN").Wrap(err)
	}
	if !token.Valid || claims.Username == "" {
		return nil, oops.Code("AUTH_INVALID_TOKEN").Errorf("invalid token")
	}

	return claims, nil
}
