// Package auth implements the signed-token codec behind the cookie session
// engine: short-lived access tokens and longer-lived refresh tokens carrying
// a jti that correlates them with their database row.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMalformedToken covers every structural failure: bad signature,
	// bad encoding, wrong audience or issuer.
	ErrMalformedToken = errors.New("malformed token")
	// ErrExpiredToken means the signature checked out but exp has passed.
	ErrExpiredToken = errors.New("expired token")
)

type Codec struct {
	secret        []byte
	appID         string
	allowedHosts  []string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

func NewCodec(secret, appID string, allowedHosts []string, accessExpiry, refreshExpiry time.Duration) *Codec {
	return &Codec{
		secret:        []byte(secret),
		appID:         appID,
		allowedHosts:  allowedHosts,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
}

// IssueAccess signs a stateless access token for the user. It is never
// persisted or revoked; it simply expires.
func (c *Codec) IssueAccess(subject uuid.UUID) (string, error) {
	return c.sign(subject, c.accessExpiry, "")
}

// IssueRefresh signs a refresh token with a fresh jti and returns both; the
// jti is what the refresh-token store keys on.
func (c *Codec) IssueRefresh(subject uuid.UUID) (string, uuid.UUID, error) {
	jti := uuid.New()
	token, err := c.sign(subject, c.refreshExpiry, jti.String())
	if err != nil {
		return "", uuid.Nil, err
	}
	return token, jti, nil
}

func (c *Codec) sign(subject uuid.UUID, expiry time.Duration, jti string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject.String(),
		Audience:  jwt.ClaimStrings(c.allowedHosts),
		Issuer:    c.appID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		ID:        jti,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Verify checks signature, expiry, issuer and the requesting host against the
// token's audience. Expiry uses the parser's single "now"; there is no second
// clock read to skew against.
func (c *Codec) Verify(tokenString, audience string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(c.appID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrMalformedToken
	}
	return claims, nil
}
