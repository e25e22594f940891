// Package session holds the per-request session view bridging HTTP cookies
// to the token pair. A Session is built from the inbound cookies, mutated
// while the request is handled, and consulted once at the end of the request
// to decide which cookies get rewritten.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/taskbrain/backend/internal/cache"
)

const (
	sessionIDLength  = 32
	sessionIDCharset = "1234567890-abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

type Session struct {
	accessToken  string
	refreshToken string
	deviceID     string
	userID       uuid.UUID

	authStatus bool

	hadAccessCookie  bool
	hadRefreshCookie bool
	accessed         bool
	modified         bool

	// sessionKey is the cache key for ephemeral values: the inbound access
	// cookie, or the random placeholder generated for anonymous requests.
	// The placeholder is an opaque id, never parsed as a JWT.
	sessionKey string

	tokens       *cache.TokenCache
	cachedValue  string
	cachedLoaded bool
	cachedErr    error
}

// New builds the session from the three cookie values. An absent access
// cookie gets a random placeholder so cache-keyed features still work for
// anonymous requests; that counts as a modification.
func New(tokens *cache.TokenCache, accessToken, refreshToken, deviceID string) *Session {
	s := &Session{
		accessToken:      accessToken,
		refreshToken:     refreshToken,
		deviceID:         deviceID,
		hadAccessCookie:  accessToken != "",
		hadRefreshCookie: refreshToken != "",
		tokens:           tokens,
	}
	if s.accessToken == "" {
		s.accessToken = randomSessionID()
		s.modified = true
	}
	s.sessionKey = s.accessToken
	return s
}

func randomSessionID() string {
	max := big.NewInt(int64(len(sessionIDCharset)))
	b := make([]byte, sessionIDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = sessionIDCharset[n.Int64()]
	}
	return string(b)
}

func (s *Session) AccessToken() string {
	s.accessed = true
	return s.accessToken
}

func (s *Session) SetAccessToken(value string) {
	s.accessed = true
	s.modified = true
	s.accessToken = value
}

func (s *Session) RefreshToken() string {
	s.accessed = true
	return s.refreshToken
}

func (s *Session) SetRefreshToken(value string) {
	s.accessed = true
	s.modified = true
	s.refreshToken = value
}

func (s *Session) DeviceID() string {
	s.accessed = true
	return s.deviceID
}

func (s *Session) SetDeviceID(value string) {
	s.accessed = true
	s.modified = true
	s.deviceID = value
}

// UserID is the principal slot filled in by the authentication middleware for
// downstream code; it does not count as a cookie modification.
func (s *Session) UserID() uuid.UUID { return s.userID }

func (s *Session) SetUserID(id uuid.UUID) { s.userID = id }

func (s *Session) AuthStatus() bool { return s.authStatus }

func (s *Session) SetAuthStatus(ok bool) { s.authStatus = ok }

// LoadCachedValue pulls the ephemeral entry for this session id into memory.
// A miss is not an error; an unreachable backend is, and the error sticks so
// consumers can tell an outage from an absent entry.
func (s *Session) LoadCachedValue(ctx context.Context) error {
	value, err := s.tokens.Get(ctx, s.sessionKey)
	if errors.Is(err, cache.ErrNotFound) {
		s.cachedErr = nil
		return nil
	}
	if err != nil {
		s.cachedErr = err
		return err
	}
	s.cachedValue = value
	s.cachedLoaded = true
	s.cachedErr = nil
	return nil
}

// CachedValue returns the ephemeral entry loaded for this session, if any.
func (s *Session) CachedValue() (string, bool) {
	s.accessed = true
	return s.cachedValue, s.cachedLoaded
}

// CachedValueErr reports a failed load, so an unreachable cache is never
// mistaken for a missing entry.
func (s *Session) CachedValueErr() error { return s.cachedErr }

func (s *Session) SetCachedValue(ctx context.Context, value string, ttl time.Duration) error {
	if err := s.tokens.Put(ctx, s.sessionKey, value, ttl); err != nil {
		return err
	}
	s.accessed = true
	s.cachedValue = value
	s.cachedLoaded = true
	return nil
}

func (s *Session) DeleteCachedValue(ctx context.Context) error {
	if err := s.tokens.Delete(ctx, s.sessionKey); err != nil {
		return err
	}
	s.cachedValue = ""
	s.cachedLoaded = false
	return nil
}

// Flush clears both token slots in memory. Deleting the persisted refresh
// row is the caller's job via the refresh-token store.
func (s *Session) Flush() {
	s.accessToken = ""
	s.refreshToken = ""
	s.accessed = true
	s.modified = true
}

func (s *Session) IsEmpty() bool { return s.accessToken == "" }

func (s *Session) Accessed() bool { return s.accessed }

func (s *Session) Modified() bool { return s.modified }

func (s *Session) HadAccessCookie() bool { return s.hadAccessCookie }

func (s *Session) HadRefreshCookie() bool { return s.hadRefreshCookie }
