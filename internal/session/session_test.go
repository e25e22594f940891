package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbrain/backend/internal/cache"
)

func newTestTokens(t *testing.T) (*cache.TokenCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return cache.NewTokenCache(client), mr
}

func TestNewWithCookiesIsClean(t *testing.T) {
	tokens, _ := newTestTokens(t)

	s := New(tokens, "access", "refresh", "device-1")

	assert.False(t, s.Accessed())
	assert.False(t, s.Modified())
	assert.True(t, s.HadAccessCookie())
	assert.True(t, s.HadRefreshCookie())
	assert.False(t, s.IsEmpty())
}

func TestMissingAccessCookieGetsPlaceholder(t *testing.T) {
	tokens, _ := newTestTokens(t)

	s := New(tokens, "", "", "")

	// A random opaque id replaces the absent cookie so cache-backed flows
	// have a stable key, and that counts as a modification.
	assert.True(t, s.Modified())
	assert.False(t, s.HadAccessCookie())
	assert.Len(t, s.AccessToken(), 32)
	assert.False(t, s.IsEmpty())

	s2 := New(tokens, "", "", "")
	assert.NotEqual(t, s.AccessToken(), s2.AccessToken())
}

func TestAccessorsTrackFlags(t *testing.T) {
	tokens, _ := newTestTokens(t)

	s := New(tokens, "access", "refresh", "device-1")
	_ = s.RefreshToken()
	assert.True(t, s.Accessed())
	assert.False(t, s.Modified())

	s.SetAccessToken("new-access")
	assert.True(t, s.Modified())
	assert.Equal(t, "new-access", s.AccessToken())
}

func TestUserIDSlotDoesNotModify(t *testing.T) {
	tokens, _ := newTestTokens(t)

	s := New(tokens, "access", "refresh", "device-1")
	s.SetUserID(uuid.New())

	assert.False(t, s.Modified())
	assert.False(t, s.Accessed())
}

func TestFlush(t *testing.T) {
	tokens, _ := newTestTokens(t)

	s := New(tokens, "access", "refresh", "device-1")
	s.Flush()

	assert.True(t, s.IsEmpty())
	assert.True(t, s.Modified())
	assert.Empty(t, s.RefreshToken())
	// Device id survives a flush.
	assert.Equal(t, "device-1", s.DeviceID())
}

func TestCachedValueRoundTrip(t *testing.T) {
	tokens, _ := newTestTokens(t)
	ctx := context.Background()

	s := New(tokens, "session-key", "", "")
	require.NoError(t, s.SetCachedValue(ctx, "one-time-code", time.Minute))

	// A second request with the same cookie sees the entry after loading.
	s2 := New(tokens, "session-key", "", "")
	_, ok := s2.CachedValue()
	assert.False(t, ok)

	require.NoError(t, s2.LoadCachedValue(ctx))
	value, ok := s2.CachedValue()
	require.True(t, ok)
	assert.Equal(t, "one-time-code", value)

	require.NoError(t, s2.DeleteCachedValue(ctx))
	s3 := New(tokens, "session-key", "", "")
	require.NoError(t, s3.LoadCachedValue(ctx))
	_, ok = s3.CachedValue()
	assert.False(t, ok)
}

func TestCachedValueMissIsNotAnError(t *testing.T) {
	tokens, _ := newTestTokens(t)

	s := New(tokens, "session-key", "", "")
	require.NoError(t, s.LoadCachedValue(context.Background()))
	assert.NoError(t, s.CachedValueErr())
	_, ok := s.CachedValue()
	assert.False(t, ok)
}

func TestCachedValueBackendDownSticks(t *testing.T) {
	tokens, mr := newTestTokens(t)
	mr.Close()

	s := New(tokens, "session-key", "", "")
	err := s.LoadCachedValue(context.Background())
	assert.ErrorIs(t, err, cache.ErrCacheUnavailable)
	assert.ErrorIs(t, s.CachedValueErr(), cache.ErrCacheUnavailable)
}
