package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskbrain/backend/internal/auth"
	"github.com/taskbrain/backend/internal/cache"
	"github.com/taskbrain/backend/internal/config"
	"github.com/taskbrain/backend/internal/domain"
	"github.com/taskbrain/backend/internal/middleware"
	"github.com/taskbrain/backend/internal/usecase"
)

const testHost = "example.com"

type memoryTokenStore struct {
	mu   sync.Mutex
	rows map[string]uuid.UUID // userID|deviceID -> active jti
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{rows: map[string]uuid.UUID{}}
}

func (s *memoryTokenStore) Rotate(_ context.Context, userID uuid.UUID, deviceID string, jti uuid.UUID, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[userID.String()+"|"+deviceID] = jti
	return nil
}

func (s *memoryTokenStore) Exists(_ context.Context, userID uuid.UUID, jti uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, active := range s.rows {
		if len(key) > 36 && key[:36] == userID.String() && active == jti {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryTokenStore) DeleteAll(_ context.Context, userID uuid.UUID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, userID.String()+"|"+deviceID)
	return nil
}

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: map[uuid.UUID]*domain.User{}}
}

func (r *memoryUserRepo) Create(user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.IsActive = true
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *memoryUserRepo) GetByID(id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, nil
}

func (r *memoryUserRepo) GetByUsername(username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memoryUserRepo) GetByEmail(email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memoryUserRepo) Update(user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *memoryUserRepo) Delete(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

type testServer struct {
	router http.Handler
	codec  *auth.Codec
	store  *memoryTokenStore
	users  *memoryUserRepo
	redis  *miniredis.Miniredis
}

func newTestServer(t *testing.T, refreshExpiry time.Duration) *testServer {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	// The router runs against the shipped defaults, so the skip-lists the
	// server actually boots with are what gets exercised here.
	cfg := &config.Load().Session

	codec := auth.NewCodec("test-secret", "taskbrain-test", []string{testHost}, time.Minute, refreshExpiry)
	store := newMemoryTokenStore()
	users := newMemoryUserRepo()
	tokens := cache.NewTokenCache(client)

	authUC := usecase.NewAuthUsecase(users, store, codec, cfg.ResetTokenTTL)
	handler := NewHandler(authUC, usecase.NewTaskUsecase(nil, nil))

	router := NewRouter(
		handler,
		middleware.NewSessionMiddleware(cfg, tokens),
		middleware.NewAuthMiddleware(codec, cfg),
		[]string{"http://" + testHost},
	)

	return &testServer{router: router, codec: codec, store: store, users: users, redis: mr}
}

// lookupCachedValue reads the ephemeral cache entry directly, standing in for
// the mail delivery that would normally carry the code to the user.
func (s *testServer) lookupCachedValue(t *testing.T, sessionKey string) (string, bool) {
	t.Helper()
	value, err := s.redis.Get(sessionKey)
	if err != nil {
		return "", false
	}
	return value, true
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

func cutUserCode(stored string) (userID, code string, found bool) {
	return strings.Cut(stored, ":")
}

// seedSession gives the server an active refresh row and returns the matching
// token, the way a login would have left things.
func (s *testServer) seedSession(t *testing.T, userID uuid.UUID, deviceID string) string {
	t.Helper()
	token, jti, err := s.codec.IssueRefresh(userID)
	require.NoError(t, err)
	require.NoError(t, s.store.Rotate(context.Background(), userID, deviceID, jti, "", ""))
	return token
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRefreshRotatesAndRedirectsToNext(t *testing.T) {
	srv := newTestServer(t, 24*time.Hour)
	userID := uuid.New()
	refresh := srv.seedSession(t, userID, "device-1")

	req := httptest.NewRequest(http.MethodGet, "/api/user/refresh/?next=%2Fapi%2Ftasks%2F", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refresh})
	req.AddCookie(&http.Cookie{Name: "device_id", Value: "device-1"})
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/api/tasks/", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	access := cookieByName(cookies, "access_token")
	require.NotNil(t, access)
	_, err := srv.codec.Verify(access.Value, testHost)
	assert.NoError(t, err)

	newRefresh := cookieByName(cookies, "refresh_token")
	require.NotNil(t, newRefresh)
	assert.NotEqual(t, refresh, newRefresh.Value)
}

func TestRefreshOldTokenRejectedAfterRotation(t *testing.T) {
	srv := newTestServer(t, 24*time.Hour)
	userID := uuid.New()
	first := srv.seedSession(t, userID, "device-1")

	do := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/user/refresh/", nil)
		req.AddCookie(&http.Cookie{Name: "refresh_token", Value: token})
		req.AddCookie(&http.Cookie{Name: "device_id", Value: "device-1"})
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		return rec
	}

	rec := do(first)
	require.Equal(t, http.StatusFound, rec.Code)
	second := cookieByName(rec.Result().Cookies(), "refresh_token")
	require.NotNil(t, second)

	// The superseded token is dead, the replacement works.
	assert.Equal(t, http.StatusForbidden, do(first).Code)
	assert.Equal(t, http.StatusFound, do(second.Value).Code)
}

func TestRefreshExpiredTokenFlushesSession(t *testing.T) {
	srv := newTestServer(t, -time.Second)
	userID := uuid.New()
	refresh := srv.seedSession(t, userID, "device-1")

	req := httptest.NewRequest(http.MethodGet, "/api/user/refresh/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "stale"})
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refresh})
	req.AddCookie(&http.Cookie{Name: "device_id", Value: "device-1"})
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cookies := rec.Result().Cookies()
	access := cookieByName(cookies, "access_token")
	require.NotNil(t, access)
	assert.Less(t, access.MaxAge, 0)
	deleted := cookieByName(cookies, "refresh_token")
	require.NotNil(t, deleted)
	assert.Less(t, deleted.MaxAge, 0)
}

func TestRefreshGarbageTokenUnauthorized(t *testing.T) {
	srv := newTestServer(t, 24*time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/user/refresh/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "whatever"})
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "not-a-token"})
	req.AddCookie(&http.Cookie{Name: "device_id", Value: "device-1"})
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshWithoutDeviceIDUnauthorized(t *testing.T) {
	srv := newTestServer(t, 24*time.Hour)
	refresh := srv.seedSession(t, uuid.New(), "device-1")

	req := httptest.NewRequest(http.MethodGet, "/api/user/refresh/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "whatever"})
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refresh})
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRouteRedirectsThenRefreshRecovers(t *testing.T) {
	srv := newTestServer(t, 24*time.Hour)
	userID := uuid.New()
	refresh := srv.seedSession(t, userID, "device-1")

	// Expired access token on a protected route: bounced to refresh.
	req := httptest.NewRequest(http.MethodGet, "/api/tasks/", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	require.Contains(t, location, "/api/user/refresh/?next=")

	// Following the redirect with the refresh cookie lands back on /api/tasks/.
	req = httptest.NewRequest(http.MethodGet, location, nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refresh})
	req.AddCookie(&http.Cookie{Name: "device_id", Value: "device-1"})
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/api/tasks/", rec.Header().Get("Location"))
	require.NotNil(t, cookieByName(rec.Result().Cookies(), "access_token"))
}

func TestCheckStatus(t *testing.T) {
	srv := newTestServer(t, 24*time.Hour)
	userID := uuid.New()
	srv.users.Create(&domain.User{ID: userID, Username: "alice", Email: "alice@example.com"})

	token, err := srv.codec.IssueAccess(userID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/user/check-status/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": true}`, rec.Body.String())

	// Anonymous request reports false instead of failing.
	req = httptest.NewRequest(http.MethodGet, "/api/user/check-status/", nil)
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": false}`, rec.Body.String())
}

func TestAnonymousLogoutReachesHandler(t *testing.T) {
	srv := newTestServer(t, 24*time.Hour)

	// A logout with a dead session must not bounce through the refresh
	// flow; the handler just empties the cookies and answers 200.
	req := httptest.NewRequest(http.MethodPost, "/api/user/logout/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "stale"})
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	deleted := cookieByName(rec.Result().Cookies(), "access_token")
	require.NotNil(t, deleted)
	assert.Less(t, deleted.MaxAge, 0)
}

func TestRegisterConflict(t *testing.T) {
	srv := newTestServer(t, 24*time.Hour)
	require.NoError(t, srv.users.Create(&domain.User{Username: "alice", Email: "alice@example.com"}))

	req := httptest.NewRequest(http.MethodPost, "/api/user/registration/",
		jsonBody(`{"username": "alice", "email": "other@example.com", "password": "pw"}`))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginBadCredentials(t *testing.T) {
	srv := newTestServer(t, 24*time.Hour)
	hash, err := bcrypt.GenerateFromPassword([]byte("right-password"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, srv.users.Create(&domain.User{Username: "alice", Email: "alice@example.com", PasswordHash: string(hash)}))

	req := httptest.NewRequest(http.MethodPost, "/api/user/login/",
		jsonBody(`{"username": "alice", "password": "wrong-password"}`))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordResetEndToEnd(t *testing.T) {
	srv := newTestServer(t, 24*time.Hour)
	hash, err := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &domain.User{Username: "alice", Email: "alice@example.com", PasswordHash: string(hash)}
	require.NoError(t, srv.users.Create(user))

	// Request a reset; the one-time code lands in the cache keyed by the
	// session cookie, which the response hands back.
	req := httptest.NewRequest(http.MethodPost, "/api/user/reset-password/",
		jsonBody(`{"email": "alice@example.com"}`))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	sessionCookie := cookieByName(rec.Result().Cookies(), "access_token")
	require.NotNil(t, sessionCookie)

	// Pull the code out the way the emailed link would carry it.
	stored, ok := srv.lookupCachedValue(t, sessionCookie.Value)
	require.True(t, ok)
	_, code, found := cutUserCode(stored)
	require.True(t, found)

	// Wrong code is rejected without consuming the entry.
	req = httptest.NewRequest(http.MethodPost, "/api/user/reset-password/confirm/",
		jsonBody(`{"token": "wrong", "new_password": "new-password"}`))
	req.AddCookie(&http.Cookie{Name: "access_token", Value: sessionCookie.Value})
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Right code succeeds.
	req = httptest.NewRequest(http.MethodPost, "/api/user/reset-password/confirm/",
		jsonBody(`{"token": "`+code+`", "new_password": "new-password"}`))
	req.AddCookie(&http.Cookie{Name: "access_token", Value: sessionCookie.Value})
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	updated, err := srv.users.GetByEmail("alice@example.com")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(updated.PasswordHash), []byte("new-password")))
}
