package middleware

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/taskbrain/backend/internal/cache"
	"github.com/taskbrain/backend/internal/config"
	"github.com/taskbrain/backend/internal/session"
)

type contextKey string

const sessionKey contextKey = "session"

// SessionMiddleware replaces cookie plumbing with an explicit per-request
// session object. It reads the access/refresh/device cookies on the way in
// and applies the cookie write-back contract on the way out, just before the
// response status is committed.
type SessionMiddleware struct {
	cfg    *config.SessionConfig
	tokens *cache.TokenCache
}

func NewSessionMiddleware(cfg *config.SessionConfig, tokens *cache.TokenCache) *SessionMiddleware {
	return &SessionMiddleware{cfg: cfg, tokens: tokens}
}

func (m *SessionMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accessToken := cookieValue(r, m.cfg.AccessCookieName)
		refreshToken := cookieValue(r, m.cfg.RefreshCookieName)
		deviceID := cookieValue(r, m.cfg.DeviceCookieName)
		if deviceID == "" {
			deviceID = r.Header.Get("X-DeviceID")
		}

		sess := session.New(m.tokens, accessToken, refreshToken, deviceID)

		// Reserved-prefix flows keep a value in the ephemeral cache keyed
		// by the session id; load it eagerly so handlers see it.
		if strings.HasPrefix(r.URL.Path, m.cfg.PasswordResetPrefix) {
			if err := sess.LoadCachedValue(r.Context()); err != nil {
				log.Printf("session: cached value load failed: %v", err)
			}
		}

		sw := &sessionWriter{ResponseWriter: w, sess: sess, cfg: m.cfg}
		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(sw, r.WithContext(ctx))
		sw.finish()
	})
}

// GetSession returns the request's session view. The second return is false
// only when the session middleware is not installed.
func GetSession(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*session.Session)
	return sess, ok
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// sessionWriter defers the cookie decision until the handler commits a
// status, mirroring a buffered-response framework where cookies are patched
// onto the finished response.
type sessionWriter struct {
	http.ResponseWriter
	sess        *session.Session
	cfg         *config.SessionConfig
	wroteHeader bool
}

func (w *sessionWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.saveCookies(status)
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// finish covers handlers that never write a body.
func (w *sessionWriter) finish() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
}

// saveCookies applies the end-of-request contract: delete the access cookie
// when the session was emptied, delete the refresh cookie when its slot was
// cleared, otherwise rewrite all present cookies when the session was
// modified (or on every request when configured). Any cookie read makes the
// response vary on Cookie so shared caches keep sessions apart.
func (w *sessionWriter) saveCookies(status int) {
	accessed := w.sess.Accessed()
	modified := w.sess.Modified()
	empty := w.sess.IsEmpty()

	header := w.ResponseWriter.Header()

	if w.sess.HadAccessCookie() && empty {
		w.deleteCookie(w.cfg.AccessCookieName)
	}
	if w.sess.RefreshToken() == "" && w.sess.HadRefreshCookie() {
		w.deleteCookie(w.cfg.RefreshCookieName)
		addVaryCookie(header)
		return
	}

	if accessed {
		addVaryCookie(header)
	}
	if (modified || w.cfg.SaveEveryRequest) && !empty && status < http.StatusInternalServerError {
		expires := time.Now().Add(w.cfg.CookieExpiry)
		w.setCookie(w.cfg.AccessCookieName, w.sess.AccessToken(), expires)
		if refresh := w.sess.RefreshToken(); refresh != "" {
			w.setCookie(w.cfg.RefreshCookieName, refresh, expires)
		}
		if device := w.sess.DeviceID(); device != "" {
			w.setCookie(w.cfg.DeviceCookieName, device, expires)
		}
	}
}

func (w *sessionWriter) setCookie(name, value string, expires time.Time) {
	http.SetCookie(w.ResponseWriter, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     w.cfg.CookiePath,
		Domain:   w.cfg.CookieDomain,
		Expires:  expires,
		Secure:   w.cfg.CookieSecure,
		HttpOnly: w.cfg.CookieHTTPOnly,
		SameSite: w.cfg.SameSite(),
	})
}

func (w *sessionWriter) deleteCookie(name string) {
	http.SetCookie(w.ResponseWriter, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     w.cfg.CookiePath,
		Domain:   w.cfg.CookieDomain,
		MaxAge:   -1,
		SameSite: w.cfg.SameSite(),
	})
}

func addVaryCookie(header http.Header) {
	for _, v := range header.Values("Vary") {
		if strings.EqualFold(v, "Cookie") {
			return
		}
	}
	header.Add("Vary", "Cookie")
}
