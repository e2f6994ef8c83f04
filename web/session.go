package web

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const sessionCookieName = "postcache_session"

// sessions holds the logged-in admin sessions in memory. A restart logs everyone out.
type sessions struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	ttl    time.Duration
	clock  func() time.Time
	secure bool
}

func newSessions(ttl time.Duration, clock func() time.Time, secure bool) *sessions {
	return &sessions{
		tokens: make(map[string]time.Time),
		ttl:    ttl,
		clock:  clock,
		secure: secure,
	}
}

// create starts a session and drops any that have expired.
func (s *sessions) create() (string, time.Time, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	now := s.clock()
	expires := now.Add(s.ttl)

	s.mu.Lock()
	for t, exp := range s.tokens {
		if now.After(exp) {
			delete(s.tokens, t)
		}
	}
	s.tokens[token] = expires
	s.mu.Unlock()

	return token, expires, nil
}

// valid reports whether the request carries a live session. Expired sessions are dropped.
func (s *sessions) valid(r *http.Request) bool {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.tokens[cookie.Value]
	if !ok {
		return false
	}
	if s.clock().After(expires) {
		delete(s.tokens, cookie.Value)
		return false
	}
	return true
}

func (s *sessions) revoke(r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return
	}

	s.mu.Lock()
	delete(s.tokens, cookie.Value)
	s.mu.Unlock()
}

func (s *sessions) setCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
}

func (s *sessions) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// checkCredentials compares against the configured admin. An unset account matches nobody.
func (srv *Server) checkCredentials(username, password string) bool {
	if srv.user.Username == "" || srv.user.PasswordHash == "" {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(srv.user.Username)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(srv.user.PasswordHash), []byte(password)) == nil
	return userOK && passOK
}

// HashPassword returns the bcrypt hash to store as the admin password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
