package security

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/bastion/pkg/cryptox"
)

// DefaultSessionCookie is the name of the session cookie.
const DefaultSessionCookie = "JSESSIONID"

// DefaultSessionTTL bounds the life of an idle-or-not session.
const DefaultSessionTTL = 30 * time.Minute

// Session binds an authentication to a browser.
type Session struct {
	ID             string
	Authentication *Authentication
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// SessionStore persists sessions. Ids are secrets; stores key them by
// fingerprint.
type SessionStore interface {
	Create(ctx context.Context, auth *Authentication) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int, error)
}

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemorySessionStore{ttl: ttl, now: time.Now, sessions: make(map[string]Session)}
}

// WithClock replaces the time source.
func (s *MemorySessionStore) WithClock(now func() time.Time) *MemorySessionStore {
	s.now = now
	return s
}

func (s *MemorySessionStore) Create(_ context.Context, auth *Authentication) (Session, error) {
	id, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return Session{}, fmt.Errorf("session id: %w", err)
	}
	now := s.now()
	sess := Session{ID: id, Authentication: auth.Clone(), CreatedAt: now, ExpiresAt: now.Add(s.ttl)}

	s.mu.Lock()
	s.sessions[cryptox.FingerprintToken(id)] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, ErrSessionNotFound
	}
	s.mu.RLock()
	sess, ok := s.sessions[cryptox.FingerprintToken(id)]
	s.mu.RUnlock()
	if !ok || !s.now().Before(sess.ExpiresAt) {
		return Session{}, ErrSessionNotFound
	}
	sess.Authentication = sess.Authentication.Clone()
	return sess, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, cryptox.FingerprintToken(id))
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) DeleteExpired(_ context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, k)
			n++
		}
	}
	return n, nil
}

// sessionCookie builds the cookie carrying a session id.
func sessionCookie(name, value string, secure bool, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

// expireCookie instructs the browser to drop a cookie.
func expireCookie(w http.ResponseWriter, name string, secure bool) {
	http.SetCookie(w, sessionCookie(name, "", secure, -1))
}
