package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rtchat/models"
)

var (
	ErrNoToken      = errors.New("no token")
	ErrTokenExpired = errors.New("token expired")
)

// Session holds the signed-in identity and its bearer token. The token is
// only inspected for its subject and expiry; the server verifies it.
type Session struct {
	log *zap.Logger

	mu        sync.RWMutex
	token     string
	user      models.User
	expiresAt time.Time

	listenersMu sync.Mutex
	listeners   []func()
}

func New(log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{log: log.Named("session")}
}

// SignIn stores the result of a login or registration.
func (s *Session) SignIn(auth models.AuthResponse) error {
	if auth.Token == "" {
		return ErrNoToken
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(auth.Token, &claims); err != nil {
		return errors.Wrap(err, "parse token")
	}
	if claims.Subject != "" && auth.User.ID != "" && claims.Subject != auth.User.ID {
		return errors.Errorf("token subject %q does not match user %q", claims.Subject, auth.User.ID)
	}

	s.mu.Lock()
	s.token = auth.Token
	s.user = auth.User
	s.expiresAt = time.Time{}
	if claims.ExpiresAt != nil {
		s.expiresAt = claims.ExpiresAt.Time
	}
	s.mu.Unlock()

	s.log.Info("signed in", zap.String("user_id", auth.User.ID), zap.Time("expires_at", s.expiresAt))
	return nil
}

// Token returns the bearer token, empty when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.token != ""
}

// SetUser records a profile change of the signed-in user.
func (s *Session) SetUser(u models.User) {
	s.mu.Lock()
	if s.token != "" && u.ID == s.user.ID {
		s.user = u
	}
	s.mu.Unlock()
}

// Valid reports whether a token is held and has not expired at now.
func (s *Session) Valid(now time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return ErrNoToken
	}
	if !s.expiresAt.IsZero() && !now.Before(s.expiresAt) {
		return ErrTokenExpired
	}
	return nil
}

// OnSignOut registers fn to run after every sign-out.
func (s *Session) OnSignOut(fn func()) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

// SignOut drops the credential and notifies listeners. Signing out twice
// notifies once.
func (s *Session) SignOut() {
	s.mu.Lock()
	if s.token == "" {
		s.mu.Unlock()
		return
	}
	userID := s.user.ID
	s.token = ""
	s.user = models.User{}
	s.expiresAt = time.Time{}
	s.mu.Unlock()

	s.log.Info("signed out", zap.String("user_id", userID))

	s.listenersMu.Lock()
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
