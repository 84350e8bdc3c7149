package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIdleTimeout is the sliding idle window of a session.
const DefaultIdleTimeout = 15 * time.Minute

// Session carries the bearer token used by a Client. Each successful use
// slides the idle expiry; a session past either its idle window or the
// token's own exp claim is ended and refuses to hand out the token.
type Session struct {
	mu        sync.Mutex
	token     string
	idle      time.Duration
	deadline  time.Time
	expiresAt time.Time
	ended     bool
	now       func() time.Time
	onEnd     func()
}

type SessionOption func(*Session)

// WithIdleTimeout overrides DefaultIdleTimeout. Zero disables idle expiry.
func WithIdleTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.idle = d }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithOnEnd registers a callback run once when the session ends, e.g. to
// tear down the logged-in user state.
func WithOnEnd(fn func()) SessionOption {
	return func(s *Session) { s.onEnd = fn }
}

// NewSession starts a session for token. An empty token yields an anonymous
// session that never sends an Authorization header.
func NewSession(token string, opts ...SessionOption) *Session {
	s := &Session{
		token: token,
		idle:  DefaultIdleTimeout,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.expiresAt = tokenExpiry(token)
	s.touch(s.now())
	return s
}

// Token returns the bearer token, or ErrSessionExpired once the session has
// lapsed. The anonymous session returns "", nil.
func (s *Session) Token() (string, error) {
	if s == nil {
		return "", nil
	}
	s.mu.Lock()
	if s.token == "" && !s.ended {
		s.mu.Unlock()
		return "", nil
	}
	if s.ended {
		s.mu.Unlock()
		return "", ErrSessionExpired
	}
	now := s.now()
	if (!s.deadline.IsZero() && !now.Before(s.deadline)) ||
		(!s.expiresAt.IsZero() && !now.Before(s.expiresAt)) {
		s.mu.Unlock()
		s.End()
		return "", ErrSessionExpired
	}
	s.touch(now)
	token := s.token
	s.mu.Unlock()
	return token, nil
}

// End terminates the session. It is safe to call more than once; the
// OnEnd callback only runs the first time.
func (s *Session) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.token = ""
	fn := s.onEnd
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Active reports whether the session still holds a usable token.
func (s *Session) Active() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended && s.token != ""
}

// ExpiresAt returns the token's exp claim, zero if it has none.
func (s *Session) ExpiresAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

func (s *Session) touch(now time.Time) {
	if s.idle > 0 {
		s.deadline = now.Add(s.idle)
	}
}

// tokenExpiry reads the exp claim without verifying the signature; the
// client only needs it to stop sending a token the server will reject.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Login exchanges credentials for a bearer token at POST /auth/login. The
// request is sent without the client's session.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	anon := *c
	anon.session = nil
	body, err := anon.send(ctx, http.MethodPost, "/auth/login", nil, map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("login: decode: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("login: %w: empty token", ErrUnauthorized)
	}
	return out.Token, nil
}
