package main

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserProfile is the locally known identity of the signed-in player.
type UserProfile struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Nickname string `json:"nickName,omitempty"`
}

// AuthState holds the bearer token and user identity. It is constructed by
// the process entry point and injected into every component that needs a
// credential; nothing reads it ambiently.
type AuthState struct {
	mu    sync.Mutex
	token string
	user  *UserProfile
}

func newAuthState() *AuthState {
	return &AuthState{}
}

// SetToken stores the credential after inspecting its claims. The signature
// is the server's to verify; the client only needs the identity hints and an
// early rejection for an already-expired token.
func (a *AuthState) SetToken(token string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
		return fmt.Errorf("%w: token expired at %s", ErrUnauthenticated, exp.Format(time.RFC3339))
	}

	user := &UserProfile{}
	switch id := claims["userId"].(type) {
	case float64:
		user.UserID = int64(id)
	case string:
		user.UserID, _ = strconv.ParseInt(id, 10, 64)
	default:
		if sub, err := claims.GetSubject(); err == nil {
			user.UserID, _ = strconv.ParseInt(sub, 10, 64)
		}
	}
	if name, ok := claims["username"].(string); ok {
		user.Username = name
	}
	if nick, ok := claims["nickName"].(string); ok {
		user.Nickname = nick
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.token = token
	if a.user == nil || user.UserID != 0 {
		a.user = user
	}
	return nil
}

// Token returns the current credential, or "" when signed out.
func (a *AuthState) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.token
}

// Authenticated reports whether a credential is held.
func (a *AuthState) Authenticated() bool {
	return a.Token() != ""
}

// SetUser replaces the profile, keeping the token. Used when the lobby's
// user-info endpoint returns richer data than the token claims.
func (a *AuthState) SetUser(user *UserProfile) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.user = user
}

// User returns a copy of the current profile, or nil when unknown.
func (a *AuthState) User() *UserProfile {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.user == nil {
		return nil
	}
	u := *a.user
	return &u
}

// UserID returns the local player identity, or 0 when unknown.
func (a *AuthState) UserID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.user == nil {
		return 0
	}
	return a.user.UserID
}

// Clear signs out: token and profile are dropped together.
func (a *AuthState) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.token = ""
	a.user = nil
}
