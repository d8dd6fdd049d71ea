package ui

import (
	"encoding/gob"
	"net/http"
	"time"

	"reportapp/internal/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/sessions"
)

const sessionName = "reportapp-session"

const (
	keyToken       = "token"
	keyUsername    = "username"
	keyRole        = "role"
	keyForceChange = "forceChangePassword"
	keyPowerBI     = "selectedPowerBIReport"
	keyWorkspace   = "workspace"
)

// Flash is a one-shot status message shown on the next page render.
type Flash struct {
	Message string
	Kind    string
}

const (
	FlashSuccess = "success"
	FlashError   = "error"
	FlashWarning = "warning"
	FlashInfo    = "info"
)

func init() {
	gob.Register(Flash{})
}

// SessionStore keeps the bearer token and per-user UI state in a signed cookie.
type SessionStore struct {
	store *sessions.CookieStore
}

func NewSessionStore(key string, ttl time.Duration) *SessionStore {
	store := sessions.NewCookieStore([]byte(key))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionStore{store: store}
}

// Session wraps one request's cookie session.
type Session struct {
	s *sessions.Session
}

// Get never fails: a cookie that cannot be decoded yields an empty session.
func (st *SessionStore) Get(r *http.Request) *Session {
	s, _ := st.store.Get(r, sessionName)
	return &Session{s: s}
}

func (s *Session) str(key string) string {
	v, _ := s.s.Values[key].(string)
	return v
}

func (s *Session) Token() string    { return s.str(keyToken) }
func (s *Session) Username() string { return s.str(keyUsername) }
func (s *Session) Role() string     { return s.str(keyRole) }
func (s *Session) IsAdmin() bool    { return s.Role() == core.RoleAdmin }

func (s *Session) ForceChangePassword() bool {
	v, _ := s.s.Values[keyForceChange].(bool)
	return v
}

func (s *Session) SetForceChangePassword(v bool) { s.s.Values[keyForceChange] = v }

func (s *Session) WorkspaceID() string      { return s.str(keyWorkspace) }
func (s *Session) SetWorkspaceID(id string) { s.s.Values[keyWorkspace] = id }

func (s *Session) SelectedPowerBIReport() int64 {
	v, _ := s.s.Values[keyPowerBI].(int64)
	return v
}

func (s *Session) SetSelectedPowerBIReport(id int64) { s.s.Values[keyPowerBI] = id }

// SignIn stores the credentials returned by the backend login.
func (s *Session) SignIn(token, username, role string, mustChange bool) {
	s.s.Values[keyToken] = token
	s.s.Values[keyUsername] = username
	s.s.Values[keyRole] = role
	s.s.Values[keyForceChange] = mustChange
}

// Clear drops every value and expires the cookie on the next Save.
func (s *Session) Clear() {
	for k := range s.s.Values {
		delete(s.s.Values, k)
	}
	s.s.Options.MaxAge = -1
}

func (s *Session) AddFlash(message, kind string) {
	s.s.AddFlash(Flash{Message: message, Kind: kind})
}

func (s *Session) Flashes() []Flash {
	var out []Flash
	for _, f := range s.s.Flashes() {
		if fl, ok := f.(Flash); ok && fl.Message != "" {
			out = append(out, fl)
		}
	}
	return out
}

func (s *Session) Save(w http.ResponseWriter, r *http.Request) error {
	return s.s.Save(r, w)
}

// TokenExpired reports whether the token is missing, malformed or past its
// exp claim. The signature is checked by the backend, not here.
func TokenExpired(token string, now time.Time) bool {
	if token == "" {
		return true
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	return claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time)
}
