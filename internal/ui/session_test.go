package ui

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	assert.True(t, TokenExpired("", now))
	assert.True(t, TokenExpired("not-a-jwt", now))
	assert.True(t, TokenExpired(signedToken(t, now.Add(-time.Second)), now))
	assert.False(t, TokenExpired(signedToken(t, now.Add(time.Hour)), now))
}

func TestSessionRoundTrip(t *testing.T) {
	store := NewSessionStore(testAppKey, time.Hour)

	req := httptest.NewRequest("GET", "/", nil)
	rw := httptest.NewRecorder()
	s := store.Get(req)
	s.SignIn("tok", "alice", "admin", true)
	s.SetSelectedPowerBIReport(7)
	s.AddFlash("Saved.", FlashSuccess)
	require.NoError(t, s.Save(rw, req))

	next := httptest.NewRequest("GET", "/", nil)
	for _, c := range rw.Result().Cookies() {
		next.AddCookie(c)
	}
	s = store.Get(next)
	assert.Equal(t, "tok", s.Token())
	assert.Equal(t, "alice", s.Username())
	assert.True(t, s.IsAdmin())
	assert.True(t, s.ForceChangePassword())
	assert.Equal(t, int64(7), s.SelectedPowerBIReport())
	assert.Equal(t, []Flash{{Message: "Saved.", Kind: FlashSuccess}}, s.Flashes())
	assert.Empty(t, s.Flashes())
}

func TestWorkspaces(t *testing.T) {
	ws := NewWorkspaces()
	id, w := ws.Get("")
	require.NotEmpty(t, id)
	require.NotNil(t, w.Runner)

	again, w2 := ws.Get(id)
	assert.Equal(t, id, again)
	assert.Same(t, w, w2)

	ws.Drop(id)
	assert.Equal(t, 0, ws.Len())
	fresh, _ := ws.Get(id)
	assert.NotEqual(t, id, fresh)
}
