package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/friendlychat/internal/domain"
	"github.com/weiawesome/friendlychat/pkg/jwt"
)

type authChange struct {
	sessionKey string
	profile    *domain.Profile
}

func newTestGate(t *testing.T, p Provider) (*Gate, *[]authChange) {
	t.Helper()
	tokens, err := jwt.NewManager(time.Hour, "friendlychat-test")
	require.NoError(t, err)

	g := NewGate(p, tokens, time.Minute)
	var changes []authChange
	g.OnAuthStateChanged(func(key string, p *domain.Profile) {
		changes = append(changes, authChange{key, p})
	})
	return g, &changes
}

func stateOf(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestDevSignInFlow(t *testing.T) {
	g, changes := newTestGate(t, NewDevProvider(""))
	ctx := context.Background()

	authURL, err := g.SignIn("browser-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(authURL, "/auth/dev?"))

	sess, err := g.Complete(ctx, stateOf(t, authURL), "  Ann  ")
	require.NoError(t, err)
	assert.Equal(t, "Ann", sess.Profile.DisplayName)
	assert.Equal(t, "browser-1", sess.SessionKey)
	assert.NotEmpty(t, sess.Token)

	require.Len(t, *changes, 1)
	assert.Equal(t, "browser-1", (*changes)[0].sessionKey)
	assert.Equal(t, "Ann", (*changes)[0].profile.DisplayName)

	me, err := g.CurrentUser(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.Profile.UID, me.UID)

	principal, err := g.ValidateToken(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "browser-1", principal.SessionKey)
	assert.Equal(t, "Ann", principal.Username)
}

func TestDevProviderStableUID(t *testing.T) {
	p := NewDevProvider("")
	a, err := p.Exchange(context.Background(), "Ann")
	require.NoError(t, err)
	b, err := p.Exchange(context.Background(), "Ann")
	require.NoError(t, err)
	c, err := p.Exchange(context.Background(), "Bob")
	require.NoError(t, err)

	assert.Equal(t, a.UID, b.UID)
	assert.NotEqual(t, a.UID, c.UID)

	_, err = p.Exchange(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestCompleteRejectsUnknownState(t *testing.T) {
	g, changes := newTestGate(t, NewDevProvider(""))

	_, err := g.Complete(context.Background(), "nope", "Ann")
	assert.ErrorIs(t, err, ErrUnknownState)
	assert.Empty(t, *changes)
}

func TestStateIsSingleUseAndExpires(t *testing.T) {
	g, _ := newTestGate(t, NewDevProvider(""))
	ctx := context.Background()

	authURL, err := g.SignIn("browser-1")
	require.NoError(t, err)
	state := stateOf(t, authURL)
	_, err = g.Complete(ctx, state, "Ann")
	require.NoError(t, err)
	_, err = g.Complete(ctx, state, "Ann")
	assert.ErrorIs(t, err, ErrUnknownState)

	authURL, err = g.SignIn("browser-1")
	require.NoError(t, err)
	g.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = g.Complete(ctx, stateOf(t, authURL), "Ann")
	assert.ErrorIs(t, err, ErrUnknownState)
}

func TestSignInRequiresSessionKey(t *testing.T) {
	g, _ := newTestGate(t, NewDevProvider(""))
	_, err := g.SignIn("")
	assert.Error(t, err)
}

func TestSignOut(t *testing.T) {
	g, changes := newTestGate(t, NewDevProvider(""))
	ctx := context.Background()

	authURL, err := g.SignIn("browser-1")
	require.NoError(t, err)
	sess, err := g.Complete(ctx, stateOf(t, authURL), "Ann")
	require.NoError(t, err)

	key, err := g.SignOut(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "browser-1", key)

	require.Len(t, *changes, 2)
	assert.Nil(t, (*changes)[1].profile)

	_, err = g.CurrentUser(sess.Token)
	assert.ErrorIs(t, err, ErrSignedOut)

	_, err = g.SignOut(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSignedOut)
}

func TestPruneStates(t *testing.T) {
	g, _ := newTestGate(t, NewDevProvider(""))
	_, err := g.SignIn("a")
	require.NoError(t, err)
	_, err = g.SignIn("b")
	require.NoError(t, err)

	assert.Equal(t, 0, g.pruneStates())
	g.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, 2, g.pruneStates())
}

func TestOAuthProviderExchange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(userInfo{
			Sub:     "google-123",
			Name:    "Ann Example",
			Picture: "https://lh3.googleusercontent.com/a/photo",
			Email:   "ann@example.com",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := NewProvider(ProviderConfig{
		Driver:       ProviderGoogle,
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/auth/callback",
		AuthURL:      srv.URL + "/auth",
		TokenURL:     srv.URL + "/token",
		UserInfoURL:  srv.URL + "/userinfo",
	})
	require.NoError(t, err)

	authURL := p.AuthCodeURL("st-1")
	assert.True(t, strings.HasPrefix(authURL, srv.URL+"/auth?"))
	assert.Contains(t, authURL, "state=st-1")
	assert.Contains(t, authURL, "client_id=client")

	profile, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "google-123", profile.UID)
	assert.Equal(t, "Ann Example", profile.DisplayName)
	assert.Equal(t, "ann@example.com", profile.Email)

	_, err = p.Exchange(context.Background(), "bad-code")
	assert.True(t, errors.Is(err, ErrInvalidCode))
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{})
	require.NoError(t, err)
	assert.Equal(t, ProviderDev, p.Name())

	_, err = NewProvider(ProviderConfig{Driver: ProviderGoogle})
	assert.Error(t, err)

	_, err = NewProvider(ProviderConfig{Driver: "facebook"})
	assert.Error(t, err)
}
