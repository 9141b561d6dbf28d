package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weiawesome/friendlychat/internal/audit"
	"github.com/weiawesome/friendlychat/internal/domain"
	"github.com/weiawesome/friendlychat/pkg/jwt"
	"github.com/weiawesome/friendlychat/pkg/log"
	"github.com/weiawesome/friendlychat/pkg/middleware"
)

var (
	ErrSignedOut    = errors.New("user is signed out")
	ErrUnknownState = errors.New("unknown or expired sign-in state")
)

// DefaultStateTTL bounds how long a sign-in popup may stay open.
const DefaultStateTTL = 10 * time.Minute

// Observer is told about every sign-in and sign-out of a browser session.
// The profile is nil on sign-out.
type Observer func(sessionKey string, profile *domain.Profile)

// Session is the result of a completed sign-in.
type Session struct {
	Token      string
	ExpiresAt  int64
	SessionKey string
	Profile    domain.Profile
}

type pendingSignIn struct {
	sessionKey string
	expires    time.Time
}

// Gate authenticates users against a Provider and tracks their sessions as
// signed tokens.
type Gate struct {
	provider Provider
	tokens   *jwt.Manager
	stateTTL time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]pendingSignIn

	obsMu     sync.RWMutex
	observers []Observer
}

// NewGate creates a gate.
func NewGate(provider Provider, tokens *jwt.Manager, stateTTL time.Duration) *Gate {
	if stateTTL <= 0 {
		stateTTL = DefaultStateTTL
	}
	return &Gate{
		provider: provider,
		tokens:   tokens,
		stateTTL: stateTTL,
		now:      time.Now,
		pending:  make(map[string]pendingSignIn),
	}
}

// Provider returns the configured provider.
func (g *Gate) Provider() Provider {
	return g.provider
}

// SignIn starts a sign-in for the browser session and returns the URL to
// open in the popup. The result arrives later through Complete.
func (g *Gate) SignIn(sessionKey string) (string, error) {
	if sessionKey == "" {
		return "", fmt.Errorf("sign in: missing session key")
	}
	state := uuid.NewString()

	g.mu.Lock()
	g.pending[state] = pendingSignIn{sessionKey: sessionKey, expires: g.now().Add(g.stateTTL)}
	g.mu.Unlock()

	return g.provider.AuthCodeURL(state), nil
}

// Complete finishes the sign-in identified by state, issues a session token
// and notifies observers.
func (g *Gate) Complete(ctx context.Context, state, code string) (*Session, error) {
	g.mu.Lock()
	p, ok := g.pending[state]
	delete(g.pending, state)
	g.mu.Unlock()

	if !ok || g.now().After(p.expires) {
		return nil, ErrUnknownState
	}

	profile, err := g.provider.Exchange(ctx, code)
	if err != nil {
		audit.LogWithDetail(ctx, audit.ActionSignInFailed, "", g.provider.Name(), "sign-in failed")
		return nil, fmt.Errorf("sign in: %w", err)
	}

	token, exp, err := g.tokens.IssueSession(jwt.Identity{
		UserID:     profile.UID,
		Username:   profile.DisplayName,
		Email:      profile.Email,
		Picture:    profile.PhotoURL,
		SessionKey: p.sessionKey,
	})
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	audit.LogWithDetail(ctx, audit.ActionSignIn, profile.UID, g.provider.Name(), "user signed in")
	g.notify(p.sessionKey, profile)

	return &Session{Token: token, ExpiresAt: exp, SessionKey: p.sessionKey, Profile: *profile}, nil
}

// SignOut revokes the session token and notifies observers. It returns the
// session key the token belonged to.
func (g *Gate) SignOut(ctx context.Context, token string) (string, error) {
	claims, err := g.tokens.ValidateToken(token)
	if err != nil {
		return "", ErrSignedOut
	}
	g.tokens.Revoke(claims)

	audit.Log(ctx, audit.ActionSignOut, claims.UserID, "user signed out")
	g.notify(claims.SessionKey, nil)
	return claims.SessionKey, nil
}

// CurrentUser returns the profile of a session token.
func (g *Gate) CurrentUser(token string) (*domain.Profile, error) {
	claims, err := g.tokens.ValidateToken(token)
	if err != nil {
		return nil, ErrSignedOut
	}
	return &domain.Profile{
		UID:         claims.UserID,
		DisplayName: claims.Username,
		PhotoURL:    claims.Picture,
		Email:       claims.Email,
	}, nil
}

// ValidateToken resolves a session token for the auth middleware.
func (g *Gate) ValidateToken(token string) (middleware.Principal, error) {
	claims, err := g.tokens.ValidateToken(token)
	if err != nil {
		return middleware.Principal{}, err
	}
	id := claims.Identity()
	return middleware.Principal{
		UserID:     id.UserID,
		Username:   id.Username,
		Email:      id.Email,
		Picture:    id.Picture,
		SessionKey: id.SessionKey,
	}, nil
}

// OnAuthStateChanged registers an observer for the life of the process.
func (g *Gate) OnAuthStateChanged(fn Observer) {
	g.obsMu.Lock()
	defer g.obsMu.Unlock()
	g.observers = append(g.observers, fn)
}

func (g *Gate) notify(sessionKey string, profile *domain.Profile) {
	g.obsMu.RLock()
	observers := append([]Observer(nil), g.observers...)
	g.obsMu.RUnlock()

	for _, fn := range observers {
		fn(sessionKey, profile)
	}
}

// Run prunes expired sign-in states and token revocations until ctx is done.
func (g *Gate) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			states := g.pruneStates()
			revoked := g.tokens.CleanupExpiredRevocations()
			if states > 0 || revoked > 0 {
				logger := log.L()
				logger.Debug().Int("states", states).Int("revocations", revoked).Msg("pruned identity state")
			}
		}
	}
}

func (g *Gate) pruneStates() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	n := 0
	for state, p := range g.pending {
		if now.After(p.expires) {
			delete(g.pending, state)
			n++
		}
	}
	return n
}
