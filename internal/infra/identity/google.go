// Package identity adapts Google OAuth 2.0 sign-in to the session model the
// reconciler consumes.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"virtual-lab-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	ProviderGoogle   = "google"
	defaultRevokeURL = "https://oauth2.googleapis.com/revoke"
	stateTTL         = 10 * time.Minute
)

var (
	ErrInvalidState    = errors.New("unknown or expired sign-in state")
	ErrNoIDToken       = errors.New("token response carried no id_token")
	// ErrUnverifiedEmail rejects accounts whose address Google has not verified.
	ErrUnverifiedEmail = errors.New("google account email is not verified")
)

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	// Endpoint and RevokeURL default to Google's; tests point them elsewhere.
	Endpoint   oauth2.Endpoint
	RevokeURL  string
	HTTPClient *http.Client
}

type pendingLogin struct {
	redirectTo string
	expiresAt  time.Time
}

// idClaims are the id_token fields used to build the remote user.
type idClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// Google is a single-session identity provider: one signed-in user per process,
// mirroring one browser per device.
type Google struct {
	oauth     *oauth2.Config
	revokeURL string
	client    *http.Client
	log       *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	states   map[string]pendingLogin
	token    *oauth2.Token
	session  *domain.RemoteSession
	handlers map[int]func(domain.AuthEvent, *domain.RemoteSession)
	nextID   int
}

func NewGoogle(cfg GoogleConfig, log *slog.Logger) *Google {
	if log == nil {
		log = slog.Default()
	}
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = endpoints.Google
	}
	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = defaultRevokeURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		revokeURL: revokeURL,
		client:    client,
		log:       log,
		now:       time.Now,
		states:    make(map[string]pendingLogin),
		handlers:  make(map[int]func(domain.AuthEvent, *domain.RemoteSession)),
	}
}

// SignInWithOAuth returns the consent URL. domainHint is passed as Google's
// hd parameter, which only preselects accounts; the domain is still checked
// after sign-in.
func (g *Google) SignInWithOAuth(_ context.Context, provider, redirectTo, domainHint string) (string, error) {
	if provider != ProviderGoogle {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, provider)
	}
	state := uuid.NewString()

	g.mu.Lock()
	now := g.now()
	for s, p := range g.states {
		if now.After(p.expiresAt) {
			delete(g.states, s)
		}
	}
	g.states[state] = pendingLogin{redirectTo: redirectTo, expiresAt: now.Add(stateTTL)}
	g.mu.Unlock()

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce}
	if domainHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("hd", domainHint))
	}
	return g.oauth.AuthCodeURL(state, opts...), nil
}

// CompleteSignIn exchanges the callback code, stores the session and emits
// SIGNED_IN. It returns the redirect target registered with the state.
func (g *Google) CompleteSignIn(ctx context.Context, state, code string) (string, error) {
	g.mu.Lock()
	pending, ok := g.states[state]
	delete(g.states, state)
	g.mu.Unlock()
	if !ok || g.now().After(pending.expiresAt) {
		return "", ErrInvalidState
	}

	token, err := g.oauth.Exchange(g.clientContext(ctx), code)
	if err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	user, err := userFromToken(token)
	if err != nil {
		return "", err
	}

	session := &domain.RemoteSession{AccessToken: token.AccessToken, ExpiresAt: token.Expiry, User: user}
	g.mu.Lock()
	g.token = token
	g.session = session
	g.mu.Unlock()

	cp := *session
	g.notify(domain.AuthSignedIn, &cp)
	return pending.redirectTo, nil
}

// GetSession returns the live session, refreshing the access token when it
// has expired and a refresh token is available.
func (g *Google) GetSession(ctx context.Context) (*domain.RemoteSession, error) {
	g.mu.Lock()
	token, session := g.token, g.session
	g.mu.Unlock()
	if token == nil || session == nil {
		return nil, nil
	}
	if token.Valid() {
		cp := *session
		return &cp, nil
	}
	if token.RefreshToken == "" {
		return nil, nil
	}

	refreshed, err := g.oauth.TokenSource(g.clientContext(ctx), token).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	g.mu.Lock()
	if g.token != token {
		// Signed out or replaced while refreshing.
		g.mu.Unlock()
		return nil, nil
	}
	g.token = refreshed
	g.session = &domain.RemoteSession{AccessToken: refreshed.AccessToken, ExpiresAt: refreshed.Expiry, User: session.User}
	cp := *g.session
	g.mu.Unlock()

	out := cp
	g.log.Debug("access token refreshed", "user_id", cp.User.ID, "expires_at", cp.ExpiresAt)
	g.notify(domain.AuthTokenRefreshed, &cp)
	return &out, nil
}

func (g *Google) OnAuthStateChange(handler func(domain.AuthEvent, *domain.RemoteSession)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.handlers[id] = handler
	return func() {
		g.mu.Lock()
		delete(g.handlers, id)
		g.mu.Unlock()
	}
}

// SignOut drops the session and revokes the token at Google. Local sign-out
// always succeeds; a failed revoke is returned for logging.
func (g *Google) SignOut(ctx context.Context) error {
	g.mu.Lock()
	token := g.token
	had := g.session != nil
	g.token = nil
	g.session = nil
	g.mu.Unlock()

	if had {
		g.notify(domain.AuthSignedOut, nil)
	}
	if token == nil {
		return nil
	}
	revoke := token.RefreshToken
	if revoke == "" {
		revoke = token.AccessToken
	}
	return g.revoke(ctx, revoke)
}

func (g *Google) revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("revoke token: status %d", resp.StatusCode)
	}
	return nil
}

func (g *Google) notify(event domain.AuthEvent, session *domain.RemoteSession) {
	g.mu.Lock()
	handlers := make([]func(domain.AuthEvent, *domain.RemoteSession), 0, len(g.handlers))
	for _, h := range g.handlers {
		handlers = append(handlers, h)
	}
	g.mu.Unlock()
	for _, h := range handlers {
		h(event, session)
	}
}

func (g *Google) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.client)
}

// userFromToken reads the identity from the id_token. The token arrives
// directly from the token endpoint over TLS, so its signature is not re-checked.
func userFromToken(token *oauth2.Token) (domain.RemoteUser, error) {
	raw, _ := token.Extra("id_token").(string)
	if raw == "" {
		return domain.RemoteUser{}, ErrNoIDToken
	}
	claims := &idClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return domain.RemoteUser{}, fmt.Errorf("parse id_token: %w", err)
	}
	if claims.Subject == "" || claims.Email == "" {
		return domain.RemoteUser{}, fmt.Errorf("parse id_token: missing sub or email")
	}
	if !claims.EmailVerified {
		return domain.RemoteUser{}, fmt.Errorf("%w: %s", ErrUnverifiedEmail, claims.Email)
	}
	return domain.RemoteUser{ID: claims.Subject, Email: claims.Email, FullName: claims.Name}, nil
}
