package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/clientsphere/sessionkit/internal/config"
	"github.com/clientsphere/sessionkit/internal/crypto"
	"github.com/clientsphere/sessionkit/internal/identity"
	"github.com/clientsphere/sessionkit/internal/ioutil"
	"github.com/clientsphere/sessionkit/internal/log"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	googleDiscoveryURL = "https://accounts.google.com/.well-known/openid-configuration"
	googleRevokeURL    = "https://oauth2.googleapis.com/revoke"
)

// Ensure GoogleProvider implements Provider
var _ Provider = (*GoogleProvider)(nil)

// GoogleProvider runs the Google sign-in flow: it opens the system browser
// on the authorization URL (the popup analog) and receives the redirect on
// a loopback listener. The resulting ID token is decoded locally for the
// normalized credential; authoritative verification happens when the raw
// token is exchanged with the ClientSphere backend.
type GoogleProvider struct {
	clientID      string
	clientSecret  string
	loopbackPort  int
	signInTimeout time.Duration
	discoveryURL  string
	revokeURL     string
	httpClient    *http.Client
	openBrowser   func(url string) error

	group singleflight.Group // coalesces Initialize and SignIn

	mu          sync.Mutex
	initialized bool
	endpoint    oauth2.Endpoint
	lastToken   *oauth2.Token // provider token from the most recent exchange
}

// GoogleOption configures the provider.
type GoogleOption func(*GoogleProvider)

// WithHTTPClient sets a custom HTTP client for discovery, exchange, and
// revocation calls.
func WithHTTPClient(c *http.Client) GoogleOption {
	return func(p *GoogleProvider) { p.httpClient = c }
}

// WithEndpoint pins the OAuth endpoints, skipping discovery. Used in tests.
func WithEndpoint(e oauth2.Endpoint) GoogleOption {
	return func(p *GoogleProvider) {
		p.endpoint = e
		p.initialized = true
	}
}

// WithDiscoveryURL overrides the OIDC discovery document URL.
func WithDiscoveryURL(u string) GoogleOption {
	return func(p *GoogleProvider) { p.discoveryURL = u }
}

// WithRevokeURL overrides the token revocation URL.
func WithRevokeURL(u string) GoogleOption {
	return func(p *GoogleProvider) { p.revokeURL = u }
}

// WithBrowserOpener replaces the system browser launcher.
func WithBrowserOpener(open func(url string) error) GoogleOption {
	return func(p *GoogleProvider) { p.openBrowser = open }
}

// WithSignInTimeout overrides the sign-in deadline.
func WithSignInTimeout(d time.Duration) GoogleOption {
	return func(p *GoogleProvider) { p.signInTimeout = d }
}

// NewGoogleProvider creates a Google provider from config.
func NewGoogleProvider(cfg config.GoogleConfig, opts ...GoogleOption) *GoogleProvider {
	p := &GoogleProvider{
		clientID:      cfg.ClientID,
		clientSecret:  string(cfg.ClientSecret),
		loopbackPort:  cfg.LoopbackPort,
		signInTimeout: cfg.SignInTimeout,
		discoveryURL:  googleDiscoveryURL,
		revokeURL:     googleRevokeURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		openBrowser:   OpenBrowser,
	}
	if p.signInTimeout == 0 {
		p.signInTimeout = config.DefaultSignInTimeout
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// discoveryDoc is the subset of the OIDC discovery document we need.
type discoveryDoc struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

// Initialize implements Provider. The discovery fetch is the process-level
// analog of loading the provider script once: concurrent callers coalesce
// onto a single fetch, and a failed fetch is retried by the next call.
func (p *GoogleProvider) Initialize(ctx context.Context) error {
	if config.IsPlaceholderClientID(p.clientID) {
		return fmt.Errorf("%w: google client id is missing or a placeholder", ErrProviderUnavailable)
	}

	p.mu.Lock()
	done := p.initialized
	p.mu.Unlock()
	if done {
		return nil
	}

	_, err, _ := p.group.Do("initialize", func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.discoveryURL, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: fetching discovery document: %v", ErrProviderUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			log.LogDebugWithFields("idp", "Discovery document fetch failed", map[string]any{
				"status": resp.StatusCode,
				"body":   ioutil.ReadLimited(resp.Body, 512),
			})
			return nil, fmt.Errorf("%w: discovery document returned status %d", ErrProviderUnavailable, resp.StatusCode)
		}

		var doc discoveryDoc
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decoding discovery document: %v", ErrProviderUnavailable, err)
		}
		if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
			return nil, fmt.Errorf("%w: discovery document missing endpoints", ErrProviderUnavailable)
		}

		p.mu.Lock()
		p.endpoint = oauth2.Endpoint{AuthURL: doc.AuthorizationEndpoint, TokenURL: doc.TokenEndpoint}
		p.initialized = true
		p.mu.Unlock()

		log.LogDebugWithFields("idp", "Google provider initialized", map[string]any{
			"authURL": doc.AuthorizationEndpoint,
		})
		return nil, nil
	})
	return err
}

// callbackResult carries the loopback redirect outcome to the waiting flow.
type callbackResult struct {
	code string
	err  error
}

// SignIn implements Provider. Concurrent calls while a flow is pending
// share that flow's browser prompt and outcome rather than opening a
// second one; after any outcome the next call starts a fresh flow.
func (p *GoogleProvider) SignIn(ctx context.Context) (*identity.Credential, error) {
	v, err, shared := p.group.Do("signin", func() (any, error) {
		return p.runSignIn(ctx)
	})
	if shared {
		log.LogDebugWithFields("idp", "Joined pending sign-in", nil)
	}
	if err != nil {
		return nil, err
	}
	return v.(*identity.Credential), nil
}

func (p *GoogleProvider) runSignIn(ctx context.Context) (*identity.Credential, error) {
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}

	// The deadline belongs to the flow, not to any one caller: late
	// joiners share it rather than extending it.
	flowCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.signInTimeout)
	defer cancel()

	state, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p.loopbackPort))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open loopback listener: %v", ErrProviderUnavailable, err)
	}
	defer listener.Close()

	redirectURI := fmt.Sprintf("http://%s/callback", listener.Addr().String())

	p.mu.Lock()
	oauthCfg := oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{"openid", "profile", "email"},
		Endpoint:     p.endpoint,
	}
	p.mu.Unlock()

	results := make(chan callbackResult, 1)
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/callback" {
			http.NotFound(w, r)
			return
		}
		result := parseCallback(r, state)
		writeCallbackPage(w, result.err)
		select {
		case results <- result:
		default: // a second hit on the callback is ignored
		}
	})}
	go server.Serve(listener)
	defer server.Close()

	authURL := oauthCfg.AuthCodeURL(state)
	if err := p.openBrowser(authURL); err != nil {
		// Browser suppression fallback: surface the URL so the user can
		// complete the prompt manually. The flow still resolves, dismisses,
		// or times out through the loopback listener.
		log.LogWarnWithFields("idp", "Could not open browser, complete sign-in manually", map[string]any{
			"url": authURL,
		})
	}

	var result callbackResult
	select {
	case result = <-results:
	case <-flowCtx.Done():
		return nil, ErrTimeout
	}
	if result.err != nil {
		return nil, result.err
	}

	token, err := oauthCfg.Exchange(flowCtx, result.code)
	if err != nil {
		if flowCtx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: code exchange failed: %v", ErrMalformedCredential, err)
	}

	cred, err := credentialFromToken(token)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.lastToken = token
	p.mu.Unlock()

	log.LogInfoWithFields("idp", "Google sign-in completed", map[string]any{
		"email": cred.Email,
	})
	return cred, nil
}

// parseCallback maps the redirect query to a result.
func parseCallback(r *http.Request, wantState string) callbackResult {
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		if errCode == "access_denied" {
			return callbackResult{err: ErrDismissed}
		}
		return callbackResult{err: fmt.Errorf("%w: provider returned %q", ErrMalformedCredential, errCode)}
	}
	if q.Get("state") != wantState {
		return callbackResult{err: fmt.Errorf("%w: state mismatch", ErrMalformedCredential)}
	}
	code := q.Get("code")
	if code == "" {
		return callbackResult{err: fmt.Errorf("%w: callback without code", ErrMalformedCredential)}
	}
	return callbackResult{code: code}
}

// credentialFromToken decodes the ID token carried by the provider token
// into a normalized credential. Claims are read without local signature
// verification; the backend exchange re-verifies the raw token.
func credentialFromToken(token *oauth2.Token) (*identity.Credential, error) {
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w: provider response lacks id_token", ErrMalformedCredential)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	if sub == "" || email == "" {
		return nil, fmt.Errorf("%w: id_token missing sub or email claim", ErrMalformedCredential)
	}
	name, _ := claims["name"].(string)
	picture, _ := claims["picture"].(string)

	return &identity.Credential{
		ProviderID:  sub,
		Email:       email,
		DisplayName: name,
		PictureURL:  picture,
		Raw:         raw,
	}, nil
}

// SignOut implements Provider. Revokes the most recent provider token if
// there is one. Failures are logged and swallowed: local logout must not
// depend on the provider being reachable.
func (p *GoogleProvider) SignOut(ctx context.Context) {
	p.mu.Lock()
	token := p.lastToken
	p.lastToken = nil
	p.mu.Unlock()

	if token == nil {
		return
	}

	revoke := token.RefreshToken
	if revoke == "" {
		revoke = token.AccessToken
	}
	if revoke == "" {
		return
	}

	form := url.Values{"token": {revoke}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		log.LogWarnWithFields("idp", "Failed to build revocation request", map[string]any{"error": err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.LogWarnWithFields("idp", "Token revocation failed", map[string]any{"error": err.Error()})
		return
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.LogWarnWithFields("idp", "Token revocation rejected", map[string]any{"status": resp.StatusCode})
	}
}
