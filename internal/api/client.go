// Package api is the typed client for the ClientSphere auth backend. It
// owns the wire contract (endpoints, payloads, error mapping) and nothing
// else: user payloads are passed through raw, normalization is the session
// service's job.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clientsphere/sessionkit/internal/log"
)

// Error taxonomy surfaced to users. Messages are deliberately generic:
// backend error details are logged, never shown.
var (
	// ErrInvalidCredentials is a user-correctable rejection of email or
	// password. Session state is untouched.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailExists means the backend signaled a sign-up conflict.
	ErrEmailExists = errors.New("an account with this email already exists")

	// ErrExchangeFailed means the backend rejected an otherwise-valid
	// provider credential.
	ErrExchangeFailed = errors.New("sign-in could not be completed")

	// ErrBackendUnavailable covers transport failures and malformed
	// responses. Never retried automatically; the user retries explicitly.
	ErrBackendUnavailable = errors.New("could not reach the server, please try again")
)

// AuthResponse is the successful payload of every auth endpoint. User is
// kept raw because endpoints disagree on field naming; only the session
// service may interpret it.
type AuthResponse struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user"`
}

// errorResponse is the non-2xx payload shape.
type errorResponse struct {
	Error string `json:"error"`
}

// Client talks to the ClientSphere auth backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client. baseURL is the externally supplied
// backend base URL without a trailing slash.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SignIn verifies email+password credentials.
func (c *Client) SignIn(ctx context.Context, email, password string) (*AuthResponse, error) {
	return c.post(ctx, "/auth/signin", map[string]string{
		"email":    email,
		"password": password,
	}, func(status int, body []byte) error {
		return ErrInvalidCredentials
	})
}

// SignUp registers a new account. A backend conflict maps to ErrEmailExists.
func (c *Client) SignUp(ctx context.Context, name, email, password string) (*AuthResponse, error) {
	return c.post(ctx, "/auth/signup", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	}, func(status int, body []byte) error {
		if status == http.StatusConflict || strings.Contains(strings.ToLower(string(body)), "exists") {
			return ErrEmailExists
		}
		return ErrInvalidCredentials
	})
}

// ExchangeGoogle trades a provider credential for a backend session.
func (c *Client) ExchangeGoogle(ctx context.Context, credential string) (*AuthResponse, error) {
	return c.post(ctx, "/auth/google", map[string]string{
		"credential": credential,
	}, func(status int, body []byte) error {
		return ErrExchangeFailed
	})
}

// post performs one request. No automatic retries: callers re-trigger on
// explicit user action only.
func (c *Client) post(ctx context.Context, path string, payload any, mapFailure func(status int, body []byte) error) (*AuthResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.LogWarnWithFields("api", "Backend request failed", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		return nil, ErrBackendUnavailable
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, ErrBackendUnavailable
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp errorResponse
		_ = json.Unmarshal(respBody, &errResp)
		log.LogDebugWithFields("api", "Backend rejected request", map[string]any{
			"path":   path,
			"status": resp.StatusCode,
			"error":  errResp.Error,
		})
		if resp.StatusCode >= 500 {
			return nil, ErrBackendUnavailable
		}
		return nil, mapFailure(resp.StatusCode, respBody)
	}

	var auth AuthResponse
	if err := json.Unmarshal(respBody, &auth); err != nil {
		return nil, fmt.Errorf("%w: malformed response", ErrBackendUnavailable)
	}
	if auth.Token == "" || len(auth.User) == 0 {
		return nil, fmt.Errorf("%w: response missing token or user", ErrBackendUnavailable)
	}
	return &auth, nil
}
