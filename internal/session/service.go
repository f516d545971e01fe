// Package session owns the authenticated-session state machine: restore on
// boot, password and Google sign-in, logout, and state-change notifications.
// It is the only component that writes the credential store and the only
// one that interprets raw backend user payloads.
package session

import (
	"context"
	"sync"

	"github.com/clientsphere/sessionkit/internal/api"
	"github.com/clientsphere/sessionkit/internal/identity"
	"github.com/clientsphere/sessionkit/internal/idp"
	"github.com/clientsphere/sessionkit/internal/log"
	"github.com/clientsphere/sessionkit/internal/store"
)

// Listener receives the current user (nil when logged out) after every
// state change. Listeners run synchronously on the mutating goroutine:
// when a login or logout call returns, every listener has already seen
// the new state.
type Listener func(user *identity.User)

// Service is the session state machine. Construct one per process and
// share it by reference; it owns the in-memory current user.
type Service struct {
	credStore *store.CredentialStore
	provider  idp.Provider
	backend   *api.Client

	// notifyMu is held across a state flip and its listener fan-out so
	// notifications are delivered in the order the states they describe
	// were installed. s.mu is released before delivery, so listeners may
	// read the service without deadlocking.
	notifyMu sync.Mutex

	mu      sync.Mutex
	user    *identity.User
	token   string
	ready   bool
	readyCh chan struct{}

	subMu   sync.Mutex
	subs    map[int]Listener
	nextSub int
}

// NewService wires the session service to its collaborators.
func NewService(credStore *store.CredentialStore, provider idp.Provider, backend *api.Client) *Service {
	return &Service{
		credStore: credStore,
		provider:  provider,
		backend:   backend,
		readyCh:   make(chan struct{}),
		subs:      make(map[int]Listener),
	}
}

// Restore re-establishes the session from persisted credentials without a
// network round trip. It always completes: a missing or corrupted store
// resolves to "logged out", never an error. Repeated calls with unchanged
// storage are no-ops and produce no duplicate notifications.
//
// Restore must finish before the route guard makes its first decision;
// Ready flips only here.
func (s *Service) Restore(ctx context.Context) *identity.User {
	creds := s.credStore.Read(ctx)

	s.notifyMu.Lock()
	s.mu.Lock()
	changed := s.applyLocked(creds)
	if !s.ready {
		s.ready = true
		close(s.readyCh)
	}
	user := s.user
	s.mu.Unlock()

	if changed {
		s.notify(user)
	}
	s.notifyMu.Unlock()
	if user != nil {
		log.LogInfoWithFields("session", "Session restored", map[string]any{
			"email": user.Email,
			"role":  string(user.Role),
		})
	}
	return user
}

// LoginWithPassword verifies credentials with the backend and adopts the
// returned session. On failure the current session state is untouched.
func (s *Service) LoginWithPassword(ctx context.Context, email, password string) (*identity.User, error) {
	resp, err := s.backend.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.adopt(ctx, resp)
}

// SignupWithPassword registers a new account and adopts the returned
// session. A conflict surfaces as api.ErrEmailExists.
func (s *Service) SignupWithPassword(ctx context.Context, name, email, password string) (*identity.User, error) {
	resp, err := s.backend.SignUp(ctx, name, email, password)
	if err != nil {
		return nil, err
	}
	return s.adopt(ctx, resp)
}

// LoginWithGoogle obtains a provider credential and exchanges it with the
// backend. Provider error kinds (dismissed, timeout, malformed, provider
// unavailable) propagate unchanged. When the backend rejects the
// credential, the provider-side session is torn down before the error is
// returned so the two can't drift apart.
func (s *Service) LoginWithGoogle(ctx context.Context) (*identity.User, error) {
	cred, err := s.provider.SignIn(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.backend.ExchangeGoogle(ctx, cred.Raw)
	if err != nil {
		s.provider.SignOut(ctx)
		return nil, err
	}
	return s.adopt(ctx, resp)
}

// Logout tears the session down. Provider sign-out is best effort; the
// local clear and notification happen unconditionally.
func (s *Service) Logout(ctx context.Context) {
	s.provider.SignOut(ctx)

	if err := s.credStore.Clear(ctx); err != nil {
		log.LogWarnWithFields("session", "Failed to clear persisted credentials", map[string]any{
			"error": err.Error(),
		})
	}

	s.notifyMu.Lock()
	s.mu.Lock()
	changed := s.applyLocked(nil)
	s.mu.Unlock()

	if changed {
		s.notify(nil)
	}
	s.notifyMu.Unlock()
	log.LogInfoWithFields("session", "Logged out", nil)
}

// CurrentUser returns the in-memory user, nil when logged out.
func (s *Service) CurrentUser() *identity.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Token returns the current bearer token, empty when logged out.
func (s *Service) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Ready reports whether the boot-time restore has completed.
func (s *Service) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// WaitReady blocks until Restore has completed or ctx is done.
func (s *Service) WaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a state-change listener and returns its unsubscribe
// function.
func (s *Service) Subscribe(fn Listener) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// adopt normalizes and installs a backend auth response: persist first,
// then flip in-memory state, then notify. A persistence failure is logged
// and the session continues in memory, matching the store's
// swallow-and-degrade failure semantics.
func (s *Service) adopt(ctx context.Context, resp *api.AuthResponse) (*identity.User, error) {
	user, err := NormalizeUser(resp.User)
	if err != nil {
		log.LogErrorWithFields("session", "Backend returned unusable user payload", map[string]any{
			"error": err.Error(),
		})
		return nil, api.ErrBackendUnavailable
	}

	if err := s.credStore.Write(ctx, resp.Token, user); err != nil {
		log.LogWarnWithFields("session", "Failed to persist credentials, session is memory-only", map[string]any{
			"error": err.Error(),
		})
	}

	s.notifyMu.Lock()
	s.mu.Lock()
	s.user = &user
	s.token = resp.Token
	current := s.user
	s.mu.Unlock()

	s.notify(current)
	s.notifyMu.Unlock()

	log.LogInfoWithFields("session", "Signed in", map[string]any{
		"email": user.Email,
		"role":  string(user.Role),
	})
	return current, nil
}

// applyLocked installs credentials (nil == logged out) and reports whether
// state actually changed. Caller holds s.mu.
func (s *Service) applyLocked(creds *store.Credentials) bool {
	var user *identity.User
	var token string
	if creds != nil {
		u := creds.User
		user = &u
		token = creds.Token
	}

	if s.token == token && s.user.Equal(user) {
		return false
	}
	s.user = user
	s.token = token
	return true
}

// applyExternal reconciles state written by another process. It never
// writes the store, so a synchronizer signal can't re-trigger itself.
// Reconciling to an identical state is a no-op with no notification, which
// also absorbs signals caused by this process's own writes.
func (s *Service) applyExternal(creds *store.Credentials) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	changed := s.applyLocked(creds)
	user := s.user
	s.mu.Unlock()

	if !changed {
		return
	}

	if user != nil {
		log.LogInfoWithFields("session", "Session updated from another process", map[string]any{
			"email": user.Email,
		})
	} else {
		log.LogInfoWithFields("session", "Session cleared by another process", nil)
	}
	s.notify(user)
}

func (s *Service) notify(user *identity.User) {
	s.subMu.Lock()
	listeners := make([]Listener, 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.subMu.Unlock()

	for _, fn := range listeners {
		fn(user)
	}
}
