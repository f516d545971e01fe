// Package idp bridges third-party identity providers into a single
// normalized sign-in operation. The concrete mechanism (loopback redirect,
// native SDK, test fake) stays behind the Provider interface so the session
// service never depends on how a credential was obtained.
package idp

import (
	"context"
	"errors"

	"github.com/clientsphere/sessionkit/internal/identity"
)

// Provider failure taxonomy. The session service propagates these
// unchanged; UI layers render them as dismissible sign-in errors.
var (
	// ErrProviderUnavailable means the provider could not be initialized:
	// missing/placeholder client id, or its configuration endpoints are
	// unreachable.
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	// ErrDismissed means the user declined or abandoned the prompt.
	ErrDismissed = errors.New("sign-in dismissed")

	// ErrTimeout means neither completion nor dismissal happened within
	// the sign-in deadline.
	ErrTimeout = errors.New("sign-in timed out")

	// ErrMalformedCredential means the provider called back but its token
	// could not be decoded or lacks required claims.
	ErrMalformedCredential = errors.New("malformed identity credential")
)

// Provider abstracts identity provider operations.
type Provider interface {
	// Initialize prepares the provider for sign-in. Idempotent; concurrent
	// callers coalesce onto one initialization. Must fail before any prompt
	// is shown when the provider is misconfigured.
	Initialize(ctx context.Context) error

	// SignIn runs the provider's interactive flow and resolves with a
	// normalized credential. At most one flow is in flight per process;
	// concurrent callers share the same outcome.
	SignIn(ctx context.Context) (*identity.Credential, error)

	// SignOut tears down provider-side session state. Best effort: it
	// logs failures and never propagates them.
	SignOut(ctx context.Context)
}
