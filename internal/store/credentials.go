package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/clientsphere/sessionkit/internal/identity"
	"github.com/clientsphere/sessionkit/internal/log"
)

// Credentials pairs the bearer token with the user it authenticates.
// The two are always written and cleared together.
type Credentials struct {
	Token string
	User  identity.User
}

// CredentialStore reads and writes session credentials through a Backend.
type CredentialStore struct {
	backend Backend
}

// NewCredentialStore wraps a backend.
func NewCredentialStore(backend Backend) *CredentialStore {
	return &CredentialStore{backend: backend}
}

// Read returns the persisted credentials, or nil when there are none.
// Missing keys, unreadable storage, and corrupted JSON all resolve to nil:
// a session that cannot be parsed is treated as no session, never as an
// error the caller has to handle.
func (s *CredentialStore) Read(ctx context.Context) *Credentials {
	rawToken, err := s.backend.Get(ctx, TokenKey)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			log.LogWarnWithFields("store", "Failed to read token, treating as logged out", map[string]any{
				"error": err.Error(),
			})
		}
		return nil
	}

	var token string
	if err := json.Unmarshal(rawToken, &token); err != nil || token == "" {
		log.LogWarnWithFields("store", "Corrupted token entry, treating as logged out", nil)
		return nil
	}

	rawUser, err := s.backend.Get(ctx, UserKey)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			log.LogWarnWithFields("store", "Failed to read user, treating as logged out", map[string]any{
				"error": err.Error(),
			})
		}
		return nil
	}

	var user identity.User
	if err := json.Unmarshal(rawUser, &user); err != nil {
		log.LogWarnWithFields("store", "Corrupted user entry, treating as logged out", map[string]any{
			"error": err.Error(),
		})
		return nil
	}

	return &Credentials{Token: token, User: user}
}

// Write persists token and user in one backend mutation.
func (s *CredentialStore) Write(ctx context.Context, token string, user identity.User) error {
	rawToken, err := json.Marshal(token)
	if err != nil {
		return err
	}
	rawUser, err := json.Marshal(user)
	if err != nil {
		return err
	}

	return s.backend.SetMulti(ctx, map[string][]byte{
		TokenKey: rawToken,
		UserKey:  rawUser,
	})
}

// Clear removes both entries in one backend mutation.
func (s *CredentialStore) Clear(ctx context.Context) error {
	return s.backend.DeleteMulti(ctx, TokenKey, UserKey)
}

// Watch returns a change-notification channel when the backend supports
// external-mutation notifications, nil otherwise.
func (s *CredentialStore) Watch(ctx context.Context) <-chan struct{} {
	if n, ok := s.backend.(Notifier); ok {
		return n.Watch(ctx)
	}
	return nil
}
