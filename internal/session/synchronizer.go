package session

import (
	"context"

	"github.com/clientsphere/sessionkit/internal/log"
	"github.com/clientsphere/sessionkit/internal/store"
)

// Synchronizer reconciles the in-memory session with credential-store
// mutations made by other processes sharing the same store, without any
// network round trip. It only ever reads: the store is written exclusively
// by the session service, so applying a synced state can never re-fire the
// change that produced it.
type Synchronizer struct {
	service   *Service
	credStore *store.CredentialStore
}

// NewSynchronizer creates a synchronizer over the same store the service
// uses.
func NewSynchronizer(service *Service, credStore *store.CredentialStore) *Synchronizer {
	return &Synchronizer{service: service, credStore: credStore}
}

// Start begins watching for external store changes until ctx is done.
// Returns false when the backend cannot emit change notifications (memoryless
// remote backends); the session still works, it just won't converge with
// other processes until the next restore.
func (s *Synchronizer) Start(ctx context.Context) bool {
	ch := s.credStore.Watch(ctx)
	if ch == nil {
		log.LogDebugWithFields("sync", "Store backend has no change notifications, synchronizer disabled", nil)
		return false
	}

	go s.run(ctx, ch)
	return true
}

func (s *Synchronizer) run(ctx context.Context, ch <-chan struct{}) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
			// Re-read the whole store rather than trusting the event:
			// signals are collapsed and carry no payload.
			creds := s.credStore.Read(ctx)
			s.service.applyExternal(creds)
		case <-ctx.Done():
			return
		}
	}
}
