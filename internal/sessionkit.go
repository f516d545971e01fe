package internal

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/clientsphere/sessionkit/internal/api"
	"github.com/clientsphere/sessionkit/internal/config"
	"github.com/clientsphere/sessionkit/internal/crypto"
	"github.com/clientsphere/sessionkit/internal/idp"
	"github.com/clientsphere/sessionkit/internal/log"
	"github.com/clientsphere/sessionkit/internal/session"
	"github.com/clientsphere/sessionkit/internal/store"
)

// SessionKit is the assembled session and identity manager: credential
// store, identity provider bridge, session service, and cross-process
// synchronizer, built once per process from config.
type SessionKit struct {
	config  config.Config
	backend store.Backend
	Store   *store.CredentialStore
	Service *session.Service

	syncCancel context.CancelFunc
}

// NewSessionKit builds the application with all dependencies wired.
func NewSessionKit(ctx context.Context, cfg config.Config) (*SessionKit, error) {
	log.LogInfoWithFields("sessionkit", "Building session manager", map[string]any{
		"backend": cfg.Backend.BaseURL,
		"storage": string(cfg.Storage.Kind),
	})

	backend, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	credStore := store.NewCredentialStore(backend)
	provider := idp.NewGoogleProvider(cfg.Google)
	apiClient := api.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	service := session.NewService(credStore, provider, apiClient)

	return &SessionKit{
		config:  cfg,
		backend: backend,
		Store:   credStore,
		Service: service,
	}, nil
}

// Start restores the persisted session and begins cross-process
// synchronization. Restore completes before Start returns, so guard
// decisions made afterwards are final.
func (k *SessionKit) Start(ctx context.Context) {
	k.Service.Restore(ctx)

	syncCtx, cancel := context.WithCancel(context.Background())
	k.syncCancel = cancel
	session.NewSynchronizer(k.Service, k.Store).Start(syncCtx)
}

// Close releases the storage backend and stops the synchronizer.
func (k *SessionKit) Close() error {
	if k.syncCancel != nil {
		k.syncCancel()
	}
	return k.backend.Close()
}

func setupStorage(ctx context.Context, cfg config.Config) (store.Backend, error) {
	switch cfg.Storage.Kind {
	case config.StorageMemory:
		return store.NewMemoryBackend(), nil

	case config.StorageFile:
		return store.NewFileBackend(cfg.Storage.Path)

	case config.StorageFirestore:
		key, err := decodeEncryptionKey(string(cfg.Storage.EncryptionKey))
		if err != nil {
			return nil, err
		}
		encryptor, err := crypto.NewSecretboxEncryptor(key)
		if err != nil {
			return nil, err
		}
		return store.NewFirestoreBackend(ctx, store.FirestoreOptions{
			ProjectID:       cfg.Storage.GCPProject,
			Database:        cfg.Storage.FirestoreDatabase,
			Collection:      cfg.Storage.FirestoreCollection,
			CredentialsFile: cfg.Storage.CredentialsFile,
		}, encryptor)

	default:
		return nil, fmt.Errorf("unknown storage kind: %s", cfg.Storage.Kind)
	}
}

// decodeEncryptionKey accepts a 32-byte raw key or its base64 encoding.
func decodeEncryptionKey(key string) ([]byte, error) {
	if len(key) == crypto.KeySize {
		return []byte(key), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err == nil && len(decoded) == crypto.KeySize {
		return decoded, nil
	}
	return nil, fmt.Errorf("encryption key must be %d raw bytes or their base64 encoding", crypto.KeySize)
}
