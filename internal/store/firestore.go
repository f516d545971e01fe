package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/clientsphere/sessionkit/internal/crypto"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Ensure FirestoreBackend implements Backend
var _ Backend = (*FirestoreBackend)(nil)

// FirestoreBackend persists credentials in Google Cloud Firestore, for
// deployments where a session must survive the machine the CLI runs on
// (shared workers, ephemeral CI sandboxes). Values are encrypted before
// they leave the process; Firestore only ever sees ciphertext.
//
// It does not implement Notifier: remote change streaming is not part of
// the session contract, the synchronizer only reconciles local stores.
type FirestoreBackend struct {
	client     *firestore.Client
	collection string
	encryptor  crypto.Encryptor
}

// credentialDoc is the Firestore document layout for one stored key.
type credentialDoc struct {
	Value     string    `firestore:"value"` // encrypted JSON
	UpdatedAt time.Time `firestore:"updated_at"`
}

// FirestoreOptions configures NewFirestoreBackend.
type FirestoreOptions struct {
	ProjectID       string
	Database        string
	Collection      string
	CredentialsFile string
}

// NewFirestoreBackend creates a Firestore-backed credential store.
func NewFirestoreBackend(ctx context.Context, opts FirestoreOptions, encryptor crypto.Encryptor) (*FirestoreBackend, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if opts.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	var client *firestore.Client
	var err error
	if opts.Database != "" && opts.Database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, opts.ProjectID, opts.Database, clientOpts...)
	} else {
		client, err = firestore.NewClient(ctx, opts.ProjectID, clientOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreBackend{
		client:     client,
		collection: opts.Collection,
		encryptor:  encryptor,
	}, nil
}

// Get implements Backend
func (b *FirestoreBackend) Get(ctx context.Context, key string) ([]byte, error) {
	snap, err := b.client.Collection(b.collection).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("reading credential document: %w", err)
	}

	var doc credentialDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("unmarshaling credential document: %w", err)
	}

	plaintext, err := b.encryptor.Decrypt(doc.Value)
	if err != nil {
		return nil, fmt.Errorf("decrypting credential value: %w", err)
	}
	return plaintext, nil
}

// SetMulti implements Backend. A transaction keeps token and user updates
// atomic so a concurrent reader never sees one without the other.
func (b *FirestoreBackend) SetMulti(ctx context.Context, entries map[string][]byte) error {
	now := time.Now()

	docs := make(map[string]credentialDoc, len(entries))
	for key, value := range entries {
		encrypted, err := b.encryptor.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypting credential value: %w", err)
		}
		docs[key] = credentialDoc{Value: encrypted, UpdatedAt: now}
	}

	return b.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		for key, doc := range docs {
			if err := tx.Set(b.client.Collection(b.collection).Doc(key), doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteMulti implements Backend
func (b *FirestoreBackend) DeleteMulti(ctx context.Context, keys ...string) error {
	return b.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		for _, key := range keys {
			if err := tx.Delete(b.client.Collection(b.collection).Doc(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements Backend
func (b *FirestoreBackend) Close() error {
	return b.client.Close()
}
