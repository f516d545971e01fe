package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clientsphere/sessionkit/internal/api"
	"github.com/clientsphere/sessionkit/internal/identity"
	"github.com/clientsphere/sessionkit/internal/idp"
	"github.com/clientsphere/sessionkit/internal/store"
)

// fakeProvider is a scripted idp.Provider.
type fakeProvider struct {
	mu           sync.Mutex
	cred         *identity.Credential
	signInErr    error
	signOutCalls int
}

func (f *fakeProvider) Initialize(context.Context) error { return nil }

func (f *fakeProvider) SignIn(context.Context) (*identity.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.cred, nil
}

func (f *fakeProvider) SignOut(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
}

func (f *fakeProvider) signOuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOutCalls
}

// recorder counts notifications and remembers the last one.
type recorder struct {
	mu    sync.Mutex
	calls int
	last  *identity.User
}

func (r *recorder) listen(user *identity.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.last = user
}

func (r *recorder) snapshot() (int, *identity.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, r.last
}

func authBackend(t *testing.T, status int, body string) *api.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return api.NewClient(server.URL, time.Second)
}

func sessionFixture(t *testing.T, backend *api.Client) (*Service, *fakeProvider, *store.CredentialStore, *store.MemoryBackend) {
	t.Helper()
	mem := store.NewMemoryBackend()
	cs := store.NewCredentialStore(mem)
	provider := &fakeProvider{}
	svc := NewService(cs, provider, backend)
	return svc, provider, cs, mem
}

func TestRestoreEmptyStore(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := sessionFixture(t, nil)

	rec := &recorder{}
	svc.Subscribe(rec.listen)

	assert.False(t, svc.Ready())
	user := svc.Restore(ctx)

	assert.Nil(t, user)
	assert.True(t, svc.Ready())
	require.NoError(t, svc.WaitReady(ctx))

	calls, _ := rec.snapshot()
	assert.Zero(t, calls, "restoring to the same logged-out state must not notify")
}

func TestRestorePersistedSession(t *testing.T) {
	ctx := context.Background()
	svc, _, cs, _ := sessionFixture(t, nil)

	persisted := identity.User{ID: "7", Name: "Ada", Email: "ada@example.com", Role: identity.RoleAdmin}
	require.NoError(t, cs.Write(ctx, "tok-1", persisted))

	rec := &recorder{}
	svc.Subscribe(rec.listen)

	user := svc.Restore(ctx)
	require.NotNil(t, user)
	assert.True(t, persisted.Equal(user))
	assert.Equal(t, "tok-1", svc.Token())

	calls, last := rec.snapshot()
	assert.Equal(t, 1, calls)
	assert.True(t, persisted.Equal(last))

	// Idempotent: unchanged storage means no new notification.
	again := svc.Restore(ctx)
	assert.True(t, user.Equal(again))
	calls, _ = rec.snapshot()
	assert.Equal(t, 1, calls)
}

func TestRestoreCorruptedStore(t *testing.T) {
	ctx := context.Background()
	svc, _, _, mem := sessionFixture(t, nil)

	require.NoError(t, mem.SetMulti(ctx, map[string][]byte{
		store.TokenKey: []byte(`{broken`),
		store.UserKey:  []byte(`{"id":"7"}`),
	}))

	assert.Nil(t, svc.Restore(ctx), "corrupted storage restores as logged out")
	assert.True(t, svc.Ready())
}

func TestLoginWithPassword(t *testing.T) {
	ctx := context.Background()
	backend := authBackend(t, http.StatusOK,
		`{"token":"tok-1","user":{"id":1,"name":"A","email":"a@b.com","created_at":"2024-01-01"}}`)
	svc, _, cs, _ := sessionFixture(t, backend)
	svc.Restore(ctx)

	rec := &recorder{}
	svc.Subscribe(rec.listen)

	user, err := svc.LoginWithPassword(ctx, "a@b.com", "pw")
	require.NoError(t, err)

	assert.Equal(t, "1", user.ID)
	assert.Equal(t, "A", user.Name)
	assert.Equal(t, identity.RoleTenant, user.Role)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), user.CreatedAt)
	assert.Equal(t, "tok-1", svc.Token())

	// Listeners saw the new state before the call returned.
	calls, last := rec.snapshot()
	assert.Equal(t, 1, calls)
	assert.True(t, user.Equal(last))

	// Credentials were persisted atomically alongside the state flip.
	creds := cs.Read(ctx)
	require.NotNil(t, creds)
	assert.Equal(t, "tok-1", creds.Token)
	assert.True(t, user.Equal(&creds.User))
}

func TestLoginFailureLeavesSessionUntouched(t *testing.T) {
	ctx := context.Background()
	backend := authBackend(t, http.StatusUnauthorized, `{"error":"bad credentials"}`)
	svc, _, cs, _ := sessionFixture(t, backend)

	existing := identity.User{ID: "7", Name: "Ada", Email: "ada@example.com", Role: identity.RoleTenant}
	require.NoError(t, cs.Write(ctx, "tok-old", existing))
	svc.Restore(ctx)

	rec := &recorder{}
	svc.Subscribe(rec.listen)

	_, err := svc.LoginWithPassword(ctx, "ada@example.com", "wrong")
	assert.ErrorIs(t, err, api.ErrInvalidCredentials)

	assert.True(t, existing.Equal(svc.CurrentUser()))
	assert.Equal(t, "tok-old", svc.Token())
	calls, _ := rec.snapshot()
	assert.Zero(t, calls)
}

func TestSignupConflict(t *testing.T) {
	ctx := context.Background()
	backend := authBackend(t, http.StatusConflict, `{"error":"email already exists"}`)
	svc, _, _, _ := sessionFixture(t, backend)
	svc.Restore(ctx)

	_, err := svc.SignupWithPassword(ctx, "Ada", "ada@example.com", "pw")
	assert.ErrorIs(t, err, api.ErrEmailExists)
	assert.Nil(t, svc.CurrentUser())
}

func TestLoginWithGoogle(t *testing.T) {
	ctx := context.Background()
	backend := authBackend(t, http.StatusOK,
		`{"token":"tok-g","user":{"id":"g-1","name":"G","email":"g@b.com","role":"admin"}}`)
	svc, provider, _, _ := sessionFixture(t, backend)
	provider.cred = &identity.Credential{ProviderID: "g-1", Email: "g@b.com", Raw: "raw-id-token"}
	svc.Restore(ctx)

	user, err := svc.LoginWithGoogle(ctx)
	require.NoError(t, err)

	assert.Equal(t, "g-1", user.ID)
	assert.Equal(t, identity.RoleAdmin, user.Role)
	assert.Equal(t, "tok-g", svc.Token())
}

func TestLoginWithGoogleExchangeFailureTearsDownProvider(t *testing.T) {
	ctx := context.Background()
	backend := authBackend(t, http.StatusBadRequest, `{"error":"invalid credential"}`)
	svc, provider, _, _ := sessionFixture(t, backend)
	provider.cred = &identity.Credential{ProviderID: "g-1", Email: "g@b.com", Raw: "raw-id-token"}
	svc.Restore(ctx)

	_, err := svc.LoginWithGoogle(ctx)
	assert.ErrorIs(t, err, api.ErrExchangeFailed)

	// The provider-side session must not outlive the failed exchange.
	assert.Equal(t, 1, provider.signOuts())
	assert.Nil(t, svc.CurrentUser())
}

func TestLoginWithGoogleProviderErrorPropagates(t *testing.T) {
	ctx := context.Background()
	svc, provider, _, _ := sessionFixture(t, nil)
	provider.signInErr = idp.ErrDismissed
	svc.Restore(ctx)

	_, err := svc.LoginWithGoogle(ctx)
	assert.ErrorIs(t, err, idp.ErrDismissed)
	assert.Zero(t, provider.signOuts())
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	backend := authBackend(t, http.StatusOK,
		`{"token":"tok-1","user":{"id":"1","name":"A","email":"a@b.com"}}`)
	svc, provider, cs, mem := sessionFixture(t, backend)
	svc.Restore(ctx)

	_, err := svc.LoginWithPassword(ctx, "a@b.com", "pw")
	require.NoError(t, err)

	rec := &recorder{}
	svc.Subscribe(rec.listen)

	svc.Logout(ctx)

	assert.Nil(t, svc.CurrentUser())
	assert.Empty(t, svc.Token())
	assert.Equal(t, 1, provider.signOuts())

	calls, last := rec.snapshot()
	assert.Equal(t, 1, calls)
	assert.Nil(t, last)

	// Both entries are gone, not just one.
	snapshot := mem.Snapshot()
	assert.NotContains(t, snapshot, store.TokenKey)
	assert.NotContains(t, snapshot, store.UserKey)
	assert.Nil(t, cs.Read(ctx))

	// Logging out twice is a no-op with no duplicate notification.
	svc.Logout(ctx)
	calls, _ = rec.snapshot()
	assert.Equal(t, 1, calls)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	ctx := context.Background()
	backend := authBackend(t, http.StatusOK,
		`{"token":"tok-1","user":{"id":"1","name":"A","email":"a@b.com"}}`)
	svc, _, _, _ := sessionFixture(t, backend)
	svc.Restore(ctx)

	rec := &recorder{}
	unsubscribe := svc.Subscribe(rec.listen)
	unsubscribe()

	_, err := svc.LoginWithPassword(ctx, "a@b.com", "pw")
	require.NoError(t, err)

	calls, _ := rec.snapshot()
	assert.Zero(t, calls)
}

func TestWaitReadyBlocksUntilRestore(t *testing.T) {
	svc, _, _, _ := sessionFixture(t, nil)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, svc.WaitReady(short), "WaitReady must block before restore")

	svc.Restore(context.Background())
	assert.NoError(t, svc.WaitReady(context.Background()))
}

func TestSynchronizerConvergence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two services over the same backend, like two tabs over one origin.
	mem := store.NewMemoryBackend()
	writerStore := store.NewCredentialStore(mem)
	readerStore := store.NewCredentialStore(mem)

	reader := NewService(readerStore, &fakeProvider{}, nil)
	reader.Restore(ctx)
	require.True(t, NewSynchronizer(reader, readerStore).Start(ctx))

	user := identity.User{ID: "7", Name: "Ada", Email: "ada@example.com", Role: identity.RoleTenant}
	require.NoError(t, writerStore.Write(ctx, "tok-1", user))

	require.Eventually(t, func() bool {
		return user.Equal(reader.CurrentUser())
	}, 2*time.Second, 10*time.Millisecond, "reader should adopt the externally written session")
	assert.Equal(t, "tok-1", reader.Token())

	// An external clear converges to logged out.
	require.NoError(t, writerStore.Clear(ctx))
	require.Eventually(t, func() bool {
		return reader.CurrentUser() == nil
	}, 2*time.Second, 10*time.Millisecond, "reader should observe the external logout")
	assert.Empty(t, reader.Token())
}

func TestSynchronizerIgnoresOwnWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := authBackend(t, http.StatusOK,
		`{"token":"tok-1","user":{"id":"1","name":"A","email":"a@b.com"}}`)
	svc, _, cs, _ := sessionFixture(t, backend)
	svc.Restore(ctx)
	require.True(t, NewSynchronizer(svc, cs).Start(ctx))

	rec := &recorder{}
	svc.Subscribe(rec.listen)

	user, err := svc.LoginWithPassword(ctx, "a@b.com", "pw")
	require.NoError(t, err)

	// The login's own store write raises a watch signal; reconciling to an
	// identical state must not produce a second notification.
	time.Sleep(200 * time.Millisecond)
	calls, last := rec.snapshot()
	assert.Equal(t, 1, calls)
	assert.True(t, user.Equal(last))
}

func TestListenersSeeStatesInOrder(t *testing.T) {
	// A local mutation and an external reconciliation racing each other must
	// deliver their notifications in the order the states were installed:
	// after both settle, the last notification describes the current state.
	ctx := context.Background()
	backend := authBackend(t, http.StatusOK,
		`{"token":"tok-1","user":{"id":"1","name":"A","email":"a@b.com"}}`)
	svc, _, _, _ := sessionFixture(t, backend)
	svc.Restore(ctx)

	rec := &recorder{}
	svc.Subscribe(rec.listen)

	external := identity.User{ID: "2", Name: "B", Email: "b@c.com", Role: identity.RoleTenant}

	for i := 0; i < 200; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.LoginWithPassword(ctx, "a@b.com", "pw")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			svc.applyExternal(&store.Credentials{Token: "tok-2", User: external})
		}()
		wg.Wait()

		_, last := rec.snapshot()
		current := svc.CurrentUser()
		require.True(t, current.Equal(last),
			"last notification (%+v) does not match current state (%+v)", last, current)
	}
}

func TestSynchronizerDisabledWithoutNotifier(t *testing.T) {
	ctx := context.Background()
	cs := store.NewCredentialStore(struct{ store.Backend }{store.NewMemoryBackend()})
	svc := NewService(cs, &fakeProvider{}, nil)
	assert.False(t, NewSynchronizer(svc, cs).Start(ctx))
}
