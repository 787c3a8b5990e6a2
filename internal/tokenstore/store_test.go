package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func testCredential() *Credential {
	return &Credential{
		AccessToken:   "secret_access",
		RefreshToken:  "secret_refresh",
		ExpiresAt:     time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
		WorkspaceID:   "ws-1",
		WorkspaceName: "Acme",
		BotID:         "bot-1",
	}
}

func TestTokenStore_CredentialLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New(&MemoryBackend{})

	cred, err := store.Credential(ctx)
	require.NoError(t, err)
	assert.Nil(t, cred)

	require.NoError(t, store.SaveCredential(ctx, testCredential()))

	cred, err = store.Credential(ctx)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "Acme", cred.WorkspaceName)

	require.NoError(t, store.Clear(ctx))
	cred, err = store.Credential(ctx)
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestTokenStore_SaveCredentialRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store := New(&MemoryBackend{})

	err := store.SaveCredential(ctx, &Credential{ExpiresAt: time.Now()})
	assert.ErrorContains(t, err, "access token cannot be empty")

	err = store.SaveCredential(ctx, &Credential{AccessToken: "x"})
	assert.ErrorContains(t, err, "expiry cannot be zero")

	assert.Error(t, store.SaveCredential(ctx, nil))
}

func TestTokenStore_PendingIsSingleUse(t *testing.T) {
	ctx := context.Background()
	store := New(&MemoryBackend{})

	require.NoError(t, store.PutPending(ctx, "first"))
	require.NoError(t, store.PutPending(ctx, "second"))

	p, err := store.TakePending(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "second", p.CodeVerifier)

	p, err = store.TakePending(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestTokenStore_PendingSurvivesCredentialSave(t *testing.T) {
	ctx := context.Background()
	store := New(&MemoryBackend{})

	require.NoError(t, store.PutPending(ctx, "v"))
	require.NoError(t, store.SaveCredential(ctx, testCredential()))

	p, err := store.TakePending(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "v", p.CodeVerifier)
}

func TestCredential_ExpiresWithin(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresIn time.Duration
		want      bool
	}{
		{"inside margin", 30 * time.Second, true},
		{"exactly at margin", 60 * time.Second, true},
		{"outside margin", 120 * time.Second, false},
		{"already expired", -time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Credential{AccessToken: "a", ExpiresAt: now.Add(tt.expiresIn)}
			assert.Equal(t, tt.want, c.ExpiresWithin(now, time.Minute))
		})
	}
}

func TestFileBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "session.json")
	backend := NewFileBackend(path)

	sess, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.True(t, sess.Empty())

	want := Session{Credential: testCredential(), Pending: &PendingAuthorization{CodeVerifier: "v"}}
	require.NoError(t, backend.Save(ctx, want))

	got, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Credential.AccessToken, got.Credential.AccessToken)
	assert.True(t, want.Credential.ExpiresAt.Equal(got.Credential.ExpiresAt))
	assert.Equal(t, "v", got.Pending.CodeVerifier)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files left behind")
}

func TestFileBackend_SaveEmptyRemovesFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	backend := NewFileBackend(path)

	require.NoError(t, backend.Save(ctx, Session{Credential: testCredential()}))
	require.NoError(t, backend.Save(ctx, Session{}))

	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// Removing an absent file is not an error.
	require.NoError(t, backend.Save(ctx, Session{}))
}

func TestFileBackend_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileBackend(path).Load(context.Background())
	assert.ErrorContains(t, err, "decoding")
}

func TestKeyringBackend_RoundTrip(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	backend := NewKeyringBackend("notion-clipper-test", "session")

	sess, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.True(t, sess.Empty())

	require.NoError(t, backend.Save(ctx, Session{Credential: testCredential()}))

	got, err := backend.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got.Credential)
	assert.Equal(t, "secret_refresh", got.Credential.RefreshToken)

	require.NoError(t, backend.Save(ctx, Session{}))
	got, err = backend.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.Empty())

	// Deleting twice is tolerated.
	require.NoError(t, backend.Save(ctx, Session{}))
}

func TestEnvBackend(t *testing.T) {
	ctx := context.Background()

	sess, err := NewEnvBackend("").Load(ctx)
	require.NoError(t, err)
	assert.True(t, sess.Empty())

	backend := NewEnvBackend("secret_integration")
	sess, err = backend.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess.Credential)
	assert.Equal(t, "secret_integration", sess.Credential.AccessToken)
	assert.Empty(t, sess.Credential.RefreshToken)
	assert.False(t, sess.Credential.ExpiresWithin(time.Now(), time.Minute))

	assert.ErrorIs(t, backend.Save(ctx, Session{}), ErrReadOnly)

	store := New(backend)
	assert.ErrorIs(t, store.Clear(ctx), ErrReadOnly)
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	backend := &MemoryBackend{}
	require.NoError(t, backend.Save(ctx, Session{Credential: testCredential()}))

	sess, err := backend.Load(ctx)
	require.NoError(t, err)
	sess.Credential.AccessToken = "mutated"

	again, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "secret_access", again.Credential.AccessToken)
}
