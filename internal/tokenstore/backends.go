package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
)

// FileBackend stores the session as a JSON file readable only by the owner.
type FileBackend struct {
	path string
}

// Compile-time check that FileBackend implements Backend
var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates a backend writing to path. Parent directories are
// created on first save.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Load reads the session file. A missing file yields an empty session.
func (b *FileBackend) Load(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("reading %s: %w", b.path, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("decoding %s: %w", b.path, err)
	}
	return sess, nil
}

// Save replaces the session file atomically: the document is written to a
// temporary file in the same directory, synced, then renamed over the target.
func (b *FileBackend) Save(ctx context.Context, sess Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if sess.Empty() {
		if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", b.path, err)
		}
		return nil
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }() // no-op after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("replacing %s: %w", b.path, err)
	}
	return nil
}

// KeyringBackend stores the session JSON as a single OS keyring secret.
type KeyringBackend struct {
	service string
	user    string
}

// Compile-time check that KeyringBackend implements Backend
var _ Backend = (*KeyringBackend)(nil)

// NewKeyringBackend creates a backend addressing the secret service/user.
func NewKeyringBackend(service, user string) *KeyringBackend {
	return &KeyringBackend{service: service, user: user}
}

// Load reads the secret. A missing secret yields an empty session.
func (b *KeyringBackend) Load(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	secret, err := keyring.Get(b.service, b.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("reading keyring: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(secret), &sess); err != nil {
		return Session{}, fmt.Errorf("decoding keyring secret: %w", err)
	}
	return sess, nil
}

// Save writes the secret, or deletes it when sess is empty.
func (b *KeyringBackend) Save(ctx context.Context, sess Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if sess.Empty() {
		if err := keyring.Delete(b.service, b.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("deleting keyring secret: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := keyring.Set(b.service, b.user, string(data)); err != nil {
		return fmt.Errorf("writing keyring: %w", err)
	}
	return nil
}

// noExpiry is the expiry reported for integration tokens, which do not expire.
var noExpiry = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// EnvBackend exposes a Notion internal-integration token taken from the
// environment. It has no refresh token and cannot be written.
type EnvBackend struct {
	token string
}

// Compile-time check that EnvBackend implements Backend
var _ Backend = (*EnvBackend)(nil)

// NewEnvBackend creates a read-only backend for token.
func NewEnvBackend(token string) *EnvBackend {
	return &EnvBackend{token: token}
}

// Load returns the static credential, or an empty session if token is unset.
func (b *EnvBackend) Load(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if b.token == "" {
		return Session{}, nil
	}
	return Session{Credential: &Credential{AccessToken: b.token, ExpiresAt: noExpiry}}, nil
}

// Save always fails with ErrReadOnly.
func (b *EnvBackend) Save(context.Context, Session) error {
	return ErrReadOnly
}

// MemoryBackend keeps the session in memory. The zero value is ready to use.
type MemoryBackend struct {
	mu   sync.Mutex
	sess Session
}

// Compile-time check that MemoryBackend implements Backend
var _ Backend = (*MemoryBackend)(nil)

// Load returns a copy of the stored session.
func (b *MemoryBackend) Load(context.Context) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneSession(b.sess), nil
}

// Save stores a copy of sess.
func (b *MemoryBackend) Save(_ context.Context, sess Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sess = cloneSession(sess)
	return nil
}

func cloneSession(s Session) Session {
	var out Session
	if s.Credential != nil {
		c := *s.Credential
		out.Credential = &c
	}
	if s.Pending != nil {
		p := *s.Pending
		out.Pending = &p
	}
	return out
}
