package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrReadOnly is returned by backends that cannot be written to.
var ErrReadOnly = errors.New("token storage is read-only")

// Backend loads and saves a Session atomically. Load returns an empty
// Session when nothing is stored; saving an empty Session removes it.
type Backend interface {
	Load(ctx context.Context) (Session, error)
	Save(ctx context.Context, s Session) error
}

// TokenStore is the single owner of the persisted session.
// All methods are safe for concurrent use within one process.
type TokenStore struct {
	mu      sync.Mutex
	backend Backend
}

// New creates a TokenStore on top of backend.
func New(backend Backend) *TokenStore {
	return &TokenStore{backend: backend}
}

// Credential returns the stored credential, or nil when signed out.
func (s *TokenStore) Credential(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return sess.Credential, nil
}

// SaveCredential replaces the stored credential after validating it.
// An outstanding pending authorization is kept.
func (s *TokenStore) SaveCredential(ctx context.Context, cred *Credential) error {
	if cred == nil {
		return errors.New("credential cannot be nil")
	}
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("invalid credential: %w", err)
	}

	return s.update(ctx, func(sess *Session) {
		c := *cred
		sess.Credential = &c
	})
}

// PutPending records a new pending authorization, overwriting any existing one.
func (s *TokenStore) PutPending(ctx context.Context, verifier string) error {
	if verifier == "" {
		return errors.New("verifier cannot be empty")
	}

	return s.update(ctx, func(sess *Session) {
		sess.Pending = &PendingAuthorization{CodeVerifier: verifier}
	})
}

// TakePending returns and deletes the pending authorization.
// It returns nil if none is outstanding.
func (s *TokenStore) TakePending(ctx context.Context) (*PendingAuthorization, error) {
	var pending *PendingAuthorization
	err := s.update(ctx, func(sess *Session) {
		pending = sess.Pending
		sess.Pending = nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// DropPending deletes the pending authorization without returning it.
func (s *TokenStore) DropPending(ctx context.Context) error {
	_, err := s.TakePending(ctx)
	return err
}

// Clear removes the credential and any pending authorization.
func (s *TokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Save(ctx, Session{}); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

func (s *TokenStore) update(ctx context.Context, fn func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	fn(&sess)

	if err := s.backend.Save(ctx, sess); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}
