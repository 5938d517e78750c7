// Package memory is an in-process [docauth.CredentialStore] for tests and
// single-node development. Data does not survive a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/docauth"
	"github.com/oklog/ulid/v2"
)

// Store keeps credentials in a map keyed by identity, with a secondary index
// on mobile numbers so either can be used to look a credential up.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*docauth.Credential
	byMobile map[string]string
	now      func() time.Time
}

var _ docauth.CredentialStore = (*Store)(nil)

// New returns an empty store using the wall clock.
func New() *Store {
	return &Store{
		byID:     make(map[string]*docauth.Credential),
		byMobile: make(map[string]string),
		now:      time.Now,
	}
}

// WithClock sets the time source for UpdatedAt.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) lookupLocked(identity string) (*docauth.Credential, bool) {
	if cred, ok := s.byID[identity]; ok {
		return cred, true
	}
	if primary, ok := s.byMobile[identity]; ok {
		cred, ok := s.byID[primary]
		return cred, ok
	}
	return nil, false
}

// FindByIdentity looks up identity as a primary identity first and then as a
// mobile number.
func (s *Store) FindByIdentity(_ context.Context, identity string) (docauth.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.lookupLocked(identity)
	if !ok {
		return docauth.Credential{}, docauth.ErrNotFound
	}
	return *cred, nil
}

func (s *Store) Create(_ context.Context, cred docauth.Credential) (docauth.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookupLocked(cred.Identity); ok {
		return docauth.Credential{}, docauth.ErrConflict
	}
	if cred.Mobile != "" {
		if _, ok := s.lookupLocked(cred.Mobile); ok {
			return docauth.Credential{}, docauth.ErrConflict
		}
	}

	if cred.ID == "" {
		cred.ID = ulid.Make().String()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = s.now().UTC()
	}
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = cred.CreatedAt
	}

	stored := cred
	s.byID[cred.Identity] = &stored
	if cred.Mobile != "" {
		s.byMobile[cred.Mobile] = cred.Identity
	}
	return cred, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, identity, hash string) error {
	return s.mutate(identity, func(c *docauth.Credential) {
		c.PasswordHash = hash
	})
}

// IncrementSessionVersion bumps the version under the store lock and
// returns the new value.
func (s *Store) IncrementSessionVersion(_ context.Context, identity string) (uint64, error) {
	var version uint64
	err := s.mutate(identity, func(c *docauth.Credential) {
		c.SessionVersion++
		version = c.SessionVersion
	})
	return version, err
}

func (s *Store) SetActive(_ context.Context, identity string, active bool) error {
	return s.mutate(identity, func(c *docauth.Credential) {
		c.Active = active
	})
}

func (s *Store) Delete(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.lookupLocked(identity)
	if !ok {
		return docauth.ErrNotFound
	}
	delete(s.byID, cred.Identity)
	if cred.Mobile != "" {
		delete(s.byMobile, cred.Mobile)
	}
	return nil
}

// Len returns the number of stored credentials.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) mutate(identity string, fn func(*docauth.Credential)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.lookupLocked(identity)
	if !ok {
		return docauth.ErrNotFound
	}
	fn(cred)
	cred.UpdatedAt = s.now().UTC()
	return nil
}
