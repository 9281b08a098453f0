package sessions

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Metadata is client information captured at sign-in for the active
// sessions list.
type Metadata struct {
	IPAddress string
	UserAgent string
}

// Store implements the session lifecycle over the shared database. Reads
// are not pure: fetching an expired session deletes it (lazy expiration),
// which is what frees rows without depending on the periodic sweep.
type Store struct {
	repo *Repository
}

func NewStore(repo *Repository) *Store {
	return &Store{repo: repo}
}

func (s *Store) Create(userID string, currentOrgID *string, meta Metadata) (*Session, error) {
	id, err := NewSessionID()
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	session := &Session{
		ID:             id,
		UserID:         userID,
		CurrentOrgID:   currentOrgID,
		IPAddress:      meta.IPAddress,
		Device:         deviceLabel(meta.UserAgent),
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      time.Now().Add(TTL).Unix(),
	}

	if err := s.repo.Create(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Store) Get(id string) (*Session, error) {
	session, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNotFound
	}
	if session.Expired(time.Now().Unix()) {
		s.repo.Delete(id)
		return nil, ErrNotFound
	}
	return session, nil
}

func (s *Store) GetWithIdentity(id string) (*Session, *Identity, error) {
	session, identity, err := s.repo.GetWithIdentity(id)
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, ErrNotFound
	}
	if session.Expired(time.Now().Unix()) {
		s.repo.Delete(id)
		return nil, nil, ErrNotFound
	}
	return session, identity, nil
}

// Refresh bumps the sliding activity marker. The absolute expiry is fixed
// at creation and is deliberately not extended here.
func (s *Store) Refresh(id string) (*Session, error) {
	session, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	session.LastAccessedAt = time.Now().Unix()
	if err := s.repo.UpdateLastAccessed(id, session.LastAccessedAt); err != nil {
		return nil, err
	}
	return session, nil
}

// Touch bumps the activity marker without re-reading the row. Used by the
// request middleware after it has already resolved the session.
func (s *Store) Touch(id string) error {
	return s.repo.UpdateLastAccessed(id, time.Now().Unix())
}

// SwitchOrg sets (or clears) the current-organization pointer. The store
// performs no authorization; callers verify membership first.
func (s *Store) SwitchOrg(id string, orgID *string) (*Session, error) {
	session, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateCurrentOrg(id, orgID); err != nil {
		return nil, err
	}
	session.CurrentOrgID = orgID
	return session, nil
}

func (s *Store) Delete(id string) (bool, error) {
	return s.repo.Delete(id)
}

func (s *Store) DeleteAllForUser(userID string) (int64, error) {
	return s.repo.DeleteAllForUser(userID)
}

func (s *Store) DeleteAllForUserExcept(userID, keepID string) (int64, error) {
	return s.repo.DeleteAllForUserExcept(userID, keepID)
}

// CleanupExpired is store hygiene, safe to run concurrently and repeatedly.
// Correctness never depends on it; lazy expiration on read already hides
// and removes dead rows.
func (s *Store) CleanupExpired() (int64, error) {
	return s.repo.DeleteExpired(time.Now().Unix())
}

func (s *Store) ListActiveForUser(userID string) ([]*Session, error) {
	return s.repo.ListActiveForUser(userID, time.Now().Unix())
}
