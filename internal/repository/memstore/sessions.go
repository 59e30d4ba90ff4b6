package memstore

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/keeperhq/capsulekeeper/internal/errs"
	"github.com/keeperhq/capsulekeeper/internal/model"
)

// SessionStore is the in-memory SessionRepository. It is the only
// implementation: sessions are declared non-durable.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.UploadSession
	byIdem   map[idemKey]string
}

// NewSessionStore constructs an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*model.UploadSession),
		byIdem:   make(map[idemKey]string),
	}
}

// Create inserts a new session.
func (s *SessionStore) Create(_ context.Context, sess *model.UploadSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return errs.ErrAlreadyExists
	}
	s.sessions[sess.ID] = cloneSession(sess)
	s.byIdem[idemKey{sess.CapsuleID, sess.IdemKey}] = sess.ID
	return nil
}

// Get loads a session by ID.
func (s *SessionStore) Get(_ context.Context, id string) (*model.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return cloneSession(sess), nil
}

// FindByIdem returns the session created under the (capsule, idem) pair.
func (s *SessionStore) FindByIdem(_ context.Context, capsuleID uuid.UUID, key string) (*model.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byIdem[idemKey{capsuleID, key}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return cloneSession(sess), nil
}

// Update replaces the stored session.
func (s *SessionStore) Update(_ context.Context, sess *model.UploadSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return errs.ErrNotFound
	}
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

// Delete removes the session.
func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return errs.ErrNotFound
	}
	// The idem mapping may already point at a newer session begun under
	// the same key after this one expired; it stays theirs.
	k := idemKey{sess.CapsuleID, sess.IdemKey}
	if s.byIdem[k] == id {
		delete(s.byIdem, k)
	}
	delete(s.sessions, id)
	return nil
}

// ActiveCount returns the number of unexpired sessions for a capsule.
func (s *SessionStore) ActiveCount(_ context.Context, capsuleID uuid.UUID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.CapsuleID == capsuleID && !sess.Expired(now) {
			n++
		}
	}
	return n, nil
}

// Expired returns sessions past their expiry at now.
func (s *SessionStore) Expired(_ context.Context, now time.Time) ([]*model.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.UploadSession
	for _, sess := range s.sessions {
		if sess.Expired(now) {
			out = append(out, cloneSession(sess))
		}
	}
	return out, nil
}

func cloneSession(s *model.UploadSession) *model.UploadSession {
	out := *s
	out.Received = maps.Clone(s.Received)
	return &out
}
