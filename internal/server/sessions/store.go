package sessions

import (
	"sync"
	"time"

	"github.com/astepanov/syncbox/internal/common"
	"github.com/google/uuid"
)

// Session is one device's reconciliation pass. Cursor is the last
// acknowledged feed position; Pending is the end of a delivered but not yet
// acknowledged batch, kept so a dropped connection causes redelivery of the
// same batch rather than loss.
type Session struct {
	ID        string
	UserID    string
	DeviceID  string
	Cursor    Cursor
	Pending   *Cursor
	CreatedAt time.Time
	LastSeen  time.Time
}

// Store keeps sessions in memory with an idle TTL. All state here is
// read-mostly and owned by a single device at a time, so one mutex is
// plenty.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*Session
	now      func() time.Time
}

// NewStore creates a session store whose sessions expire after ttl idle time.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl:      ttl,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create registers a new session starting at cursor.
func (s *Store) Create(userID, deviceID string, cursor Cursor) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		DeviceID:  deviceID,
		Cursor:    cursor,
		CreatedAt: now,
		LastSeen:  now,
	}
	s.sessions[sess.ID] = sess
	return snapshot(sess)
}

// Get returns a snapshot of the session, refreshing its idle timer.
// Expired sessions are removed and reported as common.ErrSessionExpired;
// unknown IDs or a non-owner user map to common.ErrorNotFound.
func (s *Store) Get(id, userID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.locked(id, userID)
	if err != nil {
		return nil, err
	}
	sess.LastSeen = s.now()
	return snapshot(sess), nil
}

// Deliver records the end position of a batch handed to the client. The
// session cursor does not move until the client acknowledges.
func (s *Store) Deliver(id, userID string, end Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.locked(id, userID)
	if err != nil {
		return err
	}
	sess.Pending = &end
	sess.LastSeen = s.now()
	return nil
}

// Ack advances the session cursor to ack if it matches the pending batch
// end. A stale or unknown ack is ignored so redelivered batches stay
// idempotent.
func (s *Store) Ack(id, userID string, ack Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.locked(id, userID)
	if err != nil {
		return err
	}
	if sess.Pending != nil && *sess.Pending == ack {
		sess.Cursor = ack
		sess.Pending = nil
	}
	sess.LastSeen = s.now()
	return nil
}

// SweepExpired drops idle sessions and returns how many were removed.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastSeen.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *Store) locked(id, userID string) (*Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if sess.UserID != userID {
		return nil, common.ErrorNotFound
	}
	if sess.LastSeen.Before(s.now().Add(-s.ttl)) {
		delete(s.sessions, id)
		return nil, common.ErrSessionExpired
	}
	return sess, nil
}

func snapshot(sess *Session) *Session {
	cp := *sess
	if sess.Pending != nil {
		p := *sess.Pending
		cp.Pending = &p
	}
	return &cp
}
