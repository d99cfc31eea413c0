// Package session gates control-pair establishment behind credentials
// and tracks per-connection authentication state.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrAuthFailed = errors.New("authentication failed")

// Session is the outcome of a successful credential check, bound to one
// connection. Held in process memory only.
type Session struct {
	ID           string
	ConnectionID string
	Username     string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Manager owns all live sessions, keyed by connection id. Users maps
// usernames to bcrypt password hashes; an empty map leaves the broker
// open, mirroring the no-password-by-default choice for pair passwords.
type Manager struct {
	mu         sync.Mutex
	byConn     map[string]Session
	byID       map[string]string // session id -> connection id
	users      map[string]string
	ttl        time.Duration
	now        func() time.Time
}

func NewManager(users map[string]string, ttl time.Duration) *Manager {
	return NewManagerWithNow(users, ttl, time.Now)
}

func NewManagerWithNow(users map[string]string, ttl time.Duration, now func() time.Time) *Manager {
	return &Manager{
		byConn: make(map[string]Session),
		byID:   make(map[string]string),
		users:  users,
		ttl:    ttl,
		now:    now,
	}
}

// Authenticate checks credentials and issues a session for the
// connection. Re-authenticating replaces any prior session.
func (m *Manager) Authenticate(connectionID, username, password string) (Session, error) {
	if len(m.users) > 0 {
		hash, ok := m.users[username]
		if !ok {
			// Burn a comparison anyway so unknown and known users cost the same.
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000uGZwFBTzoI1lJbOdkaYyXVEFkWbTSG6"), []byte(password))
			return Session{}, ErrAuthFailed
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
			return Session{}, ErrAuthFailed
		}
	}

	now := m.now()
	sess := Session{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Username:     username,
		IssuedAt:     now,
		ExpiresAt:    now.Add(m.ttl),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prior, ok := m.byConn[connectionID]; ok {
		delete(m.byID, prior.ID)
	}
	m.byConn[connectionID] = sess
	m.byID[sess.ID] = connectionID
	return sess, nil
}

// Validate resolves a session id to its connection id. Expired or
// unknown sessions return ok=false, never an error: callers treat that
// as "not authenticated".
func (m *Manager) Validate(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID, ok := m.byID[sessionID]
	if !ok {
		return "", false
	}
	sess := m.byConn[connID]
	if m.now().After(sess.ExpiresAt) {
		delete(m.byID, sessionID)
		delete(m.byConn, connID)
		return "", false
	}
	return connID, true
}

// Invalidate drops any session for the connection. The connection
// registry calls this synchronously from its disconnect cascade so no
// session outlives its connection.
func (m *Manager) Invalidate(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.byConn[connectionID]; ok {
		delete(m.byID, sess.ID)
		delete(m.byConn, connectionID)
	}
}

// Authenticated reports whether the connection currently holds a live
// session.
func (m *Manager) Authenticated(connectionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.byConn[connectionID]
	if !ok {
		return false
	}
	return !m.now().After(sess.ExpiresAt)
}

// Count reports live sessions, mainly for stats endpoints.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byConn)
}
