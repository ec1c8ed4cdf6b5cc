// Package session persists the logged-in identity of the CLI between
// runs.
package session

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
)

const (
	ErrNoSession    = errors.ErrorCode("session_not_found")
	ErrStoreAccess  = errors.ErrorCode("session_store_access_failed")
	ErrInvalidToken = errors.ErrorCode("session_invalid_token")
)

type User struct {
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

type Session struct {
	Token   string    `json:"token"`
	User    User      `json:"user"`
	SavedAt time.Time `json:"saved_at"`
}

// Store persists at most one session. Load returns an ErrNoSession error
// when nothing is stored.
type Store interface {
	Load() (Session, error)
	Save(s Session) error
	Clear() error
}

// IsNoSession reports whether err means nobody is logged in.
func IsNoSession(err error) bool {
	return errors.HasCode(err, ErrNoSession)
}

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	session *Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return Session{}, errors.New().New(ErrNoSession)
	}
	return *m.session, nil
}

func (m *MemoryStore) Save(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session = &s
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session = nil
	return nil
}

// Manager ties a Store to the login lifecycle and serves tokens to the
// API client.
type Manager struct {
	store Store
	now   func() time.Time
	log   logger.Logger
}

func NewManager(store Store, log logger.Logger) *Manager {
	return &Manager{store: store, now: time.Now, log: log}
}

func (m *Manager) Login(token string, user User) error {
	if token == "" {
		return errors.New().WithMessage(ErrInvalidToken, "token must not be empty")
	}
	return m.store.Save(Session{Token: token, User: user, SavedAt: m.now().UTC()})
}

func (m *Manager) Logout() error {
	return m.store.Clear()
}

// Current returns the stored session.
func (m *Manager) Current() (Session, error) {
	return m.store.Load()
}

// Token implements client.TokenProvider.
func (m *Manager) Token(_ context.Context) (string, error) {
	s, err := m.store.Load()
	if err != nil {
		return "", err
	}
	return s.Token, nil
}

// Revoked clears the session after the server rejected its token. It is
// meant to be registered as the client's unauthorized hook.
func (m *Manager) Revoked() {
	if err := m.store.Clear(); err != nil {
		m.log.Error().Err(err).Msg("Failed to clear revoked session")
		return
	}
	m.log.Warn().Msg("Session rejected by server, logged out")
}
