package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultSessionTTL = 30 * 24 * time.Hour
	tokenBytes        = 32
)

var (
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]{2,31}$`)

// Manager keeps analysts and their sessions in memory.
type Manager struct {
	mu sync.Mutex

	nextID     uint64
	sessionTTL time.Duration
	now        func() time.Time
	sessions   map[string]sessionRecord
	byID       map[uint64]analystRecord
	byName     map[string]uint64
}

type sessionRecord struct {
	AnalystID uint64
	ExpiresAt time.Time
}

type analystRecord struct {
	Analyst
	PasswordHash []byte
	LastLogin    time.Time
}

func NewManager(sessionTTL time.Duration) *Manager {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &Manager{
		nextID:     1000,
		sessionTTL: sessionTTL,
		now:        time.Now,
		sessions:   make(map[string]sessionRecord),
		byID:       make(map[uint64]analystRecord),
		byName:     make(map[string]uint64),
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validateCredentials(username, password string) error {
	if !usernamePattern.MatchString(strings.TrimSpace(username)) {
		return ErrInvalidUsername
	}
	// bcrypt ignores everything past 72 bytes
	if len(password) < 8 || len(password) > 72 {
		return ErrInvalidPassword
	}
	return nil
}

func hashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

func (m *Manager) Register(_ context.Context, username, password string) (Analyst, string, error) {
	if err := validateCredentials(username, password); err != nil {
		return Analyst{}, "", err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return Analyst{}, "", err
	}
	name := normalizeUsername(username)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[name]; exists {
		return Analyst{}, "", ErrUsernameTaken
	}
	m.nextID++
	a := Analyst{ID: m.nextID, Username: name}
	now := m.now()
	m.byID[a.ID] = analystRecord{Analyst: a, PasswordHash: hash, LastLogin: now}
	m.byName[name] = a.ID
	return a, m.issueLocked(a.ID, now), nil
}

func (m *Manager) Login(_ context.Context, username, password string) (Analyst, string, error) {
	name := normalizeUsername(username)
	if name == "" || password == "" {
		return Analyst{}, "", ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byName[name]
	if !ok {
		return Analyst{}, "", ErrInvalidCredentials
	}
	rec := m.byID[id]
	if bcrypt.CompareHashAndPassword(rec.PasswordHash, []byte(password)) != nil {
		return Analyst{}, "", ErrInvalidCredentials
	}
	now := m.now()
	rec.LastLogin = now
	m.byID[id] = rec
	return rec.Analyst, m.issueLocked(id, now), nil
}

func (m *Manager) Resolve(_ context.Context, token string) (Analyst, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Analyst{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[token]
	if !ok {
		return Analyst{}, false
	}
	now := m.now()
	if !now.Before(rec.ExpiresAt) {
		delete(m.sessions, token)
		return Analyst{}, false
	}
	rec.ExpiresAt = now.Add(m.sessionTTL)
	m.sessions[token] = rec
	return m.byID[rec.AnalystID].Analyst, true
}

func (m *Manager) Logout(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, strings.TrimSpace(token))
	return nil
}

func (m *Manager) Close() error { return nil }

func (m *Manager) issueLocked(analystID uint64, now time.Time) string {
	token := mustToken()
	m.sessions[token] = sessionRecord{AnalystID: analystID, ExpiresAt: now.Add(m.sessionTTL)}
	return token
}

func mustToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
