package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"playprofile/apps/server/internal/database"

	"golang.org/x/crypto/bcrypt"
)

const queryTimeout = 5 * time.Second

var schema = map[database.Dialect][]string{
	database.DialectSQLite: {
		`
CREATE TABLE IF NOT EXISTS analysts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL,
    last_login_at_ms INTEGER
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_analysts_username ON analysts(lower(username))`,
		`
CREATE TABLE IF NOT EXISTS analyst_sessions (
    token TEXT PRIMARY KEY,
    analyst_id INTEGER NOT NULL,
    issued_at_ms INTEGER NOT NULL,
    expires_at_ms INTEGER NOT NULL,
    revoked_at_ms INTEGER,
    FOREIGN KEY(analyst_id) REFERENCES analysts(id) ON DELETE CASCADE
)`,
		`CREATE INDEX IF NOT EXISTS idx_analyst_sessions_active ON analyst_sessions(expires_at_ms, revoked_at_ms)`,
	},
	database.DialectPostgres: {
		`
CREATE TABLE IF NOT EXISTS analysts (
    id BIGSERIAL PRIMARY KEY,
    username TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    created_at_ms BIGINT NOT NULL,
    last_login_at_ms BIGINT
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_analysts_username ON analysts(lower(username))`,
		`
CREATE TABLE IF NOT EXISTS analyst_sessions (
    token TEXT PRIMARY KEY,
    analyst_id BIGINT NOT NULL REFERENCES analysts(id) ON DELETE CASCADE,
    issued_at_ms BIGINT NOT NULL,
    expires_at_ms BIGINT NOT NULL,
    revoked_at_ms BIGINT
)`,
		`CREATE INDEX IF NOT EXISTS idx_analyst_sessions_active ON analyst_sessions(expires_at_ms, revoked_at_ms)`,
	},
}

// SQLManager stores analysts and sessions in sqlite or postgres.
type SQLManager struct {
	db         *database.DB
	sessionTTL time.Duration
	now        func() time.Time
}

// NewSQLManager prepares the auth tables on db. The caller owns db; Close
// does not close it.
func NewSQLManager(ctx context.Context, db *database.DB, sessionTTL time.Duration) (*SQLManager, error) {
	if db == nil {
		return nil, errors.New("auth: nil database")
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := db.Migrate(ctx, schema[db.Dialect]); err != nil {
		return nil, fmt.Errorf("auth schema: %w", err)
	}
	return &SQLManager{db: db, sessionTTL: sessionTTL, now: time.Now}, nil
}

func (m *SQLManager) Close() error { return nil }

func (m *SQLManager) Register(ctx context.Context, username, password string) (Analyst, string, error) {
	if err := validateCredentials(username, password); err != nil {
		return Analyst{}, "", err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return Analyst{}, "", err
	}
	name := normalizeUsername(username)

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return Analyst{}, "", err
	}
	defer tx.Rollback()

	nowMs := m.now().UTC().UnixMilli()
	a := Analyst{Username: name}
	err = tx.QueryRowContext(ctx, m.db.Rebind(`
INSERT INTO analysts (username, password_hash, created_at_ms, last_login_at_ms)
VALUES (?, ?, ?, ?)
RETURNING id
`), name, string(hash), nowMs, nowMs).Scan(&a.ID)
	if err != nil {
		if m.db.IsUniqueViolation(err) {
			return Analyst{}, "", ErrUsernameTaken
		}
		return Analyst{}, "", err
	}

	token, err := m.issueTx(ctx, tx, a.ID, nowMs)
	if err != nil {
		return Analyst{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return Analyst{}, "", err
	}
	return a, token, nil
}

func (m *SQLManager) Login(ctx context.Context, username, password string) (Analyst, string, error) {
	name := normalizeUsername(username)
	if name == "" || password == "" {
		return Analyst{}, "", ErrInvalidCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	a := Analyst{Username: name}
	var hash string
	err := m.db.QueryRowContext(ctx, m.db.Rebind(`
SELECT id, password_hash FROM analysts WHERE lower(username) = ?
`), name).Scan(&a.ID, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analyst{}, "", ErrInvalidCredentials
		}
		return Analyst{}, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return Analyst{}, "", ErrInvalidCredentials
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return Analyst{}, "", err
	}
	defer tx.Rollback()

	nowMs := m.now().UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx, m.db.Rebind(`
UPDATE analysts SET last_login_at_ms = ? WHERE id = ?
`), nowMs, a.ID); err != nil {
		return Analyst{}, "", err
	}
	token, err := m.issueTx(ctx, tx, a.ID, nowMs)
	if err != nil {
		return Analyst{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return Analyst{}, "", err
	}
	return a, token, nil
}

func (m *SQLManager) Resolve(ctx context.Context, token string) (Analyst, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Analyst{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	nowMs := m.now().UTC().UnixMilli()
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return Analyst{}, false
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, m.db.Rebind(`
UPDATE analyst_sessions
SET expires_at_ms = ?
WHERE token = ?
  AND revoked_at_ms IS NULL
  AND expires_at_ms > ?
`), nowMs+m.sessionTTL.Milliseconds(), token, nowMs)
	if err != nil {
		return Analyst{}, false
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return Analyst{}, false
	}

	var a Analyst
	if err := tx.QueryRowContext(ctx, m.db.Rebind(`
SELECT a.id, a.username
FROM analyst_sessions AS s
JOIN analysts AS a ON a.id = s.analyst_id
WHERE s.token = ?
`), token).Scan(&a.ID, &a.Username); err != nil {
		return Analyst{}, false
	}
	if err := tx.Commit(); err != nil {
		return Analyst{}, false
	}
	return a, true
}

func (m *SQLManager) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := m.db.ExecContext(ctx, m.db.Rebind(`
UPDATE analyst_sessions SET revoked_at_ms = ? WHERE token = ? AND revoked_at_ms IS NULL
`), m.now().UTC().UnixMilli(), token)
	return err
}

func (m *SQLManager) issueTx(ctx context.Context, tx *sql.Tx, analystID uint64, nowMs int64) (string, error) {
	expiresAtMs := nowMs + m.sessionTTL.Milliseconds()
	for i := 0; i < 5; i++ {
		token := mustToken()
		_, err := tx.ExecContext(ctx, m.db.Rebind(`
INSERT INTO analyst_sessions (token, analyst_id, issued_at_ms, expires_at_ms)
VALUES (?, ?, ?, ?)
`), token, analystID, nowMs, expiresAtMs)
		if err == nil {
			return token, nil
		}
		if !m.db.IsUniqueViolation(err) {
			return "", err
		}
	}
	return "", errors.New("failed to generate unique session token")
}
