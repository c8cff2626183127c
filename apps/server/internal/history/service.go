// Package history persists performance reports per player, together with the
// archived event stream each report was computed from.
package history

import (
	"context"
	"errors"
	"strings"
	"sync"

	"playprofile/apps/server/internal/database"
	"playprofile/eventlog"
	"playprofile/metrics"
)

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 200
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateSession = errors.New("session already recorded")
	ErrInvalidReport    = errors.New("report requires player_id and session_id")
)

// Store is append-only: a (player, session) pair is recorded at most once.
type Store interface {
	Close() error
	Append(ctx context.Context, report metrics.Report, session *eventlog.WireSession) error
	// Reports returns every report for the player, oldest first.
	Reports(ctx context.Context, playerID string) ([]metrics.Report, error)
	// Recent returns up to limit reports, newest first.
	Recent(ctx context.Context, playerID string, limit int) ([]metrics.Report, error)
	SessionEvents(ctx context.Context, playerID, sessionID string) (*eventlog.WireSession, error)
}

// NewStore returns the memory store when db is nil and a SQL store otherwise.
func NewStore(ctx context.Context, db *database.DB) (Store, error) {
	if db == nil {
		return NewMemoryStore(), nil
	}
	return NewSQLStore(ctx, db)
}

// Load reads a player's reports into a metrics.History.
func Load(ctx context.Context, s Store, playerID string) (*metrics.History, error) {
	reports, err := s.Reports(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return metrics.NewHistory(playerID, reports...), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}

func validate(r metrics.Report) error {
	if strings.TrimSpace(r.PlayerID) == "" || strings.TrimSpace(r.SessionID) == "" {
		return ErrInvalidReport
	}
	return nil
}

type memoryRecord struct {
	report  metrics.Report
	session *eventlog.WireSession
}

type MemoryStore struct {
	mu      sync.RWMutex
	players map[string][]memoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{players: make(map[string][]memoryRecord)}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Append(_ context.Context, report metrics.Report, session *eventlog.WireSession) error {
	if err := validate(report); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.players[report.PlayerID] {
		if rec.report.SessionID == report.SessionID {
			return ErrDuplicateSession
		}
	}
	s.players[report.PlayerID] = append(s.players[report.PlayerID], memoryRecord{
		report:  report.Clone(),
		session: cloneWire(session),
	})
	return nil
}

func (s *MemoryStore) Reports(_ context.Context, playerID string) ([]metrics.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.players[playerID]
	out := make([]metrics.Report, len(recs))
	for i, rec := range recs {
		out[i] = rec.report.Clone()
	}
	return out, nil
}

func (s *MemoryStore) Recent(ctx context.Context, playerID string, limit int) ([]metrics.Report, error) {
	all, err := s.Reports(ctx, playerID)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit = clampLimit(limit); len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) SessionEvents(_ context.Context, playerID, sessionID string) (*eventlog.WireSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.players[playerID] {
		if rec.report.SessionID == sessionID && rec.session != nil {
			return cloneWire(rec.session), nil
		}
	}
	return nil, ErrNotFound
}

func cloneWire(w *eventlog.WireSession) *eventlog.WireSession {
	if w == nil {
		return nil
	}
	out := *w
	out.Events = append([]eventlog.WireEvent(nil), w.Events...)
	return &out
}
