package metrics

import (
	"sync"
)

// HistoryReader yields a consistent copy of prior reports, oldest first.
type HistoryReader interface {
	Snapshot() []Report
}

// History is an append-only, in-memory SessionHistory for one player.
type History struct {
	mu       sync.RWMutex
	playerID string
	reports  []Report
}

// NewHistory seeds a history with already-persisted reports (oldest first).
func NewHistory(playerID string, reports ...Report) *History {
	h := &History{playerID: playerID, reports: make([]Report, 0, len(reports))}
	for _, r := range reports {
		h.reports = append(h.reports, r.Clone())
	}
	return h
}

func (h *History) PlayerID() string { return h.playerID }

// Append adds r at the end. Reports for other players are rejected.
func (h *History) Append(r Report) error {
	if h.playerID != "" && r.PlayerID != h.playerID {
		return &PlayerMismatchError{Want: h.playerID, Got: r.PlayerID}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, r.Clone())
	return nil
}

// Snapshot returns a copy taken under the read lock; later appends do not
// affect it.
func (h *History) Snapshot() []Report {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Report, len(h.reports))
	for i, r := range h.reports {
		out[i] = r.Clone()
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.reports)
}

// Summary condenses a player's history for status queries.
type Summary struct {
	PlayerID string  `json:"player_id"`
	Sessions int     `json:"sessions"`
	Status   Status  `json:"status"`
	Latest   *Report `json:"latest,omitempty"`
}

// Summarize derives the longitudinal status from reports (oldest first).
func Summarize(playerID string, reports []Report) Summary {
	s := Summary{
		PlayerID: playerID,
		Sessions: len(reports),
		Status:   StatusForCount(len(reports)),
	}
	if len(reports) > 0 {
		latest := reports[len(reports)-1].Clone()
		s.Latest = &latest
	}
	return s
}

// StatusForCount maps a total session count to a tracking status.
func StatusForCount(sessions int) Status {
	if sessions >= 2 {
		return StatusTracked
	}
	return StatusInsufficient
}

// Clone deep-copies the report's optional fields and flags.
func (r Report) Clone() Report {
	out := r
	if r.NormalizedScore != nil {
		v := *r.NormalizedScore
		out.NormalizedScore = &v
	}
	if r.EnhancementRate != nil {
		v := *r.EnhancementRate
		out.EnhancementRate = &v
	}
	if r.Trend != nil {
		v := *r.Trend
		out.Trend = &v
	}
	if r.Flags != nil {
		out.Flags = append([]string(nil), r.Flags...)
	}
	return out
}
