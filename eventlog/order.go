package eventlog

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Less is the total event order: timestamp, then sequence number.
// Events equal on both keep their arrival order (stable sort).
func Less(a, b Event) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.Seq < b.Seq
}

// IsSorted reports whether events are already in total order.
func IsSorted(events []Event) bool {
	for i := 1; i < len(events); i++ {
		if Less(events[i], events[i-1]) {
			return false
		}
	}
	return true
}

// Sorted returns a copy of s whose events are in total order. The input is
// never modified, and sorting an already-sorted session yields an equal copy.
func (s Session) Sorted() Session {
	out := s.Clone()
	if !IsSorted(out.Events) {
		sort.SliceStable(out.Events, func(i, j int) bool {
			return Less(out.Events[i], out.Events[j])
		})
	}
	return out
}

// Clone deep-copies the session, including event payloads.
func (s Session) Clone() Session {
	out := s
	if s.Events == nil {
		return out
	}
	out.Events = make([]Event, len(s.Events))
	for i, e := range s.Events {
		out.Events[i] = e
		out.Events[i].Payload = clonePayload(e.Payload)
	}
	return out
}

// Validate checks session metadata and every event against vocab.
// A nil vocab accepts any non-empty event type.
func (s Session) Validate(vocab *Vocabulary) error {
	if strings.TrimSpace(s.PlayerID) == "" {
		return &SessionError{SessionID: s.SessionID, EventIndex: -1, Reason: "missing_player", Message: "player_id is required"}
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return &SessionError{EventIndex: -1, Reason: "missing_session", Message: "session_id is required"}
	}
	if !finite(s.StartTime) || !finite(s.EndTime) || !finite(s.FinalScore) {
		return &SessionError{SessionID: s.SessionID, EventIndex: -1, Reason: "invalid_number", Message: "start_time, end_time and final_score must be finite"}
	}
	if s.EndTime < s.StartTime {
		return &SessionError{
			SessionID:  s.SessionID,
			EventIndex: -1,
			Reason:     "invalid_window",
			Message:    fmt.Sprintf("end_time %.3f is before start_time %.3f", s.EndTime, s.StartTime),
		}
	}
	for i, e := range s.Events {
		if err := validateEvent(e, vocab); err != nil {
			err.SessionID = s.SessionID
			err.EventIndex = i
			return err
		}
	}
	return nil
}

// Canonicalize rewrites event type names to their registered spelling.
func (s Session) Canonicalize(vocab *Vocabulary) Session {
	out := s.Clone()
	if vocab == nil {
		return out
	}
	for i := range out.Events {
		if t, ok := vocab.Lookup(string(out.Events[i].Type)); ok {
			out.Events[i].Type = t
		}
	}
	return out
}

func validateEvent(e Event, vocab *Vocabulary) *SessionError {
	if !finite(e.Timestamp) {
		return &SessionError{Reason: "invalid_timestamp", Message: "timestamp must be finite"}
	}
	if strings.TrimSpace(string(e.Type)) == "" {
		return &SessionError{Reason: "missing_event_type", Message: "event_type is required"}
	}
	if vocab != nil {
		if _, ok := vocab.Lookup(string(e.Type)); !ok {
			return &SessionError{Reason: "unknown_event_type", Message: fmt.Sprintf("event_type %q is not registered", e.Type)}
		}
	}
	switch e.Outcome {
	case OutcomeNone, OutcomeSuccess, OutcomeFailure, OutcomeBlocked, OutcomeFailureDueToRule:
	default:
		return &SessionError{Reason: "invalid_outcome", Message: fmt.Sprintf("outcome %q is not recognized", e.Outcome)}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func clonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clonePayload(t)
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}
