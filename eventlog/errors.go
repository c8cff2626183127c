package eventlog

import "fmt"

// SessionError reports an invalid session or event.
// EventIndex is -1 when the problem is with the session itself.
type SessionError struct {
	SessionID  string `json:"session_id,omitempty"`
	EventIndex int    `json:"event_index"`
	Reason     string `json:"reason"`
	Message    string `json:"message"`
}

func (e *SessionError) Error() string {
	if e == nil {
		return ""
	}
	if e.EventIndex < 0 {
		return fmt.Sprintf("session error(session=%s reason=%s): %s", e.SessionID, e.Reason, e.Message)
	}
	return fmt.Sprintf("session error(session=%s event=%d reason=%s): %s", e.SessionID, e.EventIndex, e.Reason, e.Message)
}
