package eventlog

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const WireVersion = 1

// WireSession is the archival form of a Session. Payloads travel as base64
// protobuf Struct messages so they survive any JSON re-encoding unchanged.
type WireSession struct {
	WireVersion    int         `json:"wireVersion"`
	PlayerID       string      `json:"playerId"`
	SessionID      string      `json:"sessionId"`
	RulesetVersion string      `json:"rulesetVersion,omitempty"`
	StartTime      float64     `json:"startTime"`
	EndTime        float64     `json:"endTime"`
	FinalScore     float64     `json:"finalScore"`
	Events         []WireEvent `json:"events"`
}

type WireEvent struct {
	Timestamp  float64 `json:"timestamp"`
	Seq        uint64  `json:"seq"`
	Type       string  `json:"type"`
	Outcome    string  `json:"outcome,omitempty"`
	PayloadB64 string  `json:"payloadB64,omitempty"`
}

// ToWireSession encodes s. Payload values must be representable as a
// protobuf Struct (numbers, strings, bools, nil, nested maps and lists).
func ToWireSession(s Session) (*WireSession, error) {
	out := &WireSession{
		WireVersion:    WireVersion,
		PlayerID:       s.PlayerID,
		SessionID:      s.SessionID,
		RulesetVersion: s.RulesetVersion,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		FinalScore:     s.FinalScore,
		Events:         make([]WireEvent, 0, len(s.Events)),
	}
	for i, e := range s.Events {
		b64, err := EncodePayload(e.Payload)
		if err != nil {
			return nil, &SessionError{SessionID: s.SessionID, EventIndex: i, Reason: "invalid_payload", Message: err.Error()}
		}
		out.Events = append(out.Events, WireEvent{
			Timestamp:  e.Timestamp,
			Seq:        e.Seq,
			Type:       string(e.Type),
			Outcome:    string(e.Outcome),
			PayloadB64: b64,
		})
	}
	return out, nil
}

// FromWireSession decodes w back into a Session.
func FromWireSession(w *WireSession) (Session, error) {
	if w == nil {
		return Session{}, &SessionError{EventIndex: -1, Reason: "empty_wire", Message: "nil wire session"}
	}
	if w.WireVersion != WireVersion {
		return Session{}, &SessionError{
			SessionID:  w.SessionID,
			EventIndex: -1,
			Reason:     "unsupported_wire_version",
			Message:    fmt.Sprintf("wire version %d is not supported", w.WireVersion),
		}
	}
	s := Session{
		PlayerID:       w.PlayerID,
		SessionID:      w.SessionID,
		RulesetVersion: w.RulesetVersion,
		StartTime:      w.StartTime,
		EndTime:        w.EndTime,
		FinalScore:     w.FinalScore,
		Events:         make([]Event, 0, len(w.Events)),
	}
	for i, we := range w.Events {
		payload, err := DecodePayload(we.PayloadB64)
		if err != nil {
			return Session{}, &SessionError{SessionID: w.SessionID, EventIndex: i, Reason: "invalid_payload", Message: err.Error()}
		}
		s.Events = append(s.Events, Event{
			Timestamp: we.Timestamp,
			Seq:       we.Seq,
			Type:      EventType(we.Type),
			Payload:   payload,
			Outcome:   Outcome(we.Outcome),
		})
	}
	return s, nil
}

// EncodePayload marshals a payload map as a base64 protobuf Struct.
// An empty payload encodes to "".
func EncodePayload(payload map[string]any) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}
	st, err := structpb.NewStruct(payload)
	if err != nil {
		return "", fmt.Errorf("payload to struct: %w", err)
	}
	raw, err := proto.MarshalOptions{Deterministic: true}.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayload reverses EncodePayload. Numbers come back as float64.
func DecodePayload(b64 string) (map[string]any, error) {
	if b64 == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode payload base64: %w", err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return st.AsMap(), nil
}
