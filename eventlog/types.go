package eventlog

import (
	"sort"
	"strings"
	"sync"
)

// EventType names one kind of player action.
type EventType string

const (
	EventMovement   EventType = "Movement"
	EventAbilityUse EventType = "Ability_Use"
	EventInventory  EventType = "Inventory"
	EventUIClick    EventType = "UI_Click"
	EventCombat     EventType = "Combat"
	EventPurchase   EventType = "Purchase"
	EventStatCheck  EventType = "Stat_Check"
	EventMenu       EventType = "Menu"
)

// Outcome records whether the attempted action was permitted.
type Outcome string

const (
	OutcomeNone             Outcome = ""
	OutcomeSuccess          Outcome = "success"
	OutcomeFailure          Outcome = "failure"
	OutcomeBlocked          Outcome = "blocked"
	OutcomeFailureDueToRule Outcome = "failure_due_to_rule"
)

// Payload keys understood by the default feature set.
const (
	PayloadState   = "state"  // "start" | "stop" for interval events
	PayloadStream  = "stream" // distinguishes concurrent interval streams
	PayloadAbility = "ability_id"
	PayloadItem    = "item_id"
	PayloadAction  = "action"
	PayloadZone    = "zone"

	StateStart = "start"
	StateStop  = "stop"
)

// Event is one timestamped player action. Timestamp is in seconds.
type Event struct {
	Timestamp float64        `json:"timestamp"`
	Seq       uint64         `json:"seq,omitempty"`
	Type      EventType      `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Outcome   Outcome        `json:"outcome,omitempty"`
}

// PayloadString returns payload[key] when it is a non-empty string.
func (e Event) PayloadString(key string) (string, bool) {
	v, ok := e.Payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Session is one player's closed event log plus outcome metadata.
type Session struct {
	PlayerID       string  `json:"player_id"`
	SessionID      string  `json:"session_id"`
	RulesetVersion string  `json:"ruleset_version,omitempty"`
	StartTime      float64 `json:"start_time"`
	EndTime        float64 `json:"end_time"`
	FinalScore     float64 `json:"final_score"`
	Events         []Event `json:"events"`
}

// Duration returns end_time - start_time.
func (s Session) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Vocabulary is the set of accepted event types.
type Vocabulary struct {
	mu    sync.RWMutex
	types map[string]EventType // lower-cased name -> canonical
}

var defaultTypes = []EventType{
	EventMovement, EventAbilityUse, EventInventory, EventUIClick,
	EventCombat, EventPurchase, EventStatCheck, EventMenu,
}

// NewVocabulary returns the built-in event types plus any extras.
func NewVocabulary(extra ...EventType) *Vocabulary {
	v := &Vocabulary{types: make(map[string]EventType, len(defaultTypes)+len(extra))}
	for _, t := range defaultTypes {
		v.Register(t)
	}
	for _, t := range extra {
		v.Register(t)
	}
	return v
}

// Register adds an event type. Names are matched case-insensitively.
func (v *Vocabulary) Register(t EventType) {
	name := strings.TrimSpace(string(t))
	if name == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.types[strings.ToLower(name)] = EventType(name)
}

// Lookup canonicalizes name, reporting whether it is registered.
func (v *Vocabulary) Lookup(name string) (EventType, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t, ok := v.types[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// Types returns the registered types, sorted.
func (v *Vocabulary) Types() []EventType {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]EventType, 0, len(v.types))
	for _, t := range v.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
