package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
)

// ParseSession decodes a session JSON document.
func ParseSession(data []byte) (Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("parse session JSON: %w", err)
	}
	return s, nil
}

// LoadSessionFile reads and decodes a session JSON file.
func LoadSessionFile(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, fmt.Errorf("read session file: %w", err)
	}
	return ParseSession(data)
}
