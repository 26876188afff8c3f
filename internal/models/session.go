// Package models defines the dialogue session for UssdPipe.
package models

import "time"

// Session tracks one user's position in a dialogue. It is created on the
// first request carrying an unknown session id, mutated only by the
// dispatch engine, and destroyed by inactivity expiry.
type Session struct {
	ID           string                 `json:"id"`
	PhoneNumber  string                 `json:"phone_number"`
	CurrentState string                 `json:"current_state"`
	InputCount   int                    `json:"input_count"`
	Data         map[string]interface{} `json:"data,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	LastActivity time.Time              `json:"last_activity"`
}

// NewSession creates a fresh session positioned at entryState with no
// processed input.
func NewSession(id, phoneNumber, entryState string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		PhoneNumber:  phoneNumber,
		CurrentState: entryState,
		InputCount:   0,
		Data:         make(map[string]interface{}),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Clone returns a copy of the session with its own data map. Stores hand
// out clones so a failed request never leaks partial mutations.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Data = make(map[string]interface{}, len(s.Data))
	for k, v := range s.Data {
		cp.Data[k] = v
	}
	return &cp
}

// Expired reports whether the session has been inactive longer than ttl.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.LastActivity) > ttl
}

// GetString returns the string stored under key, or "" when absent or of
// another type.
func (s *Session) GetString(key string) string {
	if v, ok := s.Data[key].(string); ok {
		return v
	}
	return ""
}

// GetFloat returns the numeric value stored under key. Values read back
// from JSON-encoded stores arrive as float64, so numeric session data is
// normalized through this accessor.
func (s *Session) GetFloat(key string) float64 {
	switch v := s.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
