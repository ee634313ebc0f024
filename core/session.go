package core

import "time"

// Session is a server-side handle scoping which tools the provider will
// execute for a given user (and optionally conversation). Sessions are
// created by the tool provider and cached by session.Manager; a session is
// either valid (age < TTL) or expired — expired sessions are discarded and
// recreated, never refreshed in place.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Age returns how long ago the session was created.
func (s Session) Age(now time.Time) time.Duration { return now.Sub(s.CreatedAt) }

// Expired reports whether the session has outlived ttl at the given instant.
func (s Session) Expired(now time.Time, ttl time.Duration) bool {
	return s.Age(now) >= ttl
}
