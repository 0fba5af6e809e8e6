package domain

import (
	"time"
)

// Session holds what the gateway remembers about a conversation thread.
// Sessions live only in process memory (or a store truncated at startup).
type Session struct {
	ThreadID     string
	User         UserInfo
	LastActivity time.Time
}

// SessionView is the JSON representation of a Session.
type SessionView struct {
	ThreadID     string    `json:"threadId"`
	User         UserView  `json:"user"`
	LastActivity time.Time `json:"lastActivity"`
}

// View converts the session into its JSON representation.
func (s *Session) View() SessionView {
	return SessionView{
		ThreadID:     s.ThreadID,
		User:         s.User.View(),
		LastActivity: s.LastActivity,
	}
}
