package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role may appear in a conversation.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one inbound conversation turn as sent by a client.
type Message struct {
	Role    Role   `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,notblank,max=4000"`
}

// Turn is a persisted message. Turns are append-only.
type Turn struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
