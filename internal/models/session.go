package models

import "time"

// Session groups the turns of a single conversation. The id is an opaque
// UUID handed back to clients so they can resume the conversation.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
