package models

import "time"

// Message is one chat line exchanged during a session.
type Message struct {
	ID         int64     `json:"id" db:"id"`
	SessionID  string    `json:"sessionId" db:"session_id"`
	FromUserID string    `json:"fromUserId" db:"from_user_id"`
	ToUserID   string    `json:"toUserId" db:"to_user_id"`
	Content    string    `json:"content" db:"content"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}
