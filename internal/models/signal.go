package models

import "time"

// Signal kinds exchanged by peers. The relay itself treats kinds as opaque tags.
const (
	SignalKindOffer     = "offer"
	SignalKindAnswer    = "answer"
	SignalKindCandidate = "candidate"
)

// Signal is one directed negotiation envelope inside a session.
type Signal struct {
	ID         int64     `json:"id" db:"id"`
	SessionID  string    `json:"sessionId" db:"session_id"`
	FromUserID string    `json:"fromUserId" db:"from_user_id"`
	ToUserID   string    `json:"toUserId" db:"to_user_id"`
	Kind       string    `json:"signalType" db:"kind"`
	Payload    string    `json:"signalData" db:"payload"`
	Processed  bool      `json:"processed" db:"processed"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

