package models

import "time"

type SessionStatus string

const (
	SessionStatusWaiting SessionStatus = "waiting"
	SessionStatusActive  SessionStatus = "active"
	SessionStatusEnded   SessionStatus = "ended"
)

// Session is one attempted or completed call between two users.
// ParticipantA created it; ParticipantB is nil while waiting.
type Session struct {
	ID                string        `json:"id" db:"id"`
	ParticipantA      string        `json:"user1Id" db:"participant_a"`
	ParticipantB      *string       `json:"user2Id" db:"participant_b"`
	TargetUserID      *string       `json:"targetUserId,omitempty" db:"target_user_id"`
	Status            SessionStatus `json:"status" db:"status"`
	RecordingPath     *string       `json:"recordingPath,omitempty" db:"recording_path"`
	RecordingSize     int64         `json:"recordingSize" db:"recording_size"`
	RecordingDuration int           `json:"recordingDuration" db:"recording_duration"`
	CallDuration      int           `json:"callDuration" db:"call_duration"`
	CreatedAt         time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time     `json:"updatedAt" db:"updated_at"`
}

// HasParticipant reports whether userID occupies either slot.
func (s *Session) HasParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	return s.ParticipantA == userID || (s.ParticipantB != nil && *s.ParticipantB == userID)
}

// Counterpart returns the other participant of userID, if both slots are filled.
func (s *Session) Counterpart(userID string) (string, bool) {
	if s.ParticipantB == nil {
		return "", false
	}
	switch userID {
	case s.ParticipantA:
		return *s.ParticipantB, true
	case *s.ParticipantB:
		return s.ParticipantA, true
	}
	return "", false
}

// Initiator returns the participant that opens peer negotiation.
// Participant A always initiates, whichever path filled slot B.
func (s *Session) Initiator() string {
	return s.ParticipantA
}

// IsInitiator reports whether userID must create the negotiation offer.
func (s *Session) IsInitiator(userID string) bool {
	return userID != "" && s.Initiator() == userID
}

// IsReservedFor reports whether a targeted session excludes userID as a joiner.
func (s *Session) IsReservedFor(userID string) bool {
	return s.TargetUserID != nil && *s.TargetUserID != userID
}

// OlderThan orders waiting sessions by (created_at, id), the same order the pool is served in.
func (s *Session) OlderThan(other *Session) bool {
	if !s.CreatedAt.Equal(other.CreatedAt) {
		return s.CreatedAt.Before(other.CreatedAt)
	}
	return s.ID < other.ID
}

// CanTransition reports whether the lifecycle allows moving from s.Status to next.
func (s *Session) CanTransition(next SessionStatus) bool {
	switch s.Status {
	case SessionStatusWaiting:
		return next == SessionStatusActive || next == SessionStatusEnded
	case SessionStatusActive:
		return next == SessionStatusEnded
	}
	return false
}
