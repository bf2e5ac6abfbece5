package models

import "time"

// UserProfile is the public summary of an account from the user directory.
type UserProfile struct {
	ID          string  `json:"id" db:"id"`
	Username    string  `json:"username" db:"username"`
	DisplayName *string `json:"displayName,omitempty" db:"display_name"`
	FirstName   *string `json:"firstName,omitempty" db:"first_name"`
	LastName    *string `json:"lastName,omitempty" db:"last_name"`
	Bio         *string `json:"bio,omitempty" db:"bio"`
}

// WaitingEntry is one row of the catch-board.
type WaitingEntry struct {
	SessionID string       `json:"sessionId"`
	CreatorID string       `json:"creatorId"`
	User      *UserProfile `json:"user"`
	CreatedAt time.Time    `json:"createdAt"`
}
