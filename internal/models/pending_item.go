package models

import "time"

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Valid reports whether s is one of the known approval states.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// PendingItem holds post-call metadata awaiting approval from both participants.
// User1 owns the recording and is the only one allowed to edit metadata.
type PendingItem struct {
	ID              string         `json:"id" db:"id"`
	SessionID       string         `json:"sessionId" db:"session_id"`
	User1ID         string         `json:"user1Id" db:"user1_id"`
	User2ID         string         `json:"user2Id" db:"user2_id"`
	RecordingPath   string         `json:"recordingPath" db:"recording_path"`
	Title           *string        `json:"title" db:"title"`
	Description     *string        `json:"description" db:"description"`
	Price           *float64       `json:"price" db:"price"`
	CategoryTags    []string       `json:"categoryTags" db:"category_tags"`
	User1Status     ApprovalStatus `json:"user1_status" db:"user1_status"`
	User2Status     ApprovalStatus `json:"user2_status" db:"user2_status"`
	PublishedPostID *string        `json:"publishedPostId" db:"published_post_id"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time      `json:"updatedAt" db:"updated_at"`
}

// BothApproved reports whether each participant has approved.
func (p *PendingItem) BothApproved() bool {
	return p.User1Status == ApprovalApproved && p.User2Status == ApprovalApproved
}

// IsPublished reports whether a post has been created from this item.
func (p *PendingItem) IsPublished() bool {
	return p.PublishedPostID != nil
}

// HasParticipant reports whether userID is one of the item's two participants.
func (p *PendingItem) HasParticipant(userID string) bool {
	return userID != "" && (p.User1ID == userID || p.User2ID == userID)
}

// PendingItemPatch is a partial update. Nil fields are left untouched.
type PendingItemPatch struct {
	Title        *string
	Description  *string
	Price        *float64
	CategoryTags *[]string
	User1Status  *ApprovalStatus
	User2Status  *ApprovalStatus
}

// TouchesMetadata reports whether the patch changes owner-only fields.
func (p PendingItemPatch) TouchesMetadata() bool {
	return p.Title != nil || p.Description != nil || p.Price != nil || p.CategoryTags != nil
}

// IsEmpty reports whether the patch changes nothing.
func (p PendingItemPatch) IsEmpty() bool {
	return !p.TouchesMetadata() && p.User1Status == nil && p.User2Status == nil
}
