package models

import "time"

// Editable fields of a published item.
const (
	EditFieldTitle       = "title"
	EditFieldDescription = "description"
	EditFieldPrice       = "price"
)

// ItemEdit is a proposed change to a published item that both participants must approve.
type ItemEdit struct {
	ID            string    `json:"id" db:"id"`
	PendingItemID string    `json:"pendingItemId" db:"pending_item_id"`
	ProposedBy    string    `json:"proposedBy" db:"proposed_by"`
	Field         string    `json:"field" db:"field"`
	OldValue      *string   `json:"oldValue" db:"old_value"`
	NewValue      string    `json:"newValue" db:"new_value"`
	User1Approved bool      `json:"user1Approved" db:"user1_approved"`
	User2Approved bool      `json:"user2Approved" db:"user2_approved"`
	Applied       bool      `json:"applied" db:"applied"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}

// IsEditField reports whether field can be negotiated after publishing.
func IsEditField(field string) bool {
	switch field {
	case EditFieldTitle, EditFieldDescription, EditFieldPrice:
		return true
	}
	return false
}
