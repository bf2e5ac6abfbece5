package models

import "time"

// Post is the monetized artifact published from a dually approved PendingItem.
type Post struct {
	ID                string    `json:"id" db:"id"`
	UserID            string    `json:"userId" db:"user_id"`
	Caption           string    `json:"caption" db:"caption"`
	Description       *string   `json:"description,omitempty" db:"description"`
	MediaURL          string    `json:"mediaUrl" db:"media_url"`
	Price             float64   `json:"price" db:"price"`
	CategoryTags      []string  `json:"categoryTags" db:"category_tags"`
	TaggedUsers       []string  `json:"taggedUsers"`
	RevenueSplitUser1 float64   `json:"revenueSplitUser1" db:"revenue_split_user1"`
	RevenueSplitUser2 float64   `json:"revenueSplitUser2" db:"revenue_split_user2"`
	SessionID         string    `json:"sessionId" db:"session_id"`
	PendingItemID     string    `json:"pendingItemId" db:"pending_item_id"`
	User1Approved     bool      `json:"user1Approved" db:"user1_approved"`
	User2Approved     bool      `json:"user2Approved" db:"user2_approved"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}

// SplitRevenue divides price between the two participants. The shares always sum to price.
func SplitRevenue(price float64) (user1, user2 float64) {
	user1 = price / 2
	return user1, price - user1
}

// TaggedPost is a post enriched with its author's profile.
type TaggedPost struct {
	Post
	Author *UserProfile `json:"author"`
}
