package integration

import (
	"duet/internal/models"
	"duet/internal/orchestrator"
)

// TestFixtures provides predefined test data for consistent testing
type TestFixtures struct{}

// NewTestFixtures creates a new TestFixtures instance
func NewTestFixtures() *TestFixtures {
	return &TestFixtures{}
}

// Users provides the directory every environment is seeded with, keyed by username.
func (f *TestFixtures) Users() map[string]models.UserProfile {
	return map[string]models.UserProfile{
		"alice": {ID: "user-alice", Username: "alice", DisplayName: strPtr("Alice Johnson")},
		"bob":   {ID: "user-bob", Username: "bob", DisplayName: strPtr("Bob Smith")},
		"carol": {ID: "user-carol", Username: "carol"},
		"dave":  {ID: "user-dave", Username: "dave"},
	}
}

// UserID returns the id of a fixture user.
func (f *TestFixtures) UserID(username string) string {
	return f.Users()[username].ID
}

// Metadata is what a recording owner fills in after the call.
func (f *TestFixtures) Metadata() orchestrator.Metadata {
	return orchestrator.Metadata{
		Title:       "Sunset Call",
		Description: "Two strangers watch the sun go down",
		Price:       10,
		Tags:        []string{"sunset", "chat"},
	}
}

// Recording is a small stand-in for an uploaded webm file.
func (f *TestFixtures) Recording() []byte {
	return []byte("\x1a\x45\xdf\xa3webm-test-recording")
}

func strPtr(s string) *string {
	return &s
}
