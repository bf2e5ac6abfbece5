package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"duet/internal/database"
	"duet/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedUsers(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(ctx, database.Options{Path: filepath.Join(t.TempDir(), "seed.db")})
	require.NoError(t, err)
	defer db.Close()

	input := `[
		{"id": "user-a", "username": "alice", "displayName": "Alice"},
		{"id": "user-b", "username": "bob"}
	]`
	n, err := seedUsers(ctx, db, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	alice, err := db.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, alice)
	assert.Equal(t, "user-a", alice.ID)
	require.NotNil(t, alice.DisplayName)
	assert.Equal(t, "Alice", *alice.DisplayName)

	// Seeding again updates in place.
	n, err = seedUsers(ctx, db, strings.NewReader(`[{"id": "user-a", "username": "alice2"}]`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	renamed, err := db.GetUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, "alice2", renamed.Username)
}

func TestSeedUsers_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"not json", `{`, "failed to decode users"},
		{"missing id", `[{"username": "alice"}]`, "user 1"},
		{"missing username", `[{"id": "user-a"}]`, "username is required"},
		{"duplicate username", `[{"id": "a", "username": "x"}, {"id": "b", "username": "x"}]`, "duplicate username"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &countingStore{}
			_, err := seedUsers(context.Background(), store, strings.NewReader(tt.input))
			assert.ErrorContains(t, err, tt.want)
			assert.Zero(t, store.calls, "nothing is written when validation fails")
		})
	}
}

type countingStore struct {
	calls int
}

func (c *countingStore) UpsertUser(ctx context.Context, u *models.UserProfile) error {
	c.calls++
	return nil
}
