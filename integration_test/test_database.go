package integration

import (
	"context"
	"path/filepath"
	"testing"

	"duet/internal/database"
)

// TestDatabaseOptions configures test database creation
type TestDatabaseOptions struct {
	EncryptionSecret string
}

// NewTestDatabase creates a migrated sqlite database in the test's temp dir.
// Encryption is enabled when a secret is given.
func NewTestDatabase(t *testing.T, opts *TestDatabaseOptions) (*database.Database, func()) {
	t.Helper()
	if opts == nil {
		opts = &TestDatabaseOptions{}
	}

	db, err := database.New(context.Background(), database.Options{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "integration.db"),
		Encryption: database.EncryptionOptions{
			Enabled: opts.EncryptionSecret != "",
			Secret:  opts.EncryptionSecret,
		},
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	}
	return db, cleanup
}
