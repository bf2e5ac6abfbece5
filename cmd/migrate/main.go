package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"duet/internal/database"
	"duet/internal/models"
	"duet/internal/validation"
)

type userUpserter interface {
	UpsertUser(ctx context.Context, u *models.UserProfile) error
}

func main() {
	driver := flag.String("driver", database.DriverSQLite, "Database driver (sqlite3 or mysql)")
	dbPath := flag.String("db", "./duet.db", "Path to the sqlite database file")
	dsn := flag.String("dsn", "", "MySQL data source name")
	usersFile := flag.String("users", "", "JSON file with user profiles to seed")
	flag.Parse()

	ctx := context.Background()

	fmt.Printf("Applying %s schema...\n", *driver)
	db, err := database.New(ctx, database.Options{Driver: *driver, Path: *dbPath, DSN: *dsn})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	fmt.Println("Schema is up to date")

	if *usersFile == "" {
		return
	}

	f, err := os.Open(*usersFile)
	if err != nil {
		log.Fatalf("Failed to open users file: %v", err)
	}
	defer f.Close()

	n, err := seedUsers(ctx, db, f)
	if err != nil {
		log.Fatalf("Failed to seed users: %v", err)
	}
	fmt.Printf("Seeded %d users\n", n)
}

// seedUsers upserts every profile in a JSON array. Profiles are validated before any write.
func seedUsers(ctx context.Context, store userUpserter, r io.Reader) (int, error) {
	var users []models.UserProfile
	if err := json.NewDecoder(r).Decode(&users); err != nil {
		return 0, fmt.Errorf("failed to decode users: %w", err)
	}

	seen := make(map[string]bool, len(users))
	for i, u := range users {
		if err := validation.ValidateIdentifier("id", u.ID); err != nil {
			return 0, fmt.Errorf("user %d: %w", i+1, err)
		}
		if u.Username == "" {
			return 0, fmt.Errorf("user %d: username is required", i+1)
		}
		if seen[u.Username] {
			return 0, fmt.Errorf("user %d: duplicate username %q", i+1, u.Username)
		}
		seen[u.Username] = true
	}

	for i := range users {
		fmt.Printf("Upserting user %d/%d...\n", i+1, len(users))
		if err := store.UpsertUser(ctx, &users[i]); err != nil {
			return i, fmt.Errorf("failed to upsert %s: %w", users[i].Username, err)
		}
	}
	return len(users), nil
}
