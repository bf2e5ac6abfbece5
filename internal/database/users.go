package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"duet/internal/models"
)

func (d *Database) queryUser(ctx context.Context, query string, arg string) (*models.UserProfile, error) {
	var displayName, firstName, lastName, bio sql.NullString
	u := &models.UserProfile{}

	err := d.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &displayName, &firstName, &lastName, &bio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.DisplayName = stringPtr(displayName)
	u.FirstName = stringPtr(firstName)
	u.LastName = stringPtr(lastName)
	u.Bio = stringPtr(bio)
	return u, nil
}

// GetUser returns nil, nil for unknown ids.
func (d *Database) GetUser(ctx context.Context, id string) (*models.UserProfile, error) {
	return d.queryUser(ctx, SelectUserByIDQuery, id)
}

// GetUserByUsername returns nil, nil for unknown usernames.
func (d *Database) GetUserByUsername(ctx context.Context, username string) (*models.UserProfile, error) {
	return d.queryUser(ctx, SelectUserByUsernameQuery, username)
}

// UpsertUser mirrors a profile from the account system into the local directory.
func (d *Database) UpsertUser(ctx context.Context, u *models.UserProfile) error {
	res, err := d.db.ExecContext(ctx, UpdateUserQuery,
		u.Username, nullString(u.DisplayName), nullString(u.FirstName), nullString(u.LastName), nullString(u.Bio), u.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	_, err = d.db.ExecContext(ctx, InsertUserQuery,
		u.ID, u.Username, nullString(u.DisplayName), nullString(u.FirstName), nullString(u.LastName), nullString(u.Bio))
	if isUniqueViolation(err) {
		// mysql reports 0 affected rows for an update that changed nothing
		existing, getErr := d.GetUser(ctx, u.ID)
		if getErr == nil && existing != nil && existing.Username == u.Username {
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}
