package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"duet/internal/models"
)

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode category tags: %w", err)
	}
	return string(data), nil
}

func decodeTags(raw string) ([]string, error) {
	tags := []string{}
	if raw == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("failed to decode category tags: %w", err)
	}
	return tags, nil
}

func scanPendingItem(row rowScanner) (*models.PendingItem, error) {
	var title, description, publishedPostID sql.NullString
	var price sql.NullFloat64
	var tags string
	item := &models.PendingItem{}

	err := row.Scan(
		&item.ID,
		&item.SessionID,
		&item.User1ID,
		&item.User2ID,
		&item.RecordingPath,
		&title,
		&description,
		&price,
		&tags,
		&item.User1Status,
		&item.User2Status,
		&publishedPostID,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Title = stringPtr(title)
	item.Description = stringPtr(description)
	item.PublishedPostID = stringPtr(publishedPostID)
	if price.Valid {
		p := price.Float64
		item.Price = &p
	}
	if item.CategoryTags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	return item, nil
}

// CreatePendingItem inserts a consent item. It reports false, nil when the session already has one.
func (d *Database) CreatePendingItem(ctx context.Context, item *models.PendingItem) (bool, error) {
	tags, err := encodeTags(item.CategoryTags)
	if err != nil {
		return false, err
	}

	_, err = d.db.ExecContext(ctx, InsertPendingItemQuery,
		item.ID,
		item.SessionID,
		item.User1ID,
		item.User2ID,
		item.RecordingPath,
		tags,
		utc(item.CreatedAt),
		utc(item.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create pending item: %w", err)
	}
	return true, nil
}

func (d *Database) queryPendingItem(ctx context.Context, query string, args ...any) (*models.PendingItem, error) {
	item, err := scanPendingItem(d.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending item: %w", err)
	}
	return item, nil
}

// GetPendingItem returns nil, nil when the item does not exist.
func (d *Database) GetPendingItem(ctx context.Context, id string) (*models.PendingItem, error) {
	return d.queryPendingItem(ctx, SelectPendingItemByIDQuery, id)
}

// GetPendingItemBySession returns the single consent item of a session, if any.
func (d *Database) GetPendingItemBySession(ctx context.Context, sessionID string) (*models.PendingItem, error) {
	return d.queryPendingItem(ctx, SelectPendingItemBySessionQuery, sessionID)
}

// ListPendingItemsForUser returns the items where userID is either participant, newest first.
func (d *Database) ListPendingItemsForUser(ctx context.Context, userID string) ([]*models.PendingItem, error) {
	rows, err := d.db.QueryContext(ctx, SelectPendingItemsForUserQuery, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	defer rows.Close()

	items := []*models.PendingItem{}
	for rows.Next() {
		item, err := scanPendingItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ApplyPendingItemPatch writes only the columns present in patch, and only while the
// item is unpublished. It reports false when no unpublished item matched.
func (d *Database) ApplyPendingItemPatch(ctx context.Context, id string, patch models.PendingItemPatch, at time.Time) (bool, error) {
	var sets []string
	var args []any

	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Price != nil {
		sets = append(sets, "price = ?")
		args = append(args, *patch.Price)
	}
	if patch.CategoryTags != nil {
		tags, err := encodeTags(*patch.CategoryTags)
		if err != nil {
			return false, err
		}
		sets = append(sets, "category_tags = ?")
		args = append(args, tags)
	}
	if patch.User1Status != nil {
		sets = append(sets, "user1_status = ?")
		args = append(args, string(*patch.User1Status))
	}
	if patch.User2Status != nil {
		sets = append(sets, "user2_status = ?")
		args = append(args, string(*patch.User2Status))
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, utc(at), id)

	query := "UPDATE pending_items SET " + strings.Join(sets, ", ") + " WHERE id = ? AND published_post_id IS NULL"
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update pending item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read pending item update result: %w", err)
	}
	return n == 1, nil
}

// PublishPendingItem claims the item's published-post slot and inserts post in one
// transaction. It reports false, nil when another caller already published the item
// or the item is no longer dually approved.
func (d *Database) PublishPendingItem(ctx context.Context, itemID string, post *models.Post) (bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin publish transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, ClaimPublishQuery, post.ID, utc(post.CreatedAt), itemID)
	if err != nil {
		return false, fmt.Errorf("failed to claim pending item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := insertPost(ctx, tx, post); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit publish: %w", err)
	}
	return true, nil
}
