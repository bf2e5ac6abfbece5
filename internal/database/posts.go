package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"duet/internal/models"
)

func insertPost(ctx context.Context, tx *sql.Tx, post *models.Post) error {
	tags, err := encodeTags(post.CategoryTags)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, InsertPostQuery,
		post.ID,
		post.UserID,
		post.Caption,
		nullString(post.Description),
		post.MediaURL,
		post.Price,
		tags,
		post.RevenueSplitUser1,
		post.RevenueSplitUser2,
		post.SessionID,
		post.PendingItemID,
		post.User1Approved,
		post.User2Approved,
		utc(post.CreatedAt),
		utc(post.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}

	for i, userID := range post.TaggedUsers {
		if _, err := tx.ExecContext(ctx, InsertPostTagQuery, post.ID, userID, i); err != nil {
			return fmt.Errorf("failed to tag post: %w", err)
		}
	}
	return nil
}

func scanPost(row rowScanner) (*models.Post, error) {
	var description sql.NullString
	var tags string
	p := &models.Post{}

	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Caption,
		&description,
		&p.MediaURL,
		&p.Price,
		&tags,
		&p.RevenueSplitUser1,
		&p.RevenueSplitUser2,
		&p.SessionID,
		&p.PendingItemID,
		&p.User1Approved,
		&p.User2Approved,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Description = stringPtr(description)
	if p.CategoryTags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *Database) loadPostTags(ctx context.Context, p *models.Post) error {
	rows, err := d.db.QueryContext(ctx, SelectPostTagsQuery, p.ID)
	if err != nil {
		return fmt.Errorf("failed to load post tags: %w", err)
	}
	defer rows.Close()

	p.TaggedUsers = []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return fmt.Errorf("failed to scan post tag: %w", err)
		}
		p.TaggedUsers = append(p.TaggedUsers, userID)
	}
	return rows.Err()
}

// GetPost returns nil, nil when the post does not exist.
func (d *Database) GetPost(ctx context.Context, id string) (*models.Post, error) {
	p, err := scanPost(d.db.QueryRowContext(ctx, SelectPostByIDQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	if err := d.loadPostTags(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListPostsTaggingUser returns posts whose tagged users include userID, newest first.
func (d *Database) ListPostsTaggingUser(ctx context.Context, userID string) ([]*models.Post, error) {
	rows, err := d.db.QueryContext(ctx, SelectPostsTaggingUserQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tagged posts: %w", err)
	}

	posts := []*models.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, p)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}

	// tags are loaded after the outer rows are released; sqlite runs on a single connection
	for _, p := range posts {
		if err := d.loadPostTags(ctx, p); err != nil {
			return nil, err
		}
	}
	return posts, nil
}
