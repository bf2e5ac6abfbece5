package database

import (
	"context"
	"fmt"
	"slices"

	"duet/internal/models"
)

// SaveMessage stores a chat line and sets its id.
func (d *Database) SaveMessage(ctx context.Context, m *models.Message) error {
	content, err := d.encryptor.Encrypt(m.Content)
	if err != nil {
		return fmt.Errorf("failed to encrypt message content: %w", err)
	}

	res, err := d.db.ExecContext(ctx, InsertMessageQuery,
		m.SessionID,
		m.FromUserID,
		m.ToUserID,
		content,
		utc(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read message id: %w", err)
	}
	m.ID = id
	return nil
}

// RecentMessages returns the newest limit messages of a session in chronological order.
func (d *Database) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	rows, err := d.db.QueryContext(ctx, SelectRecentMessagesQuery, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := &models.Message{}
		var content string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.FromUserID, &m.ToUserID, &content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if m.Content, err = d.encryptor.Decrypt(content); err != nil {
			return nil, fmt.Errorf("failed to decrypt message content: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	slices.Reverse(messages)
	return messages, nil
}

// DeleteSessionMessages removes every chat line of a session.
func (d *Database) DeleteSessionMessages(ctx context.Context, sessionID string) (int64, error) {
	res, err := d.db.ExecContext(ctx, DeleteSessionMessagesQuery, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge messages: %w", err)
	}
	return res.RowsAffected()
}
