package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"duet/internal/models"
)

func scanItemEdit(row rowScanner) (*models.ItemEdit, error) {
	var oldValue sql.NullString
	e := &models.ItemEdit{}
	err := row.Scan(
		&e.ID,
		&e.PendingItemID,
		&e.ProposedBy,
		&e.Field,
		&oldValue,
		&e.NewValue,
		&e.User1Approved,
		&e.User2Approved,
		&e.Applied,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.OldValue = stringPtr(oldValue)
	return e, nil
}

// CreateItemEdit stores a proposed change.
func (d *Database) CreateItemEdit(ctx context.Context, e *models.ItemEdit) error {
	_, err := d.db.ExecContext(ctx, InsertItemEditQuery,
		e.ID,
		e.PendingItemID,
		e.ProposedBy,
		e.Field,
		nullString(e.OldValue),
		e.NewValue,
		e.User1Approved,
		e.User2Approved,
		utc(e.CreatedAt),
		utc(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create item edit: %w", err)
	}
	return nil
}

// GetItemEdit returns nil, nil when the edit does not exist.
func (d *Database) GetItemEdit(ctx context.Context, id string) (*models.ItemEdit, error) {
	e, err := scanItemEdit(d.db.QueryRowContext(ctx, SelectItemEditByIDQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item edit: %w", err)
	}
	return e, nil
}

// ListItemEdits returns the edits proposed for an item, oldest first.
func (d *Database) ListItemEdits(ctx context.Context, itemID string) ([]*models.ItemEdit, error) {
	rows, err := d.db.QueryContext(ctx, SelectItemEditsForItemQuery, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list item edits: %w", err)
	}
	defer rows.Close()

	edits := []*models.ItemEdit{}
	for rows.Next() {
		e, err := scanItemEdit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item edit: %w", err)
		}
		edits = append(edits, e)
	}
	return edits, rows.Err()
}

// ApproveItemEdit records approval for participant slot 1 or 2 of an unapplied edit.
func (d *Database) ApproveItemEdit(ctx context.Context, id string, slot int, at time.Time) error {
	query := ApproveItemEditUser1Query
	if slot == 2 {
		query = ApproveItemEditUser2Query
	} else if slot != 1 {
		return fmt.Errorf("invalid participant slot %d", slot)
	}

	if _, err := d.db.ExecContext(ctx, query, utc(at), id); err != nil {
		return fmt.Errorf("failed to approve item edit: %w", err)
	}
	return nil
}

// ApplyItemEdit marks a dually approved edit applied and writes its value to the
// item and the published post in one transaction. It reports false when the edit was
// already applied or is not yet dually approved.
func (d *Database) ApplyItemEdit(ctx context.Context, edit *models.ItemEdit, postID string, at time.Time) (bool, error) {
	var itemQuery, postQuery string
	var itemArgs, postArgs []any

	switch edit.Field {
	case models.EditFieldTitle:
		itemQuery = `UPDATE pending_items SET title = ?, updated_at = ? WHERE id = ?`
		postQuery = `UPDATE posts SET caption = ?, updated_at = ? WHERE id = ?`
		itemArgs = []any{edit.NewValue, utc(at), edit.PendingItemID}
		postArgs = []any{edit.NewValue, utc(at), postID}
	case models.EditFieldDescription:
		itemQuery = `UPDATE pending_items SET description = ?, updated_at = ? WHERE id = ?`
		postQuery = `UPDATE posts SET description = ?, updated_at = ? WHERE id = ?`
		itemArgs = []any{edit.NewValue, utc(at), edit.PendingItemID}
		postArgs = []any{edit.NewValue, utc(at), postID}
	case models.EditFieldPrice:
		price, err := strconv.ParseFloat(edit.NewValue, 64)
		if err != nil {
			return false, fmt.Errorf("invalid price in edit: %w", err)
		}
		split1, split2 := models.SplitRevenue(price)
		itemQuery = `UPDATE pending_items SET price = ?, updated_at = ? WHERE id = ?`
		postQuery = `UPDATE posts SET price = ?, revenue_split_user1 = ?, revenue_split_user2 = ?, updated_at = ? WHERE id = ?`
		itemArgs = []any{price, utc(at), edit.PendingItemID}
		postArgs = []any{price, split1, split2, utc(at), postID}
	default:
		return false, fmt.Errorf("unsupported edit field %q", edit.Field)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin edit transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, ClaimItemEditQuery, utc(at), edit.ID)
	if err != nil {
		return false, fmt.Errorf("failed to claim item edit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, itemQuery, itemArgs...); err != nil {
		return false, fmt.Errorf("failed to apply edit to item: %w", err)
	}
	if _, err := tx.ExecContext(ctx, postQuery, postArgs...); err != nil {
		return false, fmt.Errorf("failed to apply edit to post: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit edit: %w", err)
	}
	return true, nil
}
