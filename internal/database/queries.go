package database

const sessionColumns = `id, participant_a, participant_b, target_user_id, status, recording_path,
	recording_size, recording_duration, call_duration, created_at, updated_at`

// Session queries
const (
	InsertSessionQuery = `
		INSERT INTO sessions (
			id, participant_a, participant_b, target_user_id, status,
			recording_size, recording_duration, call_duration, created_at, updated_at
		) VALUES (?, ?, NULL, ?, 'waiting', 0, 0, 0, ?, ?)
	`

	SelectSessionByIDQuery = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	MatchSessionQuery = `
		UPDATE sessions
		SET participant_b = ?, status = 'active', updated_at = ?
		WHERE id = ? AND status = 'waiting' AND participant_b IS NULL
		  AND participant_a != ?
		  AND (target_user_id IS NULL OR target_user_id = ?)
	`

	EndSessionQuery = `
		UPDATE sessions
		SET status = 'ended',
		    call_duration = CASE WHEN ? > 0 THEN ? ELSE call_duration END,
		    updated_at = ?
		WHERE id = ? AND status != 'ended'
	`

	CancelWaitingSessionQuery = `
		UPDATE sessions SET status = 'ended', updated_at = ?
		WHERE id = ? AND status = 'waiting'
	`

	SelectOldestWaitingSessionQuery = `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE status = 'waiting' AND participant_a != ?
		  AND (target_user_id IS NULL OR target_user_id = ?)
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`

	SelectLinkedSessionQuery = `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE status IN ('waiting', 'active') AND (
			(participant_a = ? AND participant_b = ?) OR
			(participant_a = ? AND participant_b = ?) OR
			(status = 'waiting' AND participant_a = ? AND target_user_id = ?) OR
			(status = 'waiting' AND participant_a = ? AND target_user_id = ?)
		)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	SelectWaitingSessionsQuery = `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE status = 'waiting' AND target_user_id IS NULL
		ORDER BY created_at DESC, id DESC
	`

	UpdateSessionRecordingQuery = `
		UPDATE sessions
		SET recording_path = ?, recording_size = ?, recording_duration = ?, updated_at = ?
		WHERE id = ?
	`

	ExpireWaitingSessionsQuery = `
		UPDATE sessions SET status = 'ended', updated_at = ?
		WHERE status = 'waiting' AND created_at < ?
	`
)

// Signal queries
const (
	InsertSignalQuery = `
		INSERT INTO signals (session_id, from_user_id, to_user_id, kind, payload, processed, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`

	SelectUnprocessedSignalsQuery = `
		SELECT id, session_id, from_user_id, to_user_id, kind, payload, processed, created_at
		FROM signals
		WHERE session_id = ? AND to_user_id = ? AND processed = 0
		ORDER BY created_at ASC, id ASC
	`

	MarkSignalProcessedQuery = `UPDATE signals SET processed = 1 WHERE id = ?`

	DeleteSessionSignalsQuery = `DELETE FROM signals WHERE session_id = ?`

	DeleteSignalsOfEndedSessionsQuery = `
		DELETE FROM signals
		WHERE session_id IN (SELECT id FROM sessions WHERE status = 'ended' AND updated_at < ?)
	`
)

// Message queries
const (
	InsertMessageQuery = `
		INSERT INTO messages (session_id, from_user_id, to_user_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	SelectRecentMessagesQuery = `
		SELECT id, session_id, from_user_id, to_user_id, content, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	DeleteSessionMessagesQuery = `DELETE FROM messages WHERE session_id = ?`
)

const pendingItemColumns = `id, session_id, user1_id, user2_id, recording_path, title, description,
	price, category_tags, user1_status, user2_status, published_post_id, created_at, updated_at`

// Pending item queries
const (
	InsertPendingItemQuery = `
		INSERT INTO pending_items (
			id, session_id, user1_id, user2_id, recording_path, category_tags,
			user1_status, user2_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 'pending', 'pending', ?, ?)
	`

	SelectPendingItemByIDQuery = `SELECT ` + pendingItemColumns + ` FROM pending_items WHERE id = ?`

	SelectPendingItemBySessionQuery = `SELECT ` + pendingItemColumns + ` FROM pending_items WHERE session_id = ?`

	SelectPendingItemsForUserQuery = `
		SELECT ` + pendingItemColumns + ` FROM pending_items
		WHERE user1_id = ? OR user2_id = ?
		ORDER BY created_at DESC, id DESC
	`

	// ClaimPublishQuery is the compare-and-set that lets exactly one caller publish an item.
	ClaimPublishQuery = `
		UPDATE pending_items SET published_post_id = ?, updated_at = ?
		WHERE id = ? AND published_post_id IS NULL
		  AND user1_status = 'approved' AND user2_status = 'approved'
	`
)

const postColumns = `id, user_id, caption, description, media_url, price, category_tags,
	revenue_split_user1, revenue_split_user2, session_id, pending_item_id,
	user1_approved, user2_approved, created_at, updated_at`

// Post queries
const (
	InsertPostQuery = `
		INSERT INTO posts (` + postColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	InsertPostTagQuery = `INSERT INTO post_tags (post_id, user_id, position) VALUES (?, ?, ?)`

	SelectPostByIDQuery = `SELECT ` + postColumns + ` FROM posts WHERE id = ?`

	SelectPostTagsQuery = `SELECT user_id FROM post_tags WHERE post_id = ? ORDER BY position ASC`

	SelectPostsTaggingUserQuery = `
		SELECT ` + postColumns + ` FROM posts
		WHERE id IN (SELECT post_id FROM post_tags WHERE user_id = ?)
		ORDER BY created_at DESC, id DESC
	`
)

// Item edit queries
const (
	InsertItemEditQuery = `
		INSERT INTO item_edits (
			id, pending_item_id, proposed_by, field, old_value, new_value,
			user1_approved, user2_approved, applied, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`

	itemEditColumns = `id, pending_item_id, proposed_by, field, old_value, new_value,
		user1_approved, user2_approved, applied, created_at, updated_at`

	SelectItemEditByIDQuery = `SELECT ` + itemEditColumns + ` FROM item_edits WHERE id = ?`

	SelectItemEditsForItemQuery = `
		SELECT ` + itemEditColumns + ` FROM item_edits
		WHERE pending_item_id = ?
		ORDER BY created_at ASC, id ASC
	`

	ApproveItemEditUser1Query = `UPDATE item_edits SET user1_approved = 1, updated_at = ? WHERE id = ? AND applied = 0`
	ApproveItemEditUser2Query = `UPDATE item_edits SET user2_approved = 1, updated_at = ? WHERE id = ? AND applied = 0`

	ClaimItemEditQuery = `
		UPDATE item_edits SET applied = 1, updated_at = ?
		WHERE id = ? AND applied = 0 AND user1_approved = 1 AND user2_approved = 1
	`
)

// User directory queries
const (
	userColumns = `id, username, display_name, first_name, last_name, bio`

	SelectUserByIDQuery       = `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	SelectUserByUsernameQuery = `SELECT ` + userColumns + ` FROM users WHERE username = ?`

	UpdateUserQuery = `
		UPDATE users SET username = ?, display_name = ?, first_name = ?, last_name = ?, bio = ?
		WHERE id = ?
	`
	InsertUserQuery = `
		INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?)
	`
)
