package service

import (
	"context"
	"sync"
	"testing"

	"duet/internal/errors"
	"duet/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func endedCall(t *testing.T, s *services) *models.Session {
	t.Helper()
	session := activeSession(t, s, "u1", "u2")
	require.NoError(t, s.sessions.End(context.Background(), session.ID, 60))
	return session
}

func createItem(t *testing.T, s *services, session *models.Session) *models.PendingItem {
	t.Helper()
	item, err := s.consent.CreateItem(context.Background(), CreateItemInput{
		SessionID:     session.ID,
		User1ID:       "u1",
		User2ID:       "u2",
		RecordingPath: "/recordings/abc.webm",
	})
	require.NoError(t, err)
	return item
}

func publishedItem(t *testing.T, s *services) *models.PendingItem {
	t.Helper()
	ctx := context.Background()
	item := createItem(t, s, endedCall(t, s))
	price := 10.0
	_, err := s.consent.UpdateItem(ctx, item.ID, "u1", models.PendingItemPatch{
		Title:       strPtr("Sunset Call"),
		Price:       &price,
		User1Status: statusPtr(models.ApprovalApproved),
	})
	require.NoError(t, err)
	res, err := s.consent.UpdateItem(ctx, item.ID, "u2", models.PendingItemPatch{User2Status: statusPtr(models.ApprovalApproved)})
	require.NoError(t, err)
	require.True(t, res.Published)
	return res.Item
}

func TestConsentService_CreateItemOncePerSession(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	session := endedCall(t, s)

	item := createItem(t, s, session)
	assert.Equal(t, models.ApprovalPending, item.User1Status)
	assert.Equal(t, models.ApprovalPending, item.User2Status)
	assert.Nil(t, item.PublishedPostID)

	_, err := s.consent.CreateItem(ctx, CreateItemInput{SessionID: session.ID, User1ID: "u2", User2ID: "u1", RecordingPath: "/recordings/other.webm"})
	assert.True(t, errors.HasCode(err, errors.ErrCodePreconditionFailed))

	bySession, err := s.consent.GetItemBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, bySession.ID)
}

func TestConsentService_CreateItemChecksParticipants(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	session := endedCall(t, s)

	_, err := s.consent.CreateItem(ctx, CreateItemInput{SessionID: session.ID, User1ID: "u1", User2ID: "u3", RecordingPath: "/r.webm"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeForbidden))

	_, err = s.consent.CreateItem(ctx, CreateItemInput{SessionID: session.ID, User1ID: "u1", User2ID: "u1", RecordingPath: "/r.webm"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))

	_, err = s.consent.CreateItem(ctx, CreateItemInput{SessionID: "missing", User1ID: "u1", User2ID: "u2", RecordingPath: "/r.webm"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	_, err = s.consent.CreateItem(ctx, CreateItemInput{SessionID: session.ID, User1ID: "u1", User2ID: "u2"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	waiting, err := s.sessions.Create(ctx, "u1")
	require.NoError(t, err)
	_, err = s.consent.CreateItem(ctx, CreateItemInput{SessionID: waiting.ID, User1ID: "u1", User2ID: "u2", RecordingPath: "/r.webm"})
	assert.True(t, errors.HasCode(err, errors.ErrCodePreconditionFailed))
}

func TestConsentService_DualApprovalPublishes(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	item := createItem(t, s, endedCall(t, s))

	price := 10.0
	first, err := s.consent.UpdateItem(ctx, item.ID, "u1", models.PendingItemPatch{
		Title:       strPtr("Sunset Call"),
		Price:       &price,
		User1Status: statusPtr(models.ApprovalApproved),
	})
	require.NoError(t, err)
	assert.False(t, first.Published)
	assert.Nil(t, first.Item.PublishedPostID)

	second, err := s.consent.UpdateItem(ctx, item.ID, "u2", models.PendingItemPatch{User2Status: statusPtr(models.ApprovalApproved)})
	require.NoError(t, err)
	assert.True(t, second.Published)
	assert.Empty(t, second.PublishWarning)
	require.NotNil(t, second.Item.PublishedPostID)

	post, err := s.consent.GetPost(ctx, *second.Item.PublishedPostID)
	require.NoError(t, err)
	assert.Equal(t, "Sunset Call", post.Caption)
	assert.Equal(t, 10.0, post.Price)
	assert.Equal(t, 5.0, post.RevenueSplitUser1)
	assert.Equal(t, 5.0, post.RevenueSplitUser2)
	assert.ElementsMatch(t, []string{"u1", "u2"}, post.TaggedUsers)
	assert.Equal(t, "/recordings/abc.webm", post.MediaURL)
	assert.True(t, post.User1Approved)
	assert.True(t, post.User2Approved)

	_, err = s.consent.UpdateItem(ctx, item.ID, "u1", models.PendingItemPatch{Title: strPtr("Changed")})
	assert.True(t, errors.HasCode(err, errors.ErrCodePreconditionFailed))
}

func TestConsentService_DefaultsOnPublish(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	item := createItem(t, s, endedCall(t, s))

	_, err := s.consent.UpdateItem(ctx, item.ID, "u1", models.PendingItemPatch{User1Status: statusPtr(models.ApprovalApproved)})
	require.NoError(t, err)
	res, err := s.consent.UpdateItem(ctx, item.ID, "u2", models.PendingItemPatch{User2Status: statusPtr(models.ApprovalApproved)})
	require.NoError(t, err)
	require.True(t, res.Published)

	post, err := s.consent.GetPost(ctx, *res.Item.PublishedPostID)
	require.NoError(t, err)
	assert.Equal(t, "Untitled Recording", post.Caption)
	assert.Zero(t, post.Price)
	assert.Zero(t, post.RevenueSplitUser1+post.RevenueSplitUser2)
}

func TestConsentService_UpdatePermissions(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	item := createItem(t, s, endedCall(t, s))

	tests := []struct {
		name  string
		actor string
		patch models.PendingItemPatch
		code  errors.ErrorCode
	}{
		{"counterpart edits title", "u2", models.PendingItemPatch{Title: strPtr("mine")}, errors.ErrCodeForbidden},
		{"counterpart sets owner approval", "u2", models.PendingItemPatch{User1Status: statusPtr(models.ApprovalApproved)}, errors.ErrCodeForbidden},
		{"owner sets counterpart approval", "u1", models.PendingItemPatch{User2Status: statusPtr(models.ApprovalApproved)}, errors.ErrCodeForbidden},
		{"stranger", "u3", models.PendingItemPatch{User2Status: statusPtr(models.ApprovalRejected)}, errors.ErrCodeForbidden},
		{"empty patch", "u1", models.PendingItemPatch{}, errors.ErrCodeInvalidInput},
		{"invalid status", "u2", models.PendingItemPatch{User2Status: statusPtr("maybe")}, errors.ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.consent.UpdateItem(ctx, item.ID, tt.actor, tt.patch)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}

	_, err := s.consent.UpdateItem(ctx, "missing", "u1", models.PendingItemPatch{Title: strPtr("x")})
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	res, err := s.consent.UpdateItem(ctx, item.ID, "u2", models.PendingItemPatch{User2Status: statusPtr(models.ApprovalRejected)})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, res.Item.User2Status)
}

func TestConsentService_ConcurrentApprovalsPublishOnce(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	item := createItem(t, s, endedCall(t, s))

	_, err := s.consent.UpdateItem(ctx, item.ID, "u1", models.PendingItemPatch{User1Status: statusPtr(models.ApprovalApproved)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, actor := range []string{"u1", "u2", "u2", "u1"} {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			patch := models.PendingItemPatch{User1Status: statusPtr(models.ApprovalApproved)}
			if actor == "u2" {
				patch = models.PendingItemPatch{User2Status: statusPtr(models.ApprovalApproved)}
			}
			_, _ = s.consent.UpdateItem(ctx, item.ID, actor, patch)
		}(actor)
	}
	wg.Wait()

	got, err := s.consent.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PublishedPostID)

	posts, err := s.consent.ListTaggedPosts(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

func TestConsentService_PublishFailureKeepsApproval(t *testing.T) {
	store := &mockStore{}
	svc := NewConsentService(store, store, store, store, quietLogger())
	ctx := context.Background()

	before := &models.PendingItem{ID: "i1", SessionID: "s1", User1ID: "u1", User2ID: "u2",
		User1Status: models.ApprovalApproved, User2Status: models.ApprovalPending}
	after := *before
	after.User2Status = models.ApprovalApproved

	store.On("GetPendingItem", ctx, "i1").Return(before, nil).Once()
	store.On("ApplyPendingItemPatch", ctx, "i1", mock.Anything, mock.Anything).Return(true, nil)
	store.On("GetPendingItem", ctx, "i1").Return(&after, nil).Once()
	store.On("PublishPendingItem", ctx, "i1", mock.AnythingOfType("*models.Post")).Return(false, assert.AnError)

	res, err := svc.UpdateItem(ctx, "i1", "u2", models.PendingItemPatch{User2Status: statusPtr(models.ApprovalApproved)})
	require.NoError(t, err)
	assert.False(t, res.Published)
	assert.NotEmpty(t, res.PublishWarning)
	assert.Equal(t, models.ApprovalApproved, res.Item.User2Status)
	store.AssertExpectations(t)
}

func TestConsentService_ListItemsForUser(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	item := createItem(t, s, endedCall(t, s))

	for _, user := range []string{"u1", "u2"} {
		items, err := s.consent.ListItemsForUser(ctx, user)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, item.ID, items[0].ID)
	}

	none, err := s.consent.ListItemsForUser(ctx, "u9")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestConsentService_TaggedPostsCarryAuthor(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	seedUser(t, s.db, "u1", "alice")
	item := publishedItem(t, s)

	posts, err := s.consent.ListTaggedPosts(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, *item.PublishedPostID, posts[0].ID)
	require.NotNil(t, posts[0].Author)
	assert.Equal(t, "alice", posts[0].Author.Username)
}

func TestConsentService_EditNegotiation(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()

	unpublished := createItem(t, s, endedCall(t, s))
	_, err := s.consent.ProposeEdit(ctx, unpublished.ID, "u1", models.EditFieldTitle, "New")
	assert.True(t, errors.HasCode(err, errors.ErrCodePreconditionFailed))

	item := publishedItem(t, s)

	_, err = s.consent.ProposeEdit(ctx, item.ID, "u3", models.EditFieldPrice, "20")
	assert.True(t, errors.HasCode(err, errors.ErrCodeForbidden))
	_, err = s.consent.ProposeEdit(ctx, item.ID, "u2", "user1_status", "approved")
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))

	edit, err := s.consent.ProposeEdit(ctx, item.ID, "u2", models.EditFieldPrice, "20")
	require.NoError(t, err)
	assert.True(t, edit.User2Approved)
	assert.False(t, edit.User1Approved)
	require.NotNil(t, edit.OldValue)
	assert.Equal(t, "10.00", *edit.OldValue)

	_, err = s.consent.ApproveEdit(ctx, edit.ID, "u3")
	assert.True(t, errors.HasCode(err, errors.ErrCodeForbidden))

	approved, err := s.consent.ApproveEdit(ctx, edit.ID, "u1")
	require.NoError(t, err)
	assert.True(t, approved.Applied)

	post, err := s.consent.GetPost(ctx, *item.PublishedPostID)
	require.NoError(t, err)
	assert.Equal(t, 20.0, post.Price)
	assert.Equal(t, 10.0, post.RevenueSplitUser1)
	assert.Equal(t, 10.0, post.RevenueSplitUser2)

	_, err = s.consent.ApproveEdit(ctx, edit.ID, "u2")
	assert.True(t, errors.HasCode(err, errors.ErrCodePreconditionFailed))

	edits, err := s.consent.ListEdits(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, edits, 1)
}

func TestConsentService_ApproveEditSeesConcurrentApproval(t *testing.T) {
	store := &mockStore{}
	svc := NewConsentService(store, store, store, store, quietLogger())
	ctx := context.Background()

	postID := "p1"
	item := &models.PendingItem{ID: "i1", User1ID: "u1", User2ID: "u2", PublishedPostID: &postID}
	stale := &models.ItemEdit{ID: "e1", PendingItemID: "i1", Field: models.EditFieldTitle, NewValue: "New"}
	both := *stale
	both.User1Approved, both.User2Approved = true, true
	applied := both
	applied.Applied = true

	store.On("GetItemEdit", ctx, "e1").Return(stale, nil).Once()
	store.On("GetPendingItem", ctx, "i1").Return(item, nil)
	store.On("ApproveItemEdit", ctx, "e1", 1, mock.Anything).Return(nil)
	store.On("GetItemEdit", ctx, "e1").Return(&both, nil).Once()
	store.On("ApplyItemEdit", ctx, &both, "p1", mock.Anything).Return(true, nil).Once()
	store.On("GetItemEdit", ctx, "e1").Return(&applied, nil).Once()

	res, err := svc.ApproveEdit(ctx, "e1", "u1")
	require.NoError(t, err)
	assert.True(t, res.Applied)
	store.AssertExpectations(t)
}
