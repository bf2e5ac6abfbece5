package integration

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"duet/internal/errors"
	"duet/internal/models"
	"duet/pkg/client"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordedCall pairs alice and bob, ends the call and uploads a recording.
func (env *TestEnvironment) recordedCall(t *testing.T, api *client.Client) (string, *client.StoredRecording) {
	t.Helper()
	ctx := context.Background()
	sessionID := env.activeSession(t, api)
	require.NoError(t, api.EndSession(ctx, sessionID, 42))

	stored, err := api.UploadRecording(ctx, sessionID, "call.webm", 42, bytes.NewReader(env.fixtures.Recording()))
	require.NoError(t, err)
	return sessionID, stored
}

func TestConsent_OneItemPerSession(t *testing.T) {
	env := NewTestEnvironment(t, "consent_once")
	api := env.Client()
	ctx := context.Background()
	alice, bob := env.fixtures.UserID("alice"), env.fixtures.UserID("bob")
	sessionID, stored := env.recordedCall(t, api)

	item, err := api.CreateItem(ctx, sessionID, alice, bob, stored.RecordingPath)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, item.User1Status)
	assert.Equal(t, models.ApprovalPending, item.User2Status)

	_, err = api.CreateItem(ctx, sessionID, bob, alice, stored.RecordingPath)
	require.Error(t, err)
	assert.True(t, client.HasCode(err, errors.ErrCodePreconditionFailed), "%v", err)

	bySession, err := api.GetItemBySession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, bySession.ID)
	assert.Equal(t, alice, bySession.User1ID, "first creator owns the item")
}

func TestConsent_DualApprovalPublishes(t *testing.T) {
	env := NewTestEnvironment(t, "consent_publish")
	api := env.Client()
	ctx := context.Background()
	alice, bob := env.fixtures.UserID("alice"), env.fixtures.UserID("bob")
	sessionID, stored := env.recordedCall(t, api)

	resp, err := http.Get(env.httpServer.URL + stored.RecordingPath)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, env.fixtures.Recording(), body)

	item, err := api.CreateItem(ctx, sessionID, alice, bob, stored.RecordingPath)
	require.NoError(t, err)

	meta := env.fixtures.Metadata()
	approved := models.ApprovalApproved

	_, err = api.UpdateItem(ctx, item.ID, client.ItemUpdate{UserID: bob, Title: &meta.Title})
	assert.True(t, client.HasCode(err, errors.ErrCodeForbidden), "only the owner edits metadata: %v", err)

	first, err := api.UpdateItem(ctx, item.ID, client.ItemUpdate{
		UserID:       alice,
		Title:        &meta.Title,
		Description:  &meta.Description,
		Price:        &meta.Price,
		CategoryTags: &meta.Tags,
		User1Status:  &approved,
	})
	require.NoError(t, err)
	assert.False(t, first.Published)
	assert.Nil(t, first.Item.PublishedPostID)

	second, err := api.UpdateItem(ctx, item.ID, client.ItemUpdate{UserID: bob, User2Status: &approved})
	require.NoError(t, err)
	require.True(t, second.Published)
	assert.Empty(t, second.PublishWarning)
	require.NotNil(t, second.Item.PublishedPostID)

	post, err := api.GetPost(ctx, *second.Item.PublishedPostID)
	require.NoError(t, err)
	assert.Equal(t, "Sunset Call", post.Caption)
	assert.Equal(t, alice, post.UserID)
	assert.Equal(t, stored.RecordingPath, post.MediaURL)
	assert.InDelta(t, 10.0, post.Price, 1e-9)
	assert.InDelta(t, 5.0, post.RevenueSplitUser1, 1e-9)
	assert.InDelta(t, 5.0, post.RevenueSplitUser2, 1e-9)
	assert.ElementsMatch(t, []string{"sunset", "chat"}, post.CategoryTags)

	tagged, err := api.ListTaggedPosts(ctx, bob)
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	require.NotNil(t, tagged[0].Author)
	assert.Equal(t, "alice", tagged[0].Author.Username)

	_, err = api.UpdateItem(ctx, item.ID, client.ItemUpdate{UserID: alice, Title: &meta.Title})
	assert.True(t, client.HasCode(err, errors.ErrCodePreconditionFailed), "published items are frozen: %v", err)
}

func TestConsent_EditAfterPublish(t *testing.T) {
	env := NewTestEnvironment(t, "consent_edit")
	api := env.Client()
	ctx := context.Background()
	alice, bob := env.fixtures.UserID("alice"), env.fixtures.UserID("bob")
	sessionID, stored := env.recordedCall(t, api)

	item, err := api.CreateItem(ctx, sessionID, alice, bob, stored.RecordingPath)
	require.NoError(t, err)
	approved := models.ApprovalApproved
	price := 10.0
	_, err = api.UpdateItem(ctx, item.ID, client.ItemUpdate{UserID: alice, Price: &price, User1Status: &approved})
	require.NoError(t, err)
	published, err := api.UpdateItem(ctx, item.ID, client.ItemUpdate{UserID: bob, User2Status: &approved})
	require.NoError(t, err)
	require.True(t, published.Published)

	edit, err := api.ProposeEdit(ctx, item.ID, bob, "price", "20")
	require.NoError(t, err)
	assert.False(t, edit.Applied)

	_, err = api.ApproveEdit(ctx, edit.ID, env.fixtures.UserID("carol"))
	assert.True(t, client.HasCode(err, errors.ErrCodeForbidden), "%v", err)

	applied, err := api.ApproveEdit(ctx, edit.ID, alice)
	require.NoError(t, err)
	assert.True(t, applied.Applied)

	edits, err := api.ListEdits(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, edits, 1)

	post, err := api.GetPost(ctx, *published.Item.PublishedPostID)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, post.Price, 1e-9)
	assert.InDelta(t, 10.0, post.RevenueSplitUser1, 1e-9)
	assert.InDelta(t, 10.0, post.RevenueSplitUser2, 1e-9)

	items, err := api.ListItemsForUser(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
