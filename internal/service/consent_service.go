package service

import (
	"context"
	"strconv"
	"time"

	"duet/internal/constants"
	"duet/internal/errors"
	"duet/internal/metrics"
	"duet/internal/models"
	"duet/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// publishWarning is surfaced when approvals were stored but the post could not be created.
const publishWarning = "both participants approved but the post could not be published yet; it will be retried on the next update"

// CreateItemInput describes the recording a consent item is created for.
type CreateItemInput struct {
	SessionID     string
	User1ID       string
	User2ID       string
	RecordingPath string
}

// UpdateResult is the outcome of UpdateItem.
type UpdateResult struct {
	Item           *models.PendingItem `json:"item"`
	Published      bool                `json:"published"`
	PublishWarning string              `json:"publishWarning,omitempty"`
}

// ConsentService runs the two-party approval workflow that turns a recording into a post.
type ConsentService struct {
	sessions SessionStore
	items    PendingItemStore
	posts    PostStore
	users    UserDirectory
	logger   *logrus.Logger
	now      func() time.Time
	newID    func() string
}

// NewConsentService creates a new consent service instance
func NewConsentService(sessions SessionStore, items PendingItemStore, posts PostStore, users UserDirectory, logger *logrus.Logger) *ConsentService {
	return &ConsentService{
		sessions: sessions,
		items:    items,
		posts:    posts,
		users:    users,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// CreateItem opens the consent record of a session. User1 owns the recording and edits metadata.
func (c *ConsentService) CreateItem(ctx context.Context, in CreateItemInput) (*models.PendingItem, error) {
	if err := validation.ValidateIdentifier("sessionId", in.SessionID); err != nil {
		return nil, err
	}
	if err := validation.ValidateIdentifier("user1Id", in.User1ID); err != nil {
		return nil, err
	}
	if err := validation.ValidateIdentifier("user2Id", in.User2ID); err != nil {
		return nil, err
	}
	if in.RecordingPath == "" {
		return nil, errors.NewMissingFieldError("recordingPath")
	}
	if in.User1ID == in.User2ID {
		return nil, errors.NewValidationError("user2Id", in.User2ID, "participants must be different users")
	}

	session, err := c.sessions.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, errors.NewDatabaseError("get session", err)
	}
	if session == nil {
		return nil, errors.NewNotFoundError("session", in.SessionID)
	}
	if session.ParticipantB == nil {
		return nil, errors.NewPreconditionError("session", in.SessionID, "session has no second participant")
	}
	if !session.HasParticipant(in.User1ID) || !session.HasParticipant(in.User2ID) {
		return nil, errors.NewForbiddenError("session", in.SessionID, "users are not the participants of this session")
	}

	now := c.now()
	item := &models.PendingItem{
		ID:            c.newID(),
		SessionID:     in.SessionID,
		User1ID:       in.User1ID,
		User2ID:       in.User2ID,
		RecordingPath: in.RecordingPath,
		CategoryTags:  []string{},
		User1Status:   models.ApprovalPending,
		User2Status:   models.ApprovalPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	created, err := c.items.CreatePendingItem(ctx, item)
	if err != nil {
		return nil, errors.NewDatabaseError("create pending item", err)
	}
	if !created {
		return nil, errors.NewPreconditionError("pending_item", in.SessionID, "a pending item already exists for this session")
	}

	metrics.IncrementCounter(metrics.ItemsCreated, nil, "Consent items created")
	c.logger.WithFields(logrus.Fields{
		LogFieldItemID:    item.ID,
		LogFieldSessionID: sessionField(ctx, in.SessionID),
		LogFieldUserID:    userField(ctx, in.User1ID),
	}).Info("Pending item created")
	return item, nil
}

// GetItem returns a consent item by id.
func (c *ConsentService) GetItem(ctx context.Context, itemID string) (*models.PendingItem, error) {
	if err := validation.ValidateIdentifier("itemId", itemID); err != nil {
		return nil, err
	}
	return c.loadItem(ctx, itemID)
}

func (c *ConsentService) loadItem(ctx context.Context, itemID string) (*models.PendingItem, error) {
	item, err := c.items.GetPendingItem(ctx, itemID)
	if err != nil {
		return nil, errors.NewDatabaseError("get pending item", err)
	}
	if item == nil {
		return nil, errors.NewNotFoundError("pending_item", itemID)
	}
	return item, nil
}

// GetItemBySession returns the single consent item of a session.
func (c *ConsentService) GetItemBySession(ctx context.Context, sessionID string) (*models.PendingItem, error) {
	if err := validation.ValidateIdentifier("sessionId", sessionID); err != nil {
		return nil, err
	}
	item, err := c.items.GetPendingItemBySession(ctx, sessionID)
	if err != nil {
		return nil, errors.NewDatabaseError("get pending item", err)
	}
	if item == nil {
		return nil, errors.NewNotFoundError("pending_item", sessionID)
	}
	return item, nil
}

// ListItemsForUser returns the items where userID is either participant, newest first.
func (c *ConsentService) ListItemsForUser(ctx context.Context, userID string) ([]*models.PendingItem, error) {
	if err := validation.ValidateIdentifier("userId", userID); err != nil {
		return nil, err
	}
	items, err := c.items.ListPendingItemsForUser(ctx, userID)
	if err != nil {
		return nil, errors.NewDatabaseError("list pending items", err)
	}
	if items == nil {
		items = []*models.PendingItem{}
	}
	return items, nil
}

// authorizePatch enforces that metadata and the first approval belong to User1 and the second
// approval to User2.
func authorizePatch(item *models.PendingItem, actorID string, patch models.PendingItemPatch) error {
	if !item.HasParticipant(actorID) {
		return errors.NewForbiddenError("pending_item", item.ID, "only the call participants may update this item")
	}
	if (patch.TouchesMetadata() || patch.User1Status != nil) && actorID != item.User1ID {
		return errors.NewForbiddenError("pending_item", item.ID, "only the recording owner may change these fields")
	}
	if patch.User2Status != nil && actorID != item.User2ID {
		return errors.NewForbiddenError("pending_item", item.ID, "only the other participant may set this approval")
	}
	return nil
}

// UpdateItem applies a partial update on behalf of actorID and publishes the item once
// both participants have approved. A failed publish keeps the update and is reported as a warning.
func (c *ConsentService) UpdateItem(ctx context.Context, itemID, actorID string, patch models.PendingItemPatch) (*UpdateResult, error) {
	if err := validation.ValidateIdentifier("itemId", itemID); err != nil {
		return nil, err
	}
	if err := validation.ValidateIdentifier("userId", actorID); err != nil {
		return nil, err
	}
	if err := validation.ValidateItemPatch(patch); err != nil {
		return nil, err
	}

	item, err := c.loadItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.IsPublished() {
		return nil, errors.NewPreconditionError("pending_item", itemID, "item has already been published")
	}
	if err := authorizePatch(item, actorID, patch); err != nil {
		return nil, err
	}

	applied, err := c.items.ApplyPendingItemPatch(ctx, itemID, patch, c.now())
	if err != nil {
		return nil, errors.NewDatabaseError("update pending item", err)
	}
	if !applied {
		return nil, errors.NewPreconditionError("pending_item", itemID, "item has already been published")
	}

	if item, err = c.loadItem(ctx, itemID); err != nil {
		return nil, err
	}

	result := &UpdateResult{Item: item}
	if item.BothApproved() && !item.IsPublished() {
		if err := c.publish(ctx, item); err != nil {
			metrics.IncrementCounter(metrics.PublishFailures, nil, "Post publications that failed after dual approval")
			c.logger.WithError(err).WithField(LogFieldItemID, itemID).Warn("Failed to publish approved item")
			result.PublishWarning = publishWarning
		}
	}
	result.Published = item.IsPublished()
	return result, nil
}

// publish creates the post of a dually approved item exactly once. When another caller
// published first, item is refreshed with their post id.
func (c *ConsentService) publish(ctx context.Context, item *models.PendingItem) error {
	post := buildPost(item, c.newID(), c.now())
	won, err := c.items.PublishPendingItem(ctx, item.ID, post)
	if err != nil {
		return err
	}
	if !won {
		current, err := c.loadItem(ctx, item.ID)
		if err != nil {
			return err
		}
		*item = *current
		return nil
	}

	item.PublishedPostID = &post.ID
	metrics.IncrementCounter(metrics.PostsPublished, nil, "Posts published from approved items")
	c.logger.WithFields(logrus.Fields{
		LogFieldItemID:    item.ID,
		LogFieldPostID:    post.ID,
		LogFieldSessionID: sessionField(ctx, item.SessionID),
	}).Info("Post published")
	return nil
}

// buildPost derives the post of an approved item. A missing price publishes as free.
func buildPost(item *models.PendingItem, id string, now time.Time) *models.Post {
	caption := constants.DefaultPostCaption
	if item.Title != nil && *item.Title != "" {
		caption = *item.Title
	}
	var price float64
	if item.Price != nil {
		price = *item.Price
	}
	split1, split2 := models.SplitRevenue(price)
	tags := item.CategoryTags
	if tags == nil {
		tags = []string{}
	}

	return &models.Post{
		ID:                id,
		UserID:            item.User1ID,
		Caption:           caption,
		Description:       item.Description,
		MediaURL:          item.RecordingPath,
		Price:             price,
		CategoryTags:      tags,
		TaggedUsers:       []string{item.User1ID, item.User2ID},
		RevenueSplitUser1: split1,
		RevenueSplitUser2: split2,
		SessionID:         item.SessionID,
		PendingItemID:     item.ID,
		User1Approved:     true,
		User2Approved:     true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// ProposeEdit opens a negotiated change to a published item. The proposer's approval is implied.
func (c *ConsentService) ProposeEdit(ctx context.Context, itemID, actorID, field, newValue string) (*models.ItemEdit, error) {
	if err := validation.ValidateIdentifier("itemId", itemID); err != nil {
		return nil, err
	}
	if err := validation.ValidateIdentifier("userId", actorID); err != nil {
		return nil, err
	}
	if err := validation.ValidateEditProposal(field, newValue); err != nil {
		return nil, err
	}

	item, err := c.loadItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.IsPublished() {
		return nil, errors.NewPreconditionError("pending_item", itemID, "only published items can be edited this way")
	}
	if !item.HasParticipant(actorID) {
		return nil, errors.NewForbiddenError("pending_item", itemID, "only the call participants may propose edits")
	}

	now := c.now()
	edit := &models.ItemEdit{
		ID:            c.newID(),
		PendingItemID: itemID,
		ProposedBy:    actorID,
		Field:         field,
		OldValue:      currentValue(item, field),
		NewValue:      newValue,
		User1Approved: actorID == item.User1ID,
		User2Approved: actorID == item.User2ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.items.CreateItemEdit(ctx, edit); err != nil {
		return nil, errors.NewDatabaseError("create item edit", err)
	}

	c.logger.WithFields(logrus.Fields{
		LogFieldItemID: itemID,
		LogFieldEditID: edit.ID,
		"field":        field,
	}).Info("Item edit proposed")
	return edit, nil
}

func currentValue(item *models.PendingItem, field string) *string {
	switch field {
	case models.EditFieldTitle:
		return item.Title
	case models.EditFieldDescription:
		return item.Description
	case models.EditFieldPrice:
		if item.Price != nil {
			v := strconv.FormatFloat(*item.Price, 'f', 2, 64)
			return &v
		}
	}
	return nil
}

// ApproveEdit records actorID's approval and applies the edit once both participants agree.
func (c *ConsentService) ApproveEdit(ctx context.Context, editID, actorID string) (*models.ItemEdit, error) {
	if err := validation.ValidateIdentifier("editId", editID); err != nil {
		return nil, err
	}
	if err := validation.ValidateIdentifier("userId", actorID); err != nil {
		return nil, err
	}

	edit, err := c.loadEdit(ctx, editID)
	if err != nil {
		return nil, err
	}
	if edit.Applied {
		return nil, errors.NewPreconditionError("item_edit", editID, "edit has already been applied")
	}

	item, err := c.loadItem(ctx, edit.PendingItemID)
	if err != nil {
		return nil, err
	}

	var slot int
	switch actorID {
	case item.User1ID:
		slot = 1
	case item.User2ID:
		slot = 2
	default:
		return nil, errors.NewForbiddenError("item_edit", editID, "only the call participants may approve edits")
	}

	now := c.now()
	if err := c.items.ApproveItemEdit(ctx, editID, slot, now); err != nil {
		return nil, errors.NewDatabaseError("approve item edit", err)
	}

	// The counterpart may have approved since the first read.
	if edit, err = c.loadEdit(ctx, editID); err != nil {
		return nil, err
	}
	if !edit.Applied && edit.User1Approved && edit.User2Approved && item.PublishedPostID != nil {
		applied, err := c.items.ApplyItemEdit(ctx, edit, *item.PublishedPostID, now)
		if err != nil {
			return nil, errors.NewDatabaseError("apply item edit", err)
		}
		if applied {
			metrics.IncrementCounter(metrics.EditsApplied, map[string]string{"field": edit.Field}, "Negotiated edits applied to posts")
			c.logger.WithFields(logrus.Fields{
				LogFieldEditID: editID,
				LogFieldPostID: *item.PublishedPostID,
			}).Info("Item edit applied")
		}
	}

	return c.loadEdit(ctx, editID)
}

func (c *ConsentService) loadEdit(ctx context.Context, editID string) (*models.ItemEdit, error) {
	edit, err := c.items.GetItemEdit(ctx, editID)
	if err != nil {
		return nil, errors.NewDatabaseError("get item edit", err)
	}
	if edit == nil {
		return nil, errors.NewNotFoundError("item_edit", editID)
	}
	return edit, nil
}

// ListEdits returns the proposed edits of an item, oldest first.
func (c *ConsentService) ListEdits(ctx context.Context, itemID string) ([]*models.ItemEdit, error) {
	if err := validation.ValidateIdentifier("itemId", itemID); err != nil {
		return nil, err
	}
	if _, err := c.loadItem(ctx, itemID); err != nil {
		return nil, err
	}
	edits, err := c.items.ListItemEdits(ctx, itemID)
	if err != nil {
		return nil, errors.NewDatabaseError("list item edits", err)
	}
	if edits == nil {
		edits = []*models.ItemEdit{}
	}
	return edits, nil
}

// GetPost returns a published post by id.
func (c *ConsentService) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	if err := validation.ValidateIdentifier("postId", postID); err != nil {
		return nil, err
	}
	post, err := c.posts.GetPost(ctx, postID)
	if err != nil {
		return nil, errors.NewDatabaseError("get post", err)
	}
	if post == nil {
		return nil, errors.NewNotFoundError("post", postID)
	}
	return post, nil
}

// ListTaggedPosts returns the posts tagging userID, each with its author's profile.
func (c *ConsentService) ListTaggedPosts(ctx context.Context, userID string) ([]*models.TaggedPost, error) {
	if err := validation.ValidateIdentifier("userId", userID); err != nil {
		return nil, err
	}
	posts, err := c.posts.ListPostsTaggingUser(ctx, userID)
	if err != nil {
		return nil, errors.NewDatabaseError("list tagged posts", err)
	}

	authors := make(map[string]*models.UserProfile)
	tagged := make([]*models.TaggedPost, 0, len(posts))
	for _, post := range posts {
		author, ok := authors[post.UserID]
		if !ok {
			author, err = c.users.GetUser(ctx, post.UserID)
			if err != nil {
				c.logger.WithError(err).WithField(LogFieldPostID, post.ID).Warn("Failed to load post author")
				author = nil
			}
			authors[post.UserID] = author
		}
		tagged = append(tagged, &models.TaggedPost{Post: *post, Author: author})
	}
	return tagged, nil
}
