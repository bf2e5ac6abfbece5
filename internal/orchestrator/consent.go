package orchestrator

import (
	"context"
	"fmt"
	"time"

	"duet/internal/errors"
	"duet/internal/models"
	"duet/internal/service"
	"duet/pkg/client"

	"github.com/sirupsen/logrus"
)

// settle uploads the recording and drives this client's side of the consent item.
// The first client to create the item owns it; the other reviews it.
func (o *Orchestrator) settle(ctx context.Context, call Call, rec *Recording) error {
	if o.consent == nil {
		if rec != nil && rec.Data != nil {
			_ = rec.Data.Close()
		}
		return nil
	}
	o.setState(StateConsent)

	var item *models.PendingItem
	if rec != nil {
		created, err := o.submit(ctx, call, rec)
		if err != nil {
			return err
		}
		item = created
	}

	if item == nil {
		if call.StartedAt.IsZero() {
			return nil
		}
		found, err := o.awaitItem(ctx, call.SessionID)
		if err != nil {
			return err
		}
		if found == nil {
			o.logger.WithField(service.LogFieldSessionID, o.sessionField(call.SessionID)).Info("No recording to settle")
			return nil
		}
		item = found
	}

	var update client.ItemUpdate
	switch o.opts.UserID {
	case item.User1ID:
		meta, approve, err := o.consent.Metadata(ctx, item)
		if err != nil {
			return fmt.Errorf("failed to collect metadata: %w", err)
		}
		update = ownerUpdate(o.opts.UserID, meta, approve)
	case item.User2ID:
		approve, err := o.consent.Review(ctx, item)
		if err != nil {
			return fmt.Errorf("failed to collect review: %w", err)
		}
		status := decision(approve)
		update = client.ItemUpdate{UserID: o.opts.UserID, User2Status: &status}
	default:
		return fmt.Errorf("user is not a participant of item %s", item.ID)
	}

	res, err := o.api.UpdateItem(ctx, item.ID, update)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	if res.PublishWarning != "" {
		o.logger.WithField(service.LogFieldItemID, item.ID).Warn(res.PublishWarning)
	}
	o.logger.WithFields(logrus.Fields{
		service.LogFieldItemID: item.ID,
		"published":            res.Published,
	}).Info("Consent submitted")
	o.consent.Settled(res.Item, res.Published)
	return nil
}

// submit uploads rec and tries to become the owner of the session's item. It returns
// nil without error when the counterpart created the item first.
func (o *Orchestrator) submit(ctx context.Context, call Call, rec *Recording) (*models.PendingItem, error) {
	defer rec.Data.Close()

	stored, err := o.api.UploadRecording(ctx, call.SessionID, rec.Filename, rec.Duration, rec.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to upload recording: %w", err)
	}

	item, err := o.api.CreateItem(ctx, call.SessionID, o.opts.UserID, call.CounterpartID, stored.RecordingPath)
	if client.HasCode(err, errors.ErrCodePreconditionFailed) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return item, nil
}

// awaitItem polls for the session's item until it appears or the consent timeout passes.
func (o *Orchestrator) awaitItem(parent context.Context, sessionID string) (*models.PendingItem, error) {
	ctx, cancel := context.WithTimeout(parent, o.opts.ConsentTimeout)
	defer cancel()

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		item, err := o.api.GetItemBySession(ctx, sessionID)
		switch {
		case err == nil:
			return item, nil
		case client.HasCode(err, errors.ErrCodeNotFound):
		case ctx.Err() == nil:
			o.logger.WithError(err).Debug("Item poll failed")
		}

		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				return nil, parent.Err()
			}
			return nil, nil
		case <-ticker.C:
		}
	}
}

func ownerUpdate(userID string, meta Metadata, approve bool) client.ItemUpdate {
	status := decision(approve)
	update := client.ItemUpdate{UserID: userID, User1Status: &status}
	if !approve {
		return update
	}
	if meta.Title != "" {
		update.Title = &meta.Title
	}
	if meta.Description != "" {
		update.Description = &meta.Description
	}
	update.Price = &meta.Price
	if meta.Tags != nil {
		tags := meta.Tags
		update.CategoryTags = &tags
	}
	return update
}

func decision(approve bool) models.ApprovalStatus {
	if approve {
		return models.ApprovalApproved
	}
	return models.ApprovalRejected
}
