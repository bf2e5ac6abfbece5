package orchestrator

import (
	"context"
	"fmt"

	"duet/internal/models"
	"duet/internal/service"

	"github.com/sirupsen/logrus"
)

// negotiator moves descriptions and candidates between the peer and the signal relay.
type negotiator struct {
	api    API
	peer   Peer
	call   Call
	userID string
	logger *logrus.Logger
}

func (n *negotiator) send(ctx context.Context, kind, payload string) error {
	if _, err := n.api.SendSignal(ctx, n.call.SessionID, n.userID, n.call.CounterpartID, kind, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", kind, err)
	}
	return nil
}

func (n *negotiator) offer(ctx context.Context) error {
	sdp, err := n.peer.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return n.send(ctx, models.SignalKindOffer, sdp)
}

// exchange runs one poll cycle: apply every fetched envelope in order, mark it processed,
// then publish local candidates.
func (n *negotiator) exchange(ctx context.Context) error {
	signals, err := n.api.FetchSignals(ctx, n.call.SessionID, n.userID)
	if err != nil {
		return fmt.Errorf("failed to fetch signals: %w", err)
	}

	for _, sig := range signals {
		if err := n.apply(ctx, sig); err != nil {
			n.logger.WithError(err).WithFields(logrus.Fields{
				service.LogFieldSignalKind: sig.Kind,
				service.LogFieldSignalID:   sig.ID,
			}).Warn("Failed to apply signal")
		}
		if err := n.api.MarkSignalProcessed(ctx, sig.ID); err != nil {
			return fmt.Errorf("failed to mark signal processed: %w", err)
		}
	}

	for _, c := range n.peer.PendingCandidates() {
		if err := n.send(ctx, models.SignalKindCandidate, c); err != nil {
			return err
		}
	}
	return nil
}

func (n *negotiator) apply(ctx context.Context, sig models.Signal) error {
	switch sig.Kind {
	case models.SignalKindOffer:
		answer, err := n.peer.HandleOffer(ctx, sig.Payload)
		if err != nil {
			return err
		}
		return n.send(ctx, models.SignalKindAnswer, answer)
	case models.SignalKindAnswer:
		return n.peer.HandleAnswer(ctx, sig.Payload)
	case models.SignalKindCandidate:
		return n.peer.AddCandidate(sig.Payload)
	default:
		n.logger.WithField(service.LogFieldSignalKind, sig.Kind).Debug("Ignoring unknown signal kind")
		return nil
	}
}
