// Package reconciler folds asynchronous gateway events (delivery receipts
// and button replies) back into recipient state. Events arrive late, out of
// order and duplicated; every apply is monotonic over the status lattice and
// idempotent, and an event that cannot be matched is logged and dropped so
// the gateway never retries it.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zapgate/campaign-service/internal/domain"
	"github.com/zapgate/campaign-service/pkg/logger"
)

type recipientStore interface {
	GetByMessageID(ctx context.Context, messageID string) (*domain.Recipient, error)
	GetByIDAndCampaign(ctx context.Context, id, campaignID int64) (*domain.Recipient, error)
	AdvanceStatus(ctx context.Context, id int64, to domain.RecipientStatus, at time.Time) (bool, error)
	MarkOptedOut(ctx context.Context, id int64, at time.Time) (bool, error)
}

type campaignStore interface {
	IncrementOptedOut(ctx context.Context, id int64) error
}

type sendingLogStore interface {
	Append(ctx context.Context, entry *domain.SendingLog) error
}

// messageRefCache resolves a gateway message ID to its recipient without a
// table scan. A miss is not an error condition; the DB lookup is the
// fallback.
type messageRefCache interface {
	GetMessageRef(ctx context.Context, messageID string) (campaignID, recipientID int64, err error)
}

// Reconciler applies gateway events to recipients.
type Reconciler struct {
	recipients recipientStore
	campaigns  campaignStore
	logs       sendingLogStore
	cache      messageRefCache
}

func NewReconciler(recipients recipientStore, campaigns campaignStore, logs sendingLogStore, cache messageRefCache) *Reconciler {
	return &Reconciler{
		recipients: recipients,
		campaigns:  campaigns,
		logs:       logs,
		cache:      cache,
	}
}

// ApplyDeliveryStatus processes one message_ack event. Unmapped ack codes
// and unmatched message IDs are dropped, not errored, so the gateway stops
// redelivering them. Only storage failures come back as errors.
func (r *Reconciler) ApplyDeliveryStatus(ctx context.Context, event domain.DeliveryStatusEvent) error {
	if event.MessageID == "" {
		logger.Warnf("Delivery event without message id, dropping")
		return nil
	}

	target, ok := event.Status()
	if !ok {
		logger.Debugf("Delivery event for %s carries ack %d, no transition", event.MessageID, event.Ack)
		return nil
	}

	recipient, err := r.resolve(ctx, event.MessageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Receipt for a message this service never sent, or one whose
			// campaign was purged. Nothing to update.
			logger.Warnf("Delivery event for unknown message %s, dropping", event.MessageID)
			return nil
		}
		return fmt.Errorf("failed to resolve message %s: %w", event.MessageID, err)
	}

	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	applied, err := r.recipients.AdvanceStatus(ctx, recipient.ID, target, at)
	if err != nil {
		return fmt.Errorf("failed to advance recipient %d to %s: %w", recipient.ID, target, err)
	}
	if !applied {
		// Duplicate or late event; the recipient is already at or past the
		// target. Nothing changed, nothing to log.
		return nil
	}

	detail := fmt.Sprintf("ack %d -> %s", event.Ack, target)
	r.appendLog(ctx, &domain.SendingLog{
		CampaignID:  recipient.CampaignID,
		RecipientID: recipient.ID,
		MessageID:   &event.MessageID,
		Status:      domain.LogDeliveryUpdate,
		Detail:      &detail,
	})

	return nil
}

// ApplyReply processes one button_reply event. An opt-out control marks the
// recipient opted out; any other control advances the recipient to replied,
// correlated by the answered message ID. Malformed controls and mismatched
// campaign/recipient pairs are dropped. Re-applying the same reply never
// double-counts.
func (r *Reconciler) ApplyReply(ctx context.Context, event domain.ReplyEvent) error {
	campaignID, recipientID, err := domain.ParseOptOutButtonID(event.ButtonID)
	if err != nil {
		return r.applyGenericReply(ctx, event)
	}

	recipient, err := r.recipients.GetByIDAndCampaign(ctx, recipientID, campaignID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warnf("Opt-out control %q does not match any recipient, dropping", event.ButtonID)
			return nil
		}
		return fmt.Errorf("failed to load recipient %d: %w", recipientID, err)
	}

	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	applied, err := r.recipients.MarkOptedOut(ctx, recipient.ID, at)
	if err != nil {
		return fmt.Errorf("failed to opt out recipient %d: %w", recipient.ID, err)
	}
	if !applied {
		return nil
	}

	if err := r.campaigns.IncrementOptedOut(ctx, campaignID); err != nil {
		logger.Errorf("Failed to increment opt-out count for campaign %d: %v", campaignID, err)
	}

	detail := fmt.Sprintf("opt-out reply from %s", event.From)
	r.appendLog(ctx, &domain.SendingLog{
		CampaignID:  campaignID,
		RecipientID: recipient.ID,
		MessageID:   recipient.MessageID,
		Status:      domain.LogOptOut,
		Detail:      &detail,
	})

	logger.Infof("Recipient %d of campaign %d opted out", recipient.ID, campaignID)
	return nil
}

// applyGenericReply handles replies to controls other than the opt-out one.
// Without the answered message ID there is nothing to correlate against, so
// the event is dropped.
func (r *Reconciler) applyGenericReply(ctx context.Context, event domain.ReplyEvent) error {
	if event.MessageID == "" {
		logger.Warnf("Reply with unrecognized control %q and no message id, dropping", event.ButtonID)
		return nil
	}

	recipient, err := r.resolve(ctx, event.MessageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warnf("Reply to unknown message %s, dropping", event.MessageID)
			return nil
		}
		return fmt.Errorf("failed to resolve message %s: %w", event.MessageID, err)
	}

	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	applied, err := r.recipients.AdvanceStatus(ctx, recipient.ID, domain.RecipientReplied, at)
	if err != nil {
		return fmt.Errorf("failed to advance recipient %d to replied: %w", recipient.ID, err)
	}
	if !applied {
		// The recipient already replied, opted out or failed.
		return nil
	}

	detail := fmt.Sprintf("reply %q from %s", event.ButtonID, event.From)
	r.appendLog(ctx, &domain.SendingLog{
		CampaignID:  recipient.CampaignID,
		RecipientID: recipient.ID,
		MessageID:   &event.MessageID,
		Status:      domain.LogReply,
		Detail:      &detail,
	})

	return nil
}

// resolve maps a gateway message ID to its recipient, preferring the cache
// and falling back to the indexed DB lookup.
func (r *Reconciler) resolve(ctx context.Context, messageID string) (*domain.Recipient, error) {
	if r.cache != nil {
		campaignID, recipientID, err := r.cache.GetMessageRef(ctx, messageID)
		if err == nil {
			recipient, err := r.recipients.GetByIDAndCampaign(ctx, recipientID, campaignID)
			if err == nil {
				return recipient, nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			// Stale cache entry; fall through to the DB.
		}
	}

	return r.recipients.GetByMessageID(ctx, messageID)
}

func (r *Reconciler) appendLog(ctx context.Context, entry *domain.SendingLog) {
	entry.TrackID = uuid.NewString()
	if err := r.logs.Append(ctx, entry); err != nil {
		logger.Errorf("Failed to append reconciliation log for recipient %d: %v", entry.RecipientID, err)
	}
}
