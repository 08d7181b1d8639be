// Package service contains the campaign dispatch engine: identity
// selection, the per-recipient orchestration loop, and the send
// bookkeeping shared by the inline and queued execution modes.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/zapgate/campaign-service/environments"
	"github.com/zapgate/campaign-service/internal/domain"
	"github.com/zapgate/campaign-service/internal/variation"
	"github.com/zapgate/campaign-service/pkg/logger"
)

// Small internal interfaces so the engine can be tested without a real
// DB, cache or gateway.

type campaignRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Campaign, error)
	NextRunnable(ctx context.Context, now time.Time) (*domain.Campaign, error)
	TransitionStatus(ctx context.Context, id int64, from []domain.CampaignStatus, to domain.CampaignStatus) error
	Finish(ctx context.Context, id int64, status domain.CampaignStatus, endTime time.Time) error
	MarkStarted(ctx context.Context, id int64, startTime time.Time) error
	IncrementSent(ctx context.Context, id int64) error
	IncrementFailed(ctx context.Context, id int64) error
}

type recipientRepository interface {
	NextPending(ctx context.Context, campaignID int64) (*domain.Recipient, error)
	Claim(ctx context.Context, id int64) error
	MarkSent(ctx context.Context, id int64, messageID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}

type sendingLogRepository interface {
	Append(ctx context.Context, entry *domain.SendingLog) error
}

type identitySelector interface {
	Select(ctx context.Context, campaign *domain.Campaign) (*domain.Instance, error)
}

type gatewayClient interface {
	SendText(ctx context.Context, instance, number, text string) (*domain.SendResult, error)
	SendButtons(ctx context.Context, instance, number string, payload *domain.ButtonsPayload) (*domain.SendResult, error)
}

type correlationCache interface {
	CacheMessageRef(ctx context.Context, messageID string, campaignID, recipientID int64) error
}

// DispatchService walks a campaign's pending recipients, pairs each with a
// selected instance and a rendered payload, executes or hands off the send,
// and keeps recipient/campaign/log state consistent.
type DispatchService struct {
	campaigns  campaignRepository
	recipients recipientRepository
	logs       sendingLogRepository
	selector   identitySelector
	gateway    gatewayClient
	cache      correlationCache
	config     environments.DispatchConfig
}

func NewDispatchService(
	campaigns campaignRepository,
	recipients recipientRepository,
	logs sendingLogRepository,
	selector identitySelector,
	gateway gatewayClient,
	cache correlationCache,
	config environments.DispatchConfig,
) *DispatchService {
	return &DispatchService{
		campaigns:  campaigns,
		recipients: recipients,
		logs:       logs,
		selector:   selector,
		gateway:    gateway,
		cache:      cache,
		config:     config,
	}
}

// PreparedSend is one fully resolved send unit: the recipient is claimed,
// the instance is selected and the payload is rendered. It is either
// executed immediately (inline mode) or carried through the work queue.
type PreparedSend struct {
	UnitID     string
	Campaign   *domain.Campaign
	Recipient  *domain.Recipient
	Instance   *domain.Instance
	Payload    domain.MessagePayload
	Rendered   string
	EnqueuedAt time.Time
}

// RunNext selects and dispatches the next runnable campaign: the
// oldest-created pending/running campaign whose start time has passed.
// It reports whether a campaign was processed.
func (s *DispatchService) RunNext(ctx context.Context) (bool, error) {
	campaign, err := s.campaigns.NextRunnable(ctx, time.Now())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire next campaign: %w", err)
	}

	return true, s.RunCampaign(ctx, campaign)
}

// RunCampaignByID dispatches one explicitly named campaign.
func (s *DispatchService) RunCampaignByID(ctx context.Context, id int64) error {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.RunCampaign(ctx, campaign)
}

// RunCampaign runs the inline per-recipient loop until the campaign drains
// (completed), no instance is available (paused), or the context ends.
func (s *DispatchService) RunCampaign(ctx context.Context, campaign *domain.Campaign) error {
	if err := s.begin(ctx, campaign); err != nil {
		return err
	}

	logger.Infof("Dispatching campaign %d (%s), rotation=%v, interval=[%d,%d]s",
		campaign.ID, campaign.Name, campaign.UseNumberRotation, campaign.IntervalMin, campaign.IntervalMax)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		recipient, err := s.recipients.NextPending(ctx, campaign.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Drained: no pending recipients remain.
				return s.complete(ctx, campaign)
			}
			return fmt.Errorf("failed to fetch next recipient: %w", err)
		}

		prepared, err := s.Prepare(ctx, campaign, recipient)
		switch {
		case errors.Is(err, domain.ErrNoInstanceAvailable):
			// Expected backpressure, not a failure.
			return s.pause(ctx, campaign)
		case errors.Is(err, domain.ErrAlreadyClaimed), errors.Is(err, domain.ErrNoContent):
			continue
		case err != nil:
			return err
		}

		// One recipient's failure never aborts its siblings.
		if err := s.ExecuteSend(ctx, prepared, s.config.MaxSendAttempts); err != nil {
			logger.Errorf("Send to recipient %d of campaign %d failed: %v",
				recipient.ID, campaign.ID, err)
		}

		if err := sleepPacing(ctx, campaign.IntervalMin, campaign.IntervalMax); err != nil {
			return err
		}
	}
}

// EnqueueNext feeds the next runnable campaign into the work queue. It
// reports whether a campaign was processed.
func (s *DispatchService) EnqueueNext(ctx context.Context, enqueue func(*PreparedSend) error) (bool, error) {
	campaign, err := s.campaigns.NextRunnable(ctx, time.Now())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire next campaign: %w", err)
	}

	return true, s.EnqueueCampaign(ctx, campaign, enqueue)
}

// EnqueueCampaignByID feeds one explicitly named campaign into the work
// queue.
func (s *DispatchService) EnqueueCampaignByID(ctx context.Context, id int64, enqueue func(*PreparedSend) error) error {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.EnqueueCampaign(ctx, campaign, enqueue)
}

// EnqueueCampaign resolves every pending recipient into a prepared send
// unit and hands each to enqueue (the work-queue adapter). Identity
// selection happens here, at enqueue time, not at execution time. A queue
// refusal reverts the campaign to pending so a later pass can retry.
func (s *DispatchService) EnqueueCampaign(ctx context.Context, campaign *domain.Campaign, enqueue func(*PreparedSend) error) error {
	if err := s.begin(ctx, campaign); err != nil {
		return err
	}

	var queued int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		recipient, err := s.recipients.NextPending(ctx, campaign.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				break
			}
			return fmt.Errorf("failed to fetch next recipient: %w", err)
		}

		prepared, err := s.Prepare(ctx, campaign, recipient)
		switch {
		case errors.Is(err, domain.ErrNoInstanceAvailable):
			return s.pause(ctx, campaign)
		case errors.Is(err, domain.ErrAlreadyClaimed), errors.Is(err, domain.ErrNoContent):
			continue
		case err != nil:
			return err
		}

		if err := enqueue(prepared); err != nil {
			logger.Errorf("Failed to enqueue unit for recipient %d: %v", recipient.ID, err)
			if revertErr := s.campaigns.TransitionStatus(ctx, campaign.ID,
				[]domain.CampaignStatus{domain.CampaignRunning}, domain.CampaignPending); revertErr != nil {
				logger.Errorf("Failed to revert campaign %d to pending: %v", campaign.ID, revertErr)
			}
			return fmt.Errorf("failed to enqueue send unit: %w", err)
		}
		queued++
	}

	logger.Infof("Campaign %d: enqueued %d send units", campaign.ID, queued)

	if queued == 0 {
		return s.complete(ctx, campaign)
	}

	return nil
}

// Prepare claims the recipient, selects the sending instance and renders
// the payload. Claim losses and no-content conditions come back as
// sentinel errors the caller skips over.
func (s *DispatchService) Prepare(ctx context.Context, campaign *domain.Campaign, recipient *domain.Recipient) (*PreparedSend, error) {
	instance, err := s.selector.Select(ctx, campaign)
	if err != nil {
		return nil, err
	}

	if err := s.recipients.Claim(ctx, recipient.ID); err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			return nil, domain.ErrAlreadyClaimed
		}
		return nil, err
	}
	recipient.Status = domain.RecipientQueued

	payload, rendered, err := s.buildPayload(campaign, recipient)
	if err != nil {
		if errors.Is(err, domain.ErrNoContent) {
			// Terminal, no gateway call is made.
			s.bookFailure(ctx, campaign, recipient, instance, "", domain.ErrNoContent.Error(), nil)
			return nil, domain.ErrNoContent
		}
		return nil, err
	}

	return &PreparedSend{
		UnitID:     uuid.NewString(),
		Campaign:   campaign,
		Recipient:  recipient,
		Instance:   instance,
		Payload:    payload,
		Rendered:   rendered,
		EnqueuedAt: time.Now(),
	}, nil
}

// buildPayload turns the campaign content into the tagged payload for one
// recipient. Campaigns with buttons or media produce an interactive
// payload carrying the mandatory per-recipient opt-out control; text-only
// campaigns produce a plain text payload.
func (s *DispatchService) buildPayload(campaign *domain.Campaign, recipient *domain.Recipient) (domain.MessagePayload, string, error) {
	if !campaign.HasContent() {
		return domain.MessagePayload{}, "", domain.ErrNoContent
	}

	rendered := variation.Render(campaign.MessageText)

	if len(campaign.Buttons) == 0 && campaign.Media == nil {
		return domain.MessagePayload{
			Kind: domain.PayloadText,
			Text: rendered,
		}, rendered, nil
	}

	buttons := &domain.ButtonsPayload{
		Title:       campaign.Name,
		Description: rendered,
		Media:       campaign.Media,
		Buttons:     append([]domain.Button(nil), campaign.Buttons...),
	}
	if !buttons.HasOptOutButton() {
		buttons.Buttons = append(buttons.Buttons, domain.Button{
			ID:    domain.OptOutButtonID(campaign.ID, recipient.ID),
			Label: domain.OptOutLabel,
		})
	}

	return domain.MessagePayload{
		Kind:    domain.PayloadButtons,
		Buttons: buttons,
	}, rendered, nil
}

// ExecuteSend performs the gateway call for a prepared unit and applies the
// success/failure bookkeeping. Transport errors are retried up to
// maxAttempts with exponential backoff; API-level rejections are permanent
// and never retried. Whatever happens, the recipient ends in a terminal or
// sent state, never stuck queued.
func (s *DispatchService) ExecuteSend(ctx context.Context, p *PreparedSend, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	s.appendLog(ctx, p.Campaign, p.Recipient, p.Instance, p.Rendered, domain.SendingLog{
		Status: domain.LogAttempted,
	})

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := s.send(ctx, p)
		if err == nil {
			if result.Success {
				s.bookSuccess(ctx, p, result)
				return nil
			}
			s.bookFailure(ctx, p.Campaign, p.Recipient, p.Instance, p.Rendered, result.Error, result.Details)
			return nil
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		delay := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
		logger.Warnf("Transient gateway error for recipient %d (attempt %d/%d), retrying in %v: %v",
			p.Recipient.ID, attempt, maxAttempts, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.bookFailure(ctx, p.Campaign, p.Recipient, p.Instance, p.Rendered, ctx.Err().Error(), nil)
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.bookFailure(ctx, p.Campaign, p.Recipient, p.Instance, p.Rendered, lastErr.Error(), nil)
	return fmt.Errorf("gateway send failed after %d attempts: %w", maxAttempts, lastErr)
}

func (s *DispatchService) send(ctx context.Context, p *PreparedSend) (*domain.SendResult, error) {
	switch p.Payload.Kind {
	case domain.PayloadText:
		return s.gateway.SendText(ctx, p.Instance.Name, p.Recipient.Number, p.Payload.Text)
	case domain.PayloadButtons:
		return s.gateway.SendButtons(ctx, p.Instance.Name, p.Recipient.Number, p.Payload.Buttons)
	default:
		return nil, fmt.Errorf("unknown payload kind %q", p.Payload.Kind)
	}
}

// bookkeepingTimeout bounds the detached context used for terminal
// bookkeeping when the send context is already gone.
const bookkeepingTimeout = 5 * time.Second

// detachIfDone swaps a cancelled context for a fresh one with its own
// deadline. A send interrupted by shutdown must still release its claim;
// writing the terminal state against the dead context would fail and leave
// the recipient stuck in queued.
func detachIfDone(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.Background(), bookkeepingTimeout)
}

func (s *DispatchService) bookSuccess(ctx context.Context, p *PreparedSend, result *domain.SendResult) {
	ctx, cancel := detachIfDone(ctx)
	defer cancel()

	sentAt := time.Now()

	if err := s.recipients.MarkSent(ctx, p.Recipient.ID, result.MessageID, sentAt); err != nil {
		// Lost to a terminal transition (e.g. an opt-out landed mid-flight).
		// The message went out; keep the audit trail but leave counters to
		// the status that won.
		logger.Warnf("Recipient %d finished in another state before sent could be recorded: %v",
			p.Recipient.ID, err)
	} else if err := s.campaigns.IncrementSent(ctx, p.Campaign.ID); err != nil {
		logger.Errorf("Failed to increment sent count for campaign %d: %v", p.Campaign.ID, err)
	}

	s.appendLog(ctx, p.Campaign, p.Recipient, p.Instance, p.Rendered, domain.SendingLog{
		MessageID: &result.MessageID,
		Status:    domain.LogSuccess,
		Payload:   result.Details,
	})

	if s.cache != nil {
		// Best effort: reconciliation falls back to the DB when missing.
		go func(messageID string, campaignID, recipientID int64) {
			cacheCtx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
			defer cancel()
			if err := s.cache.CacheMessageRef(cacheCtx, messageID, campaignID, recipientID); err != nil {
				logger.Warnf("Failed to cache message ref %s: %v", messageID, err)
			}
		}(result.MessageID, p.Campaign.ID, p.Recipient.ID)
	}
}

func (s *DispatchService) bookFailure(ctx context.Context, campaign *domain.Campaign, recipient *domain.Recipient, instance *domain.Instance, rendered, reason string, details json.RawMessage) {
	ctx, cancel := detachIfDone(ctx)
	defer cancel()

	if err := s.recipients.MarkFailed(ctx, recipient.ID, reason); err != nil {
		logger.Errorf("Failed to mark recipient %d as failed: %v", recipient.ID, err)
	}
	if err := s.campaigns.IncrementFailed(ctx, campaign.ID); err != nil {
		logger.Errorf("Failed to increment failed count for campaign %d: %v", campaign.ID, err)
	}

	detail := reason
	s.appendLog(ctx, campaign, recipient, instance, rendered, domain.SendingLog{
		Status:  domain.LogAPIError,
		Detail:  &detail,
		Payload: details,
	})
}

func (s *DispatchService) appendLog(ctx context.Context, campaign *domain.Campaign, recipient *domain.Recipient, instance *domain.Instance, rendered string, entry domain.SendingLog) {
	entry.TrackID = uuid.NewString()
	entry.CampaignID = campaign.ID
	entry.RecipientID = recipient.ID
	entry.MessageContent = rendered
	if instance != nil {
		entry.InstanceID = &instance.ID
	}

	if err := s.logs.Append(ctx, &entry); err != nil {
		logger.Errorf("Failed to append sending log for recipient %d: %v", recipient.ID, err)
	}
}

// begin moves a pending campaign into running before any send occurs.
// Campaigns never resurrect from completed or cancelled.
func (s *DispatchService) begin(ctx context.Context, campaign *domain.Campaign) error {
	switch campaign.Status {
	case domain.CampaignPending:
		if err := s.campaigns.TransitionStatus(ctx, campaign.ID,
			[]domain.CampaignStatus{domain.CampaignPending}, domain.CampaignRunning); err != nil {
			if errors.Is(err, domain.ErrAlreadyClaimed) {
				return fmt.Errorf("campaign %d is already being dispatched", campaign.ID)
			}
			return err
		}
		campaign.Status = domain.CampaignRunning
		if err := s.campaigns.MarkStarted(ctx, campaign.ID, time.Now()); err != nil {
			logger.Warnf("Failed to stamp start time for campaign %d: %v", campaign.ID, err)
		}
		return nil
	case domain.CampaignRunning:
		return nil
	default:
		return fmt.Errorf("campaign %d cannot be dispatched in status %s", campaign.ID, campaign.Status)
	}
}

func (s *DispatchService) complete(ctx context.Context, campaign *domain.Campaign) error {
	if err := s.campaigns.Finish(ctx, campaign.ID, domain.CampaignCompleted, time.Now()); err != nil {
		return fmt.Errorf("failed to complete campaign %d: %w", campaign.ID, err)
	}
	campaign.Status = domain.CampaignCompleted
	logger.Infof("Campaign %d completed", campaign.ID)
	return nil
}

func (s *DispatchService) pause(ctx context.Context, campaign *domain.Campaign) error {
	if err := s.campaigns.Finish(ctx, campaign.ID, domain.CampaignPaused, time.Now()); err != nil {
		return fmt.Errorf("failed to pause campaign %d: %w", campaign.ID, err)
	}
	campaign.Status = domain.CampaignPaused
	logger.Infof("Campaign %d paused: no connected instance available", campaign.ID)
	return nil
}

// RandomPacing draws the inter-send delay uniformly from [minSec, maxSec]
// seconds. Zero bounds disable pacing.
func RandomPacing(minSec, maxSec int) time.Duration {
	if maxSec <= 0 || maxSec < minSec {
		return 0
	}
	if minSec < 0 {
		minSec = 0
	}
	span := maxSec - minSec
	return time.Duration(minSec)*time.Second + time.Duration(rand.Int63n(int64(span)*int64(time.Second)+1))
}

// sleepPacing applies the pacing contract between recipients, giving up
// early when the context ends.
func sleepPacing(ctx context.Context, minSec, maxSec int) error {
	delay := RandomPacing(minSec, maxSec)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
