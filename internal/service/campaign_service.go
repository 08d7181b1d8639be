package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zapgate/campaign-service/internal/domain"
	"github.com/zapgate/campaign-service/internal/variation"
	"github.com/zapgate/campaign-service/pkg/logger"
)

type campaignStore interface {
	Create(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id int64) (*domain.Campaign, error)
	TransitionStatus(ctx context.Context, id int64, from []domain.CampaignStatus, to domain.CampaignStatus) error
	Finish(ctx context.Context, id int64, status domain.CampaignStatus, endTime time.Time) error
	SetTotalRecipients(ctx context.Context, id int64, total int64) error
	AttachInstances(ctx context.Context, campaignID int64, instanceIDs []int64) error
	List(ctx context.Context, status *domain.CampaignStatus, page, pageSize int) ([]domain.Campaign, int64, error)
}

type recipientAdminStore interface {
	BulkCreate(ctx context.Context, campaignID int64, numbers []string) (int64, error)
	StatusCounts(ctx context.Context, campaignID int64) (map[domain.RecipientStatus]int64, error)
	ReleaseQueued(ctx context.Context, campaignID int64) (int64, error)
}

type sendingLogLister interface {
	ListByCampaign(ctx context.Context, campaignID int64, page, pageSize int) ([]domain.SendingLog, int64, error)
}

// CampaignService covers the campaign lifecycle outside the send path:
// creation, manual start/pause/cancel, and read models for the API.
type CampaignService struct {
	campaigns  campaignStore
	recipients recipientAdminStore
	logs       sendingLogLister
}

func NewCampaignService(campaigns campaignStore, recipients recipientAdminStore, logs sendingLogLister) *CampaignService {
	return &CampaignService{
		campaigns:  campaigns,
		recipients: recipients,
		logs:       logs,
	}
}

// CreateCampaignInput is the validated shape coming from the API layer.
type CreateCampaignInput struct {
	Name              string
	MessageText       string
	Media             *domain.MediaAttachment
	Buttons           []domain.Button
	Recipients        []string
	InstanceIDs       []int64
	IntervalMin       int
	IntervalMax       int
	UseNumberRotation bool
	StartTime         *time.Time
}

// CreateCampaign persists a new draft campaign with its recipient list and
// instance bindings. Drafts never dispatch until StartCampaign.
func (s *CampaignService) CreateCampaign(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	if input.IntervalMin > input.IntervalMax {
		return nil, fmt.Errorf("interval lower bound %d exceeds upper bound %d", input.IntervalMin, input.IntervalMax)
	}
	if len(input.Recipients) == 0 {
		return nil, fmt.Errorf("campaign needs at least one recipient")
	}

	campaign := &domain.Campaign{
		Name:              input.Name,
		MessageText:       input.MessageText,
		Media:             input.Media,
		Buttons:           domain.ButtonList(input.Buttons),
		IntervalMin:       input.IntervalMin,
		IntervalMax:       input.IntervalMax,
		UseNumberRotation: input.UseNumberRotation,
		Status:            domain.CampaignDraft,
		StartTime:         input.StartTime,
	}
	if !campaign.HasContent() {
		return nil, domain.ErrNoContent
	}

	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	total, err := s.recipients.BulkCreate(ctx, campaign.ID, input.Recipients)
	if err != nil {
		return nil, fmt.Errorf("failed to create recipients: %w", err)
	}
	if err := s.campaigns.SetTotalRecipients(ctx, campaign.ID, total); err != nil {
		return nil, fmt.Errorf("failed to set recipient total: %w", err)
	}
	campaign.TotalRecipients = total

	if len(input.InstanceIDs) > 0 {
		if err := s.campaigns.AttachInstances(ctx, campaign.ID, input.InstanceIDs); err != nil {
			return nil, fmt.Errorf("failed to attach instances: %w", err)
		}
	}

	logger.Infof("Created campaign %d (%s) with %d recipients, %d variant(s)",
		campaign.ID, campaign.Name, total, variation.Count(campaign.MessageText))

	return campaign, nil
}

// StartCampaign marks a draft or paused campaign runnable. The scheduler
// picks it up on its next pass; a future StartTime keeps it waiting.
func (s *CampaignService) StartCampaign(ctx context.Context, id int64) (*domain.Campaign, error) {
	err := s.campaigns.TransitionStatus(ctx, id,
		[]domain.CampaignStatus{domain.CampaignDraft, domain.CampaignPaused}, domain.CampaignPending)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			return nil, fmt.Errorf("campaign %d cannot be started from its current status", id)
		}
		return nil, err
	}

	return s.campaigns.GetByID(ctx, id)
}

// PauseCampaign stops further dispatching. In-flight queued recipients are
// released back to pending so resuming re-dispatches them.
func (s *CampaignService) PauseCampaign(ctx context.Context, id int64) (*domain.Campaign, error) {
	err := s.campaigns.TransitionStatus(ctx, id,
		[]domain.CampaignStatus{domain.CampaignPending, domain.CampaignRunning}, domain.CampaignPaused)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			return nil, fmt.Errorf("campaign %d cannot be paused from its current status", id)
		}
		return nil, err
	}

	released, err := s.recipients.ReleaseQueued(ctx, id)
	if err != nil {
		return nil, err
	}
	if released > 0 {
		logger.Infof("Campaign %d paused, released %d queued recipient(s)", id, released)
	}

	return s.campaigns.GetByID(ctx, id)
}

// CancelCampaign is terminal: the campaign stops dispatching and never
// resumes. Already-sent messages keep reconciling.
func (s *CampaignService) CancelCampaign(ctx context.Context, id int64) (*domain.Campaign, error) {
	err := s.campaigns.TransitionStatus(ctx, id,
		[]domain.CampaignStatus{
			domain.CampaignDraft,
			domain.CampaignPending,
			domain.CampaignRunning,
			domain.CampaignPaused,
		}, domain.CampaignCancelled)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			return nil, fmt.Errorf("campaign %d is already finished", id)
		}
		return nil, err
	}

	if err := s.campaigns.Finish(ctx, id, domain.CampaignCancelled, time.Now()); err != nil {
		return nil, err
	}

	if _, err := s.recipients.ReleaseQueued(ctx, id); err != nil {
		logger.Warnf("Failed to release queued recipients of cancelled campaign %d: %v", id, err)
	}

	logger.Infof("Campaign %d cancelled", id)
	return s.campaigns.GetByID(ctx, id)
}

// CampaignStats is the per-status recipient breakdown next to the running
// counters.
type CampaignStats struct {
	Campaign     *domain.Campaign                 `json:"campaign"`
	StatusCounts map[domain.RecipientStatus]int64 `json:"statusCounts"`
}

func (s *CampaignService) GetCampaign(ctx context.Context, id int64) (*CampaignStats, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	counts, err := s.recipients.StatusCounts(ctx, id)
	if err != nil {
		return nil, err
	}

	return &CampaignStats{Campaign: campaign, StatusCounts: counts}, nil
}

func (s *CampaignService) ListCampaigns(ctx context.Context, status *domain.CampaignStatus, page, pageSize int) ([]domain.Campaign, int64, error) {
	return s.campaigns.List(ctx, status, page, pageSize)
}

func (s *CampaignService) GetLogs(ctx context.Context, campaignID int64, page, pageSize int) ([]domain.SendingLog, int64, error) {
	if _, err := s.campaigns.GetByID(ctx, campaignID); err != nil {
		return nil, 0, err
	}
	return s.logs.ListByCampaign(ctx, campaignID, page, pageSize)
}
