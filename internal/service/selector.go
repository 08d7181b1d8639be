package service

import (
	"context"
	"fmt"
	"time"

	"github.com/zapgate/campaign-service/internal/domain"
	"github.com/zapgate/campaign-service/pkg/logger"
)

// instanceRepository is the minimal repository surface the selector needs.
type instanceRepository interface {
	ConnectedByCampaign(ctx context.Context, campaignID int64) ([]domain.Instance, error)
	TouchLastUsed(ctx context.Context, id int64, usedAt time.Time) error
}

// InstanceSelector picks the sending identity for the next recipient of a
// campaign.
type InstanceSelector struct {
	instances instanceRepository
}

func NewInstanceSelector(instances instanceRepository) *InstanceSelector {
	return &InstanceSelector{instances: instances}
}

// Select returns the instance to use for the campaign's next send. With
// rotation off it is the first connected instance in the eligible set's
// stable order; with rotation on it is the connected instance least
// recently used, treating never-used as oldest and breaking ties by stable
// order. domain.ErrNoInstanceAvailable means the campaign should pause.
func (s *InstanceSelector) Select(ctx context.Context, campaign *domain.Campaign) (*domain.Instance, error) {
	connected, err := s.instances.ConnectedByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connected instances: %w", err)
	}
	if len(connected) == 0 {
		return nil, domain.ErrNoInstanceAvailable
	}

	chosen := &connected[0]
	if campaign.UseNumberRotation {
		for i := 1; i < len(connected); i++ {
			if olderThan(&connected[i], chosen) {
				chosen = &connected[i]
			}
		}
		s.stampUsed(chosen.ID)
	}

	return chosen, nil
}

// olderThan reports whether a was used longer ago than b. A nil LastUsedAt
// means never used and always wins; ties keep the earlier (stable-order)
// instance.
func olderThan(a, b *domain.Instance) bool {
	if a.LastUsedAt == nil {
		return b.LastUsedAt != nil
	}
	if b.LastUsedAt == nil {
		return false
	}
	return a.LastUsedAt.Before(*b.LastUsedAt)
}

// stampUsed advances the rotation cursor in the background. Losing the
// stamp only skews rotation fairness, so it must never block or fail the
// send path.
func (s *InstanceSelector) stampUsed(instanceID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.instances.TouchLastUsed(ctx, instanceID, time.Now()); err != nil {
			logger.Warnf("Failed to stamp last_used_at for instance %d: %v", instanceID, err)
		}
	}()
}
