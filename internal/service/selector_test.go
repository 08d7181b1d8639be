package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zapgate/campaign-service/internal/domain"
)

type fakeInstanceRepo struct {
	mu        sync.Mutex
	connected []domain.Instance
	touched   []int64
	touchedCh chan int64
}

func (f *fakeInstanceRepo) ConnectedByCampaign(ctx context.Context, campaignID int64) ([]domain.Instance, error) {
	return f.connected, nil
}

func (f *fakeInstanceRepo) TouchLastUsed(ctx context.Context, id int64, usedAt time.Time) error {
	f.mu.Lock()
	f.touched = append(f.touched, id)
	f.mu.Unlock()
	if f.touchedCh != nil {
		f.touchedCh <- id
	}
	return nil
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestSelect_NoRotationReturnsFirstInStableOrder(t *testing.T) {
	repo := &fakeInstanceRepo{connected: []domain.Instance{
		{ID: 1, Name: "line-a", LastUsedAt: ts("2026-08-01T10:00:00Z")},
		{ID: 2, Name: "line-b", LastUsedAt: nil},
	}}
	selector := NewInstanceSelector(repo)

	campaign := &domain.Campaign{ID: 1, UseNumberRotation: false}

	chosen, err := selector.Select(context.Background(), campaign)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if chosen.ID != 1 {
		t.Errorf("expected first instance without rotation, got %d", chosen.ID)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.touched) != 0 {
		t.Errorf("rotation cursor must not move when rotation is off")
	}
}

func TestSelect_RotationPicksLeastRecentlyUsed(t *testing.T) {
	repo := &fakeInstanceRepo{
		connected: []domain.Instance{
			{ID: 1, Name: "line-a", LastUsedAt: ts("2026-08-01T12:00:00Z")},
			{ID: 2, Name: "line-b", LastUsedAt: ts("2026-08-01T09:00:00Z")},
			{ID: 3, Name: "line-c", LastUsedAt: ts("2026-08-01T11:00:00Z")},
		},
		touchedCh: make(chan int64, 1),
	}
	selector := NewInstanceSelector(repo)

	campaign := &domain.Campaign{ID: 1, UseNumberRotation: true}

	chosen, err := selector.Select(context.Background(), campaign)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if chosen.ID != 2 {
		t.Errorf("expected least recently used instance 2, got %d", chosen.ID)
	}

	select {
	case id := <-repo.touchedCh:
		if id != 2 {
			t.Errorf("expected cursor stamped for instance 2, got %d", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected rotation cursor to be stamped")
	}
}

func TestSelect_NeverUsedInstanceWinsRotation(t *testing.T) {
	repo := &fakeInstanceRepo{
		connected: []domain.Instance{
			{ID: 1, Name: "line-a", LastUsedAt: ts("2026-08-01T09:00:00Z")},
			{ID: 2, Name: "line-b", LastUsedAt: nil},
		},
		touchedCh: make(chan int64, 1),
	}
	selector := NewInstanceSelector(repo)

	chosen, err := selector.Select(context.Background(), &domain.Campaign{ID: 1, UseNumberRotation: true})
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if chosen.ID != 2 {
		t.Errorf("expected never-used instance 2, got %d", chosen.ID)
	}
	<-repo.touchedCh
}

func TestSelect_RotationTieKeepsStableOrder(t *testing.T) {
	same := ts("2026-08-01T10:00:00Z")
	repo := &fakeInstanceRepo{
		connected: []domain.Instance{
			{ID: 5, Name: "line-a", LastUsedAt: same},
			{ID: 6, Name: "line-b", LastUsedAt: same},
		},
		touchedCh: make(chan int64, 1),
	}
	selector := NewInstanceSelector(repo)

	chosen, err := selector.Select(context.Background(), &domain.Campaign{ID: 1, UseNumberRotation: true})
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if chosen.ID != 5 {
		t.Errorf("expected tie broken by stable order (instance 5), got %d", chosen.ID)
	}
	<-repo.touchedCh
}

func TestSelect_NoConnectedInstances(t *testing.T) {
	repo := &fakeInstanceRepo{}
	selector := NewInstanceSelector(repo)

	_, err := selector.Select(context.Background(), &domain.Campaign{ID: 1})
	if !errors.Is(err, domain.ErrNoInstanceAvailable) {
		t.Fatalf("expected ErrNoInstanceAvailable, got %v", err)
	}
}
