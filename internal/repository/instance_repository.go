package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/zapgate/campaign-service/internal/domain"
)

// InstanceRepository handles database operations for sending instances.
type InstanceRepository struct {
	db *sqlx.DB
}

func NewInstanceRepository(db *sqlx.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

const instanceColumns = `
	id, user_id, name, status, last_used_at, created_at, updated_at
`

func (r *InstanceRepository) Create(ctx context.Context, instance *domain.Instance) error {
	query := `
		INSERT INTO instances (user_id, name, status, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`

	result, err := r.db.ExecContext(ctx, query, instance.UserID, instance.Name, instance.Status)
	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get instance insert id: %w", err)
	}
	instance.ID = id

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id int64) (*domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE id = ?`

	var instance domain.Instance
	if err := r.db.GetContext(ctx, &instance, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return &instance, nil
}

// ConnectedByCampaign returns the campaign's eligible instances that are
// currently connected, in the stable join-table order. This is the order
// the selector's tie-breaking depends on.
func (r *InstanceRepository) ConnectedByCampaign(ctx context.Context, campaignID int64) ([]domain.Instance, error) {
	query := `
		SELECT i.id, i.user_id, i.name, i.status, i.last_used_at, i.created_at, i.updated_at
		FROM instances i
		JOIN campaign_instances ci ON ci.instance_id = i.id
		WHERE ci.campaign_id = ? AND i.status = 'connected'
		ORDER BY ci.position ASC
	`

	var instances []domain.Instance
	if err := r.db.SelectContext(ctx, &instances, query, campaignID); err != nil {
		return nil, fmt.Errorf("failed to list connected instances: %w", err)
	}

	return instances, nil
}

// TouchLastUsed stamps the rotation cursor. Best effort: callers issue it
// from a detached goroutine and only log failures.
func (r *InstanceRepository) TouchLastUsed(ctx context.Context, id int64, usedAt time.Time) error {
	query := `
		UPDATE instances
		SET last_used_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, usedAt, id); err != nil {
		return fmt.Errorf("failed to touch instance last_used_at: %w", err)
	}

	return nil
}

func (r *InstanceRepository) UpdateStatus(ctx context.Context, id int64, status domain.InstanceStatus) error {
	query := `
		UPDATE instances
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update instance status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (r *InstanceRepository) List(ctx context.Context, page, pageSize int) ([]domain.Instance, int64, error) {
	offset := (page - 1) * pageSize

	var totalCount int64
	if err := r.db.GetContext(ctx, &totalCount, "SELECT COUNT(*) FROM instances"); err != nil {
		return nil, 0, fmt.Errorf("failed to count instances: %w", err)
	}

	query := `
		SELECT ` + instanceColumns + `
		FROM instances
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	var instances []domain.Instance
	if err := r.db.SelectContext(ctx, &instances, query, pageSize, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list instances: %w", err)
	}

	return instances, totalCount, nil
}
