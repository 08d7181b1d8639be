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

// CampaignRepository handles database operations for campaigns.
type CampaignRepository struct {
	db *sqlx.DB
}

func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `
	id, user_id, name, message_text, media, buttons,
	interval_min, interval_max, use_number_rotation, status,
	total_recipients, sent_count, failed_count, opted_out_count,
	start_time, end_time, created_at, updated_at
`

func (r *CampaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	query := `
		INSERT INTO campaigns
			(user_id, name, message_text, media, buttons,
			 interval_min, interval_max, use_number_rotation, status,
			 start_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`

	result, err := r.db.ExecContext(ctx, query,
		c.UserID, c.Name, c.MessageText, c.Media, c.Buttons,
		c.IntervalMin, c.IntervalMax, c.UseNumberRotation, c.Status,
		c.StartTime,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get campaign insert id: %w", err)
	}
	c.ID = id

	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = ?`

	var c domain.Campaign
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return &c, nil
}

// NextRunnable returns the oldest-created campaign that is pending or
// running and whose start time is unset or in the past. ErrNotFound means
// there is currently nothing to dispatch.
func (r *CampaignRepository) NextRunnable(ctx context.Context, now time.Time) (*domain.Campaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status IN ('pending', 'running')
		  AND (start_time IS NULL OR start_time <= ?)
		ORDER BY created_at ASC
		LIMIT 1
	`

	var c domain.Campaign
	if err := r.db.GetContext(ctx, &c, query, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get next runnable campaign: %w", err)
	}

	return &c, nil
}

// TransitionStatus moves a campaign between statuses only if it currently
// sits in one of the expected source statuses. A zero-row update reports
// ErrAlreadyClaimed so overlapping scheduler passes cannot double-run.
func (r *CampaignRepository) TransitionStatus(ctx context.Context, id int64, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	if len(from) == 0 {
		return fmt.Errorf("transition requires at least one source status")
	}

	query, args, err := sqlx.In(`
		UPDATE campaigns
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (?)
	`, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to build transition query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to transition campaign status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrAlreadyClaimed
	}

	return nil
}

// Finish stamps a terminal-ish state (paused or completed) together with
// the end time.
func (r *CampaignRepository) Finish(ctx context.Context, id int64, status domain.CampaignStatus, endTime time.Time) error {
	query := `
		UPDATE campaigns
		SET status = ?, end_time = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, status, endTime, id); err != nil {
		return fmt.Errorf("failed to finish campaign: %w", err)
	}

	return nil
}

// MarkStarted stamps the start time once, on the first transition into
// running.
func (r *CampaignRepository) MarkStarted(ctx context.Context, id int64, startTime time.Time) error {
	query := `
		UPDATE campaigns
		SET start_time = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND start_time IS NULL
	`

	if _, err := r.db.ExecContext(ctx, query, startTime, id); err != nil {
		return fmt.Errorf("failed to mark campaign started: %w", err)
	}

	return nil
}

// Counter increments are single atomic statements: concurrent workers may
// bump the same campaign and must never read-modify-write.

func (r *CampaignRepository) IncrementSent(ctx context.Context, id int64) error {
	return r.increment(ctx, id, "sent_count")
}

func (r *CampaignRepository) IncrementFailed(ctx context.Context, id int64) error {
	return r.increment(ctx, id, "failed_count")
}

func (r *CampaignRepository) IncrementOptedOut(ctx context.Context, id int64) error {
	return r.increment(ctx, id, "opted_out_count")
}

func (r *CampaignRepository) increment(ctx context.Context, id int64, column string) error {
	query := fmt.Sprintf(`
		UPDATE campaigns
		SET %s = %s + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, column, column)

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment %s: %w", column, err)
	}

	return nil
}

func (r *CampaignRepository) SetTotalRecipients(ctx context.Context, id int64, total int64) error {
	query := `
		UPDATE campaigns
		SET total_recipients = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, total, id); err != nil {
		return fmt.Errorf("failed to set total recipients: %w", err)
	}

	return nil
}

func (r *CampaignRepository) List(ctx context.Context, status *domain.CampaignStatus, page, pageSize int) ([]domain.Campaign, int64, error) {
	offset := (page - 1) * pageSize

	var totalCount int64
	var campaigns []domain.Campaign

	if status != nil {
		countQuery := "SELECT COUNT(*) FROM campaigns WHERE status = ?"
		if err := r.db.GetContext(ctx, &totalCount, countQuery, *status); err != nil {
			return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
		}

		query := `
			SELECT ` + campaignColumns + `
			FROM campaigns
			WHERE status = ?
			ORDER BY created_at DESC
			LIMIT ? OFFSET ?
		`
		if err := r.db.SelectContext(ctx, &campaigns, query, *status, pageSize, offset); err != nil {
			return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
		}
	} else {
		countQuery := "SELECT COUNT(*) FROM campaigns"
		if err := r.db.GetContext(ctx, &totalCount, countQuery); err != nil {
			return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
		}

		query := `
			SELECT ` + campaignColumns + `
			FROM campaigns
			ORDER BY created_at DESC
			LIMIT ? OFFSET ?
		`
		if err := r.db.SelectContext(ctx, &campaigns, query, pageSize, offset); err != nil {
			return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
		}
	}

	return campaigns, totalCount, nil
}

// AttachInstances records the ordered eligible-instance set of a campaign.
// Position preserves the caller's ordering; it is the stable order rotation
// ties break on.
func (r *CampaignRepository) AttachInstances(ctx context.Context, campaignID int64, instanceIDs []int64) error {
	query := `
		INSERT INTO campaign_instances (campaign_id, instance_id, position)
		VALUES (?, ?, ?)
	`

	for i, instanceID := range instanceIDs {
		if _, err := r.db.ExecContext(ctx, query, campaignID, instanceID, i); err != nil {
			return fmt.Errorf("failed to attach instance %d: %w", instanceID, err)
		}
	}

	return nil
}
