package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/zapgate/campaign-service/internal/domain"
)

// SendingLogRepository appends to the audit trail. Rows are write-once;
// reconciliation adds new correlated rows instead of mutating old ones.
type SendingLogRepository struct {
	db *sqlx.DB
}

func NewSendingLogRepository(db *sqlx.DB) *SendingLogRepository {
	return &SendingLogRepository{db: db}
}

func (r *SendingLogRepository) Append(ctx context.Context, entry *domain.SendingLog) error {
	query := `
		INSERT INTO sending_logs
			(track_id, campaign_id, recipient_id, instance_id, message_id,
			 message_content, payload, status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`

	result, err := r.db.ExecContext(ctx, query,
		entry.TrackID, entry.CampaignID, entry.RecipientID, entry.InstanceID,
		entry.MessageID, entry.MessageContent, []byte(entry.Payload),
		entry.Status, entry.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to append sending log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get sending log insert id: %w", err)
	}
	entry.ID = id

	return nil
}

func (r *SendingLogRepository) ListByCampaign(ctx context.Context, campaignID int64, page, pageSize int) ([]domain.SendingLog, int64, error) {
	offset := (page - 1) * pageSize

	var totalCount int64
	countQuery := "SELECT COUNT(*) FROM sending_logs WHERE campaign_id = ?"
	if err := r.db.GetContext(ctx, &totalCount, countQuery, campaignID); err != nil {
		return nil, 0, fmt.Errorf("failed to count sending logs: %w", err)
	}

	query := `
		SELECT id, track_id, campaign_id, recipient_id, instance_id, message_id,
		       message_content, payload, status, detail, created_at
		FROM sending_logs
		WHERE campaign_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	var logs []domain.SendingLog
	if err := r.db.SelectContext(ctx, &logs, query, campaignID, pageSize, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list sending logs: %w", err)
	}

	return logs, totalCount, nil
}
