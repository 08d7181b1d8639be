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

// RecipientRepository handles database operations for campaign recipients.
// Every status transition is a conditional update so that at most one claim
// succeeds under concurrent attempts.
type RecipientRepository struct {
	db *sqlx.DB
}

func NewRecipientRepository(db *sqlx.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

const recipientColumns = `
	id, campaign_id, number, status, message_id, failed_reason,
	queued_at, sent_at, delivered_at, read_at, opted_out_at,
	created_at, updated_at
`

func (r *RecipientRepository) BulkCreate(ctx context.Context, campaignID int64, numbers []string) (int64, error) {
	query := `
		INSERT INTO recipients (campaign_id, number, status, created_at, updated_at)
		VALUES (?, ?, 'pending', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`

	var created int64
	for _, number := range numbers {
		if _, err := r.db.ExecContext(ctx, query, campaignID, number); err != nil {
			return created, fmt.Errorf("failed to create recipient %s: %w", number, err)
		}
		created++
	}

	return created, nil
}

// NextPending returns the oldest-created pending recipient of a campaign,
// or ErrNotFound when the campaign has drained.
func (r *RecipientRepository) NextPending(ctx context.Context, campaignID int64) (*domain.Recipient, error) {
	query := `
		SELECT ` + recipientColumns + `
		FROM recipients
		WHERE campaign_id = ? AND status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`

	var recipient domain.Recipient
	if err := r.db.GetContext(ctx, &recipient, query, campaignID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get next pending recipient: %w", err)
	}

	return &recipient, nil
}

func (r *RecipientRepository) CountPending(ctx context.Context, campaignID int64) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM recipients WHERE campaign_id = ? AND status = 'pending'`

	if err := r.db.GetContext(ctx, &count, query, campaignID); err != nil {
		return 0, fmt.Errorf("failed to count pending recipients: %w", err)
	}

	return count, nil
}

// CountOpen counts recipients that still need a send attempt. Queue workers
// consult this after each unit to detect campaign drain.
func (r *RecipientRepository) CountOpen(ctx context.Context, campaignID int64) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM recipients WHERE campaign_id = ? AND status IN ('pending', 'queued')`

	if err := r.db.GetContext(ctx, &count, query, campaignID); err != nil {
		return 0, fmt.Errorf("failed to count open recipients: %w", err)
	}

	return count, nil
}

// ReleaseQueued returns every queued recipient of a campaign to pending so
// a later dispatch pass can pick them up again, e.g. after a queue refusal
// or an unclean shutdown.
func (r *RecipientRepository) ReleaseQueued(ctx context.Context, campaignID int64) (int64, error) {
	query := `
		UPDATE recipients
		SET status = 'pending', queued_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE campaign_id = ? AND status = 'queued'
	`

	result, err := r.db.ExecContext(ctx, query, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to release queued recipients: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}

// ReleaseAllQueued returns every queued recipient, regardless of campaign,
// to pending. Runs once at startup: rows stranded in queued by an unclean
// shutdown would otherwise never drain.
func (r *RecipientRepository) ReleaseAllQueued(ctx context.Context) (int64, error) {
	query := `
		UPDATE recipients
		SET status = 'pending', queued_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE status = 'queued'
	`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale queued recipients: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}

// Claim performs the pending -> queued transition. ErrAlreadyClaimed means
// another worker (or an opt-out) got there first; callers skip the
// recipient without treating it as a failure.
func (r *RecipientRepository) Claim(ctx context.Context, id int64) error {
	query := `
		UPDATE recipients
		SET status = 'queued', queued_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to claim recipient: %w", err)
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

// MarkSent records a successful gateway acknowledgment: the recipient moves
// to sent and the gateway message ID becomes its reconciliation key. Only a
// queued recipient can move here.
func (r *RecipientRepository) MarkSent(ctx context.Context, id int64, messageID string, sentAt time.Time) error {
	query := `
		UPDATE recipients
		SET status = 'sent', message_id = ?, sent_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'queued'
	`

	result, err := r.db.ExecContext(ctx, query, messageID, sentAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark recipient as sent: %w", err)
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

// MarkFailed is terminal and reachable from any non-terminal status.
func (r *RecipientRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE recipients
		SET status = 'failed', failed_reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status NOT IN ('failed', 'opted_out')
	`

	if _, err := r.db.ExecContext(ctx, query, reason, id); err != nil {
		return fmt.Errorf("failed to mark recipient as failed: %w", err)
	}

	return nil
}

// AdvanceStatus applies a monotonic lattice transition: the update only
// lands if the current status is strictly earlier than the target. A stale
// or duplicate receipt therefore never downgrades a recipient. The boolean
// reports whether the transition was applied.
func (r *RecipientRepository) AdvanceStatus(ctx context.Context, id int64, to domain.RecipientStatus, at time.Time) (bool, error) {
	below := domain.StatusesBelow(to)
	if len(below) == 0 {
		return false, nil
	}

	var stamp string
	switch to {
	case domain.RecipientDelivered:
		stamp = ", delivered_at = ?"
	case domain.RecipientRead:
		stamp = ", read_at = ?"
	case domain.RecipientSent:
		stamp = ", sent_at = ?"
	}

	query := `
		UPDATE recipients
		SET status = ?` + stamp + `, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (?)
	`

	args := []any{to}
	if stamp != "" {
		args = append(args, at)
	}
	args = append(args, id, below)

	query, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to build advance query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), inArgs...)
	if err != nil {
		return false, fmt.Errorf("failed to advance recipient status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

// MarkOptedOut is terminal, overrides any non-terminal status and is
// idempotent: a second opt-out reports applied=false.
func (r *RecipientRepository) MarkOptedOut(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `
		UPDATE recipients
		SET status = 'opted_out', opted_out_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status != 'opted_out'
	`

	result, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark recipient as opted out: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

func (r *RecipientRepository) GetByID(ctx context.Context, id int64) (*domain.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = ?`

	var recipient domain.Recipient
	if err := r.db.GetContext(ctx, &recipient, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}

	return &recipient, nil
}

func (r *RecipientRepository) GetByMessageID(ctx context.Context, messageID string) (*domain.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE message_id = ?`

	var recipient domain.Recipient
	if err := r.db.GetContext(ctx, &recipient, query, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recipient by message id: %w", err)
	}

	return &recipient, nil
}

func (r *RecipientRepository) GetByIDAndCampaign(ctx context.Context, id, campaignID int64) (*domain.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = ? AND campaign_id = ?`

	var recipient domain.Recipient
	if err := r.db.GetContext(ctx, &recipient, query, id, campaignID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recipient by id and campaign: %w", err)
	}

	return &recipient, nil
}

// StatusCounts aggregates recipient counts per status for a campaign.
func (r *RecipientRepository) StatusCounts(ctx context.Context, campaignID int64) (map[domain.RecipientStatus]int64, error) {
	query := `
		SELECT status, COUNT(*) AS count
		FROM recipients
		WHERE campaign_id = ?
		GROUP BY status
	`

	rows := []struct {
		Status domain.RecipientStatus `db:"status"`
		Count  int64                  `db:"count"`
	}{}

	if err := r.db.SelectContext(ctx, &rows, query, campaignID); err != nil {
		return nil, fmt.Errorf("failed to aggregate recipient statuses: %w", err)
	}

	counts := make(map[domain.RecipientStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}

	return counts, nil
}
