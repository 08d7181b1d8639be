package domain

import "time"

type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "pending"
	RecipientQueued    RecipientStatus = "queued"
	RecipientSent      RecipientStatus = "sent"
	RecipientDelivered RecipientStatus = "delivered"
	RecipientRead      RecipientStatus = "read"
	RecipientReplied   RecipientStatus = "replied"
	RecipientFailed    RecipientStatus = "failed"
	RecipientOptedOut  RecipientStatus = "opted_out"
)

// statusRank orders the delivery lattice. Terminal statuses sit above every
// progress stage so a delayed ack can never resurrect a failed or opted-out
// recipient.
var statusRank = map[RecipientStatus]int{
	RecipientPending:   0,
	RecipientQueued:    1,
	RecipientSent:      2,
	RecipientDelivered: 3,
	RecipientRead:      4,
	RecipientReplied:   5,
	RecipientFailed:    100,
	RecipientOptedOut:  100,
}

// Rank returns the lattice position of s. Unknown statuses rank highest so
// they are never overwritten by reconciliation.
func (s RecipientStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return 100
}

// Terminal reports whether s is an absorbing state.
func (s RecipientStatus) Terminal() bool {
	return s == RecipientFailed || s == RecipientOptedOut
}

// StatusesBelow lists every status strictly earlier in the lattice than s.
// Repositories use it to build monotonic conditional updates.
func StatusesBelow(s RecipientStatus) []RecipientStatus {
	target := s.Rank()
	var out []RecipientStatus
	for _, candidate := range []RecipientStatus{
		RecipientPending,
		RecipientQueued,
		RecipientSent,
		RecipientDelivered,
		RecipientRead,
		RecipientReplied,
	} {
		if candidate.Rank() < target {
			out = append(out, candidate)
		}
	}
	return out
}

// Recipient is one destination address inside a campaign. MessageID is the
// gateway-assigned identifier, set on successful send, and is the sole
// correlation key for delivery receipts.
type Recipient struct {
	ID           int64           `db:"id" json:"id"`
	CampaignID   int64           `db:"campaign_id" json:"campaignId"`
	Number       string          `db:"number" json:"number"`
	Status       RecipientStatus `db:"status" json:"status"`
	MessageID    *string         `db:"message_id" json:"messageId,omitempty"`
	FailedReason *string         `db:"failed_reason" json:"failedReason,omitempty"`
	QueuedAt     *time.Time      `db:"queued_at" json:"queuedAt,omitempty"`
	SentAt       *time.Time      `db:"sent_at" json:"sentAt,omitempty"`
	DeliveredAt  *time.Time      `db:"delivered_at" json:"deliveredAt,omitempty"`
	ReadAt       *time.Time      `db:"read_at" json:"readAt,omitempty"`
	OptedOutAt   *time.Time      `db:"opted_out_at" json:"optedOutAt,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updatedAt"`
}
