package domain

import (
	"encoding/json"
	"time"
)

type SendingLogStatus string

const (
	LogAttempted      SendingLogStatus = "attempted"
	LogSuccess        SendingLogStatus = "success"
	LogAPIError       SendingLogStatus = "api_error"
	LogDeliveryUpdate SendingLogStatus = "delivery_update"
	LogReply          SendingLogStatus = "reply"
	LogOptOut         SendingLogStatus = "opt_out"
)

// SendingLog is the append-only audit trail: one row per logical send
// attempt plus follow-up reconciliation rows correlated by the gateway
// message ID. Rows are never updated.
type SendingLog struct {
	ID             int64            `db:"id" json:"id"`
	TrackID        string           `db:"track_id" json:"trackId"`
	CampaignID     int64            `db:"campaign_id" json:"campaignId"`
	RecipientID    int64            `db:"recipient_id" json:"recipientId"`
	InstanceID     *int64           `db:"instance_id" json:"instanceId,omitempty"`
	MessageID      *string          `db:"message_id" json:"messageId,omitempty"`
	MessageContent string           `db:"message_content" json:"messageContent"`
	Payload        json.RawMessage  `db:"payload" json:"payload,omitempty"`
	Status         SendingLogStatus `db:"status" json:"status"`
	Detail         *string          `db:"detail" json:"detail,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"createdAt"`
}
