package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignPending   CampaignStatus = "pending"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Campaign is a bulk outbound messaging job. Recipients and the eligible
// instance set are stored in their own tables; counters are maintained with
// atomic increments, never read-modify-write in process memory.
type Campaign struct {
	ID                int64            `db:"id" json:"id"`
	UserID            int64            `db:"user_id" json:"userId"`
	Name              string           `db:"name" json:"name"`
	MessageText       string           `db:"message_text" json:"messageText"`
	Media             *MediaAttachment `db:"media" json:"media,omitempty"`
	Buttons           ButtonList       `db:"buttons" json:"buttons,omitempty"`
	IntervalMin       int              `db:"interval_min" json:"intervalMin"`
	IntervalMax       int              `db:"interval_max" json:"intervalMax"`
	UseNumberRotation bool             `db:"use_number_rotation" json:"useNumberRotation"`
	Status            CampaignStatus   `db:"status" json:"status"`
	TotalRecipients   int64            `db:"total_recipients" json:"totalRecipients"`
	SentCount         int64            `db:"sent_count" json:"sentCount"`
	FailedCount       int64            `db:"failed_count" json:"failedCount"`
	OptedOutCount     int64            `db:"opted_out_count" json:"optedOutCount"`
	StartTime         *time.Time       `db:"start_time" json:"startTime,omitempty"`
	EndTime           *time.Time       `db:"end_time" json:"endTime,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updatedAt"`
}

// HasContent reports whether dispatching this campaign can produce any
// message at all. Campaigns without content never reach the gateway.
func (c *Campaign) HasContent() bool {
	return c.MessageText != "" || c.Media != nil || len(c.Buttons) > 0
}

// MediaAttachment is an opaque media descriptor forwarded to the gateway.
// Formatting rules live on the gateway side.
type MediaAttachment struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

func (m *MediaAttachment) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *MediaAttachment) Scan(src any) error {
	if src == nil {
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		if s, ok := src.(string); ok {
			b = []byte(s)
		} else {
			return fmt.Errorf("unsupported media column type %T", src)
		}
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, m)
}

// Button is a quick-reply affordance attached to a buttons payload.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ButtonList maps a JSON column to a button slice.
type ButtonList []Button

func (b ButtonList) Value() (driver.Value, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return json.Marshal(b)
}

func (b *ButtonList) Scan(src any) error {
	if src == nil {
		*b = nil
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		if s, ok := src.(string); ok {
			raw = []byte(s)
		} else {
			return fmt.Errorf("unsupported buttons column type %T", src)
		}
	}
	if len(raw) == 0 {
		*b = nil
		return nil
	}
	return json.Unmarshal(raw, b)
}
