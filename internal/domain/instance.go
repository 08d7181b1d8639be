package domain

import "time"

type InstanceStatus string

const (
	InstanceCreated      InstanceStatus = "created"
	InstanceConnecting   InstanceStatus = "connecting"
	InstanceConnected    InstanceStatus = "connected"
	InstanceDisconnected InstanceStatus = "disconnected"
	InstanceQRCode       InstanceStatus = "qrcode"
)

// Instance is a sending identity: one connected account on the chat gateway.
// LastUsedAt is the rotation cursor; NULL means never used and sorts first.
type Instance struct {
	ID         int64          `db:"id" json:"id"`
	UserID     int64          `db:"user_id" json:"userId"`
	Name       string         `db:"name" json:"name"`
	Status     InstanceStatus `db:"status" json:"status"`
	LastUsedAt *time.Time     `db:"last_used_at" json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updatedAt"`
}
