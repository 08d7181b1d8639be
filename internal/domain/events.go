package domain

import "time"

// Gateway acknowledgment levels as reported on message_ack events. Codes
// outside the mapped range are ignored by reconciliation.
const (
	AckError   = -1
	AckPending = 0
	AckServer  = 1
	AckDevice  = 2
	AckRead    = 3
	AckPlayed  = 4
)

// DeliveryStatusEvent is an asynchronous delivery receipt keyed by the
// gateway message ID. Events may arrive out of order and may duplicate.
type DeliveryStatusEvent struct {
	MessageID string    `json:"messageId"`
	Ack       int       `json:"ack"`
	Timestamp time.Time `json:"timestamp"`
}

// Status maps the ack level onto the recipient lattice. The zero return
// with ok=false means the code carries no transition (pending, error, or an
// unknown code) and the event is a no-op.
func (e DeliveryStatusEvent) Status() (RecipientStatus, bool) {
	switch e.Ack {
	case AckServer:
		return RecipientSent, true
	case AckDevice:
		return RecipientDelivered, true
	case AckRead, AckPlayed:
		return RecipientRead, true
	default:
		return "", false
	}
}

// ReplyEvent is a button reply to a previously sent message. Opt-out
// controls embed the campaign and recipient IDs in ButtonID; for any other
// control MessageID identifies the message being answered and is the only
// correlation key.
type ReplyEvent struct {
	ButtonID  string    `json:"buttonId"`
	MessageID string    `json:"messageId,omitempty"`
	From      string    `json:"from"`
	Timestamp time.Time `json:"timestamp"`
}
