package domain

import (
	"fmt"
	"strconv"
	"strings"
)

type PayloadKind string

const (
	PayloadText    PayloadKind = "text"
	PayloadButtons PayloadKind = "buttons"
)

// MessagePayload is the tagged union handed to the gateway client. Exactly
// one of Text/Buttons is populated, selected by Kind; dispatch switches on
// Kind exhaustively instead of probing fields.
type MessagePayload struct {
	Kind    PayloadKind     `json:"kind"`
	Text    string          `json:"text,omitempty"`
	Buttons *ButtonsPayload `json:"buttons,omitempty"`
}

// ButtonsPayload carries an interactive message. The opt-out quick reply is
// always present by the time this reaches the gateway.
type ButtonsPayload struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Footer      string   `json:"footer,omitempty"`
	Media       *MediaAttachment `json:"media,omitempty"`
	Buttons     []Button `json:"buttons"`
}

const (
	optOutPrefix    = "optout"
	optOutDelimiter = ":"

	// OptOutLabel is the visible text on the appended opt-out control.
	OptOutLabel = "Stop receiving messages"
)

// OptOutButtonID builds the reply-control identifier embedded in outbound
// button payloads: "optout:<campaignId>:<recipientId>". Both IDs are
// numeric, so the delimiter cannot occur inside either of them. Reply
// handlers depend on this exact format.
func OptOutButtonID(campaignID, recipientID int64) string {
	return strings.Join([]string{
		optOutPrefix,
		strconv.FormatInt(campaignID, 10),
		strconv.FormatInt(recipientID, 10),
	}, optOutDelimiter)
}

// ParseOptOutButtonID extracts the campaign and recipient IDs from an
// opt-out control identifier. Any other reply control fails with an error.
func ParseOptOutButtonID(id string) (campaignID, recipientID int64, err error) {
	parts := strings.Split(id, optOutDelimiter)
	if len(parts) != 3 || parts[0] != optOutPrefix {
		return 0, 0, fmt.Errorf("not an opt-out control id: %q", id)
	}
	campaignID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid campaign id in control %q: %w", id, err)
	}
	recipientID, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid recipient id in control %q: %w", id, err)
	}
	return campaignID, recipientID, nil
}

// HasOptOutButton reports whether the payload already carries an opt-out
// control for any recipient.
func (p *ButtonsPayload) HasOptOutButton() bool {
	for _, b := range p.Buttons {
		if strings.HasPrefix(b.ID, optOutPrefix+optOutDelimiter) {
			return true
		}
	}
	return false
}
