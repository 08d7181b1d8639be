package domain

import "errors"

var (
	// ErrNoInstanceAvailable signals that no connected instance can serve a
	// campaign. It is expected backpressure: the caller pauses the campaign
	// instead of treating it as a failure.
	ErrNoInstanceAvailable = errors.New("no connected instance available")

	// ErrNoContent marks a campaign that produces no message for a
	// recipient. Terminal; never retried.
	ErrNoContent = errors.New("campaign has no content to send")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyClaimed is returned when a conditional status transition
	// lost the race to another worker.
	ErrAlreadyClaimed = errors.New("recipient already claimed")
)
