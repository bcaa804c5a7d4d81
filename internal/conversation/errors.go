package conversation

import "errors"

var (
	// ErrDeliveryFailed marks a message whose durable write failed. The entry stays
	// in the list with status failed until Retry.
	ErrDeliveryFailed = errors.New("conversation: delivery failed")
	// ErrFetchFailed is returned when a page or the conversation list could not be
	// loaded. Local state is left untouched.
	ErrFetchFailed    = errors.New("conversation: fetch failed")
	ErrUnknownMessage = errors.New("conversation: unknown message")
	ErrEmptyMessage   = errors.New("conversation: message has no content")
	ErrInvalidKind    = errors.New("conversation: invalid message kind")
	ErrInvalidPage    = errors.New("conversation: page must be >= 1")
	ErrStoreClosed    = errors.New("conversation: store closed")
)
