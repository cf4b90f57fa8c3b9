package message

import "errors"

var (
	// ErrSendFailed is returned when the extended queue could not be written.
	// The message is dropped.
	ErrSendFailed = errors.New("message: send failed")

	// ErrNoRecipient is returned when Send is called without a recipient.
	ErrNoRecipient = errors.New("message: recipient required")

	// ErrNoIdentity is returned when the local device id is not yet known.
	ErrNoIdentity = errors.New("message: local device id unknown")

	errMalformedQueue = errors.New("message: malformed queue")
)
