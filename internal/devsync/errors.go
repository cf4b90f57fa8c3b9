package devsync

import "errors"

var (
	// ErrAlreadyStarted is returned by Start on a running Service.
	ErrAlreadyStarted = errors.New("devsync: already started")

	// ErrNoActivityLog is returned by Activity when no repository was given.
	ErrNoActivityLog = errors.New("devsync: activity log not configured")
)
