package bots

import "errors"

var (
	// ErrDuplicateBot means an earlier bot for the same meeting is still
	// verified running.
	ErrDuplicateBot = errors.New("bot already running for this meeting")

	// ErrBotLimit means the user is already running their maximum number
	// of concurrent bots.
	ErrBotLimit = errors.New("user has reached the maximum concurrent bot limit")

	// ErrNoActiveMeeting means no active meeting exists for the tuple.
	ErrNoActiveMeeting = errors.New("no active meeting found")

	// ErrMissingContainer means the active meeting has no container id
	// recorded, so there is nothing to control.
	ErrMissingContainer = errors.New("active meeting has no container")

	// ErrBusUnavailable means the control command could not be published.
	ErrBusUnavailable = errors.New("message bus unavailable")

	// ErrUnknownSession means an exit callback referenced a connection id
	// that was never issued.
	ErrUnknownSession = errors.New("unknown connection id")
)
