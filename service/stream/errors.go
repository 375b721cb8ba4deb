package stream

import "errors"

var (
	// ErrInvalidAddress means the address failed local format validation.
	// No network call is attempted.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrConnection means the transport could not be established or was
	// closed during the initial handshake.
	ErrConnection = errors.New("connection failed")

	// ErrSubscription means the remote rejected or timed out the
	// subscribe request during the initial handshake.
	ErrSubscription = errors.New("subscription failed")

	// ErrAlreadyStarted means Start was called on a session that is not
	// idle.
	ErrAlreadyStarted = errors.New("session already started")
)
