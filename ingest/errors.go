package ingest

import "errors"

var (
	// ErrNoContent marks a message without a text body. Such messages are
	// skipped, never persisted with a null text.
	ErrNoContent = errors.New("message has no text")

	// ErrSenderUnresolved marks a message that declares a sender which the
	// source failed to resolve.
	ErrSenderUnresolved = errors.New("sender not resolved")
)
