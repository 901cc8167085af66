package service

import "errors"

var (
	// ErrNotFound is returned when a referenced ticket or product is absent.
	ErrNotFound = errors.New("not found")

	// ErrValidation is wrapped by all pre-store input rejections.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyMessage rejects blank chat messages before any store call.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrTicketClosed rejects sends against a closed ticket.
	ErrTicketClosed = errors.New("ticket is closed")

	// ErrSessionNotOpen rejects sends on a chat session before Open.
	ErrSessionNotOpen = errors.New("chat session not open")
)
