// Package sentinel lists infrastructure facts returned by stores and clients.
// Services translate them into domain errors before they reach a handler.
package sentinel

import "errors"

var (
	// ErrNotFound: the key or session does not exist (or is no longer visible).
	ErrNotFound = errors.New("not found")
	// ErrExpired: the session or stored code outlived its TTL.
	ErrExpired = errors.New("expired")
	// ErrAlreadyUsed: a one-time registration token was already consumed.
	ErrAlreadyUsed = errors.New("already used")
	// ErrInvalidState: a call was made with arguments the store cannot honor.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable: a backing service could not be reached.
	ErrUnavailable = errors.New("unavailable")
)
