package chat

import "errors"

var (
	// ErrNotFound indicates the chat does not exist.
	ErrNotFound = errors.New("chat not found")
	// ErrValidation indicates a required field is missing or malformed.
	ErrValidation = errors.New("validation failed")
	// ErrPersistence indicates the store could not complete a read or write.
	ErrPersistence = errors.New("store unavailable")
)
