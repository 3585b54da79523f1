package service

import "errors"

var (
	// ErrNotFound covers both a missing session and a session owned by someone else.
	ErrNotFound           = errors.New("session not found")
	ErrConflict           = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ProviderError carries the completion provider's failure detail to the client.
type ProviderError struct {
	Detail string
}

func (e *ProviderError) Error() string {
	return e.Detail
}
