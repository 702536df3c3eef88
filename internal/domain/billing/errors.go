package billing

import "errors"

var (
	// ErrUserNotFound is returned when the billing state of an unknown user is requested.
	ErrUserNotFound = errors.New("user not found")
)
