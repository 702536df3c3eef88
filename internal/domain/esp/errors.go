package esp

import "errors"

var (
	ErrUnknownESP   = errors.New("unknown email service provider")
	ErrNotOAuth     = errors.New("email service provider does not use oauth")
	ErrInvalidState = errors.New("invalid or expired oauth state")
)
