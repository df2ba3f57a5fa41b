package source

import "errors"

// Sentinel kinds for ranking source errors.
var (
	ErrAuthExpired        = errors.New("authentication expired")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrUnexpectedStatus   = errors.New("unexpected status")
	ErrDecode             = errors.New("malformed response")
	ErrTooManyPages       = errors.New("page limit exceeded")
	ErrMissingCredentials = errors.New("missing client credentials")
	ErrMissingBaseURL     = errors.New("missing base url")
)
